// Package sandbox generates reproducible synthetic claims for local and
// demo claim stores.
package sandbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SeedConfig controls the volume and shape of generated claims.
type SeedConfig struct {
	ClaimCount       int     `json:"claimCount"`
	MaxLinesPerClaim int     `json:"maxLinesPerClaim"`
	CancelledRatio   float64 `json:"cancelledRatio"`
	NullRatio        float64 `json:"nullRatio"`
	Seed             int64   `json:"seed"`
}

// DefaultSeedConfig returns a SeedConfig suitable for a demo store.
func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		ClaimCount:       25,
		MaxLinesPerClaim: 6,
		CancelledRatio:   0.1,
		NullRatio:        0.05,
	}
}

// SyntheticLine is one generated claim line. Modifier slots are nil when the
// line carries fewer than four modifiers.
type SyntheticLine struct {
	LineNumber int        `json:"lineNumber"`
	Modifiers  [4]*string `json:"modifiers"`
}

// SyntheticClaim is one generated claim header with its lines. Header fields
// are nil when the generator left the column NULL.
type SyntheticClaim struct {
	ID                   string          `json:"id"`
	ProcessingStatusCode *string         `json:"processingStatusCode,omitempty"`
	PatientAccountNumber *string         `json:"patientAccountNumber,omitempty"`
	ReceivedDate         *time.Time      `json:"receivedDate,omitempty"`
	TotalSubmittedAmount *float64        `json:"totalSubmittedAmount,omitempty"`
	Lines                []SyntheticLine `json:"lines"`
}

// SeedResult summarizes a seeding run.
type SeedResult struct {
	Claims    int           `json:"claims"`
	Lines     int           `json:"lines"`
	Cancelled int           `json:"cancelled"`
	Duration  time.Duration `json:"duration"`
}

// ---------------------------------------------------------------------------
// Reference data
// ---------------------------------------------------------------------------

var (
	// HCPCS/CPT procedure modifiers.
	modifierCodes = []string{"25", "26", "50", "59", "76", "91", "GT", "LT", "RT", "TC", "XS", "QW"}

	activeStatusCodes = []string{"paid", "pended", "denied", "adjusted", "received"}
)

const cancelledStatusCode = "cancelled"

// ---------------------------------------------------------------------------
// DataGenerator
// ---------------------------------------------------------------------------

type DataGenerator struct {
	rng     *rand.Rand
	counter uint64
}

// NewDataGenerator returns a generator seeded for reproducibility. If seed is
// 0 a time-based seed is chosen.
func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *DataGenerator) nextID(prefix string) string {
	g.counter++
	return fmt.Sprintf("%s-%06d-%04x", prefix, g.counter, g.rng.Intn(1<<16))
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) maybe(ratio float64) bool {
	return g.rng.Float64() < ratio
}

func (g *DataGenerator) randomReceived() time.Time {
	days := g.rng.Intn(3 * 365)
	minutes := g.rng.Intn(24 * 60)
	base := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	return base.AddDate(0, 0, days).Add(time.Duration(minutes) * time.Minute)
}

// GenerateClaim produces one claim with between 0 and maxLines lines.
func (g *DataGenerator) GenerateClaim(cfg SeedConfig) SyntheticClaim {
	c := SyntheticClaim{ID: g.nextID("CLM")}

	if !g.maybe(cfg.NullRatio) {
		status := g.pick(activeStatusCodes)
		if g.maybe(cfg.CancelledRatio) {
			status = cancelledStatusCode
		}
		c.ProcessingStatusCode = &status
	}
	if !g.maybe(cfg.NullRatio) {
		account := fmt.Sprintf("ACCT-%07d", g.rng.Intn(10_000_000))
		c.PatientAccountNumber = &account
	}
	if !g.maybe(cfg.NullRatio) {
		received := g.randomReceived()
		c.ReceivedDate = &received
	}
	if !g.maybe(cfg.NullRatio) {
		total := float64(g.rng.Intn(500_000)) / 100
		c.TotalSubmittedAmount = &total
	}

	lines := 0
	if cfg.MaxLinesPerClaim > 0 {
		lines = g.rng.Intn(cfg.MaxLinesPerClaim + 1)
	}
	for n := 1; n <= lines; n++ {
		line := SyntheticLine{LineNumber: n}
		modifiers := g.rng.Intn(5)
		for i := 0; i < modifiers; i++ {
			code := g.pick(modifierCodes)
			line.Modifiers[i] = &code
		}
		c.Lines = append(c.Lines, line)
	}
	return c
}

// ---------------------------------------------------------------------------
// Seeder
// ---------------------------------------------------------------------------

// Writer persists generated claims.
type Writer interface {
	WriteClaim(ctx context.Context, c SyntheticClaim) error
}

type Seeder struct {
	generator *DataGenerator
	config    SeedConfig
}

func NewSeeder(config SeedConfig) *Seeder {
	return &Seeder{generator: NewDataGenerator(config.Seed), config: config}
}

// Generate produces ClaimCount claims without persisting them.
func (s *Seeder) Generate() []SyntheticClaim {
	out := make([]SyntheticClaim, 0, s.config.ClaimCount)
	for i := 0; i < s.config.ClaimCount; i++ {
		out = append(out, s.generator.GenerateClaim(s.config))
	}
	return out
}

// Seed generates claims and writes each through w.
func (s *Seeder) Seed(ctx context.Context, w Writer) (*SeedResult, error) {
	start := time.Now()
	result := &SeedResult{}
	for _, c := range s.Generate() {
		if err := w.WriteClaim(ctx, c); err != nil {
			return result, fmt.Errorf("write claim %s: %w", c.ID, err)
		}
		result.Claims++
		result.Lines += len(c.Lines)
		if c.ProcessingStatusCode != nil && *c.ProcessingStatusCode == cancelledStatusCode {
			result.Cancelled++
		}
	}
	result.Duration = time.Since(start)
	return result, nil
}

// ExportNDJSON writes claims as newline-delimited JSON.
func ExportNDJSON(w io.Writer, claims []SyntheticClaim) error {
	enc := json.NewEncoder(w)
	for _, c := range claims {
		if err := enc.Encode(c); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Writers
// ---------------------------------------------------------------------------

type sqlWriter struct{ db *sql.DB }

// NewSQLWriter writes claims into a SQLite claim store.
func NewSQLWriter(db *sql.DB) Writer { return &sqlWriter{db: db} }

func (w *sqlWriter) WriteClaim(ctx context.Context, c SyntheticClaim) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `INSERT INTO Claim VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.ProcessingStatusCode, c.PatientAccountNumber, c.ReceivedDate, c.TotalSubmittedAmount); err != nil {
		return err
	}
	for _, l := range c.Lines {
		if _, err := tx.ExecContext(ctx, `INSERT INTO ClaimLine VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, l.LineNumber, l.Modifiers[0], l.Modifiers[1], l.Modifiers[2], l.Modifiers[3]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type pgWriter struct{ pool *pgxpool.Pool }

// NewPGWriter writes claims into a migrated Postgres claim store.
func NewPGWriter(pool *pgxpool.Pool) Writer { return &pgWriter{pool: pool} }

func (w *pgWriter) WriteClaim(ctx context.Context, c SyntheticClaim) error {
	return pgx.BeginFunc(ctx, w.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO "Claim" VALUES ($1, $2, $3, $4, $5)`,
			c.ID, c.ProcessingStatusCode, c.PatientAccountNumber, c.ReceivedDate, c.TotalSubmittedAmount); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, l := range c.Lines {
			batch.Queue(`INSERT INTO "ClaimLine" VALUES ($1, $2, $3, $4, $5, $6)`,
				c.ID, l.LineNumber, l.Modifiers[0], l.Modifiers[1], l.Modifiers[2], l.Modifiers[3])
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}
