package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/fhirmapper/internal/config"
	"github.com/ehr/fhirmapper/internal/domain/claim"
	"github.com/ehr/fhirmapper/internal/platform/db"
	"github.com/ehr/fhirmapper/internal/platform/logging"
	"github.com/ehr/fhirmapper/internal/platform/sandbox"
	"github.com/ehr/fhirmapper/internal/server"
	"github.com/ehr/fhirmapper/pkg/fhirmodels"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "fhirmapper",
		Short:        "Claim to ExplanationOfBenefit mapping service",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(mapCmd())
	root.AddCommand(bulkCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(seedCmd())
	return root
}

// loadConfig reads and validates configuration and builds the logger.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logging.New(cfg.UseConsoleLog(), cfg.LogLevel), nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the mapping API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func mapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "map <claim-id>",
		Short: "Map one claim and print the envelope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(ctx context.Context, c *server.Container) error {
				eob, err := c.Service.MapSingle(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), fhirmodels.Envelope{Output: eob})
			})
		},
	}
}

func bulkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bulk <claim-id>...",
		Short: "Map several claims and print one envelope per identifier",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(ctx context.Context, c *server.Container) error {
				docs, err := c.Service.MapBulk(ctx, args)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), envelopes(docs))
			})
		},
	}
}

func withContainer(ctx context.Context, fn func(context.Context, *server.Container) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
	defer cancel()

	c, err := server.NewContainer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

func envelopes(docs []*fhirmodels.ExplanationOfBenefit) []fhirmodels.Envelope {
	out := make([]fhirmodels.Envelope, len(docs))
	for i, d := range docs {
		out[i] = fhirmodels.Envelope{Output: d}
	}
	return out
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run Postgres claim schema migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
				count, err := m.Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("schema", "public", "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded set)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			return withMigrator(dir, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), schema, statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("schema", "public", "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded set)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withMigrator(dir string, fn func(context.Context, *db.Migrator) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DBDriver != config.DriverPostgres {
		return fmt.Errorf("migrations only apply to %s; the %s store creates its schema on startup", config.DriverPostgres, cfg.DBDriver)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, migrationsFS(dir)))
}

func migrationsFS(dir string) fs.FS {
	if dir == "" {
		return db.ClaimMigrations()
	}
	return os.DirFS(dir)
}

func printStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load synthetic claims into the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			seedCfg := sandbox.DefaultSeedConfig()
			seedCfg.ClaimCount, _ = cmd.Flags().GetInt("claims")
			seedCfg.MaxLinesPerClaim, _ = cmd.Flags().GetInt("max-lines")
			seedCfg.Seed, _ = cmd.Flags().GetInt64("seed")
			ndjson, _ := cmd.Flags().GetBool("ndjson")

			seeder := sandbox.NewSeeder(seedCfg)
			if ndjson {
				return sandbox.ExportNDJSON(cmd.OutOrStdout(), seeder.Generate())
			}

			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			w, closeFn, err := seedWriter(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			result, err := seeder.Seed(ctx, w)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d claim(s) with %d line(s), %d cancelled, in %s.\n",
				result.Claims, result.Lines, result.Cancelled, result.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().Int("claims", 25, "Number of claims to generate")
	cmd.Flags().Int("max-lines", 6, "Maximum lines per claim")
	cmd.Flags().Int64("seed", 0, "Random seed (0 picks a time-based seed)")
	cmd.Flags().Bool("ndjson", false, "Print the claims as NDJSON instead of writing them")
	return cmd
}

// seedWriter opens the configured store for writing. Postgres stores must
// already be migrated.
func seedWriter(ctx context.Context, cfg *config.Config) (sandbox.Writer, func(), error) {
	if cfg.DBDriver == config.DriverSQLite {
		store, err := db.OpenSQLite(ctx, cfg.DatabaseURL, 1)
		if err != nil {
			return nil, nil, err
		}
		if err := claim.EnsureSQLiteSchema(ctx, store); err != nil {
			store.Close()
			return nil, nil, err
		}
		return sandbox.NewSQLWriter(store), func() { store.Close() }, nil
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return nil, nil, err
	}
	return sandbox.NewPGWriter(pool), pool.Close, nil
}

func runServer() error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	c, err := server.NewContainer(startCtx, cfg, logger)
	cancel()
	if err != nil {
		return err
	}
	defer c.Close()

	e := c.Echo()

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("driver", cfg.DBDriver).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
