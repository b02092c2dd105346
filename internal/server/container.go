// Package server wires configuration, the claim store and the claim service
// into an echo router shared by the HTTP server, the CLI and the lambdas.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/fhirmapper/internal/config"
	"github.com/ehr/fhirmapper/internal/domain/claim"
	"github.com/ehr/fhirmapper/internal/mapping"
	"github.com/ehr/fhirmapper/internal/platform/db"
	"github.com/ehr/fhirmapper/internal/platform/fhir"
	"github.com/ehr/fhirmapper/internal/platform/middleware"
	"github.com/ehr/fhirmapper/internal/platform/openapi"
	"github.com/ehr/fhirmapper/internal/platform/telemetry"
)

// ServiceName identifies the process in logs and metrics.
const ServiceName = "fhirmapper"

// Version is overridden at build time with -ldflags "-X".
var Version = "dev"

// Container holds the application dependencies.
type Container struct {
	Config  *config.Config
	Service *claim.Service
	Logger  zerolog.Logger

	Telemetry *telemetry.Provider

	pool  *pgxpool.Pool
	sqlDB *sql.DB
}

// NewContainer validates cfg, opens the configured claim store and builds
// the claim service on top of it.
func NewContainer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var (
		repo  claim.Repository
		pool  *pgxpool.Pool
		sqlDB *sql.DB
	)
	switch cfg.DBDriver {
	case config.DriverSQLite:
		store, err := db.OpenSQLite(ctx, cfg.DatabaseURL, int(cfg.DBMaxConns))
		if err != nil {
			return nil, err
		}
		if err := claim.EnsureSQLiteSchema(ctx, store); err != nil {
			store.Close()
			return nil, err
		}
		sqlDB = store
		repo = claim.NewClaimRepoSQLite(store)
	default:
		p, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			return nil, err
		}
		pool = p
		repo = claim.NewClaimRepoPG(p)
	}

	c, err := WithRepository(cfg, repo, logger)
	if err != nil {
		if pool != nil {
			pool.Close()
		}
		if sqlDB != nil {
			sqlDB.Close()
		}
		return nil, err
	}
	c.pool = pool
	c.sqlDB = sqlDB
	c.Telemetry = telemetry.NewProvider(ServiceName, c.poolGauges())
	logger.Info().Str("driver", cfg.DBDriver).Msg("connected to claim store")
	return c, nil
}

// WithRepository builds a Container over an existing repository. The
// container owns no connections, so /health/db is not registered.
func WithRepository(cfg *config.Config, repo claim.Repository, logger zerolog.Logger) (*Container, error) {
	table, err := mapping.Load(cfg.MappingFile)
	if err != nil {
		return nil, err
	}
	if table.Len() > 0 {
		logger.Info().Int("rules", table.Len()).Str("file", cfg.MappingFile).Msg("loaded mapping extension table")
	}

	mapper := claim.NewMapper(claim.MapperOptions{
		NullAsPlaceholder: cfg.NullAsPlaceholder(),
		Placeholder:       cfg.NullCodePlaceholder,
		Extensions:        table,
	})
	svc := claim.NewService(repo, mapper, claim.ServiceOptions{
		BulkWorkers:       cfg.BulkWorkers,
		BulkIncludeHeader: cfg.BulkIncludeHeader,
	}, logger)

	return &Container{
		Config:    cfg,
		Service:   svc,
		Logger:    logger,
		Telemetry: telemetry.NewProvider(ServiceName, nil),
	}, nil
}

func (c *Container) poolGauges() telemetry.PoolGauges {
	switch {
	case c.pool != nil:
		return func() (int64, int64) {
			s := db.GetPoolStats(c.pool)
			return int64(s.TotalConns), int64(s.IdleConns)
		}
	case c.sqlDB != nil:
		return func() (int64, int64) {
			s := db.GetSQLStats(c.sqlDB)
			return int64(s.TotalConns), int64(s.IdleConns)
		}
	}
	return nil
}

// Pool returns the Postgres pool, or nil when another driver is in use.
func (c *Container) Pool() *pgxpool.Pool { return c.pool }

// Echo builds the HTTP router.
func (c *Container) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(c.Logger)

	e.Use(middleware.Recovery(c.Logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(c.Logger))
	if c.Config.MetricsEnabled {
		e.Use(c.Telemetry.MetricsMiddleware())
	}
	e.Use(middleware.SecurityHeaders("/api"))
	e.Use(middleware.BodyLimit(c.Config.BodyLimit))
	e.Use(middleware.RequestTimeout(c.Config.RequestTimeout))

	e.GET("/health", func(ctx echo.Context) error {
		return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	switch {
	case c.pool != nil:
		e.GET("/health/db", db.HealthHandler(c.pool, c.Logger))
	case c.sqlDB != nil:
		e.GET("/health/db", db.SQLHealthHandler(c.sqlDB, c.Logger))
	}

	if c.Config.MetricsEnabled {
		e.GET("/metrics", c.Telemetry.PrometheusHandler())
	}
	if c.Config.OpenAPIEnabled {
		openapi.NewGenerator(Version, "", "/api").RegisterRoutes(e)
	}

	api := e.Group("/api", fhir.ContentNegotiation())
	claim.NewHandler(c.Service, c.Logger).RegisterRoutes(api)
	return e
}

// Close releases the claim store.
func (c *Container) Close() error {
	if c.pool != nil {
		c.pool.Close()
	}
	if c.sqlDB != nil {
		return c.sqlDB.Close()
	}
	return nil
}
