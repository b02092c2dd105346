package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Null modifier code handling modes.
const (
	NullCodePlaceholder = "placeholder"
	NullCodeNull        = "null"
)

// Supported data source drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port                string        `mapstructure:"PORT"`
	Env                 string        `mapstructure:"ENV"`
	LogFormat           string        `mapstructure:"LOG_FORMAT"`
	LogLevel            string        `mapstructure:"LOG_LEVEL"`
	DBDriver            string        `mapstructure:"DB_DRIVER"`
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	DBHost              string        `mapstructure:"DB_HOST"`
	DBPort              int           `mapstructure:"DB_PORT"`
	DBUser              string        `mapstructure:"DB_USER"`
	DBPassword          string        `mapstructure:"DB_PASSWORD"`
	DBName              string        `mapstructure:"DB_NAME"`
	DBMaxConns          int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32         `mapstructure:"DB_MIN_CONNS"`
	RequestTimeout      time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit           string        `mapstructure:"BODY_LIMIT"`
	BulkWorkers         int           `mapstructure:"BULK_WORKERS"`
	BulkIncludeHeader   bool          `mapstructure:"BULK_INCLUDE_HEADER"`
	NullCodeMode        string        `mapstructure:"NULL_CODE_MODE"`
	NullCodePlaceholder string        `mapstructure:"NULL_CODE_PLACEHOLDER"`
	MappingFile         string        `mapstructure:"MAPPING_FILE"`
	MetricsEnabled      bool          `mapstructure:"METRICS_ENABLED"`
	OpenAPIEnabled      bool          `mapstructure:"OPENAPI_ENABLED"`
}

var envKeys = []string{
	"PORT", "ENV", "LOG_FORMAT", "LOG_LEVEL",
	"DB_DRIVER", "DATABASE_URL", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME",
	"DB_MAX_CONNS", "DB_MIN_CONNS",
	"REQUEST_TIMEOUT", "BODY_LIMIT",
	"BULK_WORKERS", "BULK_INCLUDE_HEADER",
	"NULL_CODE_MODE", "NULL_CODE_PLACEHOLDER", "MAPPING_FILE",
	"METRICS_ENABLED", "OPENAPI_ENABLED",
}

// Load reads configuration once from the environment and an optional .env
// file. Callers pass the result down explicitly; nothing re-reads the
// environment per request.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_DRIVER", DriverPostgres)
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("BULK_WORKERS", 4)
	v.SetDefault("BULK_INCLUDE_HEADER", false)
	v.SetDefault("NULL_CODE_MODE", NullCodePlaceholder)
	v.SetDefault("NULL_CODE_PLACEHOLDER", "")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("OPENAPI_ENABLED", true)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" && cfg.DBDriver == DriverPostgres && cfg.DBHost != "" {
		cfg.DatabaseURL = cfg.postgresURL()
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL or DB_HOST is required")
	}

	return cfg, nil
}

// postgresURL assembles a connection URL from the discrete DB_* settings.
func (c *Config) postgresURL() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   "/" + c.DBName,
	}
	if c.DBUser != "" {
		if c.DBPassword != "" {
			u.User = url.UserPassword(c.DBUser, c.DBPassword)
		} else {
			u.User = url.User(c.DBUser)
		}
	}
	return u.String()
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// UseConsoleLog reports whether logs should be written in human-readable form.
func (c *Config) UseConsoleLog() bool {
	return c.IsDev() || strings.EqualFold(c.LogFormat, "text")
}

// NullAsPlaceholder reports whether absent modifier codes are rendered as the
// configured placeholder text instead of being omitted.
func (c *Config) NullAsPlaceholder() bool {
	return c.NullCodeMode == NullCodePlaceholder
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.DBDriver != DriverPostgres && c.DBDriver != DriverSQLite {
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.DBDriver)
	}
	if c.NullCodeMode != NullCodePlaceholder && c.NullCodeMode != NullCodeNull {
		return fmt.Errorf("NULL_CODE_MODE must be %q or %q, got %q", NullCodePlaceholder, NullCodeNull, c.NullCodeMode)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.BulkWorkers < 1 {
		return fmt.Errorf("BULK_WORKERS must be at least 1, got %d", c.BulkWorkers)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
