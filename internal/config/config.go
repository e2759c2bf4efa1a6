// Package config loads service configuration from PF_ environment
// variables, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the pfserver configuration.
type Config struct {
	Env      string `env:"PF_ENV"       envDefault:"development"`
	HTTPAddr string `env:"PF_HTTP_ADDR" envDefault:":8080"`

	DBDriver    string `env:"PF_DB_DRIVER"    envDefault:"sqlite"`
	SQLitePath  string `env:"PF_SQLITE_PATH"  envDefault:"pf.db"`
	PostgresURL string `env:"PF_POSTGRES_URL"`

	RedisAddr     string `env:"PF_REDIS_ADDR"`
	RedisPassword string `env:"PF_REDIS_PASSWORD"`
	RedisDB       int    `env:"PF_REDIS_DB" envDefault:"0"`

	LockTimeout time.Duration `env:"PF_LOCK_TIMEOUT" envDefault:"5s"`
	LockTTL     time.Duration `env:"PF_LOCK_TTL"     envDefault:"30s"`

	// RotationThreshold overrides the tables file when set.
	RotationThreshold uint64 `env:"PF_ROTATION_THRESHOLD"`
	TablesPath        string `env:"PF_TABLES_PATH"`

	JWTSecret string `env:"PF_JWT_SECRET"`
	JWTIssuer string `env:"PF_JWT_ISSUER"`

	LogLevel  string `env:"PF_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"PF_LOG_FORMAT" envDefault:"text"`

	ShutdownTimeout time.Duration `env:"PF_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	LiveBacklog     int           `env:"PF_LIVE_BACKLOG"     envDefault:"1000"`
}

// Load reads dotenv files, if present, and parses the environment.
// Variables already set in the environment win over dotenv values.
func Load(dotenvFiles ...string) (Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("PF_SQLITE_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.PostgresURL == "" {
			return errors.New("PF_POSTGRES_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("PF_DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.LockTimeout <= 0 {
		return errors.New("PF_LOCK_TIMEOUT must be positive")
	}
	if c.RedisAddr != "" && c.LockTTL <= c.LockTimeout {
		return errors.New("PF_LOCK_TTL must exceed PF_LOCK_TIMEOUT")
	}
	if c.IsProduction() && c.JWTSecret == "" {
		return errors.New("PF_JWT_SECRET is required in production")
	}
	return nil
}

// IsProduction reports whether PF_ENV is production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}
