package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pfKeys = []string{
	"PF_ENV", "PF_HTTP_ADDR", "PF_DB_DRIVER", "PF_SQLITE_PATH", "PF_POSTGRES_URL",
	"PF_REDIS_ADDR", "PF_REDIS_PASSWORD", "PF_REDIS_DB", "PF_LOCK_TIMEOUT", "PF_LOCK_TTL",
	"PF_ROTATION_THRESHOLD", "PF_TABLES_PATH", "PF_JWT_SECRET", "PF_JWT_ISSUER",
	"PF_LOG_LEVEL", "PF_LOG_FORMAT", "PF_SHUTDOWN_TIMEOUT", "PF_LIVE_BACKLOG",
}

// clearEnv unsets every PF_ key for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range pfKeys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func missingDotenv(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(missingDotenv(t))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "pf.db", cfg.SQLitePath)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, 30*time.Second, cfg.LockTTL)
	assert.Equal(t, uint64(0), cfg.RotationThreshold)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.IsProduction())
}

func TestLoadFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PF_DB_DRIVER", "Postgres")
	t.Setenv("PF_POSTGRES_URL", "postgres://pf@localhost/pf")
	t.Setenv("PF_REDIS_ADDR", "localhost:6379")
	t.Setenv("PF_LOCK_TIMEOUT", "2s")
	t.Setenv("PF_ROTATION_THRESHOLD", "250")

	cfg, err := Load(missingDotenv(t))
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout)
	assert.Equal(t, uint64(250), cfg.RotationThreshold)
}

func TestLoadDotenvDoesNotOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PF_HTTP_ADDR=:9000\nPF_LOG_LEVEL=debug\n"), 0o600))
	t.Setenv("PF_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	base := Config{DBDriver: DriverSQLite, SQLitePath: "pf.db", LockTimeout: time.Second, LockTTL: 10 * time.Second}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }},
		{"postgres without url", func(c *Config) { c.DBDriver = DriverPostgres }},
		{"zero lock timeout", func(c *Config) { c.LockTimeout = 0 }},
		{"redis ttl below timeout", func(c *Config) { c.RedisAddr = "x:1"; c.LockTTL = c.LockTimeout }},
		{"production without secret", func(c *Config) { c.Env = "production" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
