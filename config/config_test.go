package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv neutralizes overrides inherited from the environment
func clearEnv(t *testing.T) {
	for _, k := range []string{"DB_DRIVER", "DB_HOST", "DB_PASSWORD", "REDIS_HOST", "REDIS_PASSWORD", "JWT_SECRET", "SERVER_PORT", "BASE_URL"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadSample(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "from-env")

	cfg, err := Load("config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "sliding_window", cfg.RateLimit.Strategy)
	assert.Len(t, cfg.RateLimit.Endpoints, 2)
	assert.Equal(t, time.Hour, cfg.Quota.WindowDuration())
	assert.Equal(t, 500*time.Millisecond, cfg.Links.ClickTimeoutDuration())
	assert.Contains(t, cfg.Database.DSN(), "loc=UTC")
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: sqlite
  sqlite_path: /tmp/links.db
quota:
  anonymous_limit: 0
auth:
  jwt_secret: s3cret
`)
	clearEnv(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("BASE_URL", "https://sho.rt")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://sho.rt", cfg.Server.BaseURL)
	assert.Equal(t, "/tmp/links.db", cfg.Database.DSN())
	assert.Equal(t, 3*time.Second, cfg.Database.OpTimeoutDuration())
	assert.Equal(t, 6, cfg.Links.CodeLength)
	assert.Equal(t, 5, cfg.Quota.Limit)
	require.NotNil(t, cfg.Quota.AnonymousLimit)
	assert.Equal(t, 0, *cfg.Quota.AnonymousLimit)
	assert.Equal(t, 10*time.Minute, cfg.Sweep.IntervalDuration())
	assert.Equal(t, uint(1_000_000), cfg.BloomFilter.Capacity)
}

func TestLoadAnonymousLimitDefault(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "database: {driver: sqlite}\nauth: {jwt_secret: x}\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Quota.AnonymousLimit)
	assert.Equal(t, 20, *cfg.Quota.AnonymousLimit)
}

func TestPostgresDSN(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
database:
  driver: postgres
  host: db
  username: app
  password: pw
  database: links
auth:
  jwt_secret: x
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "host=db port=5432 user=app password=pw dbname=links sslmode=disable TimeZone=UTC", cfg.Database.DSN())
}

func TestLoadMemoryDriver(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "database: {driver: memory}\nauth: {jwt_secret: x}\n"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "", cfg.Database.DSN())
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		body string
	}{
		{"unknown driver", "database: {driver: oracle, host: x}\nauth: {jwt_secret: x}\n"},
		{"missing host", "database: {driver: mysql}\nauth: {jwt_secret: x}\n"},
		{"missing secret", "database: {driver: sqlite}\n"},
		{"bad code length", "database: {driver: sqlite}\nauth: {jwt_secret: x}\nlinks: {code_length: 40}\n"},
		{"redis strategy without redis", "database: {driver: sqlite}\nauth: {jwt_secret: x}\nrate_limit: {enabled: true, strategy: fixed_window}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
