package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cartsync/internal/migration"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
api:
  base_url: https://cart.example.com
  timeout: 5s
store:
  driver: redis
  redis_addr: cache:6379
  redis_db: 2
queue:
  capacity: 50
  process_interval: 45s
retry:
  jitter: 0
migration:
  strategy: keep_latest
log:
  level: debug
  format: json
`))
	require.NoError(t, err)

	assert.Equal(t, "https://cart.example.com", cfg.API.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout)
	assert.Equal(t, 5, cfg.API.Burst, "unset fields keep their defaults")
	assert.Equal(t, DriverRedis, cfg.Store.Driver)
	assert.Equal(t, "redis://cache:6379/2", cfg.Store.RedisURL())
	assert.Equal(t, 50, cfg.Queue.Capacity)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, 45*time.Second, cfg.Queue.ProcessInterval)
	assert.Zero(t, cfg.Retry.Jitter)
	assert.Equal(t, migration.KeepLatest, cfg.MigrationStrategy())
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("queue:\n  capacty: 10\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capacty")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "postgres" }, "driver"},
		{"sqlite without path", func(c *Config) { c.Store.Path = "" }, "path"},
		{"redis without addr", func(c *Config) { c.Store.Driver = DriverRedis; c.Store.RedisAddr = "" }, "redis_addr"},
		{"zero capacity", func(c *Config) { c.Queue.Capacity = 0 }, "capacity"},
		{"sub-second interval", func(c *Config) { c.Queue.ProcessInterval = 10 * time.Millisecond }, "process_interval"},
		{"jitter above one", func(c *Config) { c.Retry.Jitter = 1.5 }, "jitter"},
		{"unknown strategy", func(c *Config) { c.Migration.Strategy = "coin_flip" }, "strategy"},
		{"bad scheme", func(c *Config) { c.API.BaseURL = "ftp://cart" }, "base_url"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvAPIURL: "http://localhost:9999",
		EnvToken:  "tok",
		EnvStore:  DriverMemory,
	}
	cfg := Default()
	cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, "http://localhost:9999", cfg.API.BaseURL)
	assert.Equal(t, "tok", cfg.API.Token)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cartsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: memory\n"), 0o644))
	t.Setenv(EnvStore, "")
	t.Setenv(EnvAPIURL, "http://10.0.0.1:8080")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Store.Driver, "empty env value does not override")
	assert.Equal(t, "http://10.0.0.1:8080", cfg.API.BaseURL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
