package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/brick2/pkg/errors"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero pool max", func(c *Config) { c.Pool.Max = 0 }},
		{"negative pool min", func(c *Config) { c.Pool.Min = -1 }},
		{"min above max", func(c *Config) { c.Pool.Min, c.Pool.Max = 5, 4 }},
		{"zero acquire timeout", func(c *Config) { c.Pool.AcquireTimeout = 0 }},
		{"zero query timeout", func(c *Config) { c.Pool.QueryTimeout = 0 }},
		{"negative idle ttl", func(c *Config) { c.Pool.IdleTTL = -time.Second }},
		{"negative max rows", func(c *Config) { c.Pool.MaxResultRows = -1 }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"zero in flight", func(c *Config) { c.Dispatcher.MaxInFlight = 0 }},
		{"sampling out of range", func(c *Config) { c.Observability.SamplingRate = 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Pool.AcquireTimeout, cfg.Pool.AcquireTimeout)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 4, cfg.LoadTest.Mix["list_campaigns"])
}

func TestLoadFileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "brick2.yaml")
	content := `
database:
  driver: sim
  name: ${BRICK2_TEST_DB_NAME}
pool:
  pool_min: 1
  pool_max: 2
  acquire_timeout: 50ms
  query_timeout: 1s
dispatcher:
  max_in_flight: 8
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	t.Setenv("BRICK2_TEST_DB_NAME", "fixtures")
	t.Setenv("BRICK2_POOL_POOL_MAX", "3")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sim", cfg.Database.Driver)
	assert.Equal(t, "fixtures", cfg.Database.Name)
	assert.Equal(t, 1, cfg.Pool.Min)
	assert.Equal(t, 3, cfg.Pool.Max, "environment overrides the file")
	assert.Equal(t, 50*time.Millisecond, cfg.Pool.AcquireTimeout)
	assert.Equal(t, time.Second, cfg.Pool.QueryTimeout)
	assert.Equal(t, 8, cfg.Dispatcher.MaxInFlight)
	assert.Equal(t, Default().Pool.CancelGrace, cfg.Pool.CancelGrace, "unset keys keep defaults")
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool:\n  pool_min: 9\n  pool_max: 2\n"), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := Default()
	cfg.Database.Driver = "sqlite"
	cfg.Pool.AcquireTimeout = 75 * time.Millisecond
	require.NoError(t, Save(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "acquire_timeout: 75ms")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", loaded.Database.Driver)
	assert.Equal(t, 75*time.Millisecond, loaded.Pool.AcquireTimeout)
}

func TestConnString(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "h", Port: 5432, Name: "db", User: "u", Password: "p"}
	assert.Equal(t, "postgres://u:p@h:5432/db", pg.ConnString())

	explicit := DatabaseConfig{Driver: "postgres", DSN: "postgres://x"}
	assert.Equal(t, "postgres://x", explicit.ConnString())

	lite := DatabaseConfig{Driver: "sqlite"}
	assert.Contains(t, lite.ConnString(), "brick2.db")

	assert.Empty(t, (&DatabaseConfig{Driver: "sim"}).ConnString())
}
