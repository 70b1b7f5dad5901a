package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendMemory, cfg.Cache.Backend)
	assert.Equal(t, 10*time.Minute, cfg.Cache.AggregateTTL)
	assert.Equal(t, 24*time.Hour, cfg.Cache.IdempotencyTTL)
	assert.Equal(t, 1, cfg.Capacity.Unit)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coursesaga.yaml")
	data := `
log:
  level: debug
cache:
  backend: badger
  badger_path: /var/lib/coursesaga/cache
  aggregate_ttl: 30s
bus:
  partitions: 8
  min_backoff: 10ms
  max_backoff: 1s
journal:
  backend: file
  dir: /var/lib/coursesaga/journal
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, BackendBadger, cfg.Cache.Backend)
	assert.Equal(t, 30*time.Second, cfg.Cache.AggregateTTL)
	assert.Equal(t, 24*time.Hour, cfg.Cache.IdempotencyTTL, "unset keys keep defaults")
	assert.Equal(t, 8, cfg.Bus.Partitions)
	assert.Equal(t, 10*time.Millisecond, cfg.Bus.MinBackoff)
	assert.Equal(t, BackendFile, cfg.Journal.Backend)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bus: [1, 2"), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "load config file")
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coursesaga.yaml")
	require.NoError(t, os.WriteFile(path, []byte("capacity:\n  unit: 2\n"), 0o600))
	t.Setenv("COURSESAGA_CAPACITY_UNIT", "3")
	t.Setenv("COURSESAGA_CACHE_AGGREGATE_TTL", "2m")
	t.Setenv("COURSESAGA_LOG_DEVELOPMENT", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Capacity.Unit)
	assert.Equal(t, 2*time.Minute, cfg.Cache.AggregateTTL)
	assert.True(t, cfg.Log.Development)
}

func TestEnvParseError(t *testing.T) {
	env := map[string]string{"COURSESAGA_BUS_PARTITIONS": "many"}
	cfg := Default()
	err := loadEnv(&cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.ErrorContains(t, err, "COURSESAGA_BUS_PARTITIONS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"badger without path", func(c *Config) { c.Cache.Backend = BackendBadger }},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "redis" }},
		{"file journal without dir", func(c *Config) { c.Journal.Backend = BackendFile }},
		{"zero partitions", func(c *Config) { c.Bus.Partitions = 0 }},
		{"max backoff below min", func(c *Config) { c.Bus.MaxBackoff = time.Millisecond }},
		{"zero capacity unit", func(c *Config) { c.Capacity.Unit = 0 }},
		{"unknown log level", func(c *Config) { c.Log.Level = "trace" }},
		{"short idempotency ttl", func(c *Config) { c.Cache.IdempotencyTTL = time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestOpenStoreAndJournal(t *testing.T) {
	cfg := Default()
	cfg.Cache.Backend = BackendBadger
	cfg.Cache.BadgerPath = t.TempDir()
	store, closeStore, err := cfg.Cache.OpenStore(nil)
	require.NoError(t, err)
	require.NotNil(t, store)
	require.NoError(t, closeStore())

	cfg.Journal.Backend = BackendFile
	cfg.Journal.Dir = t.TempDir()
	j, err := cfg.Journal.OpenJournal()
	require.NoError(t, err)
	require.NotNil(t, j)

	_, _, err = CacheConfig{Backend: "redis"}.OpenStore(nil)
	assert.Error(t, err)
}

func TestBusOptions(t *testing.T) {
	cfg := Default()
	cfg.Bus.Partitions = 2
	opts := cfg.Bus.Options()
	assert.Equal(t, 2, opts.Partitions)
	assert.Equal(t, cfg.Bus.DeadLetterSuffix, opts.DeadLetterSuffix)
}
