package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Engine.Timeout)
	assert.True(t, cfg.Engine.Pooling)
	assert.Empty(t, cfg.Storage.AuditLog, "journaling is opt-in")
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RULECHAIN_PORT", "9100")
	t.Setenv("RULECHAIN_ENGINE_TIMEOUT", "3")
	t.Setenv("RULECHAIN_CACHE_ENABLED", "no")
	t.Setenv("RULECHAIN_CACHE_TTL", "90s")
	t.Setenv("RULECHAIN_STORAGE", "badger")
	t.Setenv("RULECHAIN_CORS_ORIGINS", "http://a, http://b ,")
	t.Setenv("RULECHAIN_LOG_LEVEL", "debug")
	t.Setenv("RULECHAIN_AUDIT_LOG", "/var/log/rulechain/audit.log")

	cfg := LoadFromEnv()
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Engine.Timeout)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
	assert.Equal(t, StorageBadger, cfg.Storage.Backend)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/var/log/rulechain/audit.log", cfg.Storage.AuditLog)
}

func TestLoadFromEnv_IgnoresGarbage(t *testing.T) {
	t.Setenv("RULECHAIN_PORT", "not-a-port")
	t.Setenv("RULECHAIN_ENGINE_TIMEOUT", "soon")

	cfg := LoadFromEnv()
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Engine.Timeout)
	assert.True(t, cfg.Engine.Pooling)
	assert.Empty(t, cfg.Storage.AuditLog, "journaling is opt-in")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rulechain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8088
engine:
  timeout: 2s
storage:
  backend: badger
  data_dir: /var/lib/rulechain
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Engine.Timeout)
	assert.Equal(t, StorageBadger, cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/rulechain", cfg.Storage.DataDir)
	assert.Equal(t, "0.0.0.0", cfg.Server.Address, "unset keys keep defaults")
	assert.Equal(t, 1000, cfg.Cache.MaxSize)

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("bad yaml", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("server: [1, 2"), 0o644))
		_, err := LoadFile(bad)
		assert.Error(t, err)
	})
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rulechain.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8088\n"), 0o644))
	t.Setenv("RULECHAIN_PORT", "9000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestWriteFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := Default()
	cfg.Server.Port = 7001
	cfg.Cache.TTL = 42 * time.Second
	require.NoError(t, cfg.WriteFile(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"negative port", func(c *Config) { c.Server.Port = -1 }, "invalid http port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "invalid http port"},
		{"negative timeout", func(c *Config) { c.Engine.Timeout = -time.Second }, "invalid engine timeout"},
		{"no rule limit", func(c *Config) { c.Engine.MaxRules = 0 }, "invalid max rules"},
		{"cache size", func(c *Config) { c.Cache.MaxSize = 0 }, "invalid cache size"},
		{"backend", func(c *Config) { c.Storage.Backend = "sqlite" }, "unknown storage backend"},
		{"badger dir", func(c *Config) { c.Storage.Backend = StorageBadger; c.Storage.DataDir = "" }, "data directory"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "unknown log format"},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "metrics path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("reports every problem", func(t *testing.T) {
		cfg := Default()
		cfg.Server.Port = -1
		cfg.Logging.Format = "xml"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid http port")
		assert.Contains(t, err.Error(), "unknown log format")
	})

	t.Run("disabled cache ignores size", func(t *testing.T) {
		cfg := Default()
		cfg.Cache.Enabled = false
		cfg.Cache.MaxSize = 0
		assert.NoError(t, cfg.Validate())
	})
}

func TestString(t *testing.T) {
	s := Default().String()
	assert.Contains(t, s, "0.0.0.0:8000")
	assert.Contains(t, s, "memory")
}
