// Package config handles rulechain configuration.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then RULECHAIN_* environment variables. Command-line flags applied by the
// CLI come last. Validate() should be called before use.
//
// Example Usage:
//
//	cfg, err := config.Load("rulechain.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
//	fmt.Printf("HTTP server: %s:%d\n", cfg.Server.Address, cfg.Server.Port)
//
// Environment Variables:
//
// Server:
//   - RULECHAIN_ADDRESS="0.0.0.0"
//   - RULECHAIN_PORT=8000
//   - RULECHAIN_READ_TIMEOUT=30s, RULECHAIN_WRITE_TIMEOUT=60s
//   - RULECHAIN_MAX_REQUEST_SIZE=10485760
//   - RULECHAIN_CORS_ENABLED=true, RULECHAIN_CORS_ORIGINS="*"
//
// Engine:
//   - RULECHAIN_ENGINE_TIMEOUT=10s (per inference call)
//   - RULECHAIN_MAX_RULES=5000, RULECHAIN_MAX_FACTS=5000
//   - RULECHAIN_POOLING=true
//
// Cache:
//   - RULECHAIN_CACHE_ENABLED=true, RULECHAIN_CACHE_SIZE=1000, RULECHAIN_CACHE_TTL=5m
//
// Storage:
//   - RULECHAIN_STORAGE="memory" or "badger"
//   - RULECHAIN_DATA_DIR="./data"
//   - RULECHAIN_SYNC_WRITES=false
//   - RULECHAIN_AUDIT_LOG="" (path of the rulebook change journal; empty disables it)
//
// Logging and metrics:
//   - RULECHAIN_LOG_LEVEL="info", RULECHAIN_LOG_FORMAT="json" or "console"
//   - RULECHAIN_LOG_OUTPUT="stderr", "stdout" or a file path
//   - RULECHAIN_METRICS_ENABLED=true
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all rulechain configuration.
//
// Sections:
//   - Server: HTTP listener and request limits
//   - Engine: per-call limits for the inference engines
//   - Cache: response cache
//   - Storage: rulebook persistence
//   - Logging: zap logger settings
//   - Metrics: Prometheus endpoint
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Engine  EngineConfig  `yaml:"engine"`
	Cache   CacheConfig   `yaml:"cache"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address        string        `yaml:"address"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxRequestSize int64         `yaml:"max_request_size"`
	EnableCORS     bool          `yaml:"enable_cors"`
	CORSOrigins    []string      `yaml:"cors_origins"`
}

// EngineConfig bounds a single inference or graph call.
type EngineConfig struct {
	// Timeout is the wall-clock budget of one call. Zero disables it.
	Timeout  time.Duration `yaml:"timeout"`
	MaxRules int           `yaml:"max_rules"`
	MaxFacts int           `yaml:"max_facts"`
	// Pooling reuses report and DOT buffers across calls.
	Pooling bool `yaml:"pooling"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	MaxSize int           `yaml:"max_size"`
	TTL     time.Duration `yaml:"ttl"`
}

// Storage backends.
const (
	StorageMemory = "memory"
	StorageBadger = "badger"
)

// StorageConfig selects where rulebooks live.
type StorageConfig struct {
	Backend    string `yaml:"backend"`
	DataDir    string `yaml:"data_dir"`
	SyncWrites bool   `yaml:"sync_writes"`
	// AuditLog is the rulebook change journal. Empty disables journaling.
	AuditLog string `yaml:"audit_log"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// MetricsConfig configures Prometheus exposition.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        "0.0.0.0",
			Port:           8000,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   60 * time.Second,
			IdleTimeout:    120 * time.Second,
			MaxRequestSize: 10 * 1024 * 1024,
			EnableCORS:     true,
			CORSOrigins:    []string{"*"},
		},
		Engine: EngineConfig{
			Timeout:  10 * time.Second,
			MaxRules: 5000,
			MaxFacts: 5000,
			Pooling:  true,
		},
		Cache: CacheConfig{
			Enabled: true,
			MaxSize: 1000,
			TTL:     5 * time.Minute,
		},
		Storage: StorageConfig{
			Backend: StorageMemory,
			DataDir: "./data",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadFromEnv returns the defaults overridden by RULECHAIN_* variables.
func LoadFromEnv() *Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

// LoadFile returns the defaults overlaid with the YAML file at path.
// Keys missing from the file keep their default values.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Load applies defaults, then the file at path (skipped when path is empty),
// then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// WriteFile saves cfg as YAML.
func (c *Config) WriteFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) applyEnv() {
	c.Server.Address = getEnv("RULECHAIN_ADDRESS", c.Server.Address)
	c.Server.Port = getEnvInt("RULECHAIN_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("RULECHAIN_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("RULECHAIN_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.MaxRequestSize = int64(getEnvInt("RULECHAIN_MAX_REQUEST_SIZE", int(c.Server.MaxRequestSize)))
	c.Server.EnableCORS = getEnvBool("RULECHAIN_CORS_ENABLED", c.Server.EnableCORS)
	c.Server.CORSOrigins = getEnvStringSlice("RULECHAIN_CORS_ORIGINS", c.Server.CORSOrigins)

	c.Engine.Timeout = getEnvDuration("RULECHAIN_ENGINE_TIMEOUT", c.Engine.Timeout)
	c.Engine.MaxRules = getEnvInt("RULECHAIN_MAX_RULES", c.Engine.MaxRules)
	c.Engine.MaxFacts = getEnvInt("RULECHAIN_MAX_FACTS", c.Engine.MaxFacts)
	c.Engine.Pooling = getEnvBool("RULECHAIN_POOLING", c.Engine.Pooling)

	c.Cache.Enabled = getEnvBool("RULECHAIN_CACHE_ENABLED", c.Cache.Enabled)
	c.Cache.MaxSize = getEnvInt("RULECHAIN_CACHE_SIZE", c.Cache.MaxSize)
	c.Cache.TTL = getEnvDuration("RULECHAIN_CACHE_TTL", c.Cache.TTL)

	c.Storage.Backend = getEnv("RULECHAIN_STORAGE", c.Storage.Backend)
	c.Storage.DataDir = getEnv("RULECHAIN_DATA_DIR", c.Storage.DataDir)
	c.Storage.SyncWrites = getEnvBool("RULECHAIN_SYNC_WRITES", c.Storage.SyncWrites)
	c.Storage.AuditLog = getEnv("RULECHAIN_AUDIT_LOG", c.Storage.AuditLog)

	c.Logging.Level = getEnv("RULECHAIN_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("RULECHAIN_LOG_FORMAT", c.Logging.Format)
	c.Logging.Output = getEnv("RULECHAIN_LOG_OUTPUT", c.Logging.Output)

	c.Metrics.Enabled = getEnvBool("RULECHAIN_METRICS_ENABLED", c.Metrics.Enabled)
}

// Validate checks the configuration for values the server cannot run with.
// Every problem is reported.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid http port: %d", c.Server.Port))
	}
	if c.Server.MaxRequestSize <= 0 {
		errs = append(errs, fmt.Errorf("invalid max request size: %d", c.Server.MaxRequestSize))
	}
	if c.Engine.Timeout < 0 {
		errs = append(errs, fmt.Errorf("invalid engine timeout: %s", c.Engine.Timeout))
	}
	if c.Engine.MaxRules <= 0 {
		errs = append(errs, fmt.Errorf("invalid max rules: %d", c.Engine.MaxRules))
	}
	if c.Engine.MaxFacts <= 0 {
		errs = append(errs, fmt.Errorf("invalid max facts: %d", c.Engine.MaxFacts))
	}
	if c.Cache.Enabled && c.Cache.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("invalid cache size: %d", c.Cache.MaxSize))
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageBadger:
		if c.Storage.DataDir == "" {
			errs = append(errs, errors.New("badger storage requires a data directory"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend: %q", c.Storage.Backend))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log format: %q", c.Logging.Format))
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics path must start with '/': %q", c.Metrics.Path))
	}
	return errors.Join(errs...)
}

// String returns a short summary suitable for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{HTTP: %s:%d, Storage: %s(%s), Cache: %v, EngineTimeout: %s, Log: %s}",
		c.Server.Address, c.Server.Port,
		c.Storage.Backend, c.Storage.DataDir,
		c.Cache.Enabled, c.Engine.Timeout, c.Logging.Level,
	)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultVal
}
