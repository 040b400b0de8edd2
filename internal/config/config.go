package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Cache     CacheConfig
	Fetch     FetchConfig
	Rewrite   RewriteConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// CacheConfig holds response cache tunables.
type CacheConfig struct {
	MaxEntries    int           `envconfig:"CACHE_MAX_ENTRIES" default:"1000"`
	MaxMemoryMB   int64         `envconfig:"CACHE_MAX_MEMORY_MB" default:"100"`
	TTL           time.Duration `envconfig:"CACHE_TTL" default:"10m"`
	SweepInterval time.Duration `envconfig:"CACHE_SWEEP_INTERVAL" default:"5m"`
}

// FetchConfig holds fetch orchestrator tunables.
type FetchConfig struct {
	MaxRedirects int           `envconfig:"FETCH_MAX_REDIRECTS" default:"10"`
	RetryCount   int           `envconfig:"FETCH_RETRY_COUNT" default:"3"`
	Timeout      time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
	BackoffBase  time.Duration `envconfig:"FETCH_BACKOFF_BASE" default:"500ms"`
}

// RewriteConfig holds content rewriter toggles.
type RewriteConfig struct {
	Sanitize bool `envconfig:"REWRITE_SANITIZE" default:"false"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from the environment or falls back to
// defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Host:            "0.0.0.0",
			ShutdownTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			MaxEntries:    1000,
			MaxMemoryMB:   100,
			TTL:           10 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		Fetch: FetchConfig{
			MaxRedirects: 10,
			RetryCount:   3,
			Timeout:      30 * time.Second,
			BackoffBase:  500 * time.Millisecond,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}
