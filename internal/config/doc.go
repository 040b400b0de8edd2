// Package config provides 12-factor configuration management for the lens proxy.
//
// Configuration is loaded from environment variables with sensible defaults.
// CLI flags can override environment variables for development flexibility.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host, shutdown grace)
//   - Cache: response cache bounds and TTLs
//   - Fetch: redirect, retry, and timeout tunables
//   - Rewrite: content rewriter toggles
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting configuration
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST, SHUTDOWN_TIMEOUT
//   - CACHE_MAX_ENTRIES, CACHE_MAX_MEMORY_MB, CACHE_TTL, CACHE_SWEEP_INTERVAL
//   - FETCH_MAX_REDIRECTS, FETCH_RETRY_COUNT, FETCH_TIMEOUT, FETCH_BACKOFF_BASE
//   - REWRITE_SANITIZE, LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
package config
