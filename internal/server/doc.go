// Package server provides HTTP server setup and initialization for the lens proxy.
//
// This package orchestrates all components:
//   - HTTP routing with Gin framework
//   - Middleware stack (CORS, rate limiting, recovery, metrics)
//   - Proxy engine assembly (codec, cache, fetcher, rewriter)
//   - Websocket tunnel bridge and session hub
//
// Server Lifecycle:
//  1. Load configuration from environment/flags
//  2. Initialize logger (production or development)
//  3. Assemble the proxy engine and its cache
//  4. Setup HTTP routes and middleware
//  5. Start HTTP server
//  6. Graceful shutdown on signal, closing tunnels and the cache
//
// Features:
//   - Configuration-driven setup
//   - Graceful shutdown handling
//   - Resource cleanup on exit
//   - Health check endpoints
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.New(cfg)
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
