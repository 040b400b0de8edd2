// Package main is the entry point for the lens proxy server.
//
// The server fronts arbitrary upstream sites behind a single first-party
// origin: pages are fetched server-side, their resource references rewritten
// onto /watch paths, and their websockets bridged through /ws.
//
// The server provides:
//   - /watch resolution of encoded target URLs
//   - Rewritten HTML/CSS/script delivery with an injected runtime shim
//   - Websocket tunneling and shared watch sessions
//   - Response caching with TTL and bounded memory
//   - Rate limiting and Prometheus metrics
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./server -port 8080
//
//	# Development mode (colored logs, debug level)
//	./server -debug
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
