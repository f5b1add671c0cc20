// Package server assembles and runs the TermGate gateway.
//
// This package orchestrates all components:
//   - HTTP routing with Gin framework
//   - Middleware stack (recovery, metrics, CORS, rate limiting)
//   - Circuit breaker registry wired to metrics and webhooks
//   - SSH connection pool and session manager
//   - WebSocket hub consuming the session event stream
//   - Cron janitor for pool sweeps and idle-session reaping
//
// Server Lifecycle:
//  1. Load configuration from environment
//  2. Initialize logger (production or development)
//  3. Build breakers, pool, session manager, notifier, hub
//  4. Setup HTTP routes and middleware
//  5. Start HTTP server and janitor
//  6. Graceful shutdown on signal: stop intake, close channels,
//     shut down sessions, drain events, close the pool
//
// Example Usage:
//
//	cfg, err := config.Load()
//	srv, err := server.New(cfg)
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
