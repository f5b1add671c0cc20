// Package main is the entry point for the termgate server.
//
// The server exposes interactive terminal sessions over local PTYs and
// pooled SSH connections. Clients manage sessions through a REST API
// and stream terminal I/O over a WebSocket message channel.
//
// Architecture:
//
//	Client (REST) → Session Manager → PTY / SSH Pool
//	Client (WS)   → Channel → Hub   → Session event stream
//
// The server provides:
//   - REST API for session management and one-shot remote exec
//   - WebSocket streaming of terminal I/O with attach replay
//   - Per-target circuit breaking over the SSH connection pool
//   - Prometheus metrics and optional lifecycle webhooks
//
// Configuration:
//   - Environment variables (12-factor), optional .env file
//   - CLI flags override PORT and HOST
//
// Usage:
//
//	# Production mode
//	./server -port 8440
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
