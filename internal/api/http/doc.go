// Package http provides HTTP handlers for the TermGate REST API.
//
// This package implements all HTTP endpoints using the Gin framework,
// covering session management, one-shot remote execution, and runtime
// status. Terminal I/O itself does not flow through these handlers; it
// rides the WebSocket channel in the ws package.
//
// Endpoints:
//   - Health: / and /health
//   - Sessions: POST /sessions, GET /sessions, GET /sessions/:id, DELETE /sessions/:id
//   - Exec: POST /exec
//   - Status: GET /status
//
// Error responses carry a stable machine-readable kind alongside the
// message:
//
//	{"error": "unknown target: web-3", "kind": "protocol_error"}
//
// Example Usage:
//
//	handlers := http.NewHandlers(http.Options{Manager: mgr, Pool: pool})
//	router.POST("/sessions", handlers.CreateSession)
//	router.GET("/status", handlers.Status)
package http
