// Package logging provides structured logging using uber/zap.
//
// This package offers production-ready logging with two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Log Levels:
//   - Debug: Verbose debugging information
//   - Info: General informational messages
//   - Warn: Warning messages
//   - Error: Error messages
//   - Fatal: Fatal errors (exits process)
//
// Features:
//   - Zero-allocation logging in production
//   - Structured fields for context
//   - Named child loggers per component
//   - Configurable output paths
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	pool := logger.Named("sshpool")
//	pool.Info("Connection established", zap.String("target", key))
//	pool.Error("Dial failed", zap.Error(err))
package logging
