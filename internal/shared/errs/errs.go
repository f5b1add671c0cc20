// Package errs defines the error taxonomy shared across the gateway.
//
// Every failure that crosses a component boundary carries a Kind so that
// transports can map it uniformly: the REST layer to HTTP status codes, the
// message channel to error frames. Internal call sites wrap causes with
// fmt.Errorf("%w"); the boundary classifies with KindOf.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind discriminates failure classes for boundary mapping
type Kind string

const (
	KindSessionNotFound   Kind = "session_not_found"
	KindSessionClosed     Kind = "session_closed"
	KindResourceExhausted Kind = "resource_exhausted"
	KindConnectTimeout    Kind = "connect_timeout"
	KindPoolExhausted     Kind = "pool_exhausted"
	KindCircuitOpen       Kind = "circuit_open"
	KindAuthFailed        Kind = "authentication_failed"
	KindProtocol          Kind = "protocol_error"
	KindIO                Kind = "io_error"

	// KindInternal covers unclassified failures
	KindInternal Kind = "internal"
)

// Error is a classified gateway error
type Error struct {
	Kind    Kind
	Message string
	Err     error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for errors.Is/As chains
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same Kind
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind
	}
	return false
}

// ============================================================================
// Constructors
// ============================================================================

// New creates a classified error with a static message
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying cause
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// SessionNotFound reports an unknown session ID
func SessionNotFound(sessionID string) *Error {
	return Newf(KindSessionNotFound, "session not found: %s", sessionID)
}

// SessionClosed reports an operation against a terminated session
func SessionClosed(sessionID string) *Error {
	return Newf(KindSessionClosed, "session is closed: %s", sessionID)
}

// ResourceExhausted reports a session or buffer capacity limit
func ResourceExhausted(message string) *Error {
	return New(KindResourceExhausted, message)
}

// ConnectTimeout reports a connection establishment deadline
func ConnectTimeout(targetKey string, err error) *Error {
	return Wrap(KindConnectTimeout, fmt.Sprintf("connect timeout: %s", targetKey), err)
}

// PoolExhausted reports that no pooled connection became available
func PoolExhausted(targetKey string) *Error {
	return Newf(KindPoolExhausted, "connection pool exhausted: %s", targetKey)
}

// CircuitOpen reports a fail-fast rejection for an unhealthy target
func CircuitOpen(targetKey string) *Error {
	return Newf(KindCircuitOpen, "circuit open: %s", targetKey)
}

// AuthFailed reports rejected credentials for a target
func AuthFailed(targetKey string, err error) *Error {
	return Wrap(KindAuthFailed, fmt.Sprintf("authentication failed: %s", targetKey), err)
}

// Protocol reports a malformed or out-of-contract client message
func Protocol(message string) *Error {
	return New(KindProtocol, message)
}

// IO reports a read/write failure on an established channel
func IO(message string, err error) *Error {
	return Wrap(KindIO, message, err)
}

// ============================================================================
// Classification
// ============================================================================

// KindOf extracts the Kind from an error chain.
// Unclassified errors report KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether the error chain carries the given Kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// PublicMessage returns the boundary-safe message for an error: the
// classified message when present, otherwise the plain Error() text.
// Wrapped causes stay server side.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// HTTPStatus maps a Kind to its REST status code
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindSessionNotFound:
		return http.StatusNotFound
	case KindSessionClosed:
		return http.StatusConflict
	case KindResourceExhausted:
		return http.StatusTooManyRequests
	case KindConnectTimeout:
		return http.StatusGatewayTimeout
	case KindPoolExhausted:
		return http.StatusServiceUnavailable
	case KindCircuitOpen:
		return http.StatusServiceUnavailable
	case KindAuthFailed:
		return http.StatusBadGateway
	case KindProtocol:
		return http.StatusBadRequest
	case KindIO:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
