package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/TermGate/internal/shared/id"
)

// RequestIDHeader carries the correlation id on requests and responses.
const RequestIDHeader = "X-Request-ID"

// RequestIDKey is the gin context key holding the correlation id.
const RequestIDKey = "request_id"

// RequestID tags every request with a correlation id and echoes it on
// the response. A client-supplied id is kept so multi-hop calls stay
// correlated.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" {
			rid = id.NewRequestID().String()
		}
		c.Set(RequestIDKey, rid)
		c.Header(RequestIDHeader, rid)
		c.Next()
	}
}
