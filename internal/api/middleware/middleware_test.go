package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/TermGate/internal/infrastructure/config"
)

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewLimiter(config.RateLimitConfig{RequestsPerSecond: 1, Burst: 2})

	engine := gin.New()
	engine.Use(l.Middleware())
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	status := func() int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		engine.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, status())
	assert.Equal(t, http.StatusOK, status())

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"resource_exhausted"`)
}

func TestLimiterSweep(t *testing.T) {
	l := NewLimiter(config.RateLimitConfig{RequestsPerSecond: 10, Burst: 10})
	l.allow("10.0.0.1")
	l.allow("10.0.0.2")

	l.mu.Lock()
	l.clients["10.0.0.1"].lastSeen = time.Now().Add(-time.Hour)
	l.mu.Unlock()

	assert.Equal(t, 1, l.Sweep(30*time.Minute))

	l.mu.Lock()
	_, gone := l.clients["10.0.0.1"]
	_, kept := l.clients["10.0.0.2"]
	l.mu.Unlock()
	assert.False(t, gone)
	assert.True(t, kept)
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("wildcard", func(t *testing.T) {
		engine := gin.New()
		engine.Use(CORS([]string{"*"}))
		engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		req.Header.Set("Origin", "https://example.com")
		req.Header.Set("Access-Control-Request-Method", "GET")
		engine.ServeHTTP(w, req)

		require.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("explicit origin", func(t *testing.T) {
		engine := gin.New()
		engine.Use(CORS([]string{"https://term.example.com"}))
		engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		req.Header.Set("Origin", "https://term.example.com")
		req.Header.Set("Access-Control-Request-Method", "GET")
		engine.ServeHTTP(w, req)

		require.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://term.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	})
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("generates when absent", func(t *testing.T) {
		engine := gin.New()
		engine.Use(RequestID())
		var seen string
		engine.GET("/", func(c *gin.Context) {
			seen = c.GetString(RequestIDKey)
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		require.NotEmpty(t, seen)
		assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
	})

	t.Run("keeps client id", func(t *testing.T) {
		engine := gin.New()
		engine.Use(RequestID())
		engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req_upstream_7")
		engine.ServeHTTP(w, req)

		assert.Equal(t, "req_upstream_7", w.Header().Get(RequestIDHeader))
	})
}
