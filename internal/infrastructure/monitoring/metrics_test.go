package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics() *Metrics {
	return NewMetricsWith(prometheus.NewRegistry())
}

func TestRecordHTTPRequest(t *testing.T) {
	m := newTestMetrics()

	m.RecordHTTPRequest("GET", "/sessions", "200", 15*time.Millisecond, 0, 128)
	m.RecordHTTPRequest("POST", "/sessions", "429", 5*time.Millisecond, 64, 32)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/sessions", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST", "/sessions", "429")))

	snap := m.GetSnapshot()
	assert.Equal(t, int64(2), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.TotalErrors)
	assert.Greater(t, m.AvgRequestSeconds(), 0.0)
}

func TestSessionMetrics(t *testing.T) {
	m := newTestMetrics()

	m.SetSessionsActive(3)
	m.IncSessionsTotal("local")
	m.IncSessionsTotal("remote")
	m.IncSessionsTotal("remote")
	m.AddSessionBytesIn(100)
	m.AddSessionBytesOut(4096)
	m.IncBufferTruncations()

	assert.Equal(t, float64(3), testutil.ToFloat64(m.SessionsActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionsTotal.WithLabelValues("local")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.SessionsTotal.WithLabelValues("remote")))
	assert.Equal(t, float64(100), testutil.ToFloat64(m.SessionBytesIn))
	assert.Equal(t, float64(4096), testutil.ToFloat64(m.SessionBytesOut))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BufferTruncations))
	assert.Equal(t, int64(3), m.GetSnapshot().ActiveSessions)
}

func TestPoolMetrics(t *testing.T) {
	m := newTestMetrics()

	m.SetPoolGauges("deploy@host:22", 2, 1)
	m.RecordPoolDial("deploy@host:22", "success")
	m.RecordPoolDial("deploy@host:22", "failure")
	m.ObservePoolWait("deploy@host:22", 20*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.PoolIdle.WithLabelValues("deploy@host:22")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PoolInUse.WithLabelValues("deploy@host:22")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PoolDials.WithLabelValues("deploy@host:22", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PoolDials.WithLabelValues("deploy@host:22", "failure")))
}

func TestBreakerMetrics(t *testing.T) {
	m := newTestMetrics()

	m.SetBreakerState("deploy@host:22", 2)
	m.RecordBreakerTransition("deploy@host:22", "open")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.BreakerState.WithLabelValues("deploy@host:22")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.BreakerTransitions.WithLabelValues("deploy@host:22", "open")))
}

func TestWSMetrics(t *testing.T) {
	m := newTestMetrics()

	m.IncWSConnections()
	m.IncWSConnections()
	m.DecWSConnections()
	m.RecordWSMessage("in", "input")
	m.RecordWSMessage("out", "output")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.WSConnections))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WSMessages.WithLabelValues("in", "input")))
	assert.Equal(t, int64(1), m.GetSnapshot().WSConnections)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newTestMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/sessions/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	req := httptest.NewRequest("GET", "/sessions/sess_123", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	// Route template keeps the label cardinality bounded.
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/sessions/:id", "200")))
}

func TestTimer(t *testing.T) {
	m := newTestMetrics()

	timer := NewTimer(m, "pool", "acquire")
	time.Sleep(time.Millisecond)
	timer.Stop("success")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.OpCalls.WithLabelValues("pool", "acquire", "success")))
}
