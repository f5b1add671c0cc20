package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Session metrics
	SessionsActive    prometheus.Gauge
	SessionsTotal     *prometheus.CounterVec
	SessionBytesIn    prometheus.Counter
	SessionBytesOut   prometheus.Counter
	BufferTruncations prometheus.Counter

	// Pool metrics
	PoolIdle         *prometheus.GaugeVec
	PoolInUse        *prometheus.GaugeVec
	PoolWaitDuration *prometheus.HistogramVec
	PoolDials        *prometheus.CounterVec

	// Circuit breaker metrics
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec

	// Operation metrics
	OpCalls    *prometheus.CounterVec
	OpDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for the status API - track current values
	snapshot Snapshot

	mu sync.RWMutex
}

// Snapshot holds current metric values for the status API
type Snapshot struct {
	TotalRequests  int64
	TotalErrors    int64
	TotalDuration  float64 // sum of all request durations
	RequestCount   int64   // count for averaging
	ActiveSessions int64
	WSConnections  int64
}

// NewMetrics creates a metrics collector on the default registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates a metrics collector on a specific registry.
// Tests use a fresh registry to avoid duplicate registration panics.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termgate_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termgate_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		// Session metrics
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termgate_sessions_active",
				Help: "Number of active terminal sessions",
			},
		),
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termgate_sessions_total",
				Help: "Total number of sessions created",
			},
			[]string{"kind"},
		),
		SessionBytesIn: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termgate_session_bytes_in_total",
				Help: "Total bytes written to sessions",
			},
		),
		SessionBytesOut: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termgate_session_bytes_out_total",
				Help: "Total bytes emitted by sessions",
			},
		),
		BufferTruncations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termgate_buffer_truncations_total",
				Help: "Total output buffer overflow truncations",
			},
		),

		// Pool metrics
		PoolIdle: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "termgate_pool_idle_connections",
				Help: "Idle pooled connections per target",
			},
			[]string{"target"},
		),
		PoolInUse: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "termgate_pool_inuse_connections",
				Help: "Borrowed pooled connections per target",
			},
			[]string{"target"},
		),
		PoolWaitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termgate_pool_wait_seconds",
				Help:    "Time spent waiting to acquire a pooled connection",
				Buckets: []float64{.0001, .001, .01, .05, .1, .5, 1, 2.5, 5, 10},
			},
			[]string{"target"},
		),
		PoolDials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termgate_pool_dials_total",
				Help: "Connection establishment attempts by outcome",
			},
			[]string{"target", "outcome"},
		),

		// Circuit breaker metrics
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "termgate_breaker_state",
				Help: "Circuit state per target (0 closed, 1 half-open, 2 open)",
			},
			[]string{"target"},
		),
		BreakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termgate_breaker_transitions_total",
				Help: "Circuit state transitions per target",
			},
			[]string{"target", "to"},
		),

		// Operation metrics
		OpCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termgate_op_calls_total",
				Help: "Total component operations",
			},
			[]string{"component", "op", "status"},
		),
		OpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termgate_op_duration_seconds",
				Help:    "Component operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"component", "op"},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termgate_ws_connections",
				Help: "Number of active WebSocket channels",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termgate_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		// System metrics
		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termgate_uptime_seconds",
				Help: "Gateway uptime in seconds",
			},
		),
	}

	// Start uptime updater
	go m.updateUptime()

	return m
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	// Update snapshot
	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordOp records a component operation
func (m *Metrics) RecordOp(component, op, status string, duration time.Duration) {
	m.OpCalls.WithLabelValues(component, op, status).Inc()
	m.OpDuration.WithLabelValues(component, op).Observe(duration.Seconds())
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// SetSessionsActive sets the number of active sessions
func (m *Metrics) SetSessionsActive(count int) {
	m.SessionsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveSessions = int64(count)
	m.mu.Unlock()
}

// IncSessionsTotal increments the created sessions counter for a kind
func (m *Metrics) IncSessionsTotal(kind string) {
	m.SessionsTotal.WithLabelValues(kind).Inc()
}

// AddSessionBytesIn adds to the session input byte counter
func (m *Metrics) AddSessionBytesIn(n int) {
	m.SessionBytesIn.Add(float64(n))
}

// AddSessionBytesOut adds to the session output byte counter
func (m *Metrics) AddSessionBytesOut(n int) {
	m.SessionBytesOut.Add(float64(n))
}

// IncBufferTruncations increments the buffer truncation counter
func (m *Metrics) IncBufferTruncations() {
	m.BufferTruncations.Inc()
}

// SetPoolGauges sets the per-target pool occupancy gauges
func (m *Metrics) SetPoolGauges(target string, idle, inUse int) {
	m.PoolIdle.WithLabelValues(target).Set(float64(idle))
	m.PoolInUse.WithLabelValues(target).Set(float64(inUse))
}

// ObservePoolWait records time spent waiting for a pooled connection
func (m *Metrics) ObservePoolWait(target string, d time.Duration) {
	m.PoolWaitDuration.WithLabelValues(target).Observe(d.Seconds())
}

// RecordPoolDial records a connection establishment outcome
func (m *Metrics) RecordPoolDial(target, outcome string) {
	m.PoolDials.WithLabelValues(target, outcome).Inc()
}

// SetBreakerState sets the circuit state gauge for a target
func (m *Metrics) SetBreakerState(target string, state int) {
	m.BreakerState.WithLabelValues(target).Set(float64(state))
}

// RecordBreakerTransition records a circuit state change
func (m *Metrics) RecordBreakerTransition(target, to string) {
	m.BreakerTransitions.WithLabelValues(target, to).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.WSConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.WSConnections--
	m.mu.Unlock()
}
