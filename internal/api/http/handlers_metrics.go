package http

import (
	"time"

	"github.com/GriffinCanCode/TermGate/internal/infrastructure/monitoring"
)

// OpTracker times handler operations and records them as op metrics.
// A tracker built from nil metrics is a no-op, which keeps the
// handlers free of guards.
type OpTracker struct {
	metrics *monitoring.Metrics
}

// NewOpTracker creates a tracker. Metrics may be nil.
func NewOpTracker(metrics *monitoring.Metrics) *OpTracker {
	return &OpTracker{metrics: metrics}
}

// Op starts timing an operation. The returned func records the outcome
// under the given status label.
func (t *OpTracker) Op(op string) func(status string) {
	start := time.Now()
	return func(status string) {
		if t.metrics == nil {
			return
		}
		t.metrics.RecordOp("api", op, status, time.Since(start))
	}
}
