package monitoring

import (
	"time"
)

// Timer measures the wall time of one alignment step.
type Timer struct {
	start   time.Time
	metrics *Metrics
}

// NewTimer creates a new timer.
func NewTimer(metrics *Metrics) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
	}
}

// Stop records the step with its retry and problem counts.
func (t *Timer) Stop(retries, problems int) {
	if t.metrics == nil {
		return
	}
	t.metrics.RecordStep(time.Since(t.start), retries, problems)
}
