package monitoring

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Worker exit statuses.
const (
	ExitOK       = "ok"
	ExitFailed   = "failed"
	ExitSignaled = "signaled"
)

// Metrics holds all Prometheus metrics of one launcher process. The
// orchestrator fills the barrier and worker metrics; a worker fills the
// measurement metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Barrier metrics
	RoundsPlanned prometheus.Gauge
	RoundsTotal   prometheus.Counter

	// Worker metrics
	WorkersLive  prometheus.Gauge
	WorkerExits  *prometheus.CounterVec
	FatalSignals prometheus.Counter

	// Measurement metrics
	StepsTotal     prometheus.Counter
	NoiseRetries   prometheus.Counter
	ProblemSamples prometheus.Counter
	StepDuration   prometheus.Histogram

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for the JSON status endpoint
	snapshot Status

	mu sync.RWMutex
}

// Status is the progress reported by the status endpoint.
type Status struct {
	ExperimentID string  `json:"experiment_id"`
	RoundsDone   int     `json:"rounds_done"`
	RoundsTotal  int     `json:"rounds_total"`
	LiveWorkers  int     `json:"live_workers"`
	Uptime       float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// Barrier metrics
		RoundsPlanned: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "microlauncher_barrier_rounds_planned",
				Help: "Barrier rounds the orchestrator will drive",
			},
		),
		RoundsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "microlauncher_barrier_rounds_total",
				Help: "Barrier rounds completed",
			},
		),

		// Worker metrics
		WorkersLive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "microlauncher_workers_live",
				Help: "Worker processes still taking part in the barrier",
			},
		),
		WorkerExits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "microlauncher_worker_exits_total",
				Help: "Worker process exits by status",
			},
			[]string{"status"},
		),
		FatalSignals: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "microlauncher_fatal_signals_total",
				Help: "Fatal notifications received from workers",
			},
		),

		// Measurement metrics
		StepsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "microlauncher_steps_total",
				Help: "Alignment steps measured",
			},
		),
		NoiseRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "microlauncher_noise_retries_total",
				Help: "Measured passes repeated because an evaluator went backwards",
			},
		),
		ProblemSamples: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "microlauncher_problem_samples_total",
				Help: "Samples flagged with a problem code",
			},
		),
		StepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "microlauncher_step_duration_seconds",
				Help:    "Wall time of one alignment step",
				Buckets: prometheus.ExponentialBuckets(.001, 4, 10),
			},
		),

		// System metrics
		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "microlauncher_uptime_seconds",
				Help: "Launcher uptime in seconds",
			},
		),
	}

	return m
}

// Registry returns the registry holding every metric.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetExperiment records the experiment being run.
func (m *Metrics) SetExperiment(id string) {
	m.mu.Lock()
	m.snapshot.ExperimentID = id
	m.mu.Unlock()
}

// PlanRounds records how many barrier rounds will be driven.
func (m *Metrics) PlanRounds(total int) {
	m.RoundsPlanned.Set(float64(total))
	m.mu.Lock()
	m.snapshot.RoundsTotal = total
	m.mu.Unlock()
}

// RecordRound records a completed barrier round.
func (m *Metrics) RecordRound(done int) {
	m.RoundsTotal.Inc()
	m.mu.Lock()
	m.snapshot.RoundsDone = done
	m.mu.Unlock()
}

// SetWorkersLive sets the number of workers at the barrier.
func (m *Metrics) SetWorkersLive(count int) {
	m.WorkersLive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.LiveWorkers = count
	m.mu.Unlock()
}

// RecordWorkerExit counts a worker exit with one of the Exit statuses.
func (m *Metrics) RecordWorkerExit(status string) {
	m.WorkerExits.WithLabelValues(status).Inc()
}

// IncFatalSignals counts a fatal notification.
func (m *Metrics) IncFatalSignals() {
	m.FatalSignals.Inc()
}

// RecordStep records one measured alignment step.
func (m *Metrics) RecordStep(duration time.Duration, retries, problems int) {
	m.StepsTotal.Inc()
	m.NoiseRetries.Add(float64(retries))
	m.ProblemSamples.Add(float64(problems))
	m.StepDuration.Observe(duration.Seconds())
}

// Snapshot returns the current status.
func (m *Metrics) Snapshot() Status {
	m.updateUptime()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// updateUptime refreshes the uptime metric.
func (m *Metrics) updateUptime() {
	up := time.Since(m.startTime).Seconds()
	m.Uptime.Set(up)
	m.mu.Lock()
	m.snapshot.Uptime = up
	m.mu.Unlock()
}

// WriteTextfile writes every metric to path in the Prometheus text format,
// for collection by a node exporter after the process exits.
func (m *Metrics) WriteTextfile(path string) error {
	m.updateUptime()
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
