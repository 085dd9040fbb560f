package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/joseph-ayodele/docbench/constants"
)

// Metrics are the scheduler's Prometheus collectors.
//
// Labels: stage (OCR|EXTRACT), kind (failure kind written to the failures file).
type Metrics struct {
	Attempts     *prometheus.CounterVec
	Retries      *prometheus.CounterVec
	Timeouts     *prometheus.CounterVec
	Failures     *prometheus.CounterVec
	Completed    prometheus.Counter
	InFlight     *prometheus.GaugeVec
	StageLatency *prometheus.HistogramVec
}

// NewMetrics builds the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docbench_stage_attempts_total",
			Help: "Stage attempts dispatched",
		}, []string{"stage"}),
		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docbench_stage_retries_total",
			Help: "Stage attempts dispatched as a retry",
		}, []string{"stage"}),
		Timeouts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docbench_stage_timeouts_total",
			Help: "Stage attempts abandoned after their deadline",
		}, []string{"stage"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docbench_file_failures_total",
			Help: "Files that ended in the failures file",
		}, []string{"kind"}),
		Completed: f.NewCounter(prometheus.CounterOpts{
			Name: "docbench_files_completed_total",
			Help: "Files scored and written to the results file",
		}),
		InFlight: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "docbench_stage_in_flight",
			Help: "Attempts currently in flight",
		}, []string{"stage"}),
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docbench_stage_latency_seconds",
			Help:    "Latency reported by successful stage attempts",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
	}
}

func (m *Metrics) dispatched(stage constants.Stage, retry bool) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(string(stage)).Inc()
	m.InFlight.WithLabelValues(string(stage)).Inc()
	if retry {
		m.Retries.WithLabelValues(string(stage)).Inc()
	}
}

func (m *Metrics) settled(stage constants.Stage) {
	if m == nil {
		return
	}
	m.InFlight.WithLabelValues(string(stage)).Dec()
}

func (m *Metrics) timedOut(stage constants.Stage) {
	if m == nil {
		return
	}
	m.Timeouts.WithLabelValues(string(stage)).Inc()
}

func (m *Metrics) observe(stage constants.Stage, d time.Duration) {
	if m == nil {
		return
	}
	m.StageLatency.WithLabelValues(string(stage)).Observe(d.Seconds())
}

func (m *Metrics) failed(kind constants.FailureKind) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) completed() {
	if m == nil {
		return
	}
	m.Completed.Inc()
}
