package vision

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's counters. The atomic fields are the source of
// truth; Prometheus collectors read them lazily so hot paths never touch the
// registry.
type Metrics struct {
	ResultsIngested  atomic.Uint64
	ThreatsSeen      atomic.Uint64
	DeltasEmitted    atomic.Uint64
	BackendDeltas    atomic.Uint64
	GeometricDeltas  atomic.Uint64
	StaleSweeps      atomic.Uint64
	SubscriberPanics atomic.Uint64

	VerdictHits     atomic.Uint64
	VerdictExpiries atomic.Uint64

	PipelineRuns       atomic.Uint64
	PipelineConfirmed  atomic.Uint64
	PipelineFalsePos   atomic.Uint64
	PipelineErrors     atomic.Uint64
	PipelineSuppressed atomic.Uint64

	registry *prometheus.Registry
}

// NewMetrics creates engine metrics with a private Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.register()
	return m
}

func (m *Metrics) register() {
	counters := []struct {
		name string
		help string
		v    *atomic.Uint64
	}{
		{"occupancy_results_ingested_total", "Detection results accepted by the state store", &m.ResultsIngested},
		{"occupancy_threats_seen_total", "Detection results carrying at least one threat box", &m.ThreatsSeen},
		{"occupancy_deltas_emitted_total", "Occupancy deltas applied to the external counter", &m.DeltasEmitted},
		{"occupancy_backend_deltas_total", "Deltas derived from backend-computed counters", &m.BackendDeltas},
		{"occupancy_geometric_deltas_total", "Deltas derived from local zone membership", &m.GeometricDeltas},
		{"occupancy_stale_sweeps_total", "Camera results cleared by the stale-result sweep", &m.StaleSweeps},
		{"occupancy_subscriber_panics_total", "Subscriber callbacks that panicked during fan-out", &m.SubscriberPanics},
		{"occupancy_verdict_hits_total", "Verdict cache lookups answered from a live entry", &m.VerdictHits},
		{"occupancy_verdict_expiries_total", "Verdict cache entries dropped at lookup for exceeding the TTL", &m.VerdictExpiries},
		{"occupancy_pipeline_runs_total", "Escalation pipeline runs started", &m.PipelineRuns},
		{"occupancy_pipeline_confirmed_total", "Pipeline runs ending in a confirmed threat", &m.PipelineConfirmed},
		{"occupancy_pipeline_false_positive_total", "Pipeline runs ending in a false-positive verdict", &m.PipelineFalsePos},
		{"occupancy_pipeline_errors_total", "Pipeline runs ending in the error state", &m.PipelineErrors},
		{"occupancy_pipeline_suppressed_total", "Pipeline triggers rejected by the in-flight or cooldown guard", &m.PipelineSuppressed},
	}
	for _, c := range counters {
		v := c.v
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: c.name, Help: c.help},
			func() float64 { return float64(v.Load()) },
		))
	}
}

// Handler returns an HTTP handler serving the engine metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
