// Package metrics holds the Prometheus instrumentation for the verification
// engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the engine's counters, gauges, and histograms.
type Metrics struct {
	Submissions      *prometheus.CounterVec
	VerifyDuration   prometheus.Histogram
	Attestations     *prometheus.CounterVec
	ActiveBindings   prometheus.Gauge
	ReplayDeliveries prometheus.Counter
	DroppedEvents    prometheus.Counter
}

// New registers all metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		Submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veriflow_proof_submissions_total",
			Help: "Proof submissions by terminal result",
		}, []string{"result"}),
		VerifyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "veriflow_verify_duration_seconds",
			Help:    "Latency of external proof verification calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		Attestations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veriflow_attestations_total",
			Help: "On-chain attestation attempts by result",
		}, []string{"result"}),
		ActiveBindings: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "veriflow_hub_active_bindings",
			Help: "Session bindings currently held by the notification hub",
		}),
		ReplayDeliveries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veriflow_hub_replay_deliveries_total",
			Help: "Outcomes replayed to connections on (re)registration",
		}),
		DroppedEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veriflow_hub_dropped_events_total",
			Help: "Push events dropped on saturated connections",
		}),
	}
}

// IncSubmission records a proof submission terminal result.
func (m *Metrics) IncSubmission(result string) {
	m.Submissions.WithLabelValues(result).Inc()
}

// ObserveVerifyDuration records one verifier round trip.
func (m *Metrics) ObserveVerifyDuration(d time.Duration) {
	m.VerifyDuration.Observe(d.Seconds())
}

// IncAttestation records an attestation attempt result.
func (m *Metrics) IncAttestation(result string) {
	m.Attestations.WithLabelValues(result).Inc()
}

// SetActiveBindings implements the hub's metrics sink.
func (m *Metrics) SetActiveBindings(n int) {
	m.ActiveBindings.Set(float64(n))
}

// IncReplayDelivery implements the hub's metrics sink.
func (m *Metrics) IncReplayDelivery() {
	m.ReplayDeliveries.Inc()
}

// IncDroppedEvent implements the hub's metrics sink.
func (m *Metrics) IncDroppedEvent() {
	m.DroppedEvents.Inc()
}
