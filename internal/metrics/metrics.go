// metrics.go - Metrics collection for the reputation ledger
//
// All collectors live on a private registry so several replicas can run in one
// process (tests, the end-to-end scenario). A nil *Metrics is valid and records nothing.

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Predefined metric names
const (
	MetricEventsApplied      = "repledger_events_applied_total"
	MetricEventsStale        = "repledger_events_stale_total"
	MetricEventsRejected     = "repledger_events_rejected_total"
	MetricNullifiers         = "repledger_nullifiers_recorded_total"
	MetricEpochsSealed       = "repledger_epochs_sealed_total"
	MetricCurrentEpoch       = "repledger_current_epoch"
	MetricUserCount          = "repledger_user_count"
	MetricTransitionBuild    = "repledger_transition_build_seconds"
	MetricProofGeneration    = "repledger_proof_generation_seconds"
	MetricCircuitCompileTime = "repledger_circuit_compile_seconds"
	MetricSnapshots          = "repledger_snapshots_total"
	MetricErrorCount         = "repledger_errors_total"
)

// Metrics holds the collectors of one daemon.
type Metrics struct {
	registry *prometheus.Registry

	eventsApplied  *prometheus.CounterVec
	eventsStale    *prometheus.CounterVec
	eventsRejected *prometheus.CounterVec
	nullifiers     prometheus.Counter
	epochsSealed   prometheus.Counter
	currentEpoch   prometheus.Gauge
	userCount      prometheus.Gauge
	buildTime      prometheus.Histogram
	proofTime      *prometheus.HistogramVec
	compileTime    *prometheus.HistogramVec
	snapshots      prometheus.Counter
	errors         *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEventsApplied, Help: "Ledger events applied, by type.",
		}, []string{"type"}),
		eventsStale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEventsStale, Help: "Redelivered ledger events skipped, by type.",
		}, []string{"type"}),
		eventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEventsRejected, Help: "Ledger events that failed validation, by type.",
		}, []string{"type"}),
		nullifiers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricNullifiers, Help: "Nullifiers recorded.",
		}),
		epochsSealed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricEpochsSealed, Help: "Epochs sealed.",
		}),
		currentEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricCurrentEpoch, Help: "Current epoch of the replica.",
		}),
		userCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricUserCount, Help: "Signed-up users.",
		}),
		buildTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: MetricTransitionBuild, Help: "Time to build the bundles of one transition.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		proofTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: MetricProofGeneration, Help: "Proof generation time, by circuit.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"circuit"}),
		compileTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: MetricCircuitCompileTime, Help: "Circuit compile and setup time, by circuit.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"circuit"}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSnapshots, Help: "Replica snapshots written.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricErrorCount, Help: "Errors, by kind.",
		}, []string{"type"}),
	}
	m.registry.MustRegister(
		m.eventsApplied, m.eventsStale, m.eventsRejected, m.nullifiers, m.epochsSealed,
		m.currentEpoch, m.userCount, m.buildTime, m.proofTime, m.compileTime, m.snapshots, m.errors,
	)
	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.eventsApplied.WithLabelValues(eventType).Inc()
}

func (m *Metrics) RecordStale(eventType string) {
	if m == nil {
		return
	}
	m.eventsStale.WithLabelValues(eventType).Inc()
}

func (m *Metrics) RecordRejected(eventType string) {
	if m == nil {
		return
	}
	m.eventsRejected.WithLabelValues(eventType).Inc()
}

func (m *Metrics) RecordNullifiers(n int) {
	if m == nil {
		return
	}
	m.nullifiers.Add(float64(n))
}

func (m *Metrics) RecordSeal() {
	if m == nil {
		return
	}
	m.epochsSealed.Inc()
}

// SetLedgerState updates the replica gauges.
func (m *Metrics) SetLedgerState(epoch, users uint64) {
	if m == nil {
		return
	}
	m.currentEpoch.Set(float64(epoch))
	m.userCount.Set(float64(users))
}

func (m *Metrics) RecordTransitionBuild(d time.Duration) {
	if m == nil {
		return
	}
	m.buildTime.Observe(d.Seconds())
}

func (m *Metrics) RecordProofGeneration(circuit string, d time.Duration) {
	if m == nil {
		return
	}
	m.proofTime.WithLabelValues(circuit).Observe(d.Seconds())
}

func (m *Metrics) RecordCircuitCompile(circuit string, d time.Duration) {
	if m == nil {
		return
	}
	m.compileTime.WithLabelValues(circuit).Observe(d.Seconds())
}

func (m *Metrics) RecordSnapshot() {
	if m == nil {
		return
	}
	m.snapshots.Inc()
}

func (m *Metrics) RecordError(errorType string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(errorType).Inc()
}
