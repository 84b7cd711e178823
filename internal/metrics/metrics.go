// Package metrics exposes the Prometheus collectors for conditions the
// error-handling design (spec §7) requires to be "counted and logged,
// never propagated to ingest callers": sink timeouts/unavailability,
// inbox drops, and solver failures.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the core's operational counters. Construct one per
// process with New and register it against the default registerer (or
// a private one in tests) via Register.
type Metrics struct {
	SinkFailuresTotal    *prometheus.CounterVec
	SinkTimeoutsTotal    *prometheus.CounterVec
	InboxDroppedTotal    *prometheus.CounterVec
	SolverFailuresTotal  prometheus.Counter
	AnomaliesTotal       *prometheus.CounterVec
	IngestDuration       prometheus.Histogram
	DevicesActive        prometheus.Gauge
}

// New builds a Metrics instance. Collectors are not yet registered with
// any registerer; call Register to do so.
func New() *Metrics {
	return &Metrics{
		SinkFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetwatch",
			Name:      "sink_failures_total",
			Help:      "Total persistence/subscriber sink failures by sink name.",
		}, []string{"sink"}),
		SinkTimeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetwatch",
			Name:      "sink_timeouts_total",
			Help:      "Total persistence sink calls that exceeded their deadline.",
		}, []string{"sink"}),
		InboxDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetwatch",
			Name:      "inbox_dropped_total",
			Help:      "Total events dropped due to a full subscriber inbox.",
		}, []string{"topic"}),
		SolverFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fleetwatch",
			Name:      "solver_failures_total",
			Help:      "Total multilateration solves that failed to converge or had degenerate anchors.",
		}),
		AnomaliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetwatch",
			Name:      "anomalies_total",
			Help:      "Total anomaly events emitted, by kind.",
		}, []string{"kind"}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fleetwatch",
			Name:      "ingest_duration_seconds",
			Help:      "Wall time of a single ingest() call.",
			Buckets:   prometheus.DefBuckets,
		}),
		DevicesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fleetwatch",
			Name:      "devices_active",
			Help:      "Number of devices with a live DeviceState.",
		}),
	}
}

// Register registers every collector against reg. Call once at startup
// with prometheus.DefaultRegisterer, or a fresh registry in tests.
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.SinkFailuresTotal,
		m.SinkTimeoutsTotal,
		m.InboxDroppedTotal,
		m.SolverFailuresTotal,
		m.AnomaliesTotal,
		m.IngestDuration,
		m.DevicesActive,
	)
}
