// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	ReportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relief",
		Subsystem: "escalation",
		Name:      "reports_total",
		Help:      "Disaster reports accepted, by severity and source.",
	}, []string{"severity", "source"})

	EscalationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relief",
		Subsystem: "escalation",
		Name:      "escalations_total",
		Help:      "High-severity escalations raised.",
	})

	ExpiredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relief",
		Subsystem: "sweep",
		Name:      "expired_total",
		Help:      "Help tickets and tasks expired by the sweep, by kind.",
	}, []string{"kind"})

	SweepFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "relief",
		Subsystem: "sweep",
		Name:      "failures_total",
		Help:      "Per-entity failures during sweeps.",
	})

	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "relief",
		Subsystem: "fanout",
		Name:      "connections",
		Help:      "Live real-time connections on this instance.",
	})

	DeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relief",
		Subsystem: "fanout",
		Name:      "deliveries_total",
		Help:      "Envelopes written to connections, by event and outcome.",
	}, []string{"event", "outcome"})
)

// Register adds the collectors to the default registry. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			ReportsTotal,
			EscalationsTotal,
			ExpiredTotal,
			SweepFailuresTotal,
			Connections,
			DeliveriesTotal,
		)
	})
}
