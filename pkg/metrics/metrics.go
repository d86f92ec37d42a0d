// Package metrics provides Prometheus metrics collection for the parameter
// evaluation engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics emitted by the engine.
type Metrics struct {
	// RecalculationsTotal counts per-scope recalculation attempts.
	RecalculationsTotal *prometheus.CounterVec

	// RecalculationDuration observes how long a scope recalculation took.
	RecalculationDuration *prometheus.HistogramVec

	// FormulaEvaluationsTotal counts individual formula evaluations.
	FormulaEvaluationsTotal *prometheus.CounterVec

	// GroupsStale tracks the current number of stale groups.
	GroupsStale prometheus.Gauge

	// ParametersTotal tracks the total row count across all parameter tables.
	ParametersTotal prometheus.Gauge

	// IntegrityViolationsTotal counts rejected mutations, by invariant.
	IntegrityViolationsTotal *prometheus.CounterVec
}

// New creates a Metrics instance registered with the default registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered with a custom registerer.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecalculationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "paramengine",
				Name:      "recalculations_total",
				Help:      "Total number of per-scope recalculation attempts.",
			},
			[]string{"scope_kind", "outcome"},
		),
		RecalculationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "paramengine",
				Name:      "recalculation_duration_seconds",
				Help:      "Duration of a per-scope recalculation pass.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"scope_kind"},
		),
		FormulaEvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "paramengine",
				Name:      "formula_evaluations_total",
				Help:      "Total number of individual formula evaluations.",
			},
			[]string{"scope_kind", "outcome"},
		),
		GroupsStale: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "paramengine",
				Name:      "groups_stale",
				Help:      "Current number of groups with fresh=false.",
			},
		),
		ParametersTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "paramengine",
				Name:      "parameters_total",
				Help:      "Total parameter rows across all three scopes.",
			},
		),
		IntegrityViolationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "paramengine",
				Name:      "integrity_violations_total",
				Help:      "Total number of mutations rejected for violating a store invariant.",
			},
			[]string{"invariant"},
		),
	}

	registerer.MustRegister(
		m.RecalculationsTotal,
		m.RecalculationDuration,
		m.FormulaEvaluationsTotal,
		m.GroupsStale,
		m.ParametersTotal,
		m.IntegrityViolationsTotal,
	)

	return m
}
