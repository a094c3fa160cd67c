package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initReconcilerMetrics() {
	r.ReconcileRunsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_reconcile_runs_total",
			Help: "Sync status reconciliation sweeps by outcome",
		},
		[]string{"outcome"}, // ok, partial, error, skipped
	)

	r.ReconcileDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "identity_reconcile_duration_seconds",
			Help:    "Duration of reconciliation sweeps in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 60.0},
		},
	)

	r.RecordsByStatus = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "identity_records_by_sync_status",
			Help: "Records observed in the last sweep, by sync status",
		},
		[]string{"status"}, // synced, conflict, isolated, error
	)

	r.StatusTransitionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_sync_status_transitions_total",
			Help: "Persisted sync status changes, by new status",
		},
		[]string{"status"},
	)
}
