package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initConflictMetrics() {
	r.ConflictsDetected = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "identity_conflicts_detected",
			Help: "Records with live conflicting revisions, by kind and classification",
		},
		[]string{"kind", "classification"}, // classification: revision_conflict, data_conflict
	)

	r.ConflictScansTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_conflict_scans_total",
			Help: "Conflict scans by outcome",
		},
		[]string{"outcome"}, // ok, error
	)

	r.ResolutionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_conflict_resolutions_total",
			Help: "Conflict resolutions by result",
		},
		[]string{"result"}, // resolved, partial, no_conflict, stale, error
	)

	r.ResidualRevisionsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "identity_residual_revisions_total",
			Help: "Losing revisions that could not be retired during resolution",
		},
	)

	r.ConflictAnalysisDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "identity_conflict_analysis_duration_seconds",
			Help:    "Duration of per-record conflict analysis in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
	)
}
