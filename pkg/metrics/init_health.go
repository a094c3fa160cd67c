package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initHealthMetrics() {
	r.HealthChecksTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_health_checks_total",
			Help: "Cluster health check cycles by outcome",
		},
		[]string{"outcome"}, // ok, degraded, skipped
	)

	r.HealthCheckDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "identity_health_check_duration_seconds",
			Help:    "Duration of cluster health check cycles in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
	)

	r.ClusterIsolated = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "identity_cluster_isolated",
			Help: "Whether an isolation window is currently open (1=yes, 0=no)",
		},
	)

	r.IsolationWindowsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "identity_isolation_windows_total",
			Help: "Isolation windows opened since process start",
		},
	)

	r.IsolationSeconds = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "identity_isolation_window_seconds",
			Help: "Age of the open isolation window in seconds (0 when closed)",
		},
	)

	r.IsolatedRecords = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "identity_isolated_records",
			Help: "Records modified since the current isolation window opened",
		},
	)
}
