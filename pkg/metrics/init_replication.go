package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initReplicationMetrics() {
	r.ReplicationLinksTotal = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "identity_replication_links",
			Help: "Replication links by state",
		},
		[]string{"state"}, // running, retrying, completed, error, failed
	)

	r.ReplicationDocsPending = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "identity_replication_changes_pending",
			Help: "Pending changes per replication link",
		},
		[]string{"link_id"},
	)

	r.StatusFeedErrorsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "identity_status_feed_errors_total",
			Help: "Failed polls of the replication status feed",
		},
	)

	r.InstancesTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "identity_instances_total",
			Help: "Total instances known to the monitor, including the local one",
		},
	)

	r.InstancesActive = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "identity_instances_active",
			Help: "Instances with at least one healthy replication link",
		},
	)

	r.InstancesUnreachable = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "identity_instances_unreachable",
			Help: "Instances with no healthy replication link",
		},
	)
}
