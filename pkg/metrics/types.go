package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the monitor.
type Registry struct {
	// Store Metrics
	StoreRequestsTotal   *prometheus.CounterVec
	StoreRequestDuration *prometheus.HistogramVec

	// Replication / Instance Metrics
	ReplicationLinksTotal   *prometheus.GaugeVec
	ReplicationDocsPending  *prometheus.GaugeVec
	StatusFeedErrorsTotal   prometheus.Counter
	InstancesTotal          prometheus.Gauge
	InstancesActive         prometheus.Gauge
	InstancesUnreachable    prometheus.Gauge

	// Cluster Health Metrics
	HealthChecksTotal     *prometheus.CounterVec
	HealthCheckDuration   prometheus.Histogram
	ClusterIsolated       prometheus.Gauge
	IsolationWindowsTotal prometheus.Counter
	IsolationSeconds      prometheus.Gauge
	IsolatedRecords       prometheus.Gauge

	// Conflict Metrics
	ConflictsDetected        *prometheus.GaugeVec
	ConflictScansTotal       *prometheus.CounterVec
	ResolutionsTotal         *prometheus.CounterVec
	ResidualRevisionsTotal   prometheus.Counter
	ConflictAnalysisDuration prometheus.Histogram

	// Reconciler Metrics
	ReconcileRunsTotal     *prometheus.CounterVec
	ReconcileDuration      prometheus.Histogram
	RecordsByStatus        *prometheus.GaugeVec
	StatusTransitionsTotal *prometheus.CounterVec

	// System Metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge

	registry *prometheus.Registry
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the process-wide metrics registry.
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	r.initStoreMetrics()
	r.initReplicationMetrics()
	r.initHealthMetrics()
	r.initConflictMetrics()
	r.initReconcilerMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
