package metrics

import (
	"runtime"
	"time"
)

// RecordStoreRequest records one document store round trip.
func (r *Registry) RecordStoreRequest(operation, status string, duration time.Duration) {
	r.StoreRequestsTotal.WithLabelValues(operation, status).Inc()
	r.StoreRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateInstanceCounts updates the instance reachability gauges.
func (r *Registry) UpdateInstanceCounts(total, active, unreachable int) {
	r.InstancesTotal.Set(float64(total))
	r.InstancesActive.Set(float64(active))
	r.InstancesUnreachable.Set(float64(unreachable))
}

// UpdateLinkStates resets and re-populates the per-state link gauge.
func (r *Registry) UpdateLinkStates(counts map[string]int) {
	for _, state := range []string{"running", "retrying", "completed", "error", "failed"} {
		r.ReplicationLinksTotal.WithLabelValues(state).Set(float64(counts[state]))
	}
}

// RecordHealthCheck records one health check cycle.
func (r *Registry) RecordHealthCheck(outcome string, duration time.Duration) {
	r.HealthChecksTotal.WithLabelValues(outcome).Inc()
	r.HealthCheckDuration.Observe(duration.Seconds())
}

// SetIsolation updates the isolation gauges. windowAge is zero when no
// window is open.
func (r *Registry) SetIsolation(open bool, windowAge time.Duration) {
	if open {
		r.ClusterIsolated.Set(1)
		r.IsolationSeconds.Set(windowAge.Seconds())
	} else {
		r.ClusterIsolated.Set(0)
		r.IsolationSeconds.Set(0)
	}
}

// RecordResolution records the result of one resolve attempt.
func (r *Registry) RecordResolution(result string) {
	r.ResolutionsTotal.WithLabelValues(result).Inc()
}

// RecordReconcileRun records one reconciliation sweep.
func (r *Registry) RecordReconcileRun(outcome string, duration time.Duration) {
	r.ReconcileRunsTotal.WithLabelValues(outcome).Inc()
	r.ReconcileDuration.Observe(duration.Seconds())
}

// UpdateSystemMetrics refreshes the process-level gauges.
func (r *Registry) UpdateSystemMetrics(uptime time.Duration) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	r.UptimeSeconds.Set(uptime.Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))
	r.MemoryAllocBytes.Set(float64(m.Alloc))
}

// UpdateRecordsByStatus resets and re-populates the sync status gauge from
// one sweep's tally.
func (r *Registry) UpdateRecordsByStatus(counts map[string]int) {
	for _, status := range []string{"synced", "conflict", "isolated", "error"} {
		r.RecordsByStatus.WithLabelValues(status).Set(float64(counts[status]))
	}
}
