package cluster

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dd0wney/cluso-identity/pkg/logging"
	"github.com/dd0wney/cluso-identity/pkg/metrics"
	"github.com/dd0wney/cluso-identity/pkg/replication"
	"github.com/dd0wney/cluso-identity/pkg/store"
)

// HealthService is the orchestration facade over InstanceMonitor and
// IsolationTracker. It owns the isolation window (via the tracker), caches
// the latest snapshot, and runs the periodic background check.
//
// Health check cycles are serialized: direct CheckHealth callers queue on a
// mutex, and the background loop skips a tick while a previous cycle is
// still in flight.
type HealthService struct {
	cfg     MonitorConfig
	monitor *replication.InstanceMonitor
	tracker *IsolationTracker
	records store.Store // optional; enables the isolated-record count
	logger  logging.Logger
	metrics *metrics.Registry

	checkMu sync.Mutex // serializes health check cycles

	mu   sync.RWMutex // guards last
	last *HealthSnapshot

	stopCh    chan struct{}
	wg        sync.WaitGroup
	running   bool
	runningMu sync.Mutex
}

// NewHealthService creates the health facade. records may be nil, in which
// case the isolated-record count is reported as unknown.
func NewHealthService(
	cfg MonitorConfig,
	source replication.StatusSource,
	records store.Store,
	logger logging.Logger,
) (*HealthService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	return &HealthService{
		cfg:     cfg,
		monitor: replication.NewInstanceMonitor(source, cfg.LocalInstanceID, logger),
		tracker: NewIsolationTracker(logger),
		records: records,
		logger:  logger.With(logging.Component("cluster-health")),
		metrics: metrics.DefaultRegistry(),
	}, nil
}

// Tracker returns the isolation tracker so collaborators (the reconciler)
// can evaluate the isolation predicate against the same window.
func (s *HealthService) Tracker() *IsolationTracker {
	return s.tracker
}

// CheckHealth runs one full health check cycle: instance reachability,
// isolation transition, isolated-record count. It never returns an error;
// when observation fails it returns a degraded local-only snapshot so
// dashboards keep rendering.
func (s *HealthService) CheckHealth(ctx context.Context) HealthSnapshot {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()

	return s.runCheck(ctx)
}

// runCheck executes one cycle. Caller holds checkMu, so the monitor result
// is always fully computed before the tracker transition and no two cycles
// interleave.
func (s *HealthService) runCheck(ctx context.Context) HealthSnapshot {
	start := time.Now()

	report := s.monitor.GetInstanceStatus(ctx)

	// A degraded report means we could not observe, not that peers are
	// down. The window must not transition on an unobserved cycle.
	if !report.Degraded {
		s.tracker.Update(report.UnreachablePeerIDs())
	}
	window := s.tracker.Window()

	snapshot := HealthSnapshot{
		CheckedAt:            start,
		LocalInstanceID:      s.cfg.LocalInstanceID,
		Network:              networkHealth(report),
		Instances:            report.Instances,
		TotalInstances:       report.TotalInstances,
		ActiveInstances:      report.ActiveInstances,
		UnreachableInstances: report.UnreachableInstances,
		Isolation:            window,
		IsolatedRecords:      s.countIsolatedRecords(ctx, window),
		ObservationDegraded:  report.Degraded,
	}

	s.mu.Lock()
	s.last = &snapshot
	s.mu.Unlock()

	outcome := "ok"
	if report.Degraded {
		outcome = "degraded"
	}
	s.metrics.RecordHealthCheck(outcome, time.Since(start))
	s.logger.Debug("health check complete",
		logging.String("network", string(snapshot.Network)),
		logging.Int("unreachable", snapshot.UnreachableInstances),
		logging.Bool("isolated", window.Open()),
		logging.Latency(time.Since(start)))

	return snapshot
}

// countIsolatedRecords counts records modified since the window opened.
// Returns 0 when no window is open and -1 when the count is unknown.
func (s *HealthService) countIsolatedRecords(ctx context.Context, window IsolationWindow) int {
	if !window.Open() {
		return 0
	}
	if s.records == nil {
		return -1
	}
	recs, err := s.records.QueryModifiedSince(ctx, window.StartedAt, store.AllKinds)
	if err != nil {
		s.logger.Warn("isolated record count unavailable", logging.Error(err))
		return -1
	}
	s.metrics.IsolatedRecords.Set(float64(len(recs)))
	return len(recs)
}

// GetCachedHealth returns the latest snapshot without touching the network,
// or nil when no check has completed yet.
func (s *HealthService) GetCachedHealth() *HealthSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.last == nil {
		return nil
	}
	snapshot := *s.last
	return &snapshot
}

// IsIsolated answers the cheap isolation query from tracker state alone.
func (s *HealthService) IsIsolated() IsolationStatus {
	window := s.tracker.Window()
	if !window.Open() {
		return IsolationStatus{Isolated: false}
	}
	return IsolationStatus{
		Isolated: true,
		Reason: fmt.Sprintf("unreachable peers: %s",
			strings.Join(window.IsolatedPeerIDs, ", ")),
		Peers: window.IsolatedPeerIDs,
		Since: window.StartedAt,
	}
}

// IsRecordIsolated reports whether the record was modified during the open
// isolation window.
func (s *HealthService) IsRecordIsolated(rec *store.Record) bool {
	return s.tracker.IsRecordIsolated(rec)
}

// Start begins the periodic health check loop.
func (s *HealthService) Start() error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	if s.running {
		return nil
	}

	s.stopCh = make(chan struct{})
	s.running = true
	s.wg.Add(1)
	go s.checkLoop()

	s.logger.Info("health check loop started",
		logging.Duration("interval", s.cfg.CheckInterval))
	return nil
}

// Stop halts the loop and waits for an in-flight check to finish.
func (s *HealthService) Stop() {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	if !s.running {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
	s.running = false

	s.logger.Info("health check loop stopped")
}

// checkLoop runs one check immediately, then on every tick. A tick that
// fires while a check is in flight is skipped, never run concurrently.
func (s *HealthService) checkLoop() {
	defer s.wg.Done()

	s.tick()

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stopCh:
			return
		}
	}
}

func (s *HealthService) tick() {
	if !s.checkMu.TryLock() {
		s.metrics.HealthChecksTotal.WithLabelValues("skipped").Inc()
		s.logger.Debug("health check still in flight, skipping tick")
		return
	}
	defer s.checkMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CheckTimeout)
	defer cancel()
	s.runCheck(ctx)
}

// networkHealth derives the aggregate label from peer counts.
func networkHealth(report replication.InstanceReport) NetworkHealth {
	if report.Degraded {
		return NetworkUnknown
	}
	if report.UnreachableInstances == 0 {
		return NetworkHealthy
	}
	if report.ActiveInstances > report.UnreachableInstances {
		return NetworkDegraded
	}
	return NetworkCritical
}
