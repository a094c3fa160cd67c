package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-identity/pkg/cluster"
	"github.com/dd0wney/cluso-identity/pkg/conflict"
	"github.com/dd0wney/cluso-identity/pkg/logging"
	"github.com/dd0wney/cluso-identity/pkg/metrics"
	"github.com/dd0wney/cluso-identity/pkg/store"
)

// Configuration errors
var (
	ErrIntervalTooSmall = errors.New("sweep interval must be at least one second")
	ErrInvalidTimeout   = errors.New("sweep timeout must be positive")
)

// Config configures the sync status reconciler.
type Config struct {
	// Interval between background sweeps.
	Interval time.Duration
	// SweepTimeout bounds one full sweep.
	SweepTimeout time.Duration
	// Kinds limits the sweep to the given record kinds; empty means all.
	Kinds []store.Kind
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		Interval:     30 * time.Second,
		SweepTimeout: 2 * time.Minute,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Interval < time.Second {
		return ErrIntervalTooSmall
	}
	if c.SweepTimeout <= 0 {
		return ErrInvalidTimeout
	}
	return nil
}

// SweepResult summarizes one reconciliation sweep.
type SweepResult struct {
	Checked int                      `json:"checked"`
	Updated int                      `json:"updated"`
	Failed  int                      `json:"failed"`
	Counts  map[store.SyncStatus]int `json:"counts"`
}

// Reconciler recomputes and persists the cached sync status label on every
// record of the tracked kinds, so list views can filter without
// recomputation per request. It only ever touches the cache field and
// metadata version, never domain fields, and re-reads each record
// immediately before writing to minimize lost-update races.
type Reconciler struct {
	cfg      Config
	records  store.Store
	detector *conflict.Detector
	tracker  *cluster.IsolationTracker
	logger   logging.Logger
	metrics  *metrics.Registry

	runMu sync.Mutex // single-flight guard over sweeps

	stopCh    chan struct{}
	wg        sync.WaitGroup
	running   bool
	runningMu sync.Mutex
}

// New creates a reconciler.
func New(
	cfg Config,
	records store.Store,
	detector *conflict.Detector,
	tracker *cluster.IsolationTracker,
	logger logging.Logger,
) (*Reconciler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Kinds) == 0 {
		cfg.Kinds = store.AllKinds
	}
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Reconciler{
		cfg:      cfg,
		records:  records,
		detector: detector,
		tracker:  tracker,
		logger:   logger.With(logging.Component("sync-reconciler")),
		metrics:  metrics.DefaultRegistry(),
	}, nil
}

// Run performs one full sweep. Concurrent callers serialize; the background
// loop skips a tick while a sweep is in flight. The isolation window is
// captured once at sweep start so every record in the sweep is judged
// against the same window.
func (r *Reconciler) Run(ctx context.Context) (SweepResult, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	return r.sweep(ctx)
}

func (r *Reconciler) sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	sweepID := uuid.New().String()
	window := r.tracker.Window()

	result := SweepResult{Counts: make(map[store.SyncStatus]int)}

	recs, err := r.records.QueryModifiedSince(ctx, time.Time{}, r.cfg.Kinds)
	if err != nil {
		r.metrics.RecordReconcileRun("error", time.Since(start))
		return result, fmt.Errorf("enumerate records: %w", err)
	}

	for _, rec := range recs {
		status, err := r.reconcileRecord(ctx, rec.ID, window)
		result.Checked++
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// deleted since enumeration
				result.Checked--
				continue
			}
			r.logger.Warn("record reconciliation failed",
				logging.RecordID(rec.ID), logging.Error(err))
			result.Failed++
			result.Counts[store.SyncStatusError]++
			continue
		}
		result.Counts[status.computed]++
		if status.updated {
			result.Updated++
		}
	}

	counts := make(map[string]int, len(result.Counts))
	for status, n := range result.Counts {
		counts[string(status)] = n
	}
	r.metrics.UpdateRecordsByStatus(counts)

	outcome := "ok"
	if result.Failed > 0 {
		outcome = "partial"
	}
	r.metrics.RecordReconcileRun(outcome, time.Since(start))
	r.logger.Info("sync status sweep complete",
		logging.String("sweep_id", sweepID),
		logging.Int("checked", result.Checked),
		logging.Int("updated", result.Updated),
		logging.Int("failed", result.Failed),
		logging.Latency(time.Since(start)))

	return result, nil
}

// ReconcileOne recomputes and persists the status of a single record on
// demand, e.g. right after an operator-triggered resolution. The current
// window is captured at call time.
func (r *Reconciler) ReconcileOne(ctx context.Context, recordID string) (store.SyncStatus, error) {
	status, err := r.reconcileRecord(ctx, recordID, r.tracker.Window())
	if err != nil {
		return store.SyncStatusUnknown, err
	}
	return status.computed, nil
}

type recordStatus struct {
	computed store.SyncStatus
	updated  bool
}

// reconcileRecord re-reads one record with its conflict list, computes the
// status, and persists it only when it changed. Conflict has the highest
// priority, then isolated, then synced.
func (r *Reconciler) reconcileRecord(ctx context.Context, recordID string, window cluster.IsolationWindow) (recordStatus, error) {
	set, err := r.detector.FetchRevisionSet(ctx, recordID)
	if err != nil {
		return recordStatus{}, err
	}
	fresh := set.Current

	computed := store.SyncStatusSynced
	switch {
	case len(set.Conflicting) > 0:
		computed = store.SyncStatusConflict
	case r.isIsolated(fresh, window):
		computed = store.SyncStatusIsolated
	}

	if fresh.SyncStatus == computed {
		return recordStatus{computed: computed}, nil
	}

	updated := fresh.Clone()
	updated.SyncStatus = computed
	updated.Metadata.Version++

	if _, err := r.records.Put(ctx, updated); err != nil {
		if errors.Is(err, store.ErrStaleRevision) {
			// lost a race against a concurrent edit; the next sweep
			// re-evaluates the fresh revision
			r.logger.Debug("sync status write lost a race",
				logging.RecordID(recordID))
			return recordStatus{computed: computed}, nil
		}
		return recordStatus{}, fmt.Errorf("persist sync status of %s: %w", recordID, err)
	}

	r.metrics.StatusTransitionsTotal.WithLabelValues(string(computed)).Inc()
	r.logger.Debug("sync status updated",
		logging.RecordID(recordID),
		logging.String("status", string(computed)))

	return recordStatus{computed: computed, updated: true}, nil
}

// isIsolated applies the captured window to a record: modified at or after
// the window opened.
func (r *Reconciler) isIsolated(rec *store.Record, window cluster.IsolationWindow) bool {
	if !window.Open() || rec.Metadata.LastModifiedAt.IsZero() {
		return false
	}
	return !rec.Metadata.LastModifiedAt.Before(window.StartedAt)
}

// Start begins the periodic sweep loop.
func (r *Reconciler) Start() error {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()

	if r.running {
		return nil
	}

	r.stopCh = make(chan struct{})
	r.running = true
	r.wg.Add(1)
	go r.sweepLoop()

	r.logger.Info("sync status sweep loop started",
		logging.Duration("interval", r.cfg.Interval))
	return nil
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (r *Reconciler) Stop() {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()

	if !r.running {
		return
	}
	close(r.stopCh)
	r.wg.Wait()
	r.running = false

	r.logger.Info("sync status sweep loop stopped")
}

func (r *Reconciler) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.tick()
		case <-r.stopCh:
			return
		}
	}
}

// tick runs one sweep unless a previous one is still in flight, in which
// case the tick is skipped rather than queued.
func (r *Reconciler) tick() {
	if !r.runMu.TryLock() {
		r.metrics.ReconcileRunsTotal.WithLabelValues("skipped").Inc()
		r.logger.Debug("sweep still in flight, skipping tick")
		return
	}
	defer r.runMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SweepTimeout)
	defer cancel()
	if _, err := r.sweep(ctx); err != nil {
		r.logger.Error("sync status sweep failed", logging.Error(err))
	}
}
