package cluster

import (
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dd0wney/cluso-identity/pkg/logging"
	"github.com/dd0wney/cluso-identity/pkg/metrics"
	"github.com/dd0wney/cluso-identity/pkg/store"
)

// IsolationWindow is the period during which one or more peers could not be
// reached. StartedAt is zero when no window is open. While a window is open
// the peer set may be refreshed but StartedAt never moves.
type IsolationWindow struct {
	StartedAt       time.Time `json:"started_at"`
	IsolatedPeerIDs []string  `json:"isolated_peer_ids,omitempty"`
}

// Open reports whether the window is currently open.
func (w IsolationWindow) Open() bool {
	return !w.StartedAt.IsZero()
}

// IsolationTracker maintains the isolation window. It is owned by exactly
// one HealthService; all access goes through its mutex.
//
// State machine:
//
//	Connected -> Isolated   when unreachable peers appear: StartedAt set once
//	Isolated  -> Isolated   peer set refreshed, StartedAt unchanged
//	Isolated  -> Connected  when every peer is reachable again: window cleared
type IsolationTracker struct {
	mu     sync.Mutex
	window IsolationWindow

	now     func() time.Time // test hook
	logger  logging.Logger
	metrics *metrics.Registry
}

// NewIsolationTracker creates a closed-window tracker.
func NewIsolationTracker(logger logging.Logger) *IsolationTracker {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &IsolationTracker{
		now:     time.Now,
		logger:  logger.With(logging.Component("isolation-tracker")),
		metrics: metrics.DefaultRegistry(),
	}
}

// Update drives the state machine with the current set of unreachable
// peers, taken from one consistent InstanceMonitor snapshot.
func (t *IsolationTracker) Update(unreachablePeers []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	peers := append([]string(nil), unreachablePeers...)
	slices.Sort(peers)

	switch {
	case len(peers) > 0 && !t.window.Open():
		t.window = IsolationWindow{
			StartedAt:       t.now(),
			IsolatedPeerIDs: peers,
		}
		t.metrics.IsolationWindowsTotal.Inc()
		t.logger.Warn("isolation window opened",
			logging.Any("isolated_peers", peers))

	case len(peers) > 0:
		// window stays open, StartedAt untouched
		t.window.IsolatedPeerIDs = peers

	case t.window.Open():
		duration := t.now().Sub(t.window.StartedAt)
		t.logger.Info("isolation window closed",
			logging.Duration("window_duration", duration),
			logging.Any("isolated_peers", t.window.IsolatedPeerIDs))
		t.window = IsolationWindow{}
	}

	if t.window.Open() {
		t.metrics.SetIsolation(true, t.now().Sub(t.window.StartedAt))
	} else {
		t.metrics.SetIsolation(false, 0)
	}
}

// Window returns a copy of the current window. Callers needing a historical
// answer after the window closes must capture StartedAt while it is open.
func (t *IsolationTracker) Window() IsolationWindow {
	t.mu.Lock()
	defer t.mu.Unlock()

	return IsolationWindow{
		StartedAt:       t.window.StartedAt,
		IsolatedPeerIDs: append([]string(nil), t.window.IsolatedPeerIDs...),
	}
}

// IsRecordIsolated reports whether the record was modified during the open
// window: false when no window is open or the record carries no
// modification timestamp, true when last_modified_at >= StartedAt. The
// boundary is inclusive.
func (t *IsolationTracker) IsRecordIsolated(rec *store.Record) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.window.Open() || rec == nil {
		return false
	}
	modified := rec.Metadata.LastModifiedAt
	if modified.IsZero() {
		return false
	}
	return !modified.Before(t.window.StartedAt)
}
