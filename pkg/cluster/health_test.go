package cluster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dd0wney/cluso-identity/pkg/logging"
	"github.com/dd0wney/cluso-identity/pkg/replication"
	"github.com/dd0wney/cluso-identity/pkg/store"
)

// switchableSource swaps its link list between calls.
type switchableSource struct {
	mu    sync.Mutex
	links []replication.Link
	err   error
}

func (s *switchableSource) set(links []replication.Link, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = links
	s.err = err
}

func (s *switchableSource) ListLinks(ctx context.Context) ([]replication.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.links, s.err
}

// fakeRecordStore serves canned records for the isolated-record count.
type fakeRecordStore struct {
	recs []*store.Record
	err  error
}

func (f *fakeRecordStore) Get(ctx context.Context, id string) (*store.Record, error) {
	return nil, store.ErrNotFound
}
func (f *fakeRecordStore) GetWithConflicts(ctx context.Context, id string) (*store.Record, error) {
	return nil, store.ErrNotFound
}
func (f *fakeRecordStore) GetRevision(ctx context.Context, id, rev string) (*store.Record, error) {
	return nil, store.ErrNotFound
}
func (f *fakeRecordStore) Put(ctx context.Context, rec *store.Record) (string, error) {
	return "", store.ErrNotFound
}
func (f *fakeRecordStore) Delete(ctx context.Context, id, rev string) error {
	return store.ErrNotFound
}
func (f *fakeRecordStore) QueryConflicted(ctx context.Context, kinds []store.Kind) ([]*store.Record, error) {
	return nil, nil
}
func (f *fakeRecordStore) QueryModifiedSince(ctx context.Context, since time.Time, kinds []store.Kind) ([]*store.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*store.Record
	for _, r := range f.recs {
		if !r.Metadata.LastModifiedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func runningLinks() []replication.Link {
	return []replication.Link{
		{ID: "instance-a->peer1", State: replication.LinkStateRunning},
		{ID: "peer1->instance-a", State: replication.LinkStateRunning},
		{ID: "instance-a->peer2", State: replication.LinkStateRunning},
		{ID: "peer2->instance-a", State: replication.LinkStateRunning},
	}
}

func newTestService(t *testing.T, source replication.StatusSource, records store.Store) *HealthService {
	t.Helper()
	cfg := DefaultMonitorConfig()
	cfg.LocalInstanceID = "instance-a"
	svc, err := NewHealthService(cfg, source, records, logging.NewNopLogger())
	if err != nil {
		t.Fatalf("NewHealthService failed: %v", err)
	}
	return svc
}

// TestCheckHealthAllRunning covers the fully connected cluster: zero
// unreachable, not isolated, network healthy.
func TestCheckHealthAllRunning(t *testing.T) {
	source := &switchableSource{}
	source.set(runningLinks(), nil)
	svc := newTestService(t, source, nil)

	snap := svc.CheckHealth(context.Background())

	if snap.UnreachableInstances != 0 {
		t.Errorf("Expected 0 unreachable, got %d", snap.UnreachableInstances)
	}
	if snap.Network != NetworkHealthy {
		t.Errorf("Expected healthy network, got %s", snap.Network)
	}
	if status := svc.IsIsolated(); status.Isolated {
		t.Errorf("Expected not isolated, got %+v", status)
	}
}

// TestIsolationWindowLifecycle walks peer2 from running to retrying and
// back: the window opens with peer2, records saved during it classify as
// isolated, and the window closes when the link recovers.
func TestIsolationWindowLifecycle(t *testing.T) {
	source := &switchableSource{}
	source.set(runningLinks(), nil)

	beforeWindow := &store.Record{
		ID:   "account:old",
		Kind: store.KindAccount,
		Metadata: store.Metadata{
			LastModifiedAt: time.Now().Add(-time.Hour),
		},
		Account: &store.AccountFields{Username: "old"},
	}
	svc := newTestService(t, source, &fakeRecordStore{})

	svc.CheckHealth(context.Background())

	// peer2's only links go to retrying
	source.set([]replication.Link{
		{ID: "instance-a->peer1", State: replication.LinkStateRunning},
		{ID: "peer1->instance-a", State: replication.LinkStateRunning},
		{ID: "instance-a->peer2", State: replication.LinkStateRetrying},
		{ID: "peer2->instance-a", State: replication.LinkStateRetrying},
	}, nil)

	snap := svc.CheckHealth(context.Background())
	if !snap.Isolation.Open() {
		t.Fatal("Expected isolation window to open")
	}
	if len(snap.Isolation.IsolatedPeerIDs) != 1 || snap.Isolation.IsolatedPeerIDs[0] != "peer2" {
		t.Errorf("Expected isolated peers [peer2], got %v", snap.Isolation.IsolatedPeerIDs)
	}
	if snap.Network != NetworkDegraded {
		t.Errorf("Expected degraded network (2 active vs 1 unreachable), got %s", snap.Network)
	}

	status := svc.IsIsolated()
	if !status.Isolated || status.Reason == "" {
		t.Errorf("Expected isolated status with reason, got %+v", status)
	}

	// A record saved by the local instance after the window opened
	savedDuring := &store.Record{
		ID:   "account:new",
		Kind: store.KindAccount,
		Metadata: store.Metadata{
			LastModifiedBy: "instance-a",
			LastModifiedAt: time.Now(),
		},
		Account: &store.AccountFields{Username: "new"},
	}
	if !svc.IsRecordIsolated(savedDuring) {
		t.Error("Record saved during the window must classify as isolated")
	}
	if svc.IsRecordIsolated(beforeWindow) {
		t.Error("Record modified before the window must not classify as isolated")
	}

	// peer2 recovers
	source.set(runningLinks(), nil)
	snap = svc.CheckHealth(context.Background())
	if snap.Isolation.Open() {
		t.Error("Expected isolation window to close on recovery")
	}
	if svc.IsRecordIsolated(beforeWindow) {
		t.Error("Record modified before the window must report false after close")
	}
}

// TestIsolatedRecordCount verifies the snapshot carries the count of
// records modified since the window opened.
func TestIsolatedRecordCount(t *testing.T) {
	source := &switchableSource{}
	source.set([]replication.Link{
		{ID: "instance-a->peer2", State: replication.LinkStateError},
	}, nil)

	records := &fakeRecordStore{recs: []*store.Record{
		{
			ID: "account:recent", Kind: store.KindAccount,
			Metadata: store.Metadata{LastModifiedAt: time.Now().Add(time.Minute)},
			Account:  &store.AccountFields{Username: "recent"},
		},
		{
			ID: "account:ancient", Kind: store.KindAccount,
			Metadata: store.Metadata{LastModifiedAt: time.Now().Add(-time.Hour)},
			Account:  &store.AccountFields{Username: "ancient"},
		},
	}}
	svc := newTestService(t, source, records)

	snap := svc.CheckHealth(context.Background())
	if snap.IsolatedRecords != 1 {
		t.Errorf("Expected 1 isolated record, got %d", snap.IsolatedRecords)
	}
}

// TestObservationFailureDoesNotTransition verifies a feed outage yields an
// unknown, local-only snapshot and leaves the window untouched.
func TestObservationFailureDoesNotTransition(t *testing.T) {
	source := &switchableSource{}
	source.set([]replication.Link{
		{ID: "instance-a->peer2", State: replication.LinkStateRetrying},
	}, nil)
	svc := newTestService(t, source, nil)

	snap := svc.CheckHealth(context.Background())
	if !snap.Isolation.Open() {
		t.Fatal("Expected open window before the outage")
	}
	openedAt := snap.Isolation.StartedAt

	source.set(nil, replication.ErrFeedUnavailable)
	snap = svc.CheckHealth(context.Background())

	if !snap.ObservationDegraded {
		t.Error("Expected degraded observation flag")
	}
	if snap.Network != NetworkUnknown {
		t.Errorf("Unobservable health must read unknown, got %s", snap.Network)
	}
	if !snap.Isolation.Open() || !snap.Isolation.StartedAt.Equal(openedAt) {
		t.Error("Window must not transition on an unobserved cycle")
	}
	if snap.TotalInstances != 1 {
		t.Errorf("Expected local-only view, got %d instances", snap.TotalInstances)
	}
}

func TestGetCachedHealth(t *testing.T) {
	source := &switchableSource{}
	source.set(runningLinks(), nil)
	svc := newTestService(t, source, nil)

	if svc.GetCachedHealth() != nil {
		t.Error("Expected nil cache before first check")
	}

	snap := svc.CheckHealth(context.Background())
	cached := svc.GetCachedHealth()
	if cached == nil {
		t.Fatal("Expected cached snapshot after check")
	}
	if !cached.CheckedAt.Equal(snap.CheckedAt) {
		t.Error("Cache does not match last check")
	}
}

// TestStartStop smoke-tests the background loop: the immediate first check
// populates the cache and Stop waits for the loop to exit.
func TestStartStop(t *testing.T) {
	source := &switchableSource{}
	source.set(runningLinks(), nil)
	svc := newTestService(t, source, nil)

	if err := svc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	// second Start is a no-op
	if err := svc.Start(); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for svc.GetCachedHealth() == nil {
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for first check")
		case <-time.After(10 * time.Millisecond):
		}
	}

	svc.Stop()
	svc.Stop() // idempotent
}

func TestNetworkHealthLabel(t *testing.T) {
	cases := []struct {
		active, unreachable int
		degraded            bool
		want                NetworkHealth
	}{
		{3, 0, false, NetworkHealthy},
		{2, 1, false, NetworkDegraded},
		{1, 1, false, NetworkCritical},
		{1, 2, false, NetworkCritical},
		{1, 0, true, NetworkUnknown},
	}
	for _, c := range cases {
		report := replication.InstanceReport{
			ActiveInstances:      c.active,
			UnreachableInstances: c.unreachable,
			Degraded:             c.degraded,
		}
		if got := networkHealth(report); got != c.want {
			t.Errorf("networkHealth(active=%d unreachable=%d degraded=%v) = %s, want %s",
				c.active, c.unreachable, c.degraded, got, c.want)
		}
	}
}

func TestMonitorConfigValidate(t *testing.T) {
	cfg := DefaultMonitorConfig()
	if err := cfg.Validate(); err != ErrMissingInstanceID {
		t.Errorf("Expected ErrMissingInstanceID, got %v", err)
	}

	cfg.LocalInstanceID = "instance-a"
	cfg.CheckInterval = 100 * time.Millisecond
	if err := cfg.Validate(); err != ErrIntervalTooSmall {
		t.Errorf("Expected ErrIntervalTooSmall, got %v", err)
	}

	cfg = DefaultMonitorConfig()
	cfg.LocalInstanceID = "instance-a"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}
