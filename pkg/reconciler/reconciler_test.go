package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dd0wney/cluso-identity/pkg/cluster"
	"github.com/dd0wney/cluso-identity/pkg/conflict"
	"github.com/dd0wney/cluso-identity/pkg/logging"
	"github.com/dd0wney/cluso-identity/pkg/store"
)

// fakeStore keeps heads and conflicting revisions in memory.
type fakeStore struct {
	mu        sync.Mutex
	heads     map[string]*store.Record
	revs      map[string]map[string]*store.Record
	conflicts map[string][]string
	queryErr  error
	putCount  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		heads:     make(map[string]*store.Record),
		revs:      make(map[string]map[string]*store.Record),
		conflicts: make(map[string][]string),
	}
}

func (f *fakeStore) addRevision(rec *store.Record, head bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revs[rec.ID] == nil {
		f.revs[rec.ID] = make(map[string]*store.Record)
	}
	f.revs[rec.ID][rec.Rev] = rec
	if head {
		f.heads[rec.ID] = rec
	} else {
		f.conflicts[rec.ID] = append(f.conflicts[rec.ID], rec.Rev)
	}
}

func (f *fakeStore) head(id string) *store.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heads[id].Clone()
}

func (f *fakeStore) Get(ctx context.Context, id string) (*store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	head, ok := f.heads[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return head.Clone(), nil
}

func (f *fakeStore) GetWithConflicts(ctx context.Context, id string) (*store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	head, ok := f.heads[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	rec := head.Clone()
	rec.ConflictRevs = append([]string(nil), f.conflicts[id]...)
	return rec, nil
}

func (f *fakeStore) GetRevision(ctx context.Context, id, rev string) (*store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.revs[id][rev]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec.Clone(), nil
}

func (f *fakeStore) Put(ctx context.Context, rec *store.Record) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	head, ok := f.heads[rec.ID]
	if ok && head.Rev != rec.Rev {
		return "", &store.StaleRevisionError{RecordID: rec.ID, Rev: rec.Rev}
	}
	f.putCount++
	stored := rec.Clone()
	stored.Rev = fmt.Sprintf("%d-swept", f.putCount+50)
	f.revs[rec.ID][stored.Rev] = stored
	f.heads[rec.ID] = stored
	return stored.Rev, nil
}

func (f *fakeStore) Delete(ctx context.Context, id, rev string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.revs[id][rev]; !ok {
		return store.ErrNotFound
	}
	delete(f.revs[id], rev)
	remaining := f.conflicts[id][:0]
	for _, c := range f.conflicts[id] {
		if c != rev {
			remaining = append(remaining, c)
		}
	}
	f.conflicts[id] = remaining
	return nil
}

func (f *fakeStore) QueryModifiedSince(ctx context.Context, since time.Time, kinds []store.Kind) ([]*store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var out []*store.Record
	for _, head := range f.heads {
		if !head.Metadata.LastModifiedAt.Before(since) {
			out = append(out, head.Clone())
		}
	}
	return out, nil
}

func (f *fakeStore) QueryConflicted(ctx context.Context, kinds []store.Kind) ([]*store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Record
	for id, revs := range f.conflicts {
		if len(revs) == 0 {
			continue
		}
		rec := f.heads[id].Clone()
		rec.ConflictRevs = append([]string(nil), revs...)
		out = append(out, rec)
	}
	return out, nil
}

func account(id, rev string, modifiedAt time.Time) *store.Record {
	return &store.Record{
		ID:   id,
		Kind: store.KindAccount,
		Rev:  rev,
		Metadata: store.Metadata{
			LastModifiedBy: "instance-a",
			LastModifiedAt: modifiedAt,
			Version:        2,
		},
		Account: &store.AccountFields{Username: id, Active: true},
	}
}

func newTestReconciler(t *testing.T, fs *fakeStore, tracker *cluster.IsolationTracker) *Reconciler {
	t.Helper()
	detector := conflict.NewDetector(fs, "instance-a", nil, logging.NewNopLogger())
	r, err := New(DefaultConfig(), fs, detector, tracker, logging.NewNopLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return r
}

// TestSweepLabelsRecords runs one sweep over a conflicted record, a record
// modified during an open isolation window, and a quiet record.
func TestSweepLabelsRecords(t *testing.T) {
	now := time.Now().UTC()
	fs := newFakeStore()
	fs.addRevision(account("account:conflicted", "3-aaa", now.Add(-time.Hour)), true)
	fs.addRevision(account("account:conflicted", "3-bbb", now.Add(-time.Hour)), false)
	fs.addRevision(account("account:fresh", "2-ccc", now.Add(time.Minute)), true)
	fs.addRevision(account("account:quiet", "2-ddd", now.Add(-24*time.Hour)), true)

	tracker := cluster.NewIsolationTracker(logging.NewNopLogger())
	tracker.Update([]string{"peer2"}) // window opens now

	r := newTestReconciler(t, fs, tracker)
	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Checked != 3 {
		t.Errorf("Expected 3 checked, got %d", result.Checked)
	}
	if result.Updated != 3 {
		t.Errorf("Expected 3 updated (all started unlabeled), got %d", result.Updated)
	}
	if result.Counts[store.SyncStatusConflict] != 1 ||
		result.Counts[store.SyncStatusIsolated] != 1 ||
		result.Counts[store.SyncStatusSynced] != 1 {
		t.Errorf("Unexpected tally: %v", result.Counts)
	}

	if got := fs.head("account:conflicted").SyncStatus; got != store.SyncStatusConflict {
		t.Errorf("conflicted record labeled %q", got)
	}
	if got := fs.head("account:fresh").SyncStatus; got != store.SyncStatusIsolated {
		t.Errorf("fresh record labeled %q", got)
	}
	if got := fs.head("account:quiet").SyncStatus; got != store.SyncStatusSynced {
		t.Errorf("quiet record labeled %q", got)
	}

	// Version bumped on persisted labels
	if fs.head("account:quiet").Metadata.Version != 3 {
		t.Errorf("Expected version bump, got %d", fs.head("account:quiet").Metadata.Version)
	}
}

// TestSweepIsIdempotent verifies a second sweep over unchanged records
// persists nothing.
func TestSweepIsIdempotent(t *testing.T) {
	fs := newFakeStore()
	fs.addRevision(account("account:quiet", "2-aaa", time.Now().Add(-time.Hour)), true)

	tracker := cluster.NewIsolationTracker(logging.NewNopLogger())
	r := newTestReconciler(t, fs, tracker)

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	versionAfterFirst := fs.head("account:quiet").Metadata.Version

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if result.Updated != 0 {
		t.Errorf("Expected no updates on second sweep, got %d", result.Updated)
	}
	if got := fs.head("account:quiet").Metadata.Version; got != versionAfterFirst {
		t.Errorf("Version moved on idempotent sweep: %d -> %d", versionAfterFirst, got)
	}
}

// TestConflictOutranksIsolation pins the status priority: a conflicted
// record modified during an open window labels conflict, not isolated.
func TestConflictOutranksIsolation(t *testing.T) {
	now := time.Now().UTC()
	fs := newFakeStore()
	fs.addRevision(account("account:both", "3-aaa", now.Add(time.Minute)), true)
	fs.addRevision(account("account:both", "3-bbb", now.Add(time.Minute)), false)

	tracker := cluster.NewIsolationTracker(logging.NewNopLogger())
	tracker.Update([]string{"peer2"})

	r := newTestReconciler(t, fs, tracker)
	status, err := r.ReconcileOne(context.Background(), "account:both")
	if err != nil {
		t.Fatalf("ReconcileOne failed: %v", err)
	}
	if status != store.SyncStatusConflict {
		t.Errorf("Expected conflict to outrank isolated, got %s", status)
	}
}

// TestReconcileOneAfterResolution mirrors the operator flow: resolve, then
// reconcile the record back to synced.
func TestReconcileOneAfterResolution(t *testing.T) {
	now := time.Now().UTC()
	fs := newFakeStore()
	fs.addRevision(account("account:alice", "3-aaa", now.Add(-time.Hour)), true)
	fs.addRevision(account("account:alice", "3-bbb", now.Add(-time.Hour)), false)

	tracker := cluster.NewIsolationTracker(logging.NewNopLogger())
	detector := conflict.NewDetector(fs, "instance-a", nil, logging.NewNopLogger())
	r, err := New(DefaultConfig(), fs, detector, tracker, logging.NewNopLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	status, err := r.ReconcileOne(context.Background(), "account:alice")
	if err != nil {
		t.Fatalf("ReconcileOne failed: %v", err)
	}
	if status != store.SyncStatusConflict {
		t.Fatalf("Expected conflict before resolution, got %s", status)
	}

	head := fs.head("account:alice")
	if _, err := detector.Resolve(context.Background(), "account:alice", head.Rev, nil); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	status, err = r.ReconcileOne(context.Background(), "account:alice")
	if err != nil {
		t.Fatalf("ReconcileOne after resolve failed: %v", err)
	}
	if status != store.SyncStatusSynced {
		t.Errorf("Expected synced after resolution, got %s", status)
	}
	if got := fs.head("account:alice").SyncStatus; got != store.SyncStatusSynced {
		t.Errorf("Persisted status is %q", got)
	}
}

// TestSweepNeverTouchesDomainFields verifies the cache write leaves the
// payload alone.
func TestSweepNeverTouchesDomainFields(t *testing.T) {
	rec := account("account:alice", "2-aaa", time.Now().Add(-time.Hour))
	rec.Account.Groups = []string{"ops", "admins"}
	modifiedAt := rec.Metadata.LastModifiedAt

	fs := newFakeStore()
	fs.addRevision(rec, true)

	tracker := cluster.NewIsolationTracker(logging.NewNopLogger())
	r := newTestReconciler(t, fs, tracker)
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	head := fs.head("account:alice")
	if len(head.Account.Groups) != 2 {
		t.Errorf("Domain fields changed: %v", head.Account.Groups)
	}
	if !head.Metadata.LastModifiedAt.Equal(modifiedAt) {
		t.Error("Sweep must not move last_modified_at")
	}
}

func TestSweepPropagatesEnumerationError(t *testing.T) {
	fs := newFakeStore()
	fs.queryErr = &store.TransientError{Op: "QueryModifiedSince", Cause: errors.New("store down")}

	tracker := cluster.NewIsolationTracker(logging.NewNopLogger())
	r := newTestReconciler(t, fs, tracker)

	if _, err := r.Run(context.Background()); !store.IsTransient(err) {
		t.Errorf("Expected transient enumeration error to propagate, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate, got %v", err)
	}

	cfg.Interval = 10 * time.Millisecond
	if err := cfg.Validate(); err != ErrIntervalTooSmall {
		t.Errorf("Expected ErrIntervalTooSmall, got %v", err)
	}
}
