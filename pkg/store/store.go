package store

import (
	"context"
	"time"
)

// Store is the boundary to the replicated document store. Every method may
// block on network I/O; callers pass a context and should apply timeouts.
//
// The store owns revisions and conflict bookkeeping. Put and Delete are
// optimistic: they fail with a StaleRevisionError when the revision the
// caller holds is no longer current, and the caller is expected to re-fetch
// and retry.
type Store interface {
	// Get fetches the current winning revision of a record.
	Get(ctx context.Context, id string) (*Record, error)

	// GetWithConflicts fetches the current revision plus the IDs of any
	// live conflicting revisions in ConflictRevs.
	GetWithConflicts(ctx context.Context, id string) (*Record, error)

	// GetRevision fetches one specific revision of a record.
	GetRevision(ctx context.Context, id, rev string) (*Record, error)

	// Put writes a record against its Rev and returns the new revision ID.
	Put(ctx context.Context, rec *Record) (string, error)

	// Delete retires one revision of a record.
	Delete(ctx context.Context, id, rev string) error

	// QueryModifiedSince returns all records of the given kinds whose
	// last_modified_at is at or after since. A zero since matches every
	// record of those kinds.
	QueryModifiedSince(ctx context.Context, since time.Time, kinds []Kind) ([]*Record, error)

	// QueryConflicted returns every record of the given kinds currently
	// carrying live conflicting revisions, with ConflictRevs populated.
	QueryConflicted(ctx context.Context, kinds []Kind) ([]*Record, error)
}
