package store

import (
	"errors"
	"fmt"
)

// Boundary validation errors
var (
	ErrMissingID    = errors.New("record ID cannot be empty")
	ErrUnknownKind  = errors.New("unknown record kind")
	ErrKindMismatch = errors.New("payload does not match record kind")
)

// Store access errors
var (
	ErrNotFound      = errors.New("record not found")
	ErrStaleRevision = errors.New("stale revision")
	ErrUnauthorized  = errors.New("store rejected credentials")
)

// TransientError marks a store or status-feed round trip that failed for
// reasons expected to clear on a later attempt (network failure, timeout,
// 5xx from the store). Callers retry on the next poll cycle instead of
// treating it as a cluster-wide failure.
type TransientError struct {
	Op    string // operation that failed, e.g. "Get", "QueryModifiedSince"
	Cause error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *TransientError) Unwrap() error {
	return e.Cause
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// StaleRevisionError reports an optimistic write or delete that lost a race:
// the revision the caller held is no longer current. The caller must re-fetch
// and retry; this is not data loss.
type StaleRevisionError struct {
	RecordID string
	Rev      string
}

// Error implements the error interface.
func (e *StaleRevisionError) Error() string {
	return fmt.Sprintf("record %s: revision %s is stale", e.RecordID, e.Rev)
}

// Is matches ErrStaleRevision so callers can use errors.Is.
func (e *StaleRevisionError) Is(target error) bool {
	return target == ErrStaleRevision
}
