package conflict

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoConflict is the sentinel matched by NoConflictError.
var ErrNoConflict = errors.New("record has no conflicts")

// NoConflictError reports a resolve call against a record with nothing to
// resolve. This is the "already resolved" outcome an operator sees when
// another admin won the race; it is a signaled no-op, not a failure.
type NoConflictError struct {
	RecordID string
}

// Error implements the error interface.
func (e *NoConflictError) Error() string {
	return fmt.Sprintf("record %s has no conflicts to resolve", e.RecordID)
}

// Is matches ErrNoConflict so callers can use errors.Is.
func (e *NoConflictError) Is(target error) bool {
	return target == ErrNoConflict
}

// PartialResolutionError reports a resolution whose winning write succeeded
// but where one or more losing revisions could not be retired. The record
// is resolved with residual conflicts: the caller should re-query and may
// retry the retirement step alone.
type PartialResolutionError struct {
	RecordID     string
	NewRev       string
	RetiredRevs  []string
	ResidualRevs []string
	Causes       []error
}

// Error implements the error interface.
func (e *PartialResolutionError) Error() string {
	return fmt.Sprintf("record %s resolved as %s with residual conflicting revisions [%s]",
		e.RecordID, e.NewRev, strings.Join(e.ResidualRevs, ", "))
}

// Unwrap exposes the individual retirement failures.
func (e *PartialResolutionError) Unwrap() []error {
	return e.Causes
}
