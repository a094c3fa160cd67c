package replication

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrFeedUnavailable marks a failed poll of the replication status
	// feed. Callers degrade to a local-only view and retry on the next
	// cycle; this never escalates to a cluster-wide failure.
	ErrFeedUnavailable = errors.New("replication status feed unavailable")
)

// LinkState is the state of one replication link as reported by the feed.
type LinkState string

const (
	LinkStateRunning   LinkState = "running"
	LinkStateRetrying  LinkState = "retrying"
	LinkStateCompleted LinkState = "completed"
	LinkStateError     LinkState = "error"
	LinkStateFailed    LinkState = "failed"
)

// Healthy reports whether the link reached its peer on the most recent
// attempt. Retrying is explicitly unhealthy: it means the last attempt did
// not get through.
func (s LinkState) Healthy() bool {
	return s == LinkStateRunning || s == LinkStateCompleted
}

// LinkDirection is the direction of a link relative to the local instance.
type LinkDirection string

const (
	DirectionOutbound LinkDirection = "outbound"
	DirectionInbound  LinkDirection = "inbound"
)

// Link is one directional replication channel as reported by the status
// feed. Ephemeral: re-derived on every poll, never owned by this core.
// Source and Target are the feed's endpoint descriptors (instance IDs or
// URLs); peer attribution happens in the InstanceMonitor.
type Link struct {
	ID              string    `json:"id"`
	Source          string    `json:"source"`
	Target          string    `json:"target"`
	State           LinkState `json:"state"`
	DocsTransferred int64     `json:"docs_transferred"`
	ChangesPending  int64     `json:"changes_pending"`
	LastActivity    time.Time `json:"last_activity"`
	RecentErrors    []string  `json:"recent_errors,omitempty"`
}

// StatusSource exposes the replication links touching the local instance.
// Polled, not pushed.
type StatusSource interface {
	ListLinks(ctx context.Context) ([]Link, error)
}
