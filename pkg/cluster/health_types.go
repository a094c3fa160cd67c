package cluster

import (
	"time"

	"github.com/dd0wney/cluso-identity/pkg/replication"
)

// NetworkHealth is the aggregate reachability label for the cluster.
type NetworkHealth string

const (
	// NetworkHealthy means every known peer is reachable.
	NetworkHealthy NetworkHealth = "healthy"
	// NetworkDegraded means some peers are unreachable but active peers
	// outnumber them.
	NetworkDegraded NetworkHealth = "degraded"
	// NetworkCritical means unreachable peers match or outnumber active ones.
	NetworkCritical NetworkHealth = "critical"
	// NetworkUnknown means the status feed could not be observed this
	// cycle. Never silently reported as healthy.
	NetworkUnknown NetworkHealth = "unknown"
)

// HealthSnapshot is one self-contained view of cluster health, safe to
// render without further queries.
type HealthSnapshot struct {
	CheckedAt            time.Time                  `json:"checked_at"`
	LocalInstanceID      string                     `json:"local_instance_id"`
	Network              NetworkHealth              `json:"network"`
	Instances            []replication.PeerInstance `json:"instances"`
	TotalInstances       int                        `json:"total_instances"`
	ActiveInstances      int                        `json:"active_instances"`
	UnreachableInstances int                        `json:"unreachable_instances"`
	Isolation            IsolationWindow            `json:"isolation"`

	// IsolatedRecords counts records modified since the window opened;
	// -1 when the count could not be computed this cycle.
	IsolatedRecords int `json:"isolated_records"`

	// ObservationDegraded is set when the status feed was unreachable and
	// this snapshot describes only the local instance.
	ObservationDegraded bool `json:"observation_degraded"`
}

// IsolationStatus answers the cheap "are we isolated" query.
type IsolationStatus struct {
	Isolated bool      `json:"isolated"`
	Reason   string    `json:"reason,omitempty"`
	Peers    []string  `json:"peers,omitempty"`
	Since    time.Time `json:"since,omitzero"`
}
