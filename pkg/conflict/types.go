package conflict

import (
	"time"

	"github.com/dd0wney/cluso-identity/pkg/store"
)

// Classification separates conflicts a machine may collapse from conflicts
// a human must pick.
type Classification string

const (
	// RevisionConflict means every competing revision carries an identical
	// domain payload; only bookkeeping diverged. Safe to auto-collapse.
	RevisionConflict Classification = "revision_conflict"
	// DataConflict means at least one domain field differs across
	// revisions. Requires a human decision.
	DataConflict Classification = "data_conflict"
)

// RevisionSet is the current winning revision of a record plus every live
// conflicting revision. Invariant: Conflicting is non-empty exactly when
// the store's conflict list for the record is non-empty.
type RevisionSet struct {
	Current     *store.Record
	Conflicting []*store.Record
}

// Revisions returns current plus conflicting revisions, current first.
func (s *RevisionSet) Revisions() []*store.Record {
	out := make([]*store.Record, 0, 1+len(s.Conflicting))
	out = append(out, s.Current)
	out = append(out, s.Conflicting...)
	return out
}

// Analysis is the derived view of one conflict. Computed fresh on every
// query and never persisted, since the underlying revisions can change
// between reads.
type Analysis struct {
	RecordID           string         `json:"record_id"`
	Kind               store.Kind     `json:"kind"`
	SourceInstances    []string       `json:"source_instances"`
	HasDataDifferences bool           `json:"has_data_differences"`
	Classification     Classification `json:"classification"`
}

// RevisionInfo summarizes one competing revision for display.
type RevisionInfo struct {
	Rev            string    `json:"rev"`
	Current        bool      `json:"current"`
	LastModifiedBy string    `json:"last_modified_by"`
	LastModifiedAt time.Time `json:"last_modified_at"`
	Version        int64     `json:"version"`
}

// Report is one conflicted record with its analysis and competing
// revisions.
type Report struct {
	RecordID  string         `json:"record_id"`
	Kind      store.Kind     `json:"kind"`
	Analysis  Analysis       `json:"analysis"`
	Revisions []RevisionInfo `json:"revisions"`
}

// Suggestion is a proposed resolution: keep the latest writer, with a
// set-union merge of collection fields offered as an alternative where the
// kind carries any.
type Suggestion struct {
	RecordID string `json:"record_id"`
	// KeepRev is the revision with the latest last_modified_at.
	KeepRev string `json:"keep_rev"`
	Reason  string `json:"reason"`
	// MergedCollections unions each set-valued field across every
	// revision; empty for kinds without collection fields.
	MergedCollections map[string][]string `json:"merged_collections,omitempty"`
}

// Outcome describes a completed resolution.
type Outcome struct {
	RecordID     string   `json:"record_id"`
	ResolutionID string   `json:"resolution_id"`
	NewRev       string   `json:"new_rev"`
	WinningRev   string   `json:"winning_rev"`
	RetiredRevs  []string `json:"retired_revs"`
	ResidualRevs []string `json:"residual_revs,omitempty"`
}
