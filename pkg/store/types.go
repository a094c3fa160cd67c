package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind discriminates the record types replicated between instances.
type Kind string

const (
	KindAccount    Kind = "account"
	KindClient     Kind = "client"
	KindSession    Kind = "session"
	KindAuditEvent Kind = "audit_event"
)

// AllKinds lists every replicated record kind in display order.
var AllKinds = []Kind{KindAccount, KindClient, KindSession, KindAuditEvent}

// Valid reports whether k is a known record kind.
func (k Kind) Valid() bool {
	switch k {
	case KindAccount, KindClient, KindSession, KindAuditEvent:
		return true
	}
	return false
}

// SyncStatus is the cached, coarse consistency label on a record. It is a
// projection of the authoritative conflict/isolation state, never a source
// of truth.
type SyncStatus string

const (
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusConflict SyncStatus = "conflict"
	SyncStatusIsolated SyncStatus = "isolated"
	SyncStatusError    SyncStatus = "error"
	SyncStatusUnknown  SyncStatus = ""
)

// Resolution records the provenance of a conflict resolution on the
// winning write.
type Resolution struct {
	ResolutionID string    `json:"resolution_id"`
	ResolvedAt   time.Time `json:"resolved_at"`
	ResolvedBy   string    `json:"resolved_by"`
	WinningRev   string    `json:"winning_rev"`
	RetiredRevs  []string  `json:"retired_revs"`
}

// Metadata carries the instance bookkeeping every replicated record holds.
// The store assigns revisions; this core only bumps Version and stamps the
// modifying instance.
type Metadata struct {
	CreatedBy      string      `json:"created_by"`
	CreatedAt      time.Time   `json:"created_at"`
	LastModifiedBy string      `json:"last_modified_by"`
	LastModifiedAt time.Time   `json:"last_modified_at"`
	Version        int64       `json:"version"`
	Resolution     *Resolution `json:"resolution,omitempty"`
}

// Record is one replicated domain document. Exactly one of the kind payload
// pointers is non-nil, matching Kind. ConflictRevs is populated only when
// the record was fetched with conflicts and the store holds competing live
// revisions.
type Record struct {
	ID           string
	Kind         Kind
	Rev          string
	SyncStatus   SyncStatus
	Metadata     Metadata
	ConflictRevs []string

	Account    *AccountFields
	Client     *ClientFields
	Session    *SessionFields
	AuditEvent *AuditEventFields
}

// document is the flat wire shape stored by the replicated document store.
type document struct {
	ID         string             `json:"_id"`
	Rev        string             `json:"_rev,omitempty"`
	Conflicts  []string           `json:"_conflicts,omitempty"`
	Kind       Kind               `json:"kind"`
	SyncStatus SyncStatus         `json:"sync_status,omitempty"`
	Metadata   Metadata           `json:"instance_metadata"`
	Account    *AccountFields     `json:"account,omitempty"`
	Client     *ClientFields      `json:"client,omitempty"`
	Session    *SessionFields     `json:"session,omitempty"`
	AuditEvent *AuditEventFields  `json:"audit_event,omitempty"`
}

// MarshalJSON serializes the record in the store's document shape.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(document{
		ID:         r.ID,
		Rev:        r.Rev,
		Conflicts:  r.ConflictRevs,
		Kind:       r.Kind,
		SyncStatus: r.SyncStatus,
		Metadata:   r.Metadata,
		Account:    r.Account,
		Client:     r.Client,
		Session:    r.Session,
		AuditEvent: r.AuditEvent,
	})
}

// UnmarshalJSON decodes the store's document shape into a typed record.
// Shape validation happens separately in Validate so callers can decide how
// strict the boundary is.
func (r *Record) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	r.ID = doc.ID
	r.Rev = doc.Rev
	r.ConflictRevs = doc.Conflicts
	r.Kind = doc.Kind
	r.SyncStatus = doc.SyncStatus
	r.Metadata = doc.Metadata
	r.Account = doc.Account
	r.Client = doc.Client
	r.Session = doc.Session
	r.AuditEvent = doc.AuditEvent
	return nil
}

// Validate checks the record at the store boundary: known kind, non-empty
// ID, exactly one payload present and matching the kind, payload fields
// well-formed.
func (r *Record) Validate() error {
	if r.ID == "" {
		return ErrMissingID
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
	}

	payloads := 0
	var payload any
	if r.Account != nil {
		payloads++
		payload = r.Account
	}
	if r.Client != nil {
		payloads++
		payload = r.Client
	}
	if r.Session != nil {
		payloads++
		payload = r.Session
	}
	if r.AuditEvent != nil {
		payloads++
		payload = r.AuditEvent
	}
	if payloads != 1 {
		return fmt.Errorf("%w: record %s has %d payloads", ErrKindMismatch, r.ID, payloads)
	}

	switch r.Kind {
	case KindAccount:
		if r.Account == nil {
			return fmt.Errorf("%w: record %s is %s but carries a different payload", ErrKindMismatch, r.ID, r.Kind)
		}
	case KindClient:
		if r.Client == nil {
			return fmt.Errorf("%w: record %s is %s but carries a different payload", ErrKindMismatch, r.ID, r.Kind)
		}
	case KindSession:
		if r.Session == nil {
			return fmt.Errorf("%w: record %s is %s but carries a different payload", ErrKindMismatch, r.ID, r.Kind)
		}
	case KindAuditEvent:
		if r.AuditEvent == nil {
			return fmt.Errorf("%w: record %s is %s but carries a different payload", ErrKindMismatch, r.ID, r.Kind)
		}
	}

	return validatePayload(payload)
}

// DomainFields returns the record's kind payload as a canonical map, with
// all bookkeeping (revision, conflicts, instance metadata, sync status)
// excluded. Conflict classification compares exactly this view.
func (r *Record) DomainFields() (map[string]any, error) {
	var payload any
	switch r.Kind {
	case KindAccount:
		payload = r.Account
	case KindClient:
		payload = r.Client
	case KindSession:
		payload = r.Session
	case KindAuditEvent:
		payload = r.AuditEvent
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", r.Kind, err)
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("canonicalize %s payload: %w", r.Kind, err)
	}
	return fields, nil
}

// CollectionFields returns the record's set-valued membership fields, keyed
// by field name. These are the fields eligible for a set-union merge during
// conflict resolution.
func (r *Record) CollectionFields() map[string][]string {
	out := make(map[string][]string)
	switch r.Kind {
	case KindAccount:
		if r.Account != nil {
			out["groups"] = r.Account.Groups
			out["roles"] = r.Account.Roles
		}
	case KindClient:
		if r.Client != nil {
			out["redirect_uris"] = r.Client.RedirectURIs
			out["grant_types"] = r.Client.GrantTypes
			out["scopes"] = r.Client.Scopes
		}
	case KindSession:
		if r.Session != nil {
			out["scopes"] = r.Session.Scopes
		}
	}
	return out
}

// Clone returns a deep copy of the record. Payload slices and maps are
// copied so mutations on the clone never leak back.
func (r *Record) Clone() *Record {
	clone := *r
	clone.ConflictRevs = append([]string(nil), r.ConflictRevs...)
	if r.Metadata.Resolution != nil {
		res := *r.Metadata.Resolution
		res.RetiredRevs = append([]string(nil), r.Metadata.Resolution.RetiredRevs...)
		clone.Metadata.Resolution = &res
	}
	if r.Account != nil {
		a := *r.Account
		a.Groups = append([]string(nil), r.Account.Groups...)
		a.Roles = append([]string(nil), r.Account.Roles...)
		clone.Account = &a
	}
	if r.Client != nil {
		c := *r.Client
		c.RedirectURIs = append([]string(nil), r.Client.RedirectURIs...)
		c.GrantTypes = append([]string(nil), r.Client.GrantTypes...)
		c.Scopes = append([]string(nil), r.Client.Scopes...)
		clone.Client = &c
	}
	if r.Session != nil {
		s := *r.Session
		s.Scopes = append([]string(nil), r.Session.Scopes...)
		clone.Session = &s
	}
	if r.AuditEvent != nil {
		e := *r.AuditEvent
		if r.AuditEvent.Detail != nil {
			e.Detail = make(map[string]any, len(r.AuditEvent.Detail))
			for k, v := range r.AuditEvent.Detail {
				e.Detail[k] = v
			}
		}
		clone.AuditEvent = &e
	}
	return &clone
}
