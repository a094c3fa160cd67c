package conflict

import (
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/dd0wney/cluso-identity/pkg/store"
)

// payloadFingerprint hashes the record's domain fields in canonical form.
// Two revisions with equal fingerprints carry an identical domain payload;
// bookkeeping never feeds the hash. Map keys are sorted by the JSON
// encoder, so field order is stable.
func payloadFingerprint(rec *store.Record) ([blake2b.Size256]byte, error) {
	var zero [blake2b.Size256]byte

	fields, err := rec.DomainFields()
	if err != nil {
		return zero, err
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return zero, fmt.Errorf("fingerprint %s: %w", rec.ID, err)
	}
	return blake2b.Sum256(data), nil
}
