package conflict

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/dd0wney/cluso-identity/pkg/logging"
	"github.com/dd0wney/cluso-identity/pkg/store"
)

// TestClassificationProperties uses property-based testing to pin the
// classification rules: bookkeeping-only divergence never classifies as a
// data conflict, and any domain field change always does.
func TestClassificationProperties(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)
	d := NewDetector(nil, "instance-a", nil, logging.NewNopLogger())

	makeRecord := func(username, email string, groups []string, active bool) *store.Record {
		return &store.Record{
			ID:   "account:" + username,
			Kind: store.KindAccount,
			Rev:  "2-aaa",
			Metadata: store.Metadata{
				LastModifiedBy: "instance-a",
				LastModifiedAt: time.Now(),
				Version:        2,
			},
			Account: &store.AccountFields{
				Username: username,
				Email:    email,
				Groups:   groups,
				Active:   active,
			},
		}
	}

	// Property 1: metadata-only divergence is always a revision conflict
	properties.Property("bookkeeping divergence is never a data conflict", prop.ForAll(
		func(username string, groups []string, active bool, versionDelta int64) bool {
			current := makeRecord(username, "", groups, active)
			other := current.Clone()
			other.Rev = "2-bbb"
			other.Metadata.Version += versionDelta
			other.Metadata.LastModifiedBy = "instance-b"
			other.Metadata.LastModifiedAt = current.Metadata.LastModifiedAt.Add(time.Minute)

			analysis, err := d.AnalyzeRevisionSet(&RevisionSet{
				Current:     current,
				Conflicting: []*store.Record{other},
			})
			return err == nil && analysis.Classification == RevisionConflict && !analysis.HasDataDifferences
		},
		gen.Identifier(),
		gen.SliceOf(gen.Identifier()),
		gen.Bool(),
		gen.Int64Range(1, 100),
	))

	// Property 2: any domain field change is always a data conflict
	properties.Property("domain divergence is always a data conflict", prop.ForAll(
		func(username, extraGroup string, active bool) bool {
			current := makeRecord(username, "", nil, active)
			other := current.Clone()
			other.Rev = "2-bbb"
			other.Account.Groups = append(other.Account.Groups, extraGroup)

			analysis, err := d.AnalyzeRevisionSet(&RevisionSet{
				Current:     current,
				Conflicting: []*store.Record{other},
			})
			return err == nil && analysis.Classification == DataConflict && analysis.HasDataDifferences
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.Bool(),
	))

	// Property 3: classification is symmetric in current/conflicting order
	properties.Property("classification does not depend on revision order", prop.ForAll(
		func(usernameA, usernameB string) bool {
			a := makeRecord(usernameA, "", nil, true)
			b := makeRecord(usernameB, "", nil, true)
			b.Rev = "2-bbb"

			forward, err1 := d.AnalyzeRevisionSet(&RevisionSet{Current: a, Conflicting: []*store.Record{b}})
			reverse, err2 := d.AnalyzeRevisionSet(&RevisionSet{Current: b, Conflicting: []*store.Record{a}})
			return err1 == nil && err2 == nil && forward.Classification == reverse.Classification
		},
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}
