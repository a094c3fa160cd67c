package conflict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/dd0wney/cluso-identity/pkg/logging"
	"github.com/dd0wney/cluso-identity/pkg/metrics"
	"github.com/dd0wney/cluso-identity/pkg/store"
)

// Detector finds conflicted records, classifies them, and resolves them on
// operator command. It holds no state between calls; the store's conflict
// lists are the single source of truth.
type Detector struct {
	records store.Store
	localID string
	kinds   []store.Kind
	logger  logging.Logger
	metrics *metrics.Registry
}

// NewDetector creates a conflict detector. kinds defaults to every
// replicated kind when empty.
func NewDetector(records store.Store, localID string, kinds []store.Kind, logger logging.Logger) *Detector {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	if len(kinds) == 0 {
		kinds = store.AllKinds
	}
	return &Detector{
		records: records,
		localID: localID,
		kinds:   kinds,
		logger:  logger.With(logging.Component("conflict-detector")),
		metrics: metrics.DefaultRegistry(),
	}
}

// GetAllConflicts scans for every record carrying live conflicting
// revisions and returns one report per record. Read errors propagate: the
// caller needs to know a scan failed.
func (d *Detector) GetAllConflicts(ctx context.Context) ([]Report, error) {
	conflicted, err := d.records.QueryConflicted(ctx, d.kinds)
	if err != nil {
		d.metrics.ConflictScansTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("conflict scan: %w", err)
	}

	reports := make([]Report, 0, len(conflicted))
	counts := make(map[store.Kind]map[Classification]int)
	for _, rec := range conflicted {
		set, err := d.fetchRevisionSet(ctx, rec)
		if err != nil {
			d.metrics.ConflictScansTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		if len(set.Conflicting) == 0 {
			// resolved between scan and fetch
			continue
		}

		report, err := d.buildReport(set)
		if err != nil {
			d.metrics.ConflictScansTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		reports = append(reports, report)

		if counts[report.Kind] == nil {
			counts[report.Kind] = make(map[Classification]int)
		}
		counts[report.Kind][report.Analysis.Classification]++
	}

	d.metrics.ConflictsDetected.Reset()
	for kind, byClass := range counts {
		for class, n := range byClass {
			d.metrics.ConflictsDetected.WithLabelValues(string(kind), string(class)).Set(float64(n))
		}
	}
	d.metrics.ConflictScansTotal.WithLabelValues("ok").Inc()

	return reports, nil
}

// Analyze fetches the record's competing revisions and classifies the
// conflict. Returns NoConflictError when the store lists none.
func (d *Detector) Analyze(ctx context.Context, recordID string) (*Report, error) {
	set, err := d.FetchRevisionSet(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if len(set.Conflicting) == 0 {
		return nil, &NoConflictError{RecordID: recordID}
	}
	report, err := d.buildReport(set)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// FetchRevisionSet fetches the current revision plus every live conflicting
// revision of a record.
func (d *Detector) FetchRevisionSet(ctx context.Context, recordID string) (*RevisionSet, error) {
	current, err := d.records.GetWithConflicts(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return d.fetchRevisionSet(ctx, current)
}

// fetchRevisionSet completes a RevisionSet from a record already fetched
// with conflicts. A conflicting revision the store compacted between reads
// is skipped; transient errors propagate.
func (d *Detector) fetchRevisionSet(ctx context.Context, current *store.Record) (*RevisionSet, error) {
	set := &RevisionSet{Current: current}
	for _, rev := range current.ConflictRevs {
		rec, err := d.records.GetRevision(ctx, current.ID, rev)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				d.logger.Warn("conflicting revision vanished between reads",
					logging.RecordID(current.ID), logging.Revision(rev))
				continue
			}
			return nil, fmt.Errorf("fetch revision %s of %s: %w", rev, current.ID, err)
		}
		set.Conflicting = append(set.Conflicting, rec)
	}
	return set, nil
}

// AnalyzeRevisionSet classifies a revision set: identical domain payloads
// across every revision mean a revision_conflict (safe to auto-collapse),
// any substantive difference means a data_conflict.
func (d *Detector) AnalyzeRevisionSet(set *RevisionSet) (Analysis, error) {
	start := time.Now()
	defer func() {
		d.metrics.ConflictAnalysisDuration.Observe(time.Since(start).Seconds())
	}()

	analysis := Analysis{
		RecordID:       set.Current.ID,
		Kind:           set.Current.Kind,
		Classification: RevisionConflict,
	}

	currentPrint, err := payloadFingerprint(set.Current)
	if err != nil {
		return Analysis{}, err
	}

	sources := map[string]struct{}{}
	for _, rec := range set.Revisions() {
		if by := rec.Metadata.LastModifiedBy; by != "" {
			sources[by] = struct{}{}
		}
	}

	for _, rec := range set.Conflicting {
		print, err := payloadFingerprint(rec)
		if err != nil {
			return Analysis{}, err
		}
		if print != currentPrint {
			analysis.HasDataDifferences = true
			analysis.Classification = DataConflict
			break
		}
	}

	analysis.SourceInstances = maps.Keys(sources)
	slices.Sort(analysis.SourceInstances)
	return analysis, nil
}

func (d *Detector) buildReport(set *RevisionSet) (Report, error) {
	analysis, err := d.AnalyzeRevisionSet(set)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		RecordID: set.Current.ID,
		Kind:     set.Current.Kind,
		Analysis: analysis,
	}
	for i, rec := range set.Revisions() {
		report.Revisions = append(report.Revisions, RevisionInfo{
			Rev:            rec.Rev,
			Current:        i == 0,
			LastModifiedBy: rec.Metadata.LastModifiedBy,
			LastModifiedAt: rec.Metadata.LastModifiedAt,
			Version:        rec.Metadata.Version,
		})
	}
	return report, nil
}

// SuggestResolution recommends keeping the revision with the latest
// last_modified_at, and for kinds with set-valued fields also proposes the
// union across all revisions as an alternative merge.
func (d *Detector) SuggestResolution(set *RevisionSet) Suggestion {
	winner := set.Current
	for _, rec := range set.Conflicting {
		if rec.Metadata.LastModifiedAt.After(winner.Metadata.LastModifiedAt) {
			winner = rec
		}
	}

	suggestion := Suggestion{
		RecordID: set.Current.ID,
		KeepRev:  winner.Rev,
		Reason: fmt.Sprintf("latest write, by %s at %s",
			winner.Metadata.LastModifiedBy,
			winner.Metadata.LastModifiedAt.Format(time.RFC3339)),
	}

	merged := make(map[string]map[string]struct{})
	for _, rec := range set.Revisions() {
		for field, values := range rec.CollectionFields() {
			if merged[field] == nil {
				merged[field] = make(map[string]struct{})
			}
			for _, v := range values {
				merged[field][v] = struct{}{}
			}
		}
	}
	if len(merged) > 0 {
		suggestion.MergedCollections = make(map[string][]string, len(merged))
		for field, values := range merged {
			union := maps.Keys(values)
			slices.Sort(union)
			suggestion.MergedCollections[field] = union
		}
	}

	return suggestion
}

// Resolve commits a winner: a new revision built from the winner's content
// is written over the current head, then every losing revision is retired
// individually. Retirement is best-effort and non-atomic; failures come
// back as a PartialResolutionError and the caller is expected to re-query.
//
// An empty losingRevs retires every competing revision other than the
// winner.
func (d *Detector) Resolve(ctx context.Context, recordID, winningRev string, losingRevs []string) (*Outcome, error) {
	set, err := d.FetchRevisionSet(ctx, recordID)
	if err != nil {
		d.metrics.RecordResolution("error")
		return nil, err
	}
	if len(set.Conflicting) == 0 {
		d.metrics.RecordResolution("no_conflict")
		return nil, &NoConflictError{RecordID: recordID}
	}

	byRev := make(map[string]*store.Record)
	for _, rec := range set.Revisions() {
		byRev[rec.Rev] = rec
	}

	winner, ok := byRev[winningRev]
	if !ok {
		// The head moved or the winner was compacted: caller re-fetches.
		d.metrics.RecordResolution("stale")
		return nil, &store.StaleRevisionError{RecordID: recordID, Rev: winningRev}
	}

	if len(losingRevs) == 0 {
		for rev := range byRev {
			if rev != winningRev {
				losingRevs = append(losingRevs, rev)
			}
		}
		slices.Sort(losingRevs)
	}

	outcome := &Outcome{
		RecordID:     recordID,
		ResolutionID: uuid.New().String(),
		WinningRev:   winningRev,
	}

	now := time.Now().UTC()
	resolved := winner.Clone()
	resolved.Rev = set.Current.Rev // write over the current head
	resolved.ConflictRevs = nil
	resolved.Metadata.Version++
	resolved.Metadata.LastModifiedBy = d.localID
	resolved.Metadata.LastModifiedAt = now
	resolved.Metadata.Resolution = &store.Resolution{
		ResolutionID: outcome.ResolutionID,
		ResolvedAt:   now,
		ResolvedBy:   d.localID,
		WinningRev:   winningRev,
		RetiredRevs:  losingRevs,
	}

	newRev, err := d.records.Put(ctx, resolved)
	if err != nil {
		if errors.Is(err, store.ErrStaleRevision) {
			d.metrics.RecordResolution("stale")
		} else {
			d.metrics.RecordResolution("error")
		}
		return nil, fmt.Errorf("write resolved revision of %s: %w", recordID, err)
	}
	outcome.NewRev = newRev

	// Retire losing branches one at a time. When the winner was itself a
	// conflicting branch its content now lives at the head, so that branch
	// is retired too or the store would keep listing the conflict. A
	// revision already gone counts as retired; anything else is logged and
	// left residual for a retry.
	retire := losingRevs
	if winningRev != set.Current.Rev {
		retire = append(append([]string(nil), retire...), winningRev)
	}
	var causes []error
	for _, rev := range retire {
		if rev == set.Current.Rev {
			// superseded by the winning write above
			outcome.RetiredRevs = append(outcome.RetiredRevs, rev)
			continue
		}
		err := d.records.Delete(ctx, recordID, rev)
		switch {
		case err == nil, errors.Is(err, store.ErrNotFound):
			outcome.RetiredRevs = append(outcome.RetiredRevs, rev)
		default:
			d.logger.Warn("failed to retire losing revision",
				logging.RecordID(recordID), logging.Revision(rev), logging.Error(err))
			outcome.ResidualRevs = append(outcome.ResidualRevs, rev)
			causes = append(causes, err)
		}
	}

	if len(outcome.ResidualRevs) > 0 {
		d.metrics.RecordResolution("partial")
		d.metrics.ResidualRevisionsTotal.Add(float64(len(outcome.ResidualRevs)))
		return outcome, &PartialResolutionError{
			RecordID:     recordID,
			NewRev:       newRev,
			RetiredRevs:  outcome.RetiredRevs,
			ResidualRevs: outcome.ResidualRevs,
			Causes:       causes,
		}
	}

	d.metrics.RecordResolution("resolved")
	d.logger.Info("conflict resolved",
		logging.RecordID(recordID),
		logging.Revision(newRev),
		logging.Count(len(outcome.RetiredRevs)))
	return outcome, nil
}
