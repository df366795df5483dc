package reconcile

import (
	"sort"
	"strconv"
	"time"

	"github.com/lcalzada-xor/cvemap/internal/core/domain"
	"github.com/lcalzada-xor/cvemap/internal/core/ports"
)

// Reconcilable field names.
const (
	fieldScore       = "score"
	fieldSeverity    = "severity"
	fieldDescription = "description"
	fieldPublished   = "published"
	fieldModified    = "modified"
)

// Engine deduplicates raw records and resolves field-level conflicts with
// reliability-weighted voting. It is a pure function of its inputs plus the
// scorer; it has no dependency on persistence.
type Engine struct {
	scorer    ports.ReliabilityScorer
	agreement ports.AgreementRecorder // optional accuracy feedback
	now       func() time.Time
}

// NewEngine creates an engine. agreement may be nil.
func NewEngine(scorer ports.ReliabilityScorer, agreement ports.AgreementRecorder) *Engine {
	return &Engine{scorer: scorer, agreement: agreement, now: time.Now}
}

// Reconcile fingerprints the raw set, groups duplicates and emits one
// enriched record per fingerprint plus a structured report. The input is
// treated as an unordered multiset; output order follows first appearance
// of each fingerprint.
func (e *Engine) Reconcile(raws []domain.RawRecord) ([]domain.EnrichedRecord, domain.ReconciliationReport) {
	start := e.now()

	groups, order := e.group(raws)

	records := make([]domain.EnrichedRecord, 0, len(order))
	var allConflicts []domain.FieldConflict
	perSource := make(map[string]int)
	for _, r := range raws {
		perSource[r.Source]++
	}

	for _, fp := range order {
		g := groups[fp]
		var rec domain.EnrichedRecord
		if len(g.Records) == 1 {
			rec = e.buildSingle(g)
		} else {
			rec = e.buildMerged(g)
		}
		allConflicts = append(allConflicts, rec.Conflicts...)
		records = append(records, rec)
	}

	report := domain.ReconciliationReport{
		TotalRaw:         len(raws),
		UniqueRecords:    len(records),
		DuplicateGroups:  len(order),
		PerSourceRaw:     perSource,
		Conflicts:        allConflicts,
		ResolutionTimeMS: e.now().Sub(start).Milliseconds(),
	}
	if len(records) > 0 {
		report.AvgSourcesPer = float64(len(raws)) / float64(len(records))
	}
	return records, report
}

func (e *Engine) group(raws []domain.RawRecord) (map[string]*domain.DuplicateGroup, []string) {
	groups := make(map[string]*domain.DuplicateGroup)
	var order []string
	for _, raw := range raws {
		norm := raw.Normalized()
		fp := Fingerprint(norm)
		g, ok := groups[fp]
		if !ok {
			g = &domain.DuplicateGroup{Fingerprint: fp}
			groups[fp] = g
			order = append(order, fp)
		}
		g.Records = append(g.Records, norm)
	}
	return groups, order
}

// buildSingle wraps a single-source group directly: enrichment "basic",
// validation "single_source", confidence equal to the source's reliability.
func (e *Engine) buildSingle(g *domain.DuplicateGroup) domain.EnrichedRecord {
	r := g.Records[0]
	score := e.scorer.Score(r.Source)
	return domain.EnrichedRecord{
		Fingerprint:      g.Fingerprint,
		CVEID:            canonicalID(g),
		Sources:          []string{r.Source},
		PrimarySource:    r.Source,
		Reliability:      score,
		Confidence:       score,
		ValidationStatus: domain.ValidationSingleSource,
		Description:      r.Description,
		Severity:         r.Severity,
		Score:            r.Score,
		Vector:           r.Vector,
		Published:        r.Published,
		Modified:         r.Modified,
		Metadata:         consolidate(g.Records),
		DiscoveredAt:     e.now(),
	}
}

// buildMerged resolves each reconcilable field across the group. A value's
// weight is the sum of its backers' reliability scores, so several weaker
// sources agreeing can outweigh one strong source.
func (e *Engine) buildMerged(g *domain.DuplicateGroup) domain.EnrichedRecord {
	weights := make(map[string]float64, len(g.Records))
	for _, r := range g.Records {
		weights[r.Source] = e.scorer.Score(r.Source)
	}

	var conflicts []domain.FieldConflict

	resolveField := func(field string, key func(domain.RawRecord) string, present func(domain.RawRecord) bool) string {
		winner, conflict := e.vote(g, field, key, present, weights)
		if conflict != nil {
			conflicts = append(conflicts, *conflict)
		}
		return winner
	}

	scoreStr := resolveField(fieldScore,
		func(r domain.RawRecord) string { return strconv.FormatFloat(r.Score, 'f', 1, 64) },
		func(r domain.RawRecord) bool { return r.Score > 0 })
	severity := resolveField(fieldSeverity,
		func(r domain.RawRecord) string { return r.Severity },
		func(r domain.RawRecord) bool { return r.Severity != domain.SeverityUnknown })
	description := resolveField(fieldDescription,
		func(r domain.RawRecord) string { return normalizeText(r.Description) },
		func(r domain.RawRecord) bool { return r.Description != "" })
	published := resolveField(fieldPublished,
		func(r domain.RawRecord) string { return r.Published.UTC().Format("2006-01-02") },
		func(r domain.RawRecord) bool { return !r.Published.IsZero() })
	modified := resolveField(fieldModified,
		func(r domain.RawRecord) string { return r.Modified.UTC().Format("2006-01-02") },
		func(r domain.RawRecord) bool { return !r.Modified.IsZero() })

	rec := domain.EnrichedRecord{
		Fingerprint: g.Fingerprint,
		CVEID:       canonicalID(g),
		Metadata:    consolidate(g.Records),
		Conflicts:   conflicts,
	}

	// Materialize resolved values from a record that actually carries them;
	// the vote works on canonical string forms, the output keeps the
	// original representation.
	for _, r := range g.Records {
		if rec.Score == 0 && strconv.FormatFloat(r.Score, 'f', 1, 64) == scoreStr {
			rec.Score = r.Score
		}
		if rec.Severity == "" && r.Severity == severity {
			rec.Severity = r.Severity
		}
		if rec.Description == "" && normalizeText(r.Description) == description {
			rec.Description = r.Description
		}
		if rec.Published.IsZero() && r.Published.UTC().Format("2006-01-02") == published {
			rec.Published = r.Published
		}
		if rec.Modified.IsZero() && r.Modified.UTC().Format("2006-01-02") == modified {
			rec.Modified = r.Modified
		}
		if rec.Vector == "" {
			rec.Vector = r.Vector
		}
	}
	if rec.Severity == "" {
		rec.Severity = domain.SeverityUnknown
	}

	sources := make([]string, 0, len(g.Records))
	seen := make(map[string]bool)
	for _, r := range g.Records {
		if !seen[r.Source] {
			seen[r.Source] = true
			sources = append(sources, r.Source)
		}
	}
	rec.Sources = sources

	// Primary source is the single highest-reliability contributor.
	var best float64 = -1
	for _, src := range sources {
		if weights[src] > best {
			best = weights[src]
			rec.PrimarySource = src
		}
	}

	var total float64
	for _, src := range sources {
		total += weights[src]
	}
	avg := total / float64(len(sources))
	rec.Reliability = avg

	// More agreeing sources raise confidence, capped below certainty.
	confidence := avg * (1 + 0.05*float64(len(sources)-1))
	if confidence > 0.99 {
		confidence = 0.99
	}
	rec.Confidence = confidence

	switch {
	case len(conflicts) == 0:
		rec.ValidationStatus = domain.ValidationValidated
	case len(conflicts) <= 2:
		rec.ValidationStatus = domain.ValidationPartial
	default:
		rec.ValidationStatus = domain.ValidationConflicted
	}

	rec.DiscoveredAt = e.now()
	return rec
}

// vote tallies the distinct values sources supplied for one field. A nil
// conflict means all contributing sources agreed. Ties break on the
// lexicographically smaller value so repeated passes stay deterministic.
func (e *Engine) vote(
	g *domain.DuplicateGroup,
	field string,
	key func(domain.RawRecord) string,
	present func(domain.RawRecord) bool,
	weights map[string]float64,
) (string, *domain.FieldConflict) {
	tally := make(map[string]float64)
	byValue := make(map[string][]string)
	supplied := make(map[string]string) // source -> value for the conflict report

	for _, r := range g.Records {
		if !present(r) {
			continue
		}
		v := key(r)
		tally[v] += weights[r.Source]
		byValue[v] = append(byValue[v], r.Source)
		supplied[r.Source] = v
	}

	if len(tally) == 0 {
		return "", nil
	}

	values := make([]string, 0, len(tally))
	for v := range tally {
		values = append(values, v)
	}
	sort.Strings(values)

	winner := values[0]
	for _, v := range values[1:] {
		if tally[v] > tally[winner] {
			winner = v
		}
	}

	if len(tally) == 1 {
		// Consistent field: every backer agreed.
		if e.agreement != nil && len(g.Records) > 1 {
			for _, src := range byValue[winner] {
				e.agreement.RecordAgreement(src, true)
			}
		}
		return winner, nil
	}

	if e.agreement != nil {
		for src, v := range supplied {
			e.agreement.RecordAgreement(src, v == winner)
		}
	}

	severity := domain.ConflictMinor
	if field == fieldScore || field == fieldSeverity {
		severity = domain.ConflictMajor
	}
	return winner, &domain.FieldConflict{
		Field:      field,
		Values:     supplied,
		Severity:   severity,
		Resolved:   winner,
		Resolution: domain.ResolutionWeightedVote,
	}
}

// canonicalID returns the group's CVE identifier when the fingerprint was
// identifier-based.
func canonicalID(g *domain.DuplicateGroup) string {
	if cveIDPattern.MatchString(g.Fingerprint) {
		return g.Fingerprint
	}
	return ""
}

// consolidate unions references, weaknesses and affected products across
// the group and tags the enrichment level by source count.
func consolidate(records []domain.RawRecord) domain.ConsolidatedMetadata {
	sources := make(map[string]bool)
	for _, r := range records {
		sources[r.Source] = true
	}
	return domain.ConsolidatedMetadata{
		References:      unionSorted(records, func(r domain.RawRecord) []string { return r.References }),
		Weaknesses:      unionSorted(records, func(r domain.RawRecord) []string { return r.Weaknesses }),
		Products:        unionSorted(records, func(r domain.RawRecord) []string { return r.Products }),
		EnrichmentLevel: domain.EnrichmentLevelFor(len(sources)),
	}
}

func unionSorted(records []domain.RawRecord, get func(domain.RawRecord) []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range records {
		for _, v := range get(r) {
			if v != "" && !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	sort.Strings(out)
	return out
}
