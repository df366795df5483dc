package storage

import (
	"encoding/json"
	"sort"

	"github.com/lcalzada-xor/cvemap/internal/core/domain"
)

// toModel converts a domain record to its database model.
func toModel(rec domain.EnrichedRecord) RecordModel {
	return RecordModel{
		Fingerprint:      rec.Fingerprint,
		CVEID:            rec.CVEID,
		Sources:          encodeStrings(rec.Sources),
		PrimarySource:    rec.PrimarySource,
		Reliability:      rec.Reliability,
		Confidence:       rec.Confidence,
		ValidationStatus: rec.ValidationStatus,
		Description:      rec.Description,
		Severity:         rec.Severity,
		Score:            rec.Score,
		Vector:           rec.Vector,
		Published:        rec.Published,
		Modified:         rec.Modified,
		References:       encodeStrings(rec.Metadata.References),
		Weaknesses:       encodeStrings(rec.Metadata.Weaknesses),
		Products:         encodeStrings(rec.Metadata.Products),
		EnrichmentLevel:  rec.Metadata.EnrichmentLevel,
		Conflicts:        encodeConflicts(rec.Conflicts),
		LabScore:         rec.LabScore,
		DiscoveredAt:     rec.DiscoveredAt,
	}
}

// toDomain converts a database model back to a domain record.
func toDomain(m RecordModel) domain.EnrichedRecord {
	return domain.EnrichedRecord{
		Fingerprint:      m.Fingerprint,
		CVEID:            m.CVEID,
		Sources:          decodeStrings(m.Sources),
		PrimarySource:    m.PrimarySource,
		Reliability:      m.Reliability,
		Confidence:       m.Confidence,
		ValidationStatus: m.ValidationStatus,
		Description:      m.Description,
		Severity:         m.Severity,
		Score:            m.Score,
		Vector:           m.Vector,
		Published:        m.Published,
		Modified:         m.Modified,
		Metadata: domain.ConsolidatedMetadata{
			References:      decodeStrings(m.References),
			Weaknesses:      decodeStrings(m.Weaknesses),
			Products:        decodeStrings(m.Products),
			EnrichmentLevel: m.EnrichmentLevel,
		},
		Conflicts:    decodeConflicts(m.Conflicts),
		LabScore:     m.LabScore,
		DiscoveredAt: m.DiscoveredAt,
	}
}

// mergeRecords folds an incoming record into a stored one. Scalars prefer
// the newer record, list fields union, scores keep the maximum.
func mergeRecords(old, incoming domain.EnrichedRecord) domain.EnrichedRecord {
	newer, older := incoming, old
	if old.DiscoveredAt.After(incoming.DiscoveredAt) {
		newer, older = old, incoming
	}

	merged := newer
	merged.Sources = unionStrings(old.Sources, incoming.Sources)
	merged.Metadata.References = unionStrings(old.Metadata.References, incoming.Metadata.References)
	merged.Metadata.Weaknesses = unionStrings(old.Metadata.Weaknesses, incoming.Metadata.Weaknesses)
	merged.Metadata.Products = unionStrings(old.Metadata.Products, incoming.Metadata.Products)
	merged.Metadata.EnrichmentLevel = domain.EnrichmentLevelFor(len(merged.Sources))

	if older.Score > merged.Score {
		merged.Score = older.Score
		merged.Severity = older.Severity
	}
	if older.LabScore > merged.LabScore {
		merged.LabScore = older.LabScore
	}
	if older.Confidence > merged.Confidence {
		merged.Confidence = older.Confidence
	}
	if merged.Description == "" {
		merged.Description = older.Description
	}
	if merged.Vector == "" {
		merged.Vector = older.Vector
	}
	if merged.Published.IsZero() {
		merged.Published = older.Published
	}
	return merged
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		seen[s] = true
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func encodeStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeStrings(encoded string) []string {
	if encoded == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(encoded), &values); err != nil {
		return nil
	}
	if len(values) == 0 {
		return nil
	}
	return values
}

func encodeConflicts(conflicts []domain.FieldConflict) string {
	if len(conflicts) == 0 {
		return "[]"
	}
	data, err := json.Marshal(conflicts)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeConflicts(encoded string) []domain.FieldConflict {
	if encoded == "" {
		return nil
	}
	var conflicts []domain.FieldConflict
	if err := json.Unmarshal([]byte(encoded), &conflicts); err != nil {
		return nil
	}
	if len(conflicts) == 0 {
		return nil
	}
	return conflicts
}
