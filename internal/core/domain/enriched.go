package domain

import "time"

// Conflict severity classifications.
const (
	ConflictMinor    = "minor"
	ConflictMajor    = "major"
	ConflictCritical = "critical"
)

// Validation statuses assigned by reconciliation.
const (
	ValidationSingleSource = "single_source"
	ValidationValidated    = "validated"
	ValidationPartial      = "partial"
	ValidationConflicted   = "conflicted"
)

// Enrichment levels derived from contributing source count.
const (
	EnrichmentBasic         = "basic"
	EnrichmentEnhanced      = "enhanced"
	EnrichmentComprehensive = "comprehensive"
)

// ResolutionWeightedVote is the only resolution method the reconciliation
// engine applies.
const ResolutionWeightedVote = "reliability-weighted vote"

// FieldConflict records a field-level disagreement between sources and how
// it was resolved.
type FieldConflict struct {
	Field      string            `json:"field"`
	Values     map[string]string `json:"values"` // source name -> value supplied by that source
	Severity   string            `json:"severity"`
	Resolved   string            `json:"resolved"`
	Resolution string            `json:"resolution"`
}

// ConsolidatedMetadata is the union of list-valued fields across all
// contributing sources.
type ConsolidatedMetadata struct {
	References      []string `json:"references,omitempty"`
	Weaknesses      []string `json:"weaknesses,omitempty"`
	Products        []string `json:"products,omitempty"`
	EnrichmentLevel string   `json:"enrichment_level"`
}

// EnrichedRecord is the reconciled output: one record per fingerprint with
// conflicts resolved by reliability-weighted voting.
type EnrichedRecord struct {
	Fingerprint      string    `json:"fingerprint"`
	CVEID            string    `json:"cve_id,omitempty"`
	Sources          []string  `json:"sources"`
	PrimarySource    string    `json:"primary_source"`
	Reliability      float64   `json:"reliability"` // blended reliability of contributors, 0-1
	Confidence       float64   `json:"confidence"`  // 0-1, capped below certainty
	ValidationStatus string    `json:"validation_status"`
	Description      string    `json:"description"`
	Severity         string    `json:"severity"`
	Score            float64   `json:"score"`
	Vector           string    `json:"vector,omitempty"`
	Published        time.Time `json:"published"`
	Modified         time.Time `json:"modified,omitempty"`

	Metadata  ConsolidatedMetadata `json:"metadata"`
	Conflicts []FieldConflict      `json:"conflicts,omitempty"`

	LabScore     float64   `json:"lab_score"` // 0-10 lab suitability heuristic
	DiscoveredAt time.Time `json:"discovered_at"`
}

// DuplicateGroup maps one fingerprint to the raw records sharing it.
// Transient, rebuilt on every reconciliation pass.
type DuplicateGroup struct {
	Fingerprint string
	Records     []RawRecord
}

// ReconciliationReport summarizes one reconciliation pass.
type ReconciliationReport struct {
	TotalRaw         int             `json:"total_raw"`
	UniqueRecords    int             `json:"unique_records"`
	DuplicateGroups  int             `json:"duplicate_groups"`
	AvgSourcesPer    float64         `json:"avg_sources_per_record"`
	PerSourceRaw     map[string]int  `json:"per_source_raw"`
	Conflicts        []FieldConflict `json:"conflicts,omitempty"`
	ResolutionTimeMS int64           `json:"resolution_time_ms"`
}

// EnrichmentLevelFor maps a contributing source count to a level tag.
func EnrichmentLevelFor(sourceCount int) string {
	switch {
	case sourceCount >= 3:
		return EnrichmentComprehensive
	case sourceCount == 2:
		return EnrichmentEnhanced
	default:
		return EnrichmentBasic
	}
}
