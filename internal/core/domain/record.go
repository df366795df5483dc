package domain

import (
	"strings"
	"time"
)

// Severity labels used across all sources after normalization.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityUnknown  = "unknown"
)

// RawRecord is a single source's view of one vulnerability, produced by a
// source adapter during a discovery call. Records are immutable after
// creation and belong to the pipeline run that produced them.
type RawRecord struct {
	CVEID       string    `json:"cve_id,omitempty"` // canonical identifier, empty when the source does not normalize it
	Source      string    `json:"source"`
	SourceURL   string    `json:"source_url,omitempty"`
	Description string    `json:"description"`
	Published   time.Time `json:"published"`
	Modified    time.Time `json:"modified,omitempty"`

	Severity string  `json:"severity"`         // normalized label (critical/high/medium/low/unknown)
	Score    float64 `json:"score"`            // CVSS 0-10, clamped
	Vector   string  `json:"vector,omitempty"` // CVSS vector string

	Products   []string `json:"products,omitempty"`
	References []string `json:"references,omitempty"`
	Weaknesses []string `json:"weaknesses,omitempty"` // CWE identifiers

	// Metadata is an opaque bag of source-specific fields. Reconciliation
	// never depends on its shape.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Normalized returns a copy with the score clamped to [0,10] and the
// severity label normalized. Malformed records are repaired, never rejected.
func (r RawRecord) Normalized() RawRecord {
	r.Score = ClampScore(r.Score)
	r.Severity = NormalizeSeverity(r.Severity)
	if r.Severity == SeverityUnknown && r.Score > 0 {
		r.Severity = SeverityFromScore(r.Score)
	}
	r.Description = strings.TrimSpace(r.Description)
	return r
}

// ClampScore bounds a CVSS score to the valid [0,10] range.
func ClampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}

// NormalizeSeverity maps the many severity spellings sources use onto the
// canonical label set.
func NormalizeSeverity(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical
	case "high", "important":
		return SeverityHigh
	case "medium", "moderate":
		return SeverityMedium
	case "low", "minor", "negligible":
		return SeverityLow
	default:
		return SeverityUnknown
	}
}

// SeverityFromScore derives a label from a CVSS v3 base score.
func SeverityFromScore(score float64) string {
	switch {
	case score >= 9.0:
		return SeverityCritical
	case score >= 7.0:
		return SeverityHigh
	case score >= 4.0:
		return SeverityMedium
	case score > 0:
		return SeverityLow
	default:
		return SeverityUnknown
	}
}
