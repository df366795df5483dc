package labscore

import (
	"math"
	"strings"
	"time"

	"github.com/lcalzada-xor/cvemap/internal/core/domain"
)

// Calculator scores enriched records for suitability in an automated
// testing/lab context: well-documented, reproducible, network-reachable
// vulnerabilities score high.
type Calculator struct{}

// NewCalculator creates a new lab-suitability calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// ScoreRecord computes the 0-10 lab-suitability score for one record.
func (c *Calculator) ScoreRecord(rec domain.EnrichedRecord) float64 {
	// Base score from severity: impactful vulnerabilities make better
	// lab exercises, but only up to 6 of the 10 points.
	score := rec.Score * 0.6

	// Documentation richness: references, weakness classifiers and
	// affected products all make a record easier to reproduce.
	doc := 0.0
	doc += math.Min(float64(len(rec.Metadata.References))*0.3, 1.2)
	doc += math.Min(float64(len(rec.Metadata.Weaknesses))*0.3, 0.6)
	doc += math.Min(float64(len(rec.Metadata.Products))*0.2, 0.6)
	score += doc

	// Cross-source corroboration.
	score += math.Min(float64(len(rec.Sources)-1)*0.4, 0.8)

	// Public exploit references are the strongest signal.
	if hasExploitReference(rec.Metadata.References) || contributedBy(rec.Sources, "exploit-db") {
		score += 1.0
	}

	// Very old records often target software that is hard to obtain.
	if !rec.Published.IsZero() {
		age := time.Since(rec.Published)
		if age > 10*365*24*time.Hour {
			score -= 1.0
		}
	}

	// Confidence scales the whole estimate down for shaky records.
	score *= 0.5 + rec.Confidence*0.5

	return math.Min(math.Max(score, 0), 10)
}

// Apply sets LabScore on every record in place.
func (c *Calculator) Apply(records []domain.EnrichedRecord) {
	for i := range records {
		records[i].LabScore = c.ScoreRecord(records[i])
	}
}

// SuitabilityLevel converts a numeric score to a human-readable level.
func (c *Calculator) SuitabilityLevel(score float64) string {
	switch {
	case score >= 7.5:
		return "Excellent"
	case score >= 5.5:
		return "Good"
	case score >= 3.5:
		return "Fair"
	default:
		return "Poor"
	}
}

func hasExploitReference(refs []string) bool {
	for _, ref := range refs {
		lower := strings.ToLower(ref)
		if strings.Contains(lower, "exploit-db.com") ||
			strings.Contains(lower, "metasploit") ||
			strings.Contains(lower, "github.com") && strings.Contains(lower, "poc") {
			return true
		}
	}
	return false
}

func contributedBy(sources []string, name string) bool {
	for _, s := range sources {
		if s == name {
			return true
		}
	}
	return false
}
