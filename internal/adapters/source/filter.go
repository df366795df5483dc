package source

import (
	"strings"
	"time"

	"github.com/lcalzada-xor/cvemap/internal/core/domain"
)

// FilterRecords applies the options' window, severity, keyword and
// technology filters client-side. Adapters whose sources cannot filter
// server-side fall back to this after fetching.
func FilterRecords(records []domain.RawRecord, opts domain.DiscoveryOptions, now time.Time) []domain.RawRecord {
	start, end := opts.Window(now)

	out := make([]domain.RawRecord, 0, len(records))
	for _, r := range records {
		if !r.Published.IsZero() && (r.Published.Before(start) || r.Published.After(end)) {
			continue
		}
		if !matchesSeverity(r, opts.Severities) {
			continue
		}
		if !matchesAnyTerm(r, opts.Keywords) {
			continue
		}
		if !matchesAnyTerm(r, opts.Technologies) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Cap bounds the result count to the per-source ceiling.
func Cap(records []domain.RawRecord, max int) []domain.RawRecord {
	if max > 0 && len(records) > max {
		return records[:max]
	}
	return records
}

func matchesSeverity(r domain.RawRecord, severities []string) bool {
	if len(severities) == 0 {
		return true
	}
	normalized := domain.NormalizeSeverity(r.Severity)
	for _, s := range severities {
		if domain.NormalizeSeverity(s) == normalized {
			return true
		}
	}
	return false
}

// matchesAnyTerm matches a term against the description and product list,
// case-insensitively. An empty term list matches everything.
func matchesAnyTerm(r domain.RawRecord, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	haystack := strings.ToLower(r.Description + " " + strings.Join(r.Products, " "))
	for _, t := range terms {
		if t != "" && strings.Contains(haystack, strings.ToLower(t)) {
			return true
		}
	}
	return false
}
