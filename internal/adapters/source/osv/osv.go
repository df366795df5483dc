package osv

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	version "github.com/hashicorp/go-version"

	"github.com/lcalzada-xor/cvemap/internal/adapters/source"
	"github.com/lcalzada-xor/cvemap/internal/core/domain"
	"github.com/lcalzada-xor/cvemap/internal/core/ports"
)

const (
	Name           = "osv"
	defaultBaseURL = "https://api.osv.dev"
)

// Adapter queries the OSV.dev API. OSV is package-oriented, so discovery
// issues one query per requested technology or keyword and merges the
// results. Records without a CVE alias keep an empty CVE ID and rely on
// content fingerprinting downstream.
type Adapter struct {
	client     *source.Client
	baseURL    string
	maxResults int
}

func New(client *source.Client, baseURL string, maxResults int) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if maxResults <= 0 {
		maxResults = 500
	}
	return &Adapter{client: client, baseURL: baseURL, maxResults: maxResults}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) CheckHealth(ctx context.Context) error {
	var resp queryResponse
	return a.client.PostJSON(ctx, a.baseURL+"/v1/query", queryRequest{
		Package: &queryPackage{Name: "lodash", Ecosystem: "npm"},
	}, &resp)
}

func (a *Adapter) Discover(ctx context.Context, opts domain.DiscoveryOptions) ([]domain.RawRecord, error) {
	terms := append([]string{}, opts.Technologies...)
	terms = append(terms, opts.Keywords...)
	if len(terms) == 0 {
		return nil, fmt.Errorf("osv discover: at least one technology or keyword is required")
	}

	now := time.Now()
	seen := make(map[string]bool)
	var records []domain.RawRecord
	for _, term := range terms {
		var resp queryResponse
		err := a.client.PostJSON(ctx, a.baseURL+"/v1/query", queryRequest{
			Package: &queryPackage{Name: term},
		}, &resp)
		if err != nil {
			return records, fmt.Errorf("osv discover %q: %w", term, err)
		}
		for _, entry := range resp.Vulns {
			if seen[entry.ID] {
				continue
			}
			seen[entry.ID] = true
			records = append(records, a.toRecord(entry))
		}
	}

	// OSV filtered by package only; window and severity are client-side.
	records = source.FilterRecords(records, domain.DiscoveryOptions{
		TimeframeYears: opts.TimeframeYears,
		StartDate:      opts.StartDate,
		EndDate:        opts.EndDate,
		Severities:     opts.Severities,
	}, now)

	max := a.maxResults
	if opts.MaxPerSource > 0 && opts.MaxPerSource < max {
		max = opts.MaxPerSource
	}
	return source.Cap(records, max), nil
}

func (a *Adapter) GetDetails(ctx context.Context, id string) (*domain.RawRecord, error) {
	var entry vulnEntry
	if err := a.client.GetJSON(ctx, a.baseURL+"/v1/vulns/"+id, nil, &entry); err != nil {
		return nil, fmt.Errorf("osv details: %w", err)
	}
	if entry.ID == "" {
		return nil, nil
	}
	rec := a.toRecord(entry)
	return &rec, nil
}

func (a *Adapter) RateLimitStatus() domain.RateLimitStatus {
	return a.client.Limiter().Status(a.client.Service())
}

func (a *Adapter) Capabilities() domain.SourceCapabilities {
	return domain.SourceCapabilities{
		SupportsHistoricalData:  true,
		SupportsRealtimeUpdates: false,
		MaxTimeframeYears:       20,
		RequiresSearchTerms:     true,
	}
}

func (a *Adapter) ReliabilityPrior() float64 { return 0.85 }

func (a *Adapter) toRecord(entry vulnEntry) domain.RawRecord {
	rec := domain.RawRecord{
		CVEID:       cveAlias(entry),
		Source:      Name,
		SourceURL:   "https://osv.dev/vulnerability/" + entry.ID,
		Description: pickDescription(entry),
		Published:   entry.Published,
		Modified:    entry.Modified,
		Metadata: map[string]interface{}{
			"osv_id":  entry.ID,
			"aliases": entry.Aliases,
		},
	}

	rec.Score, rec.Vector = pickScore(entry)
	rec.Severity = severityLabel(entry, rec.Score)

	for _, ref := range entry.References {
		rec.References = append(rec.References, ref.URL)
	}
	rec.Products = affectedProducts(entry.Affected)
	return rec.Normalized()
}

// cveAlias returns the first CVE identifier among the entry's aliases, or
// the ID itself when the entry is keyed by CVE.
func cveAlias(entry vulnEntry) string {
	if strings.HasPrefix(entry.ID, "CVE-") {
		return entry.ID
	}
	for _, alias := range entry.Aliases {
		if strings.HasPrefix(alias, "CVE-") {
			return alias
		}
	}
	return ""
}

func pickDescription(entry vulnEntry) string {
	if entry.Details != "" {
		return entry.Details
	}
	return entry.Summary
}

// pickScore parses the first CVSS v3 severity entry. OSV carries the score
// inside the vector string, so it is recomputed from the vector's base
// score segment when present, otherwise from database_specific.
func pickScore(entry vulnEntry) (float64, string) {
	for _, sev := range entry.Severity {
		if sev.Type == "CVSS_V3" && sev.Score != "" {
			return scoreFromVector(sev.Score), sev.Score
		}
	}
	if raw, ok := entry.DatabaseSpecific["cvss_score"]; ok {
		switch v := raw.(type) {
		case float64:
			return v, ""
		case string:
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return f, ""
			}
		}
	}
	return 0, ""
}

// scoreFromVector derives an approximate base score from a CVSS v3 vector.
// OSV does not ship numeric scores, so impact and exploitability metrics
// are bucketed into the standard qualitative bands.
func scoreFromVector(vector string) float64 {
	metrics := make(map[string]string)
	for _, part := range strings.Split(vector, "/") {
		kv := strings.SplitN(part, ":", 2)
		if len(kv) == 2 {
			metrics[kv[0]] = kv[1]
		}
	}

	score := 0.0
	for _, m := range []string{"C", "I", "A"} {
		switch metrics[m] {
		case "H":
			score += 2.6
		case "L":
			score += 1.3
		}
	}
	if metrics["AV"] == "N" {
		score += 1.5
	}
	if metrics["PR"] == "N" {
		score += 0.7
	}
	return domain.ClampScore(score)
}

func severityLabel(entry vulnEntry, score float64) string {
	if raw, ok := entry.DatabaseSpecific["severity"]; ok {
		if s, ok := raw.(string); ok {
			if label := domain.NormalizeSeverity(s); label != domain.SeverityUnknown {
				return label
			}
		}
	}
	return domain.SeverityFromScore(score)
}

// affectedProducts renders each affected package as "name <fixed" (or just
// the name when no fix exists), with fixed picked as the highest fixed
// version across ranges.
func affectedProducts(affected []affectedEntry) []string {
	seen := make(map[string]bool)
	var out []string
	for _, aff := range affected {
		if aff.Package.Name == "" {
			continue
		}
		label := aff.Package.Name
		if fixed := highestFixed(aff.Ranges); fixed != "" {
			label += " <" + fixed
		}
		if !seen[label] {
			seen[label] = true
			out = append(out, label)
		}
	}
	return out
}

func highestFixed(ranges []rangeEntry) string {
	var best *version.Version
	bestRaw := ""
	for _, r := range ranges {
		for _, ev := range r.Events {
			if ev.Fixed == "" {
				continue
			}
			v, err := version.NewVersion(ev.Fixed)
			if err != nil {
				if bestRaw == "" {
					bestRaw = ev.Fixed
				}
				continue
			}
			if best == nil || v.GreaterThan(best) {
				best = v
				bestRaw = ev.Fixed
			}
		}
	}
	return bestRaw
}

var _ ports.SourceAdapter = (*Adapter)(nil)
