package domain

import "time"

// DiscoveryOptions describes one discovery request as issued by a caller.
// Either TimeframeYears or an explicit StartDate/EndDate pair bounds the
// search window.
type DiscoveryOptions struct {
	TimeframeYears  int       `json:"timeframe_years,omitempty"`
	StartDate       time.Time `json:"start_date,omitempty"`
	EndDate         time.Time `json:"end_date,omitempty"`
	Severities      []string  `json:"severities,omitempty"`
	Keywords        []string  `json:"keywords,omitempty"`
	Technologies    []string  `json:"technologies,omitempty"`
	MaxPerSource    int       `json:"max_per_source,omitempty"`
	PrioritySources []string  `json:"priority_sources,omitempty"`
}

// Window resolves the effective search window. Explicit dates win over the
// timeframe; with neither set it defaults to one year back from now.
func (o DiscoveryOptions) Window(now time.Time) (time.Time, time.Time) {
	if !o.StartDate.IsZero() {
		end := o.EndDate
		if end.IsZero() {
			end = now
		}
		return o.StartDate, end
	}
	years := o.TimeframeYears
	if years <= 0 {
		years = 1
	}
	return now.AddDate(-years, 0, 0), now
}

// SourceError describes one source's failure during a discovery run.
type SourceError struct {
	Source     string    `json:"source"`
	Message    string    `json:"message"`
	Retryable  bool      `json:"retryable"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DiscoveryResult is the combined output of one orchestrated discovery run.
type DiscoveryResult struct {
	RunID           string               `json:"run_id"`
	Records         []EnrichedRecord     `json:"records"`
	PerSourceCounts map[string]int       `json:"per_source_counts"`
	Health          []SourceHealth       `json:"source_health"`
	Report          ReconciliationReport `json:"reconciliation_report"`
	Errors          []SourceError        `json:"errors,omitempty"`
}

// RecordFilter narrows stored-record queries.
type RecordFilter struct {
	Severity  string  `json:"severity,omitempty"`
	MinScore  float64 `json:"min_score,omitempty"`
	Source    string  `json:"source,omitempty"`
	Search    string  `json:"search,omitempty"`
	MinLab    float64 `json:"min_lab_score,omitempty"`
	Limit     int     `json:"limit,omitempty"`
	SinceDays int     `json:"since_days,omitempty"`
}
