package domain

import "time"

// SourceHealth is a per-source health snapshot maintained by the discovery
// orchestrator. Updated after every health check and discovery attempt.
type SourceHealth struct {
	Source      string        `json:"source"`
	Healthy     bool          `json:"healthy"`
	Latency     time.Duration `json:"latency_ns"`
	SuccessRate float64       `json:"success_rate"` // rolling, 0-1
	LastError   string        `json:"last_error,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
}

// RateLimitStatus reports the state of a source's token bucket.
type RateLimitStatus struct {
	Service   string  `json:"service"`
	Capacity  float64 `json:"capacity"`
	Remaining float64 `json:"remaining"`
}

// SourceCapabilities are the static capability flags every adapter exposes.
type SourceCapabilities struct {
	SupportsHistoricalData  bool `json:"supports_historical_data"`
	SupportsRealtimeUpdates bool `json:"supports_realtime_updates"`
	RequiresSearchTerms     bool `json:"requires_search_terms,omitempty"`
	MaxTimeframeYears       int  `json:"max_timeframe_years"`
}

// SourceInfo is the public description of a registered adapter.
type SourceInfo struct {
	Name         string             `json:"name"`
	Enabled      bool               `json:"enabled"`
	Prior        float64            `json:"reliability_prior"`
	Capabilities SourceCapabilities `json:"capabilities"`
	RateLimit    RateLimitStatus    `json:"rate_limit"`
}
