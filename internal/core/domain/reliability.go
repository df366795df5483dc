package domain

import "time"

// SubScores are the seven weighted components of a source's dynamic
// reliability score. All values are in [0,1].
type SubScores struct {
	Accuracy     float64 `json:"accuracy"`
	Completeness float64 `json:"completeness"`
	Freshness    float64 `json:"freshness"`
	Consistency  float64 `json:"consistency"`
	Performance  float64 `json:"performance"`
	Availability float64 `json:"availability"`
	Metadata     float64 `json:"metadata"`
}

// ReliabilityMetrics is the scoring state for one source. FinalScore blends
// the static prior with the dynamic score: weighted toward the prior until
// enough samples accumulate, then increasingly toward the dynamic score.
type ReliabilityMetrics struct {
	Source       string    `json:"source"`
	BaseScore    float64   `json:"base_score"`    // static prior, seeded at startup
	DynamicScore float64   `json:"dynamic_score"` // weighted sum of sub-scores
	FinalScore   float64   `json:"final_score"`   // blended, always in [0,1]
	SampleCount  int       `json:"sample_count"`
	SubScores    SubScores `json:"sub_scores"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PerformanceSample is one observation of a source's behavior, recorded on
// every discovery and health event.
type PerformanceSample struct {
	Source      string        `json:"source"`
	Timestamp   time.Time     `json:"timestamp"`
	Latency     time.Duration `json:"latency_ns"`
	Success     bool          `json:"success"`
	RecordCount int           `json:"record_count"`
	Conflicts   int           `json:"conflicts"`
	Duplicates  int           `json:"duplicates"`
}
