package reliability

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/WatchBeam/clock"

	"github.com/lcalzada-xor/cvemap/internal/core/domain"
)

// Weights distribute the dynamic score across the seven sub-scores. They
// should sum to 1.
type Weights struct {
	Accuracy     float64
	Completeness float64
	Freshness    float64
	Consistency  float64
	Performance  float64
	Availability float64
	Metadata     float64
}

// DefaultWeights mirror the configured defaults: accuracy 25%,
// completeness 20%, freshness 15%, consistency 15%, performance 10%,
// availability 10%, metadata 5%.
var DefaultWeights = Weights{
	Accuracy:     0.25,
	Completeness: 0.20,
	Freshness:    0.15,
	Consistency:  0.15,
	Performance:  0.10,
	Availability: 0.10,
	Metadata:     0.05,
}

// Config tunes the scoring service.
type Config struct {
	Weights      Weights
	MinSamples   int           // below this, the final score leans on the static prior
	PriorFloor   float64       // minimum prior weight once MinSamples is reached
	MaxLatency   time.Duration // latency ceiling for performance normalization
	HistoryLimit int           // samples retained per source
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Weights:      DefaultWeights,
		MinSamples:   10,
		PriorFloor:   0.2,
		MaxLatency:   30 * time.Second,
		HistoryLimit: 200,
	}
}

type sourceState struct {
	prior        float64
	metaRichness float64
	samples      []domain.PerformanceSample
	agreements   int
	validations  int
	metrics      domain.ReliabilityMetrics
}

// Service maintains one ReliabilityMetrics record per known source,
// blending a hand-picked static prior with a dynamic score computed from
// recent history. Safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	clock   clock.Clock
	cfg     Config
	sources map[string]*sourceState
}

// New creates a scoring service.
func New(clk clock.Clock, cfg Config) *Service {
	if clk == nil {
		clk = clock.C
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultConfig().MinSamples
	}
	if cfg.MaxLatency <= 0 {
		cfg.MaxLatency = DefaultConfig().MaxLatency
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultConfig().HistoryLimit
	}
	if cfg.PriorFloor <= 0 {
		cfg.PriorFloor = DefaultConfig().PriorFloor
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights
	}
	return &Service{clock: clk, cfg: cfg, sources: make(map[string]*sourceState)}
}

// RegisterSource seeds a source with its static prior and a static
// metadata-richness estimate. Idempotent.
func (s *Service) RegisterSource(name string, prior, metadataRichness float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sources[name]; ok {
		return
	}
	st := &sourceState{prior: clamp01(prior), metaRichness: clamp01(metadataRichness)}
	st.metrics = domain.ReliabilityMetrics{
		Source:     name,
		BaseScore:  st.prior,
		FinalScore: st.prior,
		UpdatedAt:  s.clock.Now(),
	}
	s.sources[name] = st
}

// Restore replaces a source's metrics with persisted state, typically at
// startup. The source must already be registered.
func (s *Service) Restore(metrics domain.ReliabilityMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sources[metrics.Source]
	if !ok {
		return
	}
	metrics.BaseScore = st.prior
	st.metrics = metrics
}

// RecordSample stores one performance observation and recomputes the
// source's score.
func (s *Service) RecordSample(sample domain.PerformanceSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sources[sample.Source]
	if !ok {
		return
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = s.clock.Now()
	}
	st.samples = append(st.samples, sample)
	if len(st.samples) > s.cfg.HistoryLimit {
		st.samples = st.samples[len(st.samples)-s.cfg.HistoryLimit:]
	}
	s.recompute(st)
}

// RecordAgreement feeds one cross-source validation outcome into the
// accuracy sub-score. Called by the reconciliation engine for every
// reconcilable field of every multi-source group.
func (s *Service) RecordAgreement(source string, agreed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sources[source]
	if !ok {
		return
	}
	st.validations++
	if agreed {
		st.agreements++
	}
	s.recompute(st)
}

// Score returns the blended reliability score for a source, or 0.5 for an
// unknown source.
func (s *Service) Score(source string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sources[source]
	if !ok {
		return 0.5
	}
	return st.metrics.FinalScore
}

// Metrics returns a snapshot of every source's metrics, sorted by name.
func (s *Service) Metrics() []domain.ReliabilityMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ReliabilityMetrics, 0, len(s.sources))
	for _, st := range s.sources {
		out = append(out, st.metrics)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// recompute derives the seven sub-scores from recent history and reblends
// the final score. Caller holds the lock.
func (s *Service) recompute(st *sourceState) {
	now := s.clock.Now()
	sub := domain.SubScores{
		Accuracy:     s.accuracy(st),
		Completeness: s.completeness(st),
		Freshness:    s.freshness(st, now),
		Consistency:  s.consistency(st),
		Performance:  s.performance(st),
		Availability: s.availability(st),
		Metadata:     st.metaRichness,
	}

	w := s.cfg.Weights
	dynamic := sub.Accuracy*w.Accuracy +
		sub.Completeness*w.Completeness +
		sub.Freshness*w.Freshness +
		sub.Consistency*w.Consistency +
		sub.Performance*w.Performance +
		sub.Availability*w.Availability +
		sub.Metadata*w.Metadata

	n := len(st.samples)
	priorWeight := s.cfg.PriorFloor
	if n < s.cfg.MinSamples {
		// Linear ramp from full prior weight at zero samples down to
		// the floor at MinSamples.
		priorWeight = 1 - float64(n)/float64(s.cfg.MinSamples)*(1-s.cfg.PriorFloor)
	}

	st.metrics.DynamicScore = clamp01(dynamic)
	st.metrics.FinalScore = clamp01(priorWeight*st.prior + (1-priorWeight)*st.metrics.DynamicScore)
	st.metrics.SampleCount = n
	st.metrics.SubScores = sub
	st.metrics.UpdatedAt = now
}

// accuracy is the recent cross-source validation agreement rate. Neutral
// until the source has been validated at least once.
func (s *Service) accuracy(st *sourceState) float64 {
	if st.validations == 0 {
		return 0.75
	}
	return float64(st.agreements) / float64(st.validations)
}

// completeness blends the unique-to-total contribution ratio with the
// source's metadata richness.
func (s *Service) completeness(st *sourceState) float64 {
	var records, duplicates int
	for _, sm := range st.samples {
		records += sm.RecordCount
		duplicates += sm.Duplicates
	}
	unique := 1.0
	if records > 0 {
		unique = 1 - float64(duplicates)/float64(records)
	}
	return clamp01(unique*0.7 + st.metaRichness*0.3)
}

// freshness gives full credit to sources seen successfully within the last
// hour, degrading linearly to a floor past 72 hours.
func (s *Service) freshness(st *sourceState, now time.Time) float64 {
	var last time.Time
	for _, sm := range st.samples {
		if sm.Success && sm.Timestamp.After(last) {
			last = sm.Timestamp
		}
	}
	if last.IsZero() {
		return 0.5
	}
	age := now.Sub(last)
	const floor = 0.2
	switch {
	case age <= time.Hour:
		return 1.0
	case age >= 72*time.Hour:
		return floor
	default:
		frac := float64(age-time.Hour) / float64(71*time.Hour)
		return 1.0 - frac*(1.0-floor)
	}
}

// consistency rewards stable latencies and stable success outcomes.
func (s *Service) consistency(st *sourceState) float64 {
	if len(st.samples) < 2 {
		return 0.8
	}

	var sum, sumSq float64
	successes := 0
	for _, sm := range st.samples {
		sec := sm.Latency.Seconds()
		sum += sec
		sumSq += sec * sec
		if sm.Success {
			successes++
		}
	}
	n := float64(len(st.samples))
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	latencyStability := 1 / (1 + math.Sqrt(variance))

	// Bernoulli variance p(1-p) peaks at 0.25 for a coin-flip source.
	p := float64(successes) / n
	outcomeStability := 1 - 4*p*(1-p)

	return clamp01(latencyStability*0.6 + outcomeStability*0.4)
}

// performance blends normalized average latency with success rate.
func (s *Service) performance(st *sourceState) float64 {
	if len(st.samples) == 0 {
		return 0.5
	}
	var totalLatency time.Duration
	successes := 0
	for _, sm := range st.samples {
		totalLatency += sm.Latency
		if sm.Success {
			successes++
		}
	}
	n := float64(len(st.samples))
	avg := time.Duration(float64(totalLatency) / n)
	latencyScore := 1 - clamp01(float64(avg)/float64(s.cfg.MaxLatency))
	successRate := float64(successes) / n
	return clamp01(latencyScore*0.5 + successRate*0.5)
}

// availability is the rolling success rate across all recorded events.
func (s *Service) availability(st *sourceState) float64 {
	if len(st.samples) == 0 {
		return 0.5
	}
	successes := 0
	for _, sm := range st.samples {
		if sm.Success {
			successes++
		}
	}
	return float64(successes) / float64(len(st.samples))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
