package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/google/uuid"

	"github.com/lcalzada-xor/cvemap/internal/core/domain"
	"github.com/lcalzada-xor/cvemap/internal/core/ports"
	"github.com/lcalzada-xor/cvemap/internal/core/services/reconcile"
	"github.com/lcalzada-xor/cvemap/internal/core/services/reliability"
	"github.com/lcalzada-xor/cvemap/internal/telemetry"
)

// ErrAllSourcesFailed is returned only when every adapter failed; partial
// source outages still produce a result.
var ErrAllSourcesFailed = errors.New("all sources failed")

// retryablePattern classifies per-source errors: timeout, network,
// rate-limit, 5xx and circuit-open failures are worth retrying later.
var retryablePattern = regexp.MustCompile(`(?i)timeout|timed out|deadline|connection|network|unreachable|temporar|rate limit|too many requests|429|5\d\d|unavailable|circuit`)

// Config tunes the orchestrator.
type Config struct {
	HealthTimeout   time.Duration
	DiscoverTimeout time.Duration
	CacheTTL        time.Duration
	CacheSize       int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		HealthTimeout:   10 * time.Second,
		DiscoverTimeout: 2 * time.Minute,
		CacheTTL:        30 * time.Minute,
		CacheSize:       64,
	}
}

type adapterEntry struct {
	adapter ports.SourceAdapter
	enabled bool
}

// SampleStore receives every performance sample for persistence.
type SampleStore interface {
	SaveSample(ctx context.Context, sample domain.PerformanceSample) error
}

// sourceResult is one adapter's outcome within a run.
type sourceResult struct {
	source  string
	records []domain.RawRecord
	latency time.Duration
	cached  bool
	success bool
	err     error
}

// Orchestrator fans discovery requests out to all healthy, enabled adapters
// in parallel and hands the combined raw set to reconciliation. It owns its
// adapter list, cache and health map; no process-wide registry.
type Orchestrator struct {
	cfg         Config
	clock       clock.Clock
	adapters    []adapterEntry
	reliability *reliability.Service
	engine      *reconcile.Engine
	cache       *resultCache
	notifier    ports.ProgressNotifier // optional
	samples     SampleStore            // optional

	mu      sync.Mutex
	health  map[string]*domain.SourceHealth
	outcome map[string]*rollingOutcome
}

// rollingOutcome tracks a source's recent success history for the
// prioritization sort.
type rollingOutcome struct {
	attempts  int
	successes int
}

func (r *rollingOutcome) rate() float64 {
	if r.attempts == 0 {
		return 0.5
	}
	return float64(r.successes) / float64(r.attempts)
}

// New creates an orchestrator over the given adapters.
func New(clk clock.Clock, cfg Config, adapters []ports.SourceAdapter, rel *reliability.Service, engine *reconcile.Engine) *Orchestrator {
	if clk == nil {
		clk = clock.C
	}
	def := DefaultConfig()
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = def.HealthTimeout
	}
	if cfg.DiscoverTimeout <= 0 {
		cfg.DiscoverTimeout = def.DiscoverTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}

	o := &Orchestrator{
		cfg:         cfg,
		clock:       clk,
		reliability: rel,
		engine:      engine,
		cache:       newResultCache(clk, cfg.CacheTTL, cfg.CacheSize),
		health:      make(map[string]*domain.SourceHealth),
		outcome:     make(map[string]*rollingOutcome),
	}
	for _, a := range adapters {
		o.adapters = append(o.adapters, adapterEntry{adapter: a, enabled: true})
		o.health[a.Name()] = &domain.SourceHealth{Source: a.Name()}
		o.outcome[a.Name()] = &rollingOutcome{}
	}
	return o
}

// SetNotifier attaches a progress notifier. Must be called before the first
// discovery run.
func (o *Orchestrator) SetNotifier(n ports.ProgressNotifier) {
	o.notifier = n
}

// SetSampleStore attaches a store that receives every performance sample.
// Must be called before the first discovery run.
func (o *Orchestrator) SetSampleStore(s SampleStore) {
	o.samples = s
}

// SetEnabled toggles one adapter. Unknown names are ignored.
func (o *Orchestrator) SetEnabled(name string, enabled bool) {
	for i := range o.adapters {
		if o.adapters[i].adapter.Name() == name {
			o.adapters[i].enabled = enabled
		}
	}
}

// DiscoverAll runs one full discovery pass: parallel health checks,
// prioritization, parallel fan-out, reconciliation. A single source's
// failure never aborts the call; it fails only when every adapter failed.
// On context cancellation, in-flight adapters abandon retries and whatever
// was collected is still reconciled.
func (o *Orchestrator) DiscoverAll(ctx context.Context, opts domain.DiscoveryOptions) (*domain.DiscoveryResult, error) {
	runID := uuid.NewString()
	slog.Info("discovery run starting", "run_id", runID, "adapters", len(o.adapters))

	healthy := o.checkAll(ctx)
	prioritized := o.prioritize(healthy, opts.PrioritySources)

	results := make(chan sourceResult, len(prioritized))
	var wg sync.WaitGroup
	for _, adapter := range prioritized {
		wg.Add(1)
		go func(a ports.SourceAdapter) {
			defer wg.Done()
			results <- o.discoverOne(ctx, a, runID, opts)
		}(adapter)
	}
	wg.Wait()
	close(results)

	var collected []sourceResult
	var raws []domain.RawRecord
	counts := make(map[string]int)
	var srcErrors []domain.SourceError
	failed := 0
	for res := range results {
		collected = append(collected, res)
		if res.err != nil {
			failed++
			srcErrors = append(srcErrors, domain.SourceError{
				Source:     res.source,
				Message:    res.err.Error(),
				Retryable:  isRetryable(res.err),
				OccurredAt: o.clock.Now(),
			})
			telemetry.SourceErrors.WithLabelValues(res.source, strconv.FormatBool(isRetryable(res.err))).Inc()
			continue
		}
		counts[res.source] = len(res.records)
		raws = append(raws, res.records...)
		telemetry.RecordsDiscovered.WithLabelValues(res.source).Add(float64(len(res.records)))
	}
	sort.Slice(srcErrors, func(i, j int) bool { return srcErrors[i].Source < srcErrors[j].Source })

	enriched, report := o.engine.Reconcile(raws)
	telemetry.ConflictsDetected.Add(float64(len(report.Conflicts)))

	// Per-source duplicate and conflict counts only exist after
	// reconciliation, so the attempt samples are emitted here rather than
	// inside discoverOne. Cache hits never touched the source and carry no
	// sample.
	dups, confs := sourceContention(enriched)
	for _, res := range collected {
		if res.cached {
			continue
		}
		o.recordSample(domain.PerformanceSample{
			Source:      res.source,
			Latency:     res.latency,
			Success:     res.success,
			RecordCount: len(res.records),
			Duplicates:  dups[res.source],
			Conflicts:   confs[res.source],
		})
	}

	result := &domain.DiscoveryResult{
		RunID:           runID,
		Records:         enriched,
		PerSourceCounts: counts,
		Health:          o.SourceHealth(),
		Report:          report,
		Errors:          srcErrors,
	}

	if len(prioritized) > 0 && failed == len(prioritized) {
		slog.Warn("discovery run failed on all sources", "run_id", runID)
		return result, ErrAllSourcesFailed
	}
	slog.Info("discovery run finished", "run_id", runID,
		"raw", report.TotalRaw, "unique", report.UniqueRecords, "failed_sources", failed)
	return result, nil
}

// checkAll health-checks every enabled adapter in parallel. One hanging
// adapter is bounded by its own timeout, never by the others'.
func (o *Orchestrator) checkAll(ctx context.Context) []ports.SourceAdapter {
	var wg sync.WaitGroup
	healthyCh := make(chan ports.SourceAdapter, len(o.adapters))

	for _, entry := range o.adapters {
		if !entry.enabled {
			continue
		}
		wg.Add(1)
		go func(a ports.SourceAdapter) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, o.cfg.HealthTimeout)
			defer cancel()

			started := o.clock.Now()
			err := a.CheckHealth(checkCtx)
			latency := o.clock.Now().Sub(started)

			o.recordHealth(a.Name(), latency, err)
			if err == nil {
				healthyCh <- a
			} else {
				slog.Warn("source unhealthy", "source", a.Name(), "error", err)
			}
		}(entry.adapter)
	}
	wg.Wait()
	close(healthyCh)

	var healthy []ports.SourceAdapter
	for a := range healthyCh {
		healthy = append(healthy, a)
	}
	return healthy
}

// prioritize orders sources: caller-specified priorities first in given
// order, the remainder by descending historical success rate.
func (o *Orchestrator) prioritize(adapters []ports.SourceAdapter, priorities []string) []ports.SourceAdapter {
	byName := make(map[string]ports.SourceAdapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}

	var out []ports.SourceAdapter
	taken := make(map[string]bool)
	for _, name := range priorities {
		if a, ok := byName[name]; ok && !taken[name] {
			out = append(out, a)
			taken[name] = true
		}
	}

	var rest []ports.SourceAdapter
	for _, a := range adapters {
		if !taken[a.Name()] {
			rest = append(rest, a)
		}
	}
	o.mu.Lock()
	sort.SliceStable(rest, func(i, j int) bool {
		return o.outcome[rest[i].Name()].rate() > o.outcome[rest[j].Name()].rate()
	})
	o.mu.Unlock()

	return append(out, rest...)
}

// discoverOne runs one adapter's discovery, consulting the cache first.
func (o *Orchestrator) discoverOne(ctx context.Context, a ports.SourceAdapter, runID string, opts domain.DiscoveryOptions) sourceResult {
	name := a.Name()
	telemetry.DiscoveryRequests.WithLabelValues(name).Inc()

	key := cacheKey(name, opts)
	if records, ok := o.cache.get(key); ok {
		telemetry.CacheHits.Inc()
		slog.Debug("discovery cache hit", "source", name)
		return sourceResult{source: name, records: records, cached: true, success: true}
	}
	telemetry.CacheMisses.Inc()

	if o.notifier != nil {
		o.notifier.SourceStarted(runID, name)
	}

	discoverCtx, cancel := context.WithTimeout(ctx, o.cfg.DiscoverTimeout)
	defer cancel()

	started := o.clock.Now()
	records, err := a.Discover(discoverCtx, opts)
	latency := o.clock.Now().Sub(started)

	o.recordAttempt(name, err)
	if o.notifier != nil {
		o.notifier.SourceFinished(runID, name, len(records), err)
	}
	if err != nil {
		// Partial success: a cancelled adapter may still have collected
		// records before abandoning its retries. A truncated set must not
		// be cached, or the missing records stay missing for the TTL.
		if len(records) > 0 {
			return sourceResult{source: name, records: records, latency: latency}
		}
		return sourceResult{source: name, latency: latency, err: fmt.Errorf("source %s: %w", name, err)}
	}

	o.cache.put(key, records)
	return sourceResult{source: name, records: records, latency: latency, success: true}
}

// sourceContention derives, per source, how many of its records another
// source also supplied and how many field conflicts it was party to.
func sourceContention(records []domain.EnrichedRecord) (duplicates, conflicts map[string]int) {
	duplicates = make(map[string]int)
	conflicts = make(map[string]int)
	for _, rec := range records {
		if len(rec.Sources) > 1 {
			for _, src := range rec.Sources {
				duplicates[src]++
			}
		}
		for _, c := range rec.Conflicts {
			for src := range c.Values {
				conflicts[src]++
			}
		}
	}
	return duplicates, conflicts
}

// recordSample feeds one observation into the scoring service and, when a
// sample store is attached, persists it.
func (o *Orchestrator) recordSample(sample domain.PerformanceSample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = o.clock.Now()
	}
	if o.reliability != nil {
		o.reliability.RecordSample(sample)
	}
	if o.samples != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.samples.SaveSample(ctx, sample); err != nil {
			slog.Warn("failed to persist performance sample", "source", sample.Source, "error", err)
		}
	}
}

func (o *Orchestrator) recordHealth(name string, latency time.Duration, err error) {
	o.mu.Lock()
	h := o.health[name]
	h.Latency = latency
	h.LastChecked = o.clock.Now()
	h.Healthy = err == nil
	if err != nil {
		h.LastError = err.Error()
	} else {
		h.LastError = ""
	}
	oc := o.outcome[name]
	oc.attempts++
	if err == nil {
		oc.successes++
	}
	h.SuccessRate = oc.rate()
	o.mu.Unlock()

	o.recordSample(domain.PerformanceSample{
		Source:  name,
		Latency: latency,
		Success: err == nil,
	})
}

// recordAttempt updates health bookkeeping for one discovery call. The
// performance sample is emitted later, once reconciliation has produced the
// duplicate and conflict counts.
func (o *Orchestrator) recordAttempt(name string, err error) {
	o.mu.Lock()
	h := o.health[name]
	h.LastChecked = o.clock.Now()
	if err != nil {
		h.LastError = err.Error()
	}
	oc := o.outcome[name]
	oc.attempts++
	if err == nil {
		oc.successes++
	}
	h.SuccessRate = oc.rate()
	o.mu.Unlock()
}

// SourceHealth returns a snapshot of every registered source's health,
// sorted by name.
func (o *Orchestrator) SourceHealth() []domain.SourceHealth {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]domain.SourceHealth, 0, len(o.health))
	for _, h := range o.health {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Sources describes every registered adapter.
func (o *Orchestrator) Sources() []domain.SourceInfo {
	out := make([]domain.SourceInfo, 0, len(o.adapters))
	for _, e := range o.adapters {
		out = append(out, domain.SourceInfo{
			Name:         e.adapter.Name(),
			Enabled:      e.enabled,
			Prior:        e.adapter.ReliabilityPrior(),
			Capabilities: e.adapter.Capabilities(),
			RateLimit:    e.adapter.RateLimitStatus(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return retryablePattern.MatchString(err.Error())
}
