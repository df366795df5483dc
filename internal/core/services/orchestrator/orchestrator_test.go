package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/cvemap/internal/core/domain"
	"github.com/lcalzada-xor/cvemap/internal/core/ports"
	"github.com/lcalzada-xor/cvemap/internal/core/services/reconcile"
	"github.com/lcalzada-xor/cvemap/internal/core/services/reliability"
)

// fakeAdapter is a scriptable in-memory source.
type fakeAdapter struct {
	name          string
	records       []domain.RawRecord
	healthErr     error
	discoverErr   error
	partial       bool // return records alongside discoverErr
	discoverCalls atomic.Int64
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) CheckHealth(ctx context.Context) error { return f.healthErr }

func (f *fakeAdapter) Discover(ctx context.Context, opts domain.DiscoveryOptions) ([]domain.RawRecord, error) {
	f.discoverCalls.Add(1)
	if f.discoverErr != nil {
		if f.partial {
			return f.records, f.discoverErr
		}
		return nil, f.discoverErr
	}
	return f.records, nil
}

func (f *fakeAdapter) GetDetails(ctx context.Context, id string) (*domain.RawRecord, error) {
	return nil, nil
}

func (f *fakeAdapter) RateLimitStatus() domain.RateLimitStatus {
	return domain.RateLimitStatus{Service: f.name, Capacity: 5, Remaining: 5}
}

func (f *fakeAdapter) Capabilities() domain.SourceCapabilities {
	return domain.SourceCapabilities{SupportsHistoricalData: true, MaxTimeframeYears: 10}
}

func (f *fakeAdapter) ReliabilityPrior() float64 { return 0.8 }

var _ ports.SourceAdapter = (*fakeAdapter)(nil)

// notifierEvents captures progress callbacks.
type notifierEvents struct {
	started  atomic.Int64
	finished atomic.Int64
}

func (n *notifierEvents) SourceStarted(runID, source string) { n.started.Add(1) }
func (n *notifierEvents) SourceFinished(runID, source string, records int, err error) {
	n.finished.Add(1)
}

func newTestOrchestrator(adapters ...ports.SourceAdapter) (*Orchestrator, *reliability.Service) {
	mockClock := clock.NewMockClock()
	rel := reliability.New(mockClock, reliability.DefaultConfig())
	for _, a := range adapters {
		rel.RegisterSource(a.Name(), a.ReliabilityPrior(), 0.5)
	}
	engine := reconcile.NewEngine(rel, rel)
	return New(mockClock, DefaultConfig(), adapters, rel, engine), rel
}

func rawRecord(id, source string) domain.RawRecord {
	return domain.RawRecord{
		CVEID: id, Source: source, Description: "desc", Severity: "high",
		Score: 7.5, Published: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestDiscoverAllMergesSources(t *testing.T) {
	a := &fakeAdapter{name: "nvd", records: []domain.RawRecord{
		rawRecord("CVE-2024-0001", "nvd"), rawRecord("CVE-2024-0002", "nvd"),
	}}
	b := &fakeAdapter{name: "osv", records: []domain.RawRecord{
		rawRecord("CVE-2024-0001", "osv"),
	}}
	o, _ := newTestOrchestrator(a, b)

	result, err := o.DiscoverAll(context.Background(), domain.DiscoveryOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 2, result.PerSourceCounts["nvd"])
	assert.Equal(t, 1, result.PerSourceCounts["osv"])
	assert.Equal(t, 3, result.Report.TotalRaw)

	// The shared CVE collapses into one enriched record with both sources.
	require.Len(t, result.Records, 2)
	for _, rec := range result.Records {
		if rec.Fingerprint == "CVE-2024-0001" {
			assert.ElementsMatch(t, []string{"nvd", "osv"}, rec.Sources)
		}
	}
}

func TestDiscoverAllIsolatesFailures(t *testing.T) {
	good := &fakeAdapter{name: "nvd", records: []domain.RawRecord{rawRecord("CVE-2024-0001", "nvd")}}
	bad := &fakeAdapter{name: "osv", discoverErr: errors.New("connection refused")}
	o, _ := newTestOrchestrator(good, bad)

	result, err := o.DiscoverAll(context.Background(), domain.DiscoveryOptions{})
	require.NoError(t, err, "one failing source must not fail the run")

	require.Len(t, result.Errors, 1)
	assert.Equal(t, "osv", result.Errors[0].Source)
	assert.True(t, result.Errors[0].Retryable)
	assert.Len(t, result.Records, 1)
}

func TestDiscoverAllNonRetryableErrorTag(t *testing.T) {
	good := &fakeAdapter{name: "nvd", records: []domain.RawRecord{rawRecord("CVE-2024-0001", "nvd")}}
	bad := &fakeAdapter{name: "osv", discoverErr: errors.New("unexpected status 404 from https://x")}
	o, _ := newTestOrchestrator(good, bad)

	result, err := o.DiscoverAll(context.Background(), domain.DiscoveryOptions{})
	require.NoError(t, err)

	require.Len(t, result.Errors, 1)
	assert.False(t, result.Errors[0].Retryable)
}

func TestDiscoverAllFailsWhenAllSourcesFail(t *testing.T) {
	a := &fakeAdapter{name: "nvd", discoverErr: errors.New("timeout")}
	b := &fakeAdapter{name: "osv", discoverErr: errors.New("unavailable")}
	o, _ := newTestOrchestrator(a, b)

	result, err := o.DiscoverAll(context.Background(), domain.DiscoveryOptions{})
	assert.ErrorIs(t, err, ErrAllSourcesFailed)
	require.NotNil(t, result, "the partial result still carries the error details")
	assert.Len(t, result.Errors, 2)
	assert.Empty(t, result.Records)
}

func TestDiscoverAllSkipsUnhealthySources(t *testing.T) {
	healthy := &fakeAdapter{name: "nvd", records: []domain.RawRecord{rawRecord("CVE-2024-0001", "nvd")}}
	unhealthy := &fakeAdapter{name: "osv", healthErr: errors.New("service down")}
	o, _ := newTestOrchestrator(healthy, unhealthy)

	result, err := o.DiscoverAll(context.Background(), domain.DiscoveryOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(0), unhealthy.discoverCalls.Load())
	assert.Equal(t, int64(1), healthy.discoverCalls.Load())
	assert.NotContains(t, result.PerSourceCounts, "osv")
}

func TestDiscoverAllUsesCache(t *testing.T) {
	a := &fakeAdapter{name: "nvd", records: []domain.RawRecord{rawRecord("CVE-2024-0001", "nvd")}}
	o, _ := newTestOrchestrator(a)

	opts := domain.DiscoveryOptions{TimeframeYears: 1}
	_, err := o.DiscoverAll(context.Background(), opts)
	require.NoError(t, err)
	_, err = o.DiscoverAll(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, int64(1), a.discoverCalls.Load(), "second run should be served from cache")

	// Different options miss the cache.
	_, err = o.DiscoverAll(context.Background(), domain.DiscoveryOptions{TimeframeYears: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), a.discoverCalls.Load())
}

func TestDiscoverAllDoesNotCachePartialResults(t *testing.T) {
	a := &fakeAdapter{name: "nvd", partial: true,
		records:     []domain.RawRecord{rawRecord("CVE-2024-0001", "nvd")},
		discoverErr: context.DeadlineExceeded}
	o, _ := newTestOrchestrator(a)

	opts := domain.DiscoveryOptions{TimeframeYears: 1}
	result, err := o.DiscoverAll(context.Background(), opts)
	require.NoError(t, err)
	assert.Len(t, result.Records, 1, "partial records are still returned")

	_, err = o.DiscoverAll(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, int64(2), a.discoverCalls.Load(), "a truncated result must not be served from cache")
}

func TestDiscoverAllFeedsDuplicatesIntoReliability(t *testing.T) {
	a := &fakeAdapter{name: "nvd", records: []domain.RawRecord{rawRecord("CVE-2024-0001", "nvd")}}
	b := &fakeAdapter{name: "osv", records: []domain.RawRecord{rawRecord("CVE-2024-0001", "osv")}}
	c := &fakeAdapter{name: "cisa-kev", records: []domain.RawRecord{rawRecord("CVE-2024-0002", "cisa-kev")}}
	o, rel := newTestOrchestrator(a, b, c)

	_, err := o.DiscoverAll(context.Background(), domain.DiscoveryOptions{})
	require.NoError(t, err)

	completeness := make(map[string]float64)
	for _, m := range rel.Metrics() {
		completeness[m.Source] = m.SubScores.Completeness
	}

	// nvd and osv only contributed a record the other also supplied, so
	// their unique-contribution share collapses and only the metadata
	// richness term (0.5 * 0.3) remains.
	assert.InDelta(t, 0.15, completeness["nvd"], 0.001)
	assert.InDelta(t, 0.15, completeness["osv"], 0.001)
	// cisa-kev's record was unique, so it keeps the full contribution term.
	assert.InDelta(t, 0.85, completeness["cisa-kev"], 0.001)
}

// sampleLog captures persisted performance samples.
type sampleLog struct {
	mu      sync.Mutex
	samples []domain.PerformanceSample
}

func (s *sampleLog) SaveSample(ctx context.Context, sample domain.PerformanceSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sample)
	return nil
}

func TestDiscoverAllPersistsSamples(t *testing.T) {
	a := &fakeAdapter{name: "nvd", records: []domain.RawRecord{rawRecord("CVE-2024-0001", "nvd")}}
	conflicting := rawRecord("CVE-2024-0001", "osv")
	conflicting.Score = 9.1
	b := &fakeAdapter{name: "osv", records: []domain.RawRecord{conflicting}}
	o, _ := newTestOrchestrator(a, b)

	sink := &sampleLog{}
	o.SetSampleStore(sink)

	_, err := o.DiscoverAll(context.Background(), domain.DiscoveryOptions{})
	require.NoError(t, err)

	sink.mu.Lock()
	defer sink.mu.Unlock()

	attempts := make(map[string]domain.PerformanceSample)
	for _, s := range sink.samples {
		assert.False(t, s.Timestamp.IsZero(), "persisted samples carry a timestamp")
		if s.RecordCount > 0 {
			attempts[s.Source] = s
		}
	}
	require.Len(t, attempts, 2)
	for name, s := range attempts {
		assert.Equal(t, 1, s.Duplicates, name)
		assert.Equal(t, 1, s.Conflicts, "the score disagreement counts against both parties: %s", name)
		assert.True(t, s.Success, name)
	}
}

func TestDiscoverAllNotifiesProgress(t *testing.T) {
	a := &fakeAdapter{name: "nvd", records: []domain.RawRecord{rawRecord("CVE-2024-0001", "nvd")}}
	b := &fakeAdapter{name: "osv", discoverErr: errors.New("boom")}
	o, _ := newTestOrchestrator(a, b)

	events := &notifierEvents{}
	o.SetNotifier(events)

	_, _ = o.DiscoverAll(context.Background(), domain.DiscoveryOptions{})
	assert.Equal(t, int64(2), events.started.Load())
	assert.Equal(t, int64(2), events.finished.Load())
}

func TestSetEnabledExcludesAdapter(t *testing.T) {
	a := &fakeAdapter{name: "nvd", records: []domain.RawRecord{rawRecord("CVE-2024-0001", "nvd")}}
	b := &fakeAdapter{name: "osv", records: []domain.RawRecord{rawRecord("CVE-2024-0002", "osv")}}
	o, _ := newTestOrchestrator(a, b)

	o.SetEnabled("osv", false)
	result, err := o.DiscoverAll(context.Background(), domain.DiscoveryOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(0), b.discoverCalls.Load())
	assert.NotContains(t, result.PerSourceCounts, "osv")

	infos := o.Sources()
	require.Len(t, infos, 2)
	for _, info := range infos {
		if info.Name == "osv" {
			assert.False(t, info.Enabled)
		}
	}
}

func TestPrioritizeHonorsCallerOrder(t *testing.T) {
	a := &fakeAdapter{name: "nvd"}
	b := &fakeAdapter{name: "osv"}
	c := &fakeAdapter{name: "cisa-kev"}
	o, _ := newTestOrchestrator(a, b, c)

	ordered := o.prioritize([]ports.SourceAdapter{a, b, c}, []string{"cisa-kev", "osv"})
	require.Len(t, ordered, 3)
	assert.Equal(t, "cisa-kev", ordered[0].Name())
	assert.Equal(t, "osv", ordered[1].Name())
	assert.Equal(t, "nvd", ordered[2].Name())
}

func TestSourceHealthSnapshot(t *testing.T) {
	a := &fakeAdapter{name: "nvd"}
	b := &fakeAdapter{name: "osv", healthErr: errors.New("down")}
	o, _ := newTestOrchestrator(a, b)

	_, _ = o.DiscoverAll(context.Background(), domain.DiscoveryOptions{})

	health := o.SourceHealth()
	require.Len(t, health, 2)
	assert.Equal(t, "nvd", health[0].Source)
	assert.True(t, health[0].Healthy)
	assert.Equal(t, "osv", health[1].Source)
	assert.False(t, health[1].Healthy)
	assert.Equal(t, "down", health[1].LastError)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.DeadlineExceeded, true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("request timed out"), true},
		{errors.New("rate limit exceeded"), true},
		{errors.New("unexpected status 503 from x"), true},
		{errors.New("circuit breaker open"), true},
		{errors.New("unexpected status 404 from x"), false},
		{errors.New("invalid payload"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isRetryable(tt.err), "%v", tt.err)
	}
}
