package ports

import (
	"context"
	"time"

	"github.com/lcalzada-xor/cvemap/internal/core/domain"
)

// SourceAdapter is the uniform discovery contract implemented by one
// concrete type per external vulnerability source. The orchestrator only
// ever sees this interface, never source-specific types.
type SourceAdapter interface {
	Name() string

	// CheckHealth probes the source. A nil error marks the source healthy.
	CheckHealth(ctx context.Context) error

	// Discover returns raw records matching the options. Adapters apply
	// the timeframe, severity, technology and keyword filters server-side
	// where the source supports it, client-side otherwise, and cap the
	// result count to bound memory.
	Discover(ctx context.Context, opts domain.DiscoveryOptions) ([]domain.RawRecord, error)

	// GetDetails fetches one record by canonical identifier. Returns
	// (nil, nil) when the source does not know the identifier.
	GetDetails(ctx context.Context, id string) (*domain.RawRecord, error)

	RateLimitStatus() domain.RateLimitStatus
	Capabilities() domain.SourceCapabilities
	ReliabilityPrior() float64
}

// ReliabilityScorer exposes the blended reliability score the
// reconciliation engine weights votes with.
type ReliabilityScorer interface {
	Score(source string) float64
}

// AgreementRecorder receives cross-source validation outcomes, feeding the
// accuracy sub-score.
type AgreementRecorder interface {
	RecordAgreement(source string, agreed bool)
}

// RecordStore persists enriched records across discovery runs. Upsert
// merges by fingerprint with prefer-newer / union-arrays / max-score rules,
// a deliberately simpler policy than cross-source reconciliation.
type RecordStore interface {
	UpsertRecords(ctx context.Context, records []domain.EnrichedRecord) error
	GetRecord(ctx context.Context, fingerprint string) (*domain.EnrichedRecord, error)
	GetRecords(ctx context.Context, filter domain.RecordFilter) ([]domain.EnrichedRecord, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// ReliabilityStore persists performance samples and computed metrics so
// reliability history survives restarts.
type ReliabilityStore interface {
	SaveSample(ctx context.Context, sample domain.PerformanceSample) error
	RecentSamples(ctx context.Context, source string, limit int) ([]domain.PerformanceSample, error)
	SaveMetrics(ctx context.Context, metrics domain.ReliabilityMetrics) error
	LoadMetrics(ctx context.Context) ([]domain.ReliabilityMetrics, error)
	Prune(ctx context.Context, olderThan time.Duration) error
	Close() error
}

// DiscoveryService is the surface the web layer calls into.
type DiscoveryService interface {
	DiscoverAll(ctx context.Context, opts domain.DiscoveryOptions) (*domain.DiscoveryResult, error)
	SourceHealth() []domain.SourceHealth
	Sources() []domain.SourceInfo
}

// ProgressNotifier receives per-source discovery progress events, typically
// bridged to connected WebSocket clients.
type ProgressNotifier interface {
	SourceStarted(runID, source string)
	SourceFinished(runID, source string, records int, err error)
}
