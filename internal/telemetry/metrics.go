package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// DiscoveryRequests counts discovery attempts per source, cache hits included
	DiscoveryRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cvemap",
			Name:      "discovery_requests_total",
			Help:      "Total number of discovery requests issued per source",
		},
		[]string{"source"},
	)

	// SourceErrors counts failed discovery attempts per source
	SourceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cvemap",
			Name:      "source_errors_total",
			Help:      "Total number of per-source discovery failures",
		},
		[]string{"source", "retryable"},
	)

	// RecordsDiscovered counts raw records returned per source
	RecordsDiscovered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cvemap",
			Name:      "records_discovered_total",
			Help:      "Total number of raw vulnerability records returned per source",
		},
		[]string{"source"},
	)

	// ConflictsDetected counts field conflicts found during reconciliation
	ConflictsDetected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cvemap",
			Name:      "conflicts_detected_total",
			Help:      "Total number of field-level conflicts detected during reconciliation",
		},
	)

	// CacheHits counts discovery cache hits
	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cvemap",
			Name:      "cache_hits_total",
			Help:      "Total number of discovery cache hits",
		},
	)

	// CacheMisses counts discovery cache misses
	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cvemap",
			Name:      "cache_misses_total",
			Help:      "Total number of discovery cache misses",
		},
	)

	// ReconciliationDuration observes wall-clock reconciliation time
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cvemap",
			Name:      "reconciliation_duration_seconds",
			Help:      "Wall-clock time spent reconciling one discovery run",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// Ensure metrics are only registered once
	once sync.Once
)

// InitMetrics registers all metrics with the global Prometheus registry
// This function is idempotent and can be called multiple times safely
func InitMetrics() {
	once.Do(func() {
		// Register metrics, ignoring errors if already registered
		// This prevents panics when metrics are already in the registry
		prometheus.DefaultRegisterer.Register(DiscoveryRequests)
		prometheus.DefaultRegisterer.Register(SourceErrors)
		prometheus.DefaultRegisterer.Register(RecordsDiscovered)
		prometheus.DefaultRegisterer.Register(ConflictsDetected)
		prometheus.DefaultRegisterer.Register(CacheHits)
		prometheus.DefaultRegisterer.Register(CacheMisses)
		prometheus.DefaultRegisterer.Register(ReconciliationDuration)
	})
}
