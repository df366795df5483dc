package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/cvemap/internal/core/domain"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSaveAndLoadSamples(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.SaveSample(ctx, domain.PerformanceSample{
			Source:      "nvd",
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
			Latency:     time.Duration(i+1) * time.Second,
			Success:     i != 1,
			RecordCount: 10 * i,
			Conflicts:   i,
			Duplicates:  i * 2,
		}))
	}
	require.NoError(t, repo.SaveSample(ctx, domain.PerformanceSample{
		Source: "osv", Timestamp: base, Latency: time.Second, Success: true,
	}))

	samples, err := repo.RecentSamples(ctx, "nvd", 10)
	require.NoError(t, err)
	require.Len(t, samples, 3)

	newest := samples[0]
	assert.Equal(t, "nvd", newest.Source)
	assert.Equal(t, 3*time.Second, newest.Latency)
	assert.True(t, newest.Success)
	assert.Equal(t, 20, newest.RecordCount)
	assert.Equal(t, 2, newest.Conflicts)
	assert.Equal(t, 4, newest.Duplicates)

	assert.False(t, samples[1].Success)
}

func TestRecentSamplesHonorsLimit(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.SaveSample(ctx, domain.PerformanceSample{
			Source: "nvd", Timestamp: time.Now().Add(time.Duration(i) * time.Second),
			Latency: time.Second, Success: true,
		}))
	}

	samples, err := repo.RecentSamples(ctx, "nvd", 2)
	require.NoError(t, err)
	assert.Len(t, samples, 2)
}

func TestSaveMetricsUpserts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	metrics := domain.ReliabilityMetrics{
		Source:       "nvd",
		BaseScore:    0.95,
		DynamicScore: 0.8,
		FinalScore:   0.83,
		SampleCount:  12,
		SubScores:    domain.SubScores{Availability: 0.9, Accuracy: 0.7},
		UpdatedAt:    now,
	}
	require.NoError(t, repo.SaveMetrics(ctx, metrics))

	metrics.FinalScore = 0.88
	metrics.SampleCount = 20
	require.NoError(t, repo.SaveMetrics(ctx, metrics))

	loaded, err := repo.LoadMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1, "saving twice must update, not duplicate")

	got := loaded[0]
	assert.Equal(t, "nvd", got.Source)
	assert.Equal(t, 0.88, got.FinalScore)
	assert.Equal(t, 20, got.SampleCount)
	assert.Equal(t, 0.9, got.SubScores.Availability)
	assert.Equal(t, 0.7, got.SubScores.Accuracy)
}

func TestLoadMetricsSortedBySource(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, source := range []string{"osv", "cisa-kev", "nvd"} {
		require.NoError(t, repo.SaveMetrics(ctx, domain.ReliabilityMetrics{
			Source: source, FinalScore: 0.5, UpdatedAt: time.Now(),
		}))
	}

	loaded, err := repo.LoadMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.Equal(t, "cisa-kev", loaded[0].Source)
	assert.Equal(t, "nvd", loaded[1].Source)
	assert.Equal(t, "osv", loaded[2].Source)
}

func TestPruneDropsOldSamples(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveSample(ctx, domain.PerformanceSample{
		Source: "nvd", Timestamp: time.Now().Add(-48 * time.Hour), Latency: time.Second, Success: true,
	}))
	require.NoError(t, repo.SaveSample(ctx, domain.PerformanceSample{
		Source: "nvd", Timestamp: time.Now(), Latency: time.Second, Success: true,
	}))

	require.NoError(t, repo.Prune(ctx, 24*time.Hour))

	samples, err := repo.RecentSamples(ctx, "nvd", 10)
	require.NoError(t, err)
	assert.Len(t, samples, 1)
}
