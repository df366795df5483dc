package orchestrator

import (
	"fmt"
	"testing"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/cvemap/internal/core/domain"
)

func TestCacheHitWithinTTL(t *testing.T) {
	mockClock := clock.NewMockClock()
	c := newResultCache(mockClock, 30*time.Minute, 8)

	records := []domain.RawRecord{{CVEID: "CVE-2024-1", Source: "nvd"}}
	c.put("k", records)

	got, ok := c.get("k")
	require.True(t, ok)
	assert.Equal(t, records, got)

	mockClock.AddTime(29 * time.Minute)
	_, ok = c.get("k")
	assert.True(t, ok)
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	mockClock := clock.NewMockClock()
	c := newResultCache(mockClock, 30*time.Minute, 8)

	c.put("k", nil)
	mockClock.AddTime(31 * time.Minute)
	_, ok := c.get("k")
	assert.False(t, ok)
}

func TestCacheEvictsOldestFirst(t *testing.T) {
	mockClock := clock.NewMockClock()
	c := newResultCache(mockClock, time.Hour, 3)

	for i := 0; i < 4; i++ {
		c.put(fmt.Sprintf("k%d", i), nil)
	}

	_, ok := c.get("k0")
	assert.False(t, ok, "oldest entry should be evicted")
	for i := 1; i < 4; i++ {
		_, ok := c.get(fmt.Sprintf("k%d", i))
		assert.True(t, ok, "k%d should survive", i)
	}
}

func TestCacheKeyStability(t *testing.T) {
	opts := domain.DiscoveryOptions{TimeframeYears: 2, Keywords: []string{"log4j"}}

	assert.Equal(t, cacheKey("nvd", opts), cacheKey("nvd", opts))
	assert.NotEqual(t, cacheKey("nvd", opts), cacheKey("osv", opts))

	other := opts
	other.TimeframeYears = 3
	assert.NotEqual(t, cacheKey("nvd", opts), cacheKey("nvd", other))
}
