package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireConsumesBurst(t *testing.T) {
	mockClock := clock.NewMockClock()
	l := New(mockClock, BucketConfig{Capacity: 3, RefillPer: 1}, nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx, "nvd"))
	}

	status := l.Status("nvd")
	assert.Equal(t, "nvd", status.Service)
	assert.Equal(t, 3.0, status.Capacity)
	assert.InDelta(t, 0.0, status.Remaining, 0.001)
}

func TestLazyRefill(t *testing.T) {
	mockClock := clock.NewMockClock()
	l := New(mockClock, BucketConfig{Capacity: 5, RefillPer: 2}, nil)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(ctx, "osv"))
	}

	// 1.5 seconds at 2 tokens/sec regenerates 3 tokens.
	mockClock.AddTime(1500 * time.Millisecond)
	assert.InDelta(t, 3.0, l.Status("osv").Remaining, 0.001)

	// Refill never exceeds capacity.
	mockClock.AddTime(time.Hour)
	assert.InDelta(t, 5.0, l.Status("osv").Remaining, 0.001)
}

func TestPerServiceIsolation(t *testing.T) {
	mockClock := clock.NewMockClock()
	l := New(mockClock, BucketConfig{Capacity: 2, RefillPer: 1}, nil)

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx, "nvd"))
	require.NoError(t, l.Acquire(ctx, "nvd"))

	// Draining one bucket leaves the others untouched.
	assert.InDelta(t, 0.0, l.Status("nvd").Remaining, 0.001)
	assert.InDelta(t, 2.0, l.Status("cisa-kev").Remaining, 0.001)
}

func TestOverrides(t *testing.T) {
	mockClock := clock.NewMockClock()
	l := New(mockClock, BucketConfig{Capacity: 5, RefillPer: 1}, map[string]BucketConfig{
		"exploit-db": {Capacity: 1, RefillPer: 0.1},
	})

	assert.Equal(t, 1.0, l.Status("exploit-db").Capacity)
	assert.Equal(t, 5.0, l.Status("nvd").Capacity)
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	mockClock := clock.NewMockClock()
	l := New(mockClock, BucketConfig{Capacity: 1, RefillPer: 0.001}, nil)

	require.NoError(t, l.Acquire(context.Background(), "nvd"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Acquire(ctx, "nvd")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAcquireWakesAfterRefill(t *testing.T) {
	mockClock := clock.NewMockClock()
	l := New(mockClock, BucketConfig{Capacity: 1, RefillPer: 1}, nil)

	require.NoError(t, l.Acquire(context.Background(), "nvd"))

	done := make(chan error, 1)
	go func() {
		done <- l.Acquire(context.Background(), "nvd")
	}()

	// Nudge the mock clock until the waiter's timer fires.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			return
		case <-deadline:
			t.Fatal("Acquire never woke up after refill")
		default:
			mockClock.AddTime(time.Second)
			time.Sleep(time.Millisecond)
		}
	}
}
