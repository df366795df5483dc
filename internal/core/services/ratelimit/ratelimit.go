package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/WatchBeam/clock"

	"github.com/lcalzada-xor/cvemap/internal/core/domain"
)

// BucketConfig sizes one service's token bucket.
type BucketConfig struct {
	Capacity  float64 // burst size
	RefillPer float64 // tokens regenerated per second
}

// DefaultConfig is the conservative global rate applied to services without
// an explicit override.
var DefaultConfig = BucketConfig{Capacity: 5, RefillPer: 1}

type bucket struct {
	cfg    BucketConfig
	tokens float64
	last   time.Time
}

// Limiter throttles outbound calls with an independent token bucket per
// service name. Refill is lazy: computed from elapsed wall-clock time on
// each Acquire, so no background timer is needed.
type Limiter struct {
	mu        sync.Mutex
	clock     clock.Clock
	defaults  BucketConfig
	overrides map[string]BucketConfig
	buckets   map[string]*bucket
}

// New creates a limiter. overrides may be nil.
func New(clk clock.Clock, defaults BucketConfig, overrides map[string]BucketConfig) *Limiter {
	if clk == nil {
		clk = clock.C
	}
	if defaults.Capacity <= 0 {
		defaults = DefaultConfig
	}
	return &Limiter{
		clock:     clk,
		defaults:  defaults,
		overrides: overrides,
		buckets:   make(map[string]*bucket),
	}
}

// Acquire blocks until a token is available for the named service or the
// context is cancelled. FIFO-ish under contention; starvation under
// sustained overload is a known limitation.
func (l *Limiter) Acquire(ctx context.Context, service string) error {
	for {
		wait, ok := l.tryTake(service)
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(wait):
		}
	}
}

// tryTake consumes a token if one is available, otherwise returns how long
// until the next token regenerates.
func (l *Limiter) tryTake(service string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketFor(service)
	l.refill(b)

	if b.tokens >= 1 {
		b.tokens--
		return 0, true
	}

	missing := 1 - b.tokens
	wait := time.Duration(missing / b.cfg.RefillPer * float64(time.Second))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait, false
}

func (l *Limiter) bucketFor(service string) *bucket {
	b, ok := l.buckets[service]
	if !ok {
		cfg := l.defaults
		if o, ok := l.overrides[service]; ok {
			cfg = o
		}
		b = &bucket{cfg: cfg, tokens: cfg.Capacity, last: l.clock.Now()}
		l.buckets[service] = b
	}
	return b
}

func (l *Limiter) refill(b *bucket) {
	now := l.clock.Now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.cfg.RefillPer
		if b.tokens > b.cfg.Capacity {
			b.tokens = b.cfg.Capacity
		}
		b.last = now
	}
}

// Status reports the bucket state for a service without consuming tokens.
func (l *Limiter) Status(service string) domain.RateLimitStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketFor(service)
	l.refill(b)

	return domain.RateLimitStatus{
		Service:   service,
		Capacity:  b.cfg.Capacity,
		Remaining: b.tokens,
	}
}
