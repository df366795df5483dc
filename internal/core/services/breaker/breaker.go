package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/WatchBeam/clock"
)

// ErrCircuitOpen is returned synthetically, without any network call, while
// a breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// State is a snapshot of one breaker.
type State struct {
	Failures    int       `json:"consecutive_failures"`
	Open        bool      `json:"open"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}

// Breaker is a consecutive-failure circuit breaker. Once the failure count
// reaches the threshold it opens and refuses requests until the cool-down
// elapses, after which exactly one trial request is allowed through.
type Breaker struct {
	mu        sync.Mutex
	clock     clock.Clock
	threshold int
	cooldown  time.Duration

	failures    int
	lastFailure time.Time
	open        bool
	trialActive bool
}

// New creates a breaker. threshold must be >= 1.
func New(clk clock.Clock, threshold int, cooldown time.Duration) *Breaker {
	if clk == nil {
		clk = clock.C
	}
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{clock: clk, threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a request may proceed. While open, the first call
// after the cool-down becomes the single half-open trial.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil
	}
	if b.clock.Now().Sub(b.lastFailure) >= b.cooldown && !b.trialActive {
		b.trialActive = true
		return nil
	}
	return ErrCircuitOpen
}

// RecordSuccess closes the breaker and resets the failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.open = false
	b.trialActive = false
}

// RecordFailure counts a failure and opens the breaker at the threshold.
// A failed half-open trial restarts the cool-down; failures observed while
// already open do not extend the open period.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if b.open {
		if b.trialActive {
			b.trialActive = false
			b.lastFailure = now
		}
		return
	}

	b.failures++
	b.lastFailure = now
	if b.failures >= b.threshold {
		b.open = true
	}
}

// Snapshot returns the current state.
func (b *Breaker) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return State{Failures: b.failures, Open: b.open, LastFailure: b.lastFailure}
}
