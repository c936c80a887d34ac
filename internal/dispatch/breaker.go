package dispatch

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/docbatch/internal/metrics"
)

// Breaker tracks consecutive endpoint failures shared by every in-flight
// page invocation of one client instance. After threshold consecutive
// failures it rejects new attempts until the cooldown passes. All three
// operations are safe under concurrent use.
type Breaker struct {
	threshold int
	cooldown  time.Duration

	mu        sync.Mutex
	failures  int
	openUntil time.Time

	now func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// RecordSuccess resets the consecutive-failure counter. An already-open
// circuit stays open until its cooldown passes.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}

// RecordFailure increments the counter; at the threshold the circuit opens
// for one cooldown window and the counter starts over.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.failures++
	opened := b.failures >= b.threshold
	if opened {
		b.openUntil = b.now().Add(b.cooldown)
		b.failures = 0
	}
	until := b.openUntil
	b.mu.Unlock()

	if opened {
		metrics.BreakerOpened()
		log.Warn().
			Dur("cooldown", b.cooldown).
			Time("retry_at", until).
			Msg("circuit breaker OPENED")
	}
}

// Check rejects with a CircuitOpenError while the cooldown window is
// active. It has no side effects.
func (b *Breaker) Check() error {
	b.mu.Lock()
	until := b.openUntil
	now := b.now()
	b.mu.Unlock()

	if now.Before(until) {
		return &CircuitOpenError{Until: until}
	}
	return nil
}
