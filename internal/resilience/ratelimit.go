// Package resilience holds the three primitives every outbound task-tracker
// call passes through: per-key token buckets, a circuit breaker, and a batch
// aggregator.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a dispatch key has no token available.
var ErrRateLimited = errors.New("rate limited")

// bucket carries its own lock so contention on one key never blocks another.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// refill adds rate*elapsed tokens capped at burst. Caller holds b.mu.
func (b *bucket) refill(now time.Time, rate, burst float64) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * rate
	if b.tokens > burst {
		b.tokens = burst
	}
	b.lastRefill = now
}

// Limiter is a token-bucket rate limiter with an independent bucket per
// dispatch key, so chatty senders cannot starve quiet ones. The map lock is
// held only for bucket lookup and insert; each read-modify-write happens
// under that bucket's own lock.
type Limiter struct {
	rate  float64 // tokens per second
	burst float64

	mu      sync.RWMutex // guards the buckets map, not the buckets
	buckets map[string]*bucket
	now     func() time.Time // test seam
}

func NewLimiter(ratePerSecond float64, burst int) *Limiter {
	return &Limiter{
		rate:    ratePerSecond,
		burst:   float64(burst),
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *Limiter) bucketFor(key string, now time.Time) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok {
		return b
	}
	b = &bucket{tokens: l.burst, lastRefill: now}
	l.buckets[key] = b
	return b
}

// Acquire takes one token for the key if available. Refill is continuous:
// elapsed time since the last refill adds rate*seconds tokens, capped at
// burst. The count never goes negative.
func (l *Limiter) Acquire(key string) bool {
	now := l.now()
	b := l.bucketFor(key, now)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(now, l.rate, l.burst)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Tokens reports the current token count for a key, refilled to now.
// Unknown keys are at full burst.
func (l *Limiter) Tokens(key string) float64 {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if !ok {
		return l.burst
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	tokens := b.tokens + l.now().Sub(b.lastRefill).Seconds()*l.rate
	if tokens > l.burst {
		tokens = l.burst
	}
	return tokens
}

// Sweep drops buckets idle longer than maxIdle. Idle buckets are at full
// burst anyway, so a caller racing a sweep sees the same behavior either
// way.
func (l *Limiter) Sweep(maxIdle time.Duration) {
	cutoff := l.now().Add(-maxIdle)

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		b.mu.Lock()
		idle := b.lastRefill.Before(cutoff)
		b.mu.Unlock()
		if idle {
			delete(l.buckets, key)
		}
	}
}
