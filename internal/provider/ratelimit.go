package provider

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a rate limiter shared by every adapter of one explorer.
type TokenBucket struct {
	capacity float64
	rate     float64 // tokens per second

	mu         sync.Mutex
	tokens     float64
	lastUpdate time.Time
	now        func() time.Time
}

// NewTokenBucket creates a token bucket with capacity and refill rate. A nil
// bucket, or one with a non-positive rate, never limits.
func NewTokenBucket(capacity, rate float64) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	return &TokenBucket{
		capacity: capacity,
		rate:     rate,
		tokens:   capacity,
		now:      time.Now,
	}
}

// Allow consumes one token if available, refilling based on elapsed time.
func (b *TokenBucket) Allow(now time.Time) bool {
	_, ok := b.reserve(now)
	return ok
}

// Wait blocks until a token is available or ctx is done.
func (b *TokenBucket) Wait(ctx context.Context) error {
	if b == nil || b.rate <= 0 {
		return nil
	}
	for {
		wait, ok := b.reserve(b.now())
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve takes a token, or reports how long until one is available.
func (b *TokenBucket) reserve(now time.Time) (time.Duration, bool) {
	if b == nil || b.rate <= 0 {
		return 0, true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastUpdate.IsZero() {
		b.lastUpdate = now
	}
	elapsed := now.Sub(b.lastUpdate).Seconds()
	if elapsed > 0 {
		b.tokens = min(b.capacity, b.tokens+elapsed*b.rate)
		b.lastUpdate = now
	}
	if b.tokens >= 1 {
		b.tokens -= 1
		return 0, true
	}
	missing := (1 - b.tokens) / b.rate
	return time.Duration(missing * float64(time.Second)), false
}
