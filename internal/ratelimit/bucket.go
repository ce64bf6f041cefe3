package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// TokenBucket paces calls inside one process. Tokens refill continuously at
// rate tokens/second up to capacity; acquirers queue on the mutex, so a call
// that started waiting first also gets its tokens first.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	rate       float64
	tokens     float64
	lastRefill time.Time

	now        func() time.Time
	sleep      func(context.Context, time.Duration) error
	onThrottle func(wait time.Duration)
}

// NewTokenBucket returns a full bucket with capacity ceil(2*rps).
func NewTokenBucket(rps float64) *TokenBucket {
	capacity := math.Ceil(2 * rps)
	if capacity < 1 {
		capacity = 1
	}
	return &TokenBucket{
		capacity:   capacity,
		rate:       rps,
		tokens:     capacity,
		lastRefill: time.Now(),
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// Acquire takes n tokens. When the bucket is short it sleeps once for the
// projected refill and tries again; false means the request cannot be
// satisfied (n exceeds capacity, or the post-wait balance still fell short).
func (b *TokenBucket) Acquire(ctx context.Context, n int) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	need := float64(n)
	if need > b.capacity {
		return false, nil
	}

	b.refillLocked()
	if b.tokens >= need {
		b.tokens -= need
		return true, nil
	}

	wait := refillWait(need-b.tokens, b.rate)
	if b.onThrottle != nil {
		b.onThrottle(wait)
	}
	if err := b.sleep(ctx, wait); err != nil {
		return false, err
	}

	b.refillLocked()
	if b.tokens >= need {
		b.tokens -= need
		return true, nil
	}
	return false, nil
}

// WaitTime reports how long Acquire would sleep for n tokens right now.
func (b *TokenBucket) WaitTime(n int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	need := float64(n)
	if b.tokens >= need {
		return 0
	}
	return refillWait(need-b.tokens, b.rate)
}

func (b *TokenBucket) refillLocked() {
	now := b.now()
	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.rate)
	}
	b.lastRefill = now
}

func refillWait(missing, rate float64) time.Duration {
	return time.Duration(missing / rate * float64(time.Second))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
