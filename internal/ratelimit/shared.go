package ratelimit

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"tgmcp/internal/statestore"
)

const (
	bucketTokensKey = "tokens"
	bucketRefillKey = "last_refill"
)

// SharedBucket is the cross-process variant of the token bucket. State lives
// in a JSON file and is re-read under the store's exclusive lock on every
// acquisition; the pacing sleep happens outside the lock so other processes
// can drain the bucket meanwhile.
type SharedBucket struct {
	store    *statestore.Store
	path     string
	capacity float64
	rate     float64

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
	log   *zap.Logger
}

// NewSharedBucket returns a file-backed bucket with capacity ceil(2*rps).
// A missing or malformed state file counts as a full bucket.
func NewSharedBucket(store *statestore.Store, path string, rps float64, log *zap.Logger) *SharedBucket {
	capacity := math.Ceil(2 * rps)
	if capacity < 1 {
		capacity = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SharedBucket{
		store:    store,
		path:     path,
		capacity: capacity,
		rate:     rps,
		now:      time.Now,
		sleep:    sleepContext,
		log:      log,
	}
}

// Acquire takes n tokens from the persisted bucket, sleeping once outside
// the lock when the first pass comes up short.
func (b *SharedBucket) Acquire(ctx context.Context, n int) (bool, error) {
	need := float64(n)
	if need > b.capacity {
		return false, nil
	}

	wait, err := b.take(need)
	if err != nil {
		return false, err
	}
	if wait == 0 {
		return true, nil
	}

	b.log.Debug("shared bucket throttled", zap.Duration("wait", wait))
	if err := b.sleep(ctx, wait); err != nil {
		return false, err
	}

	wait, err = b.take(need)
	if err != nil {
		return false, err
	}
	return wait == 0, nil
}

// take refills from the persisted state and deducts need tokens when they
// are available, returning zero. Otherwise it persists the refilled balance
// untouched and returns the wait suggested by the shortfall.
func (b *SharedBucket) take(need float64) (time.Duration, error) {
	var wait time.Duration
	_, err := b.store.UpdateJSON(b.path, "", func(state map[string]any) (any, error) {
		now := b.now()
		tokens := b.capacity
		if v, ok := toFloat(state[bucketTokensKey]); ok {
			tokens = v
		}
		last := now
		if v, ok := toFloat(state[bucketRefillKey]); ok {
			last = timeFromUnixSeconds(v)
		}

		if elapsed := now.Sub(last).Seconds(); elapsed > 0 {
			tokens = math.Min(b.capacity, tokens+elapsed*b.rate)
		}

		if tokens >= need {
			tokens -= need
			wait = 0
		} else {
			wait = refillWait(need-tokens, b.rate)
		}

		state[bucketTokensKey] = tokens
		state[bucketRefillKey] = unixSeconds(now)
		return nil, nil
	})
	return wait, err
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func timeFromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*float64(time.Second)))
}
