package ratelimit

import (
	"context"
	"time"

	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"
)

// Do routes one Telegram call through the kernel: circuit check, daily quota
// check, token acquisition, then the call itself under a per-attempt timeout.
// The matching operation counter is incremented only after success; api_calls
// counts every attempt. FLOOD_WAIT is the only retried error: the breaker is
// tripped, the counter bumped, and the call sleeps the server-demanded wait
// plus 1s, 2s, 4s of backoff before giving up and propagating the original
// error. Timeouts and everything else propagate immediately.
func Do[T any](ctx context.Context, l *Limiter, op Operation, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if err := l.circuit.Check(); err != nil {
		return zero, err
	}
	if err := l.CheckQuota(op); err != nil {
		return zero, err
	}

	retries := 0
	for {
		if err := l.acquire(ctx); err != nil {
			return zero, err
		}
		if _, err := l.counters.Increment(counterAPI); err != nil {
			return zero, err
		}
		l.metrics.RateLimitRequests.Inc()

		start := time.Now()
		callCtx, cancel := context.WithTimeout(ctx, l.cfg.CallTimeout)
		result, err := fn(callCtx)
		cancel()

		if err == nil {
			l.metrics.ObserveCall(time.Since(start))
			if key := counterKeyFor(op); key != "" {
				if _, cerr := l.counters.Increment(key); cerr != nil {
					// The call already succeeded; only log the counter write.
					l.log.Warn("failed to persist operation counter",
						zap.String("operation", string(op)), zap.Error(cerr))
				}
			}
			return result, nil
		}

		wait, isFlood := tgerr.AsFloodWait(err)
		if !isFlood {
			return zero, err
		}

		l.metrics.FloodWaitEvents.Inc()
		if _, cerr := l.counters.Increment(counterFlood); cerr != nil {
			l.log.Warn("failed to persist flood counter", zap.Error(cerr))
		}
		if terr := l.circuit.Trip(wait); terr != nil {
			l.log.Warn("failed to trip circuit breaker", zap.Error(terr))
		}

		retries++
		if retries > l.cfg.MaxRetries {
			l.log.Error("flood wait retries exhausted",
				zap.Duration("wait", wait), zap.Int("retries", l.cfg.MaxRetries))
			return zero, err
		}

		backoff := wait + time.Duration(1<<(retries-1))*time.Second
		l.log.Warn("flood wait, backing off",
			zap.Duration("wait", wait),
			zap.Duration("backoff", backoff),
			zap.Int("retry", retries),
			zap.Int("max_retries", l.cfg.MaxRetries))
		if serr := l.sleep(ctx, backoff); serr != nil {
			return zero, serr
		}
	}
}
