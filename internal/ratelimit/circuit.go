package ratelimit

import (
	"time"

	"go.uber.org/zap"

	"tgmcp/internal/statestore"
)

const circuitOpenUntilKey = "open_until"

// CircuitBreaker persists a shared open-until timestamp so every process
// backs off together after a heavy FLOOD_WAIT. The breaker auto-closes on
// read once the window passed; stale state never needs a cleanup write.
type CircuitBreaker struct {
	store     *statestore.Store
	path      string
	threshold time.Duration
	cooldown  time.Duration

	now func() time.Time
	log *zap.Logger
}

// NewCircuitBreaker returns a breaker that opens for cooldown whenever a
// FLOOD_WAIT of at least threshold is recorded.
func NewCircuitBreaker(store *statestore.Store, path string, threshold, cooldown time.Duration, log *zap.Logger) *CircuitBreaker {
	if log == nil {
		log = zap.NewNop()
	}
	return &CircuitBreaker{
		store:     store,
		path:      path,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		log:       log,
	}
}

// Check returns a CircuitOpenError carrying the remaining window while the
// breaker is open, nil otherwise.
func (cb *CircuitBreaker) Check() error {
	remaining, err := cb.Remaining()
	if err != nil {
		return err
	}
	if remaining > 0 {
		return &CircuitOpenError{Remaining: remaining}
	}
	return nil
}

// Remaining reports how long the breaker stays open, zero when closed.
func (cb *CircuitBreaker) Remaining() (time.Duration, error) {
	state, err := cb.store.LoadJSON(cb.path, "")
	if err != nil {
		return 0, err
	}
	openUntil, ok := toFloat(state[circuitOpenUntilKey])
	if !ok {
		return 0, nil
	}
	now := unixSeconds(cb.now())
	if openUntil <= now {
		return 0, nil
	}
	return time.Duration((openUntil - now) * float64(time.Second)), nil
}

// Trip opens the breaker for the cooldown when the observed wait crossed the
// threshold. An already-open window is never shortened.
func (cb *CircuitBreaker) Trip(wait time.Duration) error {
	if wait < cb.threshold {
		return nil
	}
	_, err := cb.store.UpdateJSON(cb.path, "", func(state map[string]any) (any, error) {
		until := unixSeconds(cb.now()) + cb.cooldown.Seconds()
		if existing, ok := toFloat(state[circuitOpenUntilKey]); ok && existing > until {
			until = existing
		}
		state[circuitOpenUntilKey] = until
		return nil, nil
	})
	if err != nil {
		return err
	}
	cb.log.Warn("circuit breaker opened",
		zap.Duration("flood_wait", wait),
		zap.Duration("cooldown", cb.cooldown))
	return nil
}
