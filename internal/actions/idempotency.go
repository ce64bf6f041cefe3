package actions

import (
	"time"

	"github.com/go-faster/errors"

	"tgmcp/internal/statestore"
)

// Idempotency tracks recently executed payload digests inside a sliding
// window so accidental agent retries do not repeat writes.
type Idempotency struct {
	store   *statestore.Store
	path    string
	window  time.Duration
	enabled bool

	now func() time.Time
}

// NewIdempotency builds the window store. A disabled window reports every
// digest as fresh and records nothing.
func NewIdempotency(store *statestore.Store, path string, window time.Duration, enabled bool) *Idempotency {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Idempotency{
		store:   store,
		path:    path,
		window:  window,
		enabled: enabled,
		now:     time.Now,
	}
}

// CheckDuplicate reports whether the digest already ran inside the window
// and how many seconds remain until it may run again. Entries older than
// the window are trimmed during the check.
func (i *Idempotency) CheckDuplicate(digest string) (bool, int, error) {
	if !i.enabled {
		return false, 0, nil
	}
	now := float64(i.now().Unix())
	res, err := i.store.UpdateJSON(i.path, "", func(state map[string]any) (any, error) {
		cutoff := now - i.window.Seconds()
		last, found := 0.0, false
		for key, v := range state {
			ts, ok := v.(float64)
			if !ok || ts < cutoff {
				delete(state, key)
				continue
			}
			if key == digest {
				last, found = ts, true
			}
		}
		if !found {
			return 0, nil
		}
		retry := int(i.window.Seconds() - (now - last))
		if retry < 0 {
			retry = 0
		}
		return retry, nil
	})
	if err != nil {
		return false, 0, errors.Wrap(err, "check idempotency")
	}
	retry := res.(int)
	return retry > 0, retry, nil
}

// MarkExecuted records the digest at the current time, opening a new
// window for it.
func (i *Idempotency) MarkExecuted(digest string) error {
	if !i.enabled {
		return nil
	}
	ts := float64(i.now().Unix())
	_, err := i.store.UpdateJSON(i.path, "", func(state map[string]any) (any, error) {
		state[digest] = ts
		return nil, nil
	})
	if err != nil {
		return errors.Wrap(err, "mark executed")
	}
	return nil
}
