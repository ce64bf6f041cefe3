package session

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/go-faster/errors"
	"github.com/gofrs/flock"
)

// Lock modes. Shared and off take no lock at all; exclusive admits one
// process per session file.
const (
	LockShared    = "shared"
	LockExclusive = "exclusive"
	LockOff       = "off"
)

// Lock guards a session file against concurrent use by other
// processes. The zero mode behaves like shared.
type Lock struct {
	mu   sync.Mutex
	path string
	fl   *flock.Flock
	held bool
}

// NewLock prepares a lock for the session file. Only exclusive mode
// takes a real flock on <path>.lock.
func NewLock(sessionPath, mode string) *Lock {
	l := &Lock{path: sessionPath}
	if mode == LockExclusive {
		l.fl = flock.New(sessionPath + ".lock")
	}
	return l
}

// Acquire takes the lock without blocking. When another process holds
// it, a BusyError is returned. Acquiring an already held lock is a
// no-op.
func (l *Lock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fl == nil || l.held {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return errors.Wrap(err, "create sessions dir")
	}
	locked, err := l.fl.TryLock()
	if err != nil {
		return errors.Wrap(err, "lock session file")
	}
	if !locked {
		return &BusyError{Path: l.path}
	}
	l.held = true
	return nil
}

// Release drops the lock. Safe to call repeatedly and on no-op modes.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fl == nil || !l.held {
		return
	}
	_ = l.fl.Unlock()
	l.held = false
}
