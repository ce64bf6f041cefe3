// Package statestore persists small JSON and key=value state files shared by
// several processes. Every mutation is an exclusive-locked read-modify-write
// followed by an atomic rename, so concurrent writers never lose updates and
// readers never observe torn files.
package statestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// Store serializes access to state files. Cross-process safety uses advisory
// locks on a sibling <file>.lock; in-process safety uses one mutex per path,
// because a shared flock handle does not exclude goroutines from each other.
type Store struct {
	mu      sync.Mutex
	entries map[string]*fileLock
	log     *zap.Logger

	warnOnce sync.Once
}

type fileLock struct {
	mu sync.Mutex
	fl *flock.Flock
}

// Open creates a store handle. One handle per process is expected; all
// components mutating shared state should go through the same handle.
func Open(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		entries: make(map[string]*fileLock),
		log:     log,
	}
}

// Close releases the handle. Lock files themselves are left in place: other
// processes may still be using them.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*fileLock)
	return nil
}

func (s *Store) lockFor(path string) *fileLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[path]
	if !ok {
		e = &fileLock{fl: flock.New(path + ".lock")}
		s.entries[path] = e
	}
	return e
}

// withLock runs fn while holding the per-path mutex and the advisory lock.
// If the platform refuses the advisory lock we degrade to in-process locking
// only and warn once: single-process correctness is preserved, cross-process
// safety is not.
func (s *Store) withLock(path string, shared bool, fn func() error) error {
	e := s.lockFor(path)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create state dir")
	}

	var lockErr error
	if shared {
		lockErr = e.fl.RLock()
	} else {
		lockErr = e.fl.Lock()
	}
	if lockErr != nil {
		s.warnOnce.Do(func() {
			s.log.Warn("advisory file locks unavailable; cross-process safety reduced",
				zap.String("path", path), zap.Error(lockErr))
		})
	} else {
		defer func() {
			if err := e.fl.Unlock(); err != nil {
				s.log.Warn("release file lock", zap.String("path", path), zap.Error(err))
			}
		}()
	}

	return fn()
}

// LoadJSON snapshot-reads a JSON object under a shared lock. A missing file
// or malformed content yields an empty map, never an error: state files are
// advisory and a corrupt one must not wedge every caller.
func (s *Store) LoadJSON(path, rootKey string) (map[string]any, error) {
	var out map[string]any
	err := s.withLock(path, true, func() error {
		out = readDict(path)
		if rootKey != "" {
			out = nestedDict(out, rootKey)
		}
		return nil
	})
	return out, err
}

// UpdateJSON atomically applies mutate to the JSON object stored at path.
// With a non-empty rootKey the mutator sees only that nested object while
// sibling keys are preserved. The mutator may compute a result, which is
// returned to the caller. The file is replaced via temp-write plus rename.
func (s *Store) UpdateJSON(path, rootKey string, mutate func(state map[string]any) (any, error)) (any, error) {
	var result any
	err := s.withLock(path, false, func() error {
		full := readDict(path)
		scope := full
		if rootKey != "" {
			scope = nestedDict(full, rootKey)
		}
		r, err := mutate(scope)
		if err != nil {
			return err
		}
		result = r
		if rootKey != "" {
			full[rootKey] = scope
		}
		data, err := json.MarshalIndent(full, "", "  ")
		if err != nil {
			return errors.Wrap(err, "encode state")
		}
		return writeAtomic(path, data)
	})
	return result, err
}

// LoadKV snapshot-reads a key=value text file under a shared lock. Missing
// files yield an empty map.
func (s *Store) LoadKV(path string) (map[string]string, error) {
	var out map[string]string
	err := s.withLock(path, true, func() error {
		out = readKV(path)
		return nil
	})
	return out, err
}

// UpdateKV atomically applies mutate to a key=value text file.
func (s *Store) UpdateKV(path string, mutate func(kv map[string]string) error) error {
	return s.withLock(path, false, func() error {
		kv := readKV(path)
		if err := mutate(kv); err != nil {
			return err
		}
		keys := make([]string, 0, len(kv))
		for k := range kv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(kv[k])
			b.WriteByte('\n')
		}
		return writeAtomic(path, []byte(b.String()))
	})
}

func readDict(path string) map[string]any {
	data, err := os.ReadFile(path)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

// nestedDict returns full[key] as a map, resetting it when absent or of the
// wrong shape. The returned map aliases the entry inside full.
func nestedDict(full map[string]any, key string) map[string]any {
	if m, ok := full[key].(map[string]any); ok {
		return m
	}
	m := map[string]any{}
	full[key] = m
	return m
}

func readKV(path string) map[string]string {
	out := map[string]string{}
	data, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "write temp state")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "replace state file")
	}
	return nil
}
