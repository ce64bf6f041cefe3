package statestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestUpdateJSONRoundtrip(t *testing.T) {
	s := Open(zap.NewNop())
	defer s.Close()
	path := filepath.Join(t.TempDir(), "state.json")

	result, err := s.UpdateJSON(path, "", func(state map[string]any) (any, error) {
		state["foo"] = "bar"
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	got, err := s.LoadJSON(path, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"foo": "bar"}, got)
}

func TestUpdateJSONRootKeyPreservesSiblings(t *testing.T) {
	s := Open(zap.NewNop())
	defer s.Close()
	path := filepath.Join(t.TempDir(), "state.json")

	initial := map[string]any{
		"meta":    map[string]any{"version": 1},
		"batches": map[string]any{"old": map[string]any{"id": "old"}},
	}
	data, err := json.Marshal(initial)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	_, err = s.UpdateJSON(path, "batches", func(state map[string]any) (any, error) {
		state["new"] = map[string]any{"id": "new"}
		return nil, nil
	})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var full map[string]any
	require.NoError(t, json.Unmarshal(raw, &full))

	assert.Equal(t, map[string]any{"version": float64(1)}, full["meta"])
	batches := full["batches"].(map[string]any)
	assert.Contains(t, batches, "old")
	assert.Equal(t, "new", batches["new"].(map[string]any)["id"])
}

func TestLoadJSONMalformedYieldsEmpty(t *testing.T) {
	s := Open(zap.NewNop())
	defer s.Close()
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	got, err := s.LoadJSON(path, "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLoadJSONMissingFileYieldsEmpty(t *testing.T) {
	s := Open(zap.NewNop())
	defer s.Close()

	got, err := s.LoadJSON(filepath.Join(t.TempDir(), "absent.json"), "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUpdateJSONMutatorErrorLeavesFileUntouched(t *testing.T) {
	s := Open(zap.NewNop())
	defer s.Close()
	path := filepath.Join(t.TempDir(), "state.json")

	_, err := s.UpdateJSON(path, "", func(state map[string]any) (any, error) {
		state["foo"] = "bar"
		return nil, nil
	})
	require.NoError(t, err)

	_, err = s.UpdateJSON(path, "", func(state map[string]any) (any, error) {
		state["foo"] = "mutated"
		return nil, assert.AnError
	})
	require.Error(t, err)

	got, err := s.LoadJSON(path, "")
	require.NoError(t, err)
	assert.Equal(t, "bar", got["foo"])
}

func TestKVRoundtrip(t *testing.T) {
	s := Open(zap.NewNop())
	defer s.Close()
	path := filepath.Join(t.TempDir(), "counters.txt")

	err := s.UpdateKV(path, func(kv map[string]string) error {
		kv["date"] = "2026-08-25"
		kv["dm_count"] = "3"
		return nil
	})
	require.NoError(t, err)

	got, err := s.LoadKV(path)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-25", got["date"])
	assert.Equal(t, "3", got["dm_count"])
}

func TestKVSkipsMalformedLines(t *testing.T) {
	s := Open(zap.NewNop())
	defer s.Close()
	path := filepath.Join(t.TempDir(), "counters.txt")
	require.NoError(t, os.WriteFile(path, []byte("# comment\nbroken line\nkey=value\n\n"), 0o600))

	got, err := s.LoadKV(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"key": "value"}, got)
}

func TestConcurrentUpdatesLoseNothing(t *testing.T) {
	s := Open(zap.NewNop())
	defer s.Close()
	path := filepath.Join(t.TempDir(), "counter.json")

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := s.UpdateJSON(path, "", func(state map[string]any) (any, error) {
					n := 0
					if raw, ok := state["n"]; ok {
						switch v := raw.(type) {
						case float64:
							n = int(v)
						case string:
							n, _ = strconv.Atoi(v)
						}
					}
					state["n"] = n + 1
					return nil, nil
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	got, err := s.LoadJSON(path, "")
	require.NoError(t, err)
	assert.Equal(t, float64(workers*perWorker), got["n"])
}
