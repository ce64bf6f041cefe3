package ratelimit

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tgmcp/internal/statestore"
)

func TestCountersRolloverOnNewDay(t *testing.T) {
	store := statestore.Open(zap.NewNop())
	path := filepath.Join(t.TempDir(), "daily_counters.txt")
	clk := newFakeClock()

	c := NewCounters(store, path, nil)
	c.now = clk.Now

	for i := 0; i < 3; i++ {
		_, err := c.Increment(counterDM)
		require.NoError(t, err)
	}
	n, err := c.Get(counterDM)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	clk.Advance(24 * time.Hour)

	n, err = c.Get(counterDM)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "new day must reset the counter")

	u, err := c.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, clk.Now().Format("2006-01-02"), u.Date)
	assert.Zero(t, u.APICalls)

	after, err := c.Increment(counterDM)
	require.NoError(t, err)
	assert.Equal(t, 1, after)
}

func TestCountersSurviveRestart(t *testing.T) {
	store := statestore.Open(zap.NewNop())
	path := filepath.Join(t.TempDir(), "daily_counters.txt")

	c1 := NewCounters(store, path, nil)
	for i := 0; i < 5; i++ {
		_, err := c1.Increment(counterAPI)
		require.NoError(t, err)
	}
	_, err := c1.Increment(counterJoin)
	require.NoError(t, err)

	// A second instance over the same file stands in for a restart.
	c2 := NewCounters(statestore.Open(zap.NewNop()), path, nil)
	u, err := c2.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 5, u.APICalls)
	assert.Equal(t, 1, u.Joins)
	assert.Equal(t, 0, u.DMs)
}

func TestCountersConcurrentIncrements(t *testing.T) {
	store := statestore.Open(zap.NewNop())
	path := filepath.Join(t.TempDir(), "daily_counters.txt")
	c := NewCounters(store, path, nil)

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := c.Increment(counterAPI); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	n, err := c.Get(counterAPI)
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, n, "increments must not be lost")
}
