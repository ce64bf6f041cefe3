package ratelimit

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"tgmcp/internal/statestore"
)

const (
	counterDate     = "date"
	counterDM       = "dm_count"
	counterJoin     = "join_count"
	counterGroupMsg = "group_msg_count"
	counterAPI      = "api_calls"
	counterFlood    = "flood_waits"
)

var counterKeys = []string{counterDM, counterJoin, counterGroupMsg, counterAPI, counterFlood}

// Counters tracks daily usage in a key=value file shared across processes.
// Every access is a locked read-modify-write that first rolls the window
// when the stored local date is no longer today.
type Counters struct {
	store *statestore.Store
	path  string
	now   func() time.Time
	log   *zap.Logger
}

// NewCounters returns a counter set backed by the given file.
func NewCounters(store *statestore.Store, path string, log *zap.Logger) *Counters {
	if log == nil {
		log = zap.NewNop()
	}
	return &Counters{store: store, path: path, now: time.Now, log: log}
}

// Usage is a point-in-time view of the daily counters.
type Usage struct {
	Date       string
	DMs        int
	Joins      int
	GroupMsgs  int
	APICalls   int
	FloodWaits int
}

// Get returns the current value of one counter key.
func (c *Counters) Get(key string) (int, error) {
	var n int
	err := c.store.UpdateKV(c.path, func(kv map[string]string) error {
		c.rollover(kv)
		n = atoiDefault(kv[key])
		return nil
	})
	return n, err
}

// Increment adds one to a counter key and returns the new value.
func (c *Counters) Increment(key string) (int, error) {
	var after int
	err := c.store.UpdateKV(c.path, func(kv map[string]string) error {
		c.rollover(kv)
		after = atoiDefault(kv[key]) + 1
		kv[key] = strconv.Itoa(after)
		return nil
	})
	return after, err
}

// Snapshot returns every counter for the current day.
func (c *Counters) Snapshot() (Usage, error) {
	var u Usage
	err := c.store.UpdateKV(c.path, func(kv map[string]string) error {
		c.rollover(kv)
		u = Usage{
			Date:       kv[counterDate],
			DMs:        atoiDefault(kv[counterDM]),
			Joins:      atoiDefault(kv[counterJoin]),
			GroupMsgs:  atoiDefault(kv[counterGroupMsg]),
			APICalls:   atoiDefault(kv[counterAPI]),
			FloodWaits: atoiDefault(kv[counterFlood]),
		}
		return nil
	})
	return u, err
}

// rollover resets every count when the stored date is not today. Callers
// already hold the counter file lock through the store.
func (c *Counters) rollover(kv map[string]string) {
	today := c.now().Format("2006-01-02")
	if kv[counterDate] == today {
		return
	}
	if kv[counterDate] != "" {
		c.log.Info("new day, resetting daily counters", zap.String("date", today))
	}
	kv[counterDate] = today
	for _, key := range counterKeys {
		kv[key] = "0"
	}
}

func atoiDefault(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
