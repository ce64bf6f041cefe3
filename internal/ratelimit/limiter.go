// Package ratelimit guards every Telegram API call behind a token bucket,
// daily operation quotas and a file-backed circuit breaker. The pieces share
// their state through small files so the read server, the actions server and
// the CLI pace one account together.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tgmcp/internal/metrics"
	"tgmcp/internal/statestore"
)

// Config carries the kernel settings.
type Config struct {
	RPS         float64
	DMCap       int
	JoinCap     int
	GroupMsgCap int

	// GlobalMode selects bucket scope: "shared" paces across processes via
	// the bucket file, "local" paces this process only, "off" disables the
	// bucket entirely (quotas and the circuit still apply).
	GlobalMode string

	FloodThreshold time.Duration
	FloodCooldown  time.Duration

	BucketFile   string
	CountersFile string
	CircuitFile  string

	MaxRetries  int           // FLOOD_WAIT retries, default 3
	CallTimeout time.Duration // per-attempt timeout, default 30s
}

// Limiter bundles the bucket, counters and breaker consulted by Do.
type Limiter struct {
	cfg      Config
	local    *TokenBucket
	shared   *SharedBucket
	counters *Counters
	circuit  *CircuitBreaker
	metrics  *metrics.Metrics
	log      *zap.Logger

	sleep func(context.Context, time.Duration) error
}

// New wires a limiter over the given store. Mode "off" still tracks quotas
// and the circuit breaker; only the pacing bucket is skipped.
func New(store *statestore.Store, cfg Config, m *metrics.Metrics, log *zap.Logger) *Limiter {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = zap.NewNop()
	}

	l := &Limiter{
		cfg:      cfg,
		counters: NewCounters(store, cfg.CountersFile, log),
		circuit:  NewCircuitBreaker(store, cfg.CircuitFile, cfg.FloodThreshold, cfg.FloodCooldown, log),
		metrics:  m,
		log:      log,
		sleep:    sleepContext,
	}

	if cfg.GlobalMode != "off" {
		l.local = NewTokenBucket(cfg.RPS)
		l.local.onThrottle = func(wait time.Duration) {
			m.RateLimitThrottled.Inc()
			log.Info("rate limit: waiting for tokens", zap.Duration("wait", wait))
		}
	}
	if cfg.GlobalMode == "shared" {
		l.shared = NewSharedBucket(store, cfg.BucketFile, cfg.RPS, log)
	}

	return l
}

// Counters exposes the daily counter set.
func (l *Limiter) Counters() *Counters { return l.counters }

// Circuit exposes the shared breaker.
func (l *Limiter) Circuit() *CircuitBreaker { return l.circuit }

// CheckQuota returns a QuotaError when the daily budget for op is exhausted.
// OpAPI has no budget and always passes.
func (l *Limiter) CheckQuota(op Operation) error {
	key := counterKeyFor(op)
	if key == "" {
		return nil
	}
	used, err := l.counters.Get(key)
	if err != nil {
		return err
	}
	if limit := l.capFor(op); used >= limit {
		return &QuotaError{Op: op, Used: used, Cap: limit}
	}
	return nil
}

// Stats is the daily usage summary rendered by the stats tool.
type Stats struct {
	Date           string  `json:"date"`
	DMUsage        string  `json:"dm_usage"`
	JoinUsage      string  `json:"join_usage"`
	GroupMsgUsage  string  `json:"group_msg_usage"`
	APICalls       int     `json:"api_calls"`
	FloodWaits     int     `json:"flood_waits"`
	CurrentRPS     float64 `json:"current_rps"`
	GlobalMode     string  `json:"global_rps_mode"`
	CircuitOpenSec int     `json:"circuit_open_remaining_sec"`
}

// Stats reports current usage against the configured caps.
func (l *Limiter) Stats() (Stats, error) {
	u, err := l.counters.Snapshot()
	if err != nil {
		return Stats{}, err
	}
	remaining, err := l.circuit.Remaining()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Date:           u.Date,
		DMUsage:        fmt.Sprintf("%d/%d", u.DMs, l.cfg.DMCap),
		JoinUsage:      fmt.Sprintf("%d/%d", u.Joins, l.cfg.JoinCap),
		GroupMsgUsage:  fmt.Sprintf("%d/%d", u.GroupMsgs, l.cfg.GroupMsgCap),
		APICalls:       u.APICalls,
		FloodWaits:     u.FloodWaits,
		CurrentRPS:     l.cfg.RPS,
		GlobalMode:     l.cfg.GlobalMode,
		CircuitOpenSec: int(remaining.Seconds() + 0.5),
	}, nil
}

// acquire takes one token from the local and, in shared mode, the persisted
// bucket. A bucket that still reports short after its wait is logged and the
// call proceeds; the wait itself already provided the pacing.
func (l *Limiter) acquire(ctx context.Context) error {
	if l.local != nil {
		ok, err := l.local.Acquire(ctx, 1)
		if err != nil {
			return err
		}
		if !ok {
			l.log.Warn("local bucket short after wait")
		}
	}
	if l.shared != nil {
		ok, err := l.shared.Acquire(ctx, 1)
		if err != nil {
			return err
		}
		if !ok {
			l.log.Warn("shared bucket short after wait")
		}
	}
	return nil
}

func (l *Limiter) capFor(op Operation) int {
	switch op {
	case OpDM:
		return l.cfg.DMCap
	case OpJoin:
		return l.cfg.JoinCap
	case OpGroupMsg:
		return l.cfg.GroupMsgCap
	default:
		return 0
	}
}

func counterKeyFor(op Operation) string {
	switch op {
	case OpDM:
		return counterDM
	case OpJoin:
		return counterJoin
	case OpGroupMsg:
		return counterGroupMsg
	default:
		return ""
	}
}
