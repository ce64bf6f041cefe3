// Package server wires the MCP tool sets over one shared runtime: a lazily
// bound Telegram client, the group manager, the rate limiter and, for the
// actions profile, the authorization gate and batch engine.
package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram"
	"go.uber.org/zap"

	"tgmcp/internal/config"
	"tgmcp/internal/groups"
	"tgmcp/internal/metrics"
	"tgmcp/internal/ratelimit"
	"tgmcp/internal/session"
	"tgmcp/internal/teleclient"
)

// Options assembles a tool-server context.
type Options struct {
	Config  config.Config
	Limiter *ratelimit.Limiter
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	// Middlewares wrap every Telegram RPC, usually the write guard and
	// the limiter's flood-wait tracker.
	Middlewares []telegram.Middleware
}

// Context keeps one Telegram client and group manager per server process.
// Binding is lazy: the first tool that needs Telegram connects, so
// initialize/tools-list handshakes work without credentials.
type Context struct {
	cfg     config.Config
	log     *zap.Logger
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
	mws     []telegram.Middleware

	mu      sync.Mutex
	client  *teleclient.Client
	manager *groups.Manager
	lock    *session.Lock
	current string
}

// NewContext builds an unbound context.
func NewContext(opts Options) *Context {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Context{
		cfg:     opts.Config,
		log:     log.Named("server"),
		limiter: opts.Limiter,
		metrics: opts.Metrics,
		mws:     opts.Middlewares,
	}
}

// LimiterConfig maps the loaded configuration onto the rate-limit kernel.
func LimiterConfig(cfg config.Config) ratelimit.Config {
	return ratelimit.Config{
		RPS:            cfg.RPS,
		DMCap:          cfg.DMCap,
		JoinCap:        cfg.JoinCap,
		GroupMsgCap:    cfg.GroupMsgCap,
		GlobalMode:     cfg.GlobalRPSMode,
		FloodThreshold: time.Duration(cfg.FloodThresholdSec) * time.Second,
		FloodCooldown:  time.Duration(cfg.FloodCooldownSec) * time.Second,
		BucketFile:     cfg.BucketFile,
		CountersFile:   cfg.CountersFile,
		CircuitFile:    cfg.CircuitFile,
	}
}

// Manager returns the group manager, binding the default session on the
// first call.
func (c *Context) Manager(ctx context.Context) (*groups.Manager, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.manager != nil {
		return c.manager, nil
	}
	loc := session.Locator{
		Dir:          c.cfg.SessionsDir,
		Name:         c.cfg.SessionName,
		ExplicitPath: c.cfg.SessionPath,
	}
	if err := c.bindLocked(ctx, loc.Path(), sessionName(loc)); err != nil {
		return nil, err
	}
	return c.manager, nil
}

// bindLocked hardens and locks the session file, starts the client and
// builds the manager. Callers hold c.mu.
func (c *Context) bindLocked(ctx context.Context, path, name string) error {
	if err := session.Harden(path); err != nil {
		return err
	}
	lock := session.NewLock(path, c.cfg.SessionLockMode)
	if err := lock.Acquire(); err != nil {
		return err
	}

	client := teleclient.New(teleclient.Options{
		APIID:            c.cfg.APIID,
		APIHash:          c.cfg.APIHash,
		SessionPath:      path,
		DeviceModel:      c.cfg.ServerName,
		ExpectedUsername: c.cfg.ExpectedUsername,
		Logger:           c.log,
		Middlewares:      c.mws,
	})
	if err := client.Start(ctx); err != nil {
		lock.Release()
		return err
	}

	c.client = client
	c.lock = lock
	c.current = name
	c.manager = groups.NewManager(
		groups.NewCaller(client.API()),
		c.limiter,
		groups.Config{
			MaxMessageLen: c.cfg.MaxMessageLen,
			MaxFileBytes:  int64(c.cfg.MaxFileMB) << 20,
		},
		c.log,
	)
	c.log.Info("session bound", zap.String("session", name))
	return nil
}

// closeLocked stops the client and releases the lock. Callers hold c.mu.
func (c *Context) closeLocked() {
	if c.client != nil {
		c.client.Stop()
		c.client = nil
	}
	if c.lock != nil {
		c.lock.Release()
		c.lock = nil
	}
	c.manager = nil
	c.current = ""
}

// Close releases the session lock and stops the Telegram client.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

// CurrentSession names the bound session, empty when unbound.
func (c *Context) CurrentSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// ListSessions lists the stored session files and the bound one.
func (c *Context) ListSessions() (map[string]any, error) {
	infos, err := session.List(c.cfg.SessionsDir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return map[string]any{
		"sessions": names,
		"current":  nullableString(c.CurrentSession()),
	}, nil
}

// UseSession rebinds the context to another stored session. Refusals and
// failures come back as error payloads, not transport errors.
func (c *Context) UseSession(ctx context.Context, name string) map[string]any {
	if !c.cfg.AllowSessionSwitch {
		return map[string]any{
			"error": "Session switching is disabled. Set " + config.KeyAllowSessionSwitch + "=1 to enable tg_use_session.",
		}
	}
	name = strings.TrimSpace(strings.TrimSuffix(name, ".json"))
	path := filepath.Join(c.cfg.SessionsDir, name+".json")
	if _, err := os.Stat(path); err != nil {
		return map[string]any{"error": fmt.Sprintf("Session '%s' not found", name)}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	if err := c.bindLocked(ctx, path, name); err != nil {
		var notAuth *teleclient.NotAuthorizedError
		if errors.As(err, &notAuth) {
			return map[string]any{"error": err.Error()}
		}
		return map[string]any{"error": fmt.Sprintf("Failed to switch session: %s", err)}
	}
	self := c.client.Self()
	account := self.Username
	if account == "" {
		account = self.FirstName
	}
	return map[string]any{"switched_to": name, "account": account}
}

// AuthStatus binds if needed and reports who the session belongs to.
// Mismatched or unauthorized sessions report authorized=false with the
// reason instead of failing the tool.
func (c *Context) AuthStatus(ctx context.Context) map[string]any {
	if _, err := c.Manager(ctx); err != nil {
		return map[string]any{"authorized": false, "error": err.Error()}
	}
	c.mu.Lock()
	self := c.client.Self()
	current := c.current
	c.mu.Unlock()
	return map[string]any{
		"authorized": true,
		"session":    current,
		"user": map[string]any{
			"id":         self.ID,
			"username":   self.Username,
			"first_name": self.FirstName,
			"last_name":  self.LastName,
		},
	}
}

// Stats bundles limiter usage, metrics snapshot and the bound session.
func (c *Context) Stats() map[string]any {
	var rl any
	stats, err := c.limiter.Stats()
	if err != nil {
		rl = map[string]any{"error": err.Error()}
	} else {
		rl = stats
	}
	var snap any
	if c.metrics != nil {
		snap = c.metrics.Snapshot()
	}
	return map[string]any{
		"rate_limiter":    rl,
		"metrics":         snap,
		"current_session": nullableString(c.CurrentSession()),
	}
}

func sessionName(loc session.Locator) string {
	if loc.ExplicitPath != "" {
		return strings.TrimSuffix(filepath.Base(loc.ExplicitPath), ".json")
	}
	return loc.Name
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
