// Package teleclient owns the gotd Telegram client lifecycle: building
// the client, running it on a background goroutine, checking
// authorization and pinning the session to the expected account.
package teleclient

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"tgmcp/internal/session"
)

const defaultDeviceModel = "tgmcp"

// Options configures a client.
type Options struct {
	APIID       int
	APIHash     string
	SessionPath string
	// DeviceModel shows up in the account's active sessions list.
	DeviceModel string
	// ExpectedUsername pins the session to one account when set.
	ExpectedUsername string
	Logger           *zap.Logger
	Middlewares      []telegram.Middleware
}

// Client is a gotd client running on a background goroutine. A Client
// is single use: once stopped it cannot be started again.
type Client struct {
	opts Options
	log  *zap.Logger
	tc   *telegram.Client

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	api     *tg.Client
	self    *tg.User
}

// New builds a client without connecting.
func New(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		opts: opts,
		log:  log.Named("teleclient"),
		tc:   telegram.NewClient(opts.APIID, opts.APIHash, telegramOptions(opts, log)),
	}
}

func telegramOptions(opts Options, log *zap.Logger) telegram.Options {
	device := opts.DeviceModel
	if device == "" {
		device = defaultDeviceModel
	}
	return telegram.Options{
		SessionStorage: &telegram.FileSessionStorage{Path: opts.SessionPath},
		Logger:         log.Named("gotd"),
		Middlewares:    opts.Middlewares,
		Device: telegram.DeviceConfig{
			DeviceModel: device,
		},
	}
}

// Start connects in the background and returns once the session is
// authorized and verified. The connection outlives ctx; ctx only
// bounds the startup wait. An unauthorized session fails with
// NotAuthorizedError without prompting.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.started = true
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	ready := make(chan error, 1)
	go func() {
		defer close(done)
		err := c.tc.Run(runCtx, func(ctx context.Context) error {
			status, err := c.tc.Auth().Status(ctx)
			if err != nil {
				return errors.Wrap(err, "auth status")
			}
			if !status.Authorized {
				return &NotAuthorizedError{Session: c.opts.SessionPath}
			}
			self, err := c.tc.Self(ctx)
			if err != nil {
				return errors.Wrap(err, "fetch self")
			}
			if err := verifyAccount(c.opts.ExpectedUsername, self); err != nil {
				return err
			}
			c.mu.Lock()
			c.api = c.tc.API()
			c.self = self
			c.mu.Unlock()
			c.log.Info("telegram client ready",
				zap.Int64("user_id", self.ID),
				zap.String("username", self.Username))
			ready <- nil
			<-ctx.Done()
			return ctx.Err()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			select {
			case ready <- err:
			default:
				c.log.Error("telegram client stopped", zap.Error(err))
			}
		}
	}()

	select {
	case err := <-ready:
		if err != nil {
			c.Stop()
			return err
		}
		return nil
	case <-ctx.Done():
		c.Stop()
		return ctx.Err()
	}
}

// Stop disconnects and waits for the run loop to exit. Safe to call
// repeatedly and before Start.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// API returns the typed RPC surface. Valid once Start has succeeded.
func (c *Client) API() *tg.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.api
}

// Self returns the authorized account. Valid once Start has succeeded.
func (c *Client) Self() *tg.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func verifyAccount(expected string, self *tg.User) error {
	if expected == "" {
		return nil
	}
	if session.SameAccount(expected, self.Username) {
		return nil
	}
	return &session.MismatchError{Expected: expected, Actual: self.Username}
}
