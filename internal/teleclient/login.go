package teleclient

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

// Login runs the interactive authorization flow and returns the
// authorized account. FLOOD_WAIT during login is waited out by the
// flood-wait middleware instead of being surfaced to the user.
func Login(ctx context.Context, opts Options, authenticator auth.UserAuthenticator) (*tg.User, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	waiter := floodwait.NewWaiter().WithCallback(func(ctx context.Context, wait floodwait.FloodWait) {
		log.Warn("flood wait during login", zap.Duration("wait", wait.Duration))
	})

	tOpts := telegramOptions(opts, log)
	tOpts.Middlewares = append([]telegram.Middleware{waiter}, tOpts.Middlewares...)
	client := telegram.NewClient(opts.APIID, opts.APIHash, tOpts)

	var self *tg.User
	err := waiter.Run(ctx, func(ctx context.Context) error {
		return client.Run(ctx, func(ctx context.Context) error {
			flow := auth.NewFlow(authenticator, auth.SendCodeOptions{})
			if err := client.Auth().IfNecessary(ctx, flow); err != nil {
				return errors.Wrap(err, "authorization flow")
			}
			me, err := client.Self(ctx)
			if err != nil {
				return errors.Wrap(err, "fetch self")
			}
			if err := verifyAccount(opts.ExpectedUsername, me); err != nil {
				return err
			}
			self = me
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return self, nil
}
