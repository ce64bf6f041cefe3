package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"tgmcp/internal/config"
	"tgmcp/internal/guard"
	"tgmcp/internal/logging"
	"tgmcp/internal/session"
	"tgmcp/internal/teleclient"
)

// newLoginCommand creates the interactive session wizard.
func newLoginCommand() *cobra.Command {
	var sessionName string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Create or refresh a Telegram session file (interactive)",
		Long: `Runs the Telegram authorization flow and stores the session under the
sessions directory. Prompts for phone number, login code and, when the
account has one, the 2FA password. FLOOD_WAIT during login is waited out
automatically.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isTTY() {
				return errors.New("login is interactive and needs a terminal")
			}
			cfg, meta, err := loadCLIConfig()
			if err != nil {
				return err
			}
			if sessionName != "" {
				cfg.SessionName = sessionName
				cfg.SessionPath = ""
			}
			// Authorization RPCs classify as writes; let them through
			// unless the operator pinned the flag themselves.
			if meta.Source(config.KeyAllowAuthBootstrap) == config.SourceDefault {
				cfg.AllowAuthBootstrap = true
			}
			return runLogin(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&sessionName, "session-name", "",
		"session file name under the sessions dir (default from SESSION_NAME)")
	return cmd
}

func runLogin(ctx context.Context, cfg config.Config) error {
	loc := session.Locator{
		Dir:          cfg.SessionsDir,
		Name:         cfg.SessionName,
		ExplicitPath: cfg.SessionPath,
	}
	path := loc.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrap(err, "create sessions dir")
	}

	fmt.Printf("%s\n", bold("Creating Telegram session"))
	fmt.Printf("  session file: %s\n", cyan(path))
	if cfg.ExpectedUsername != "" {
		fmt.Printf("  expected account: %s\n", cyan(cfg.ExpectedUsername))
	}
	fmt.Println()

	log, err := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: "console",
		Output: "stderr",
	})
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	self, err := teleclient.Login(ctx, teleclient.Options{
		APIID:            cfg.APIID,
		APIHash:          cfg.APIHash,
		SessionPath:      path,
		DeviceModel:      cfg.ServerName,
		ExpectedUsername: cfg.ExpectedUsername,
		Logger:           log,
		Middlewares: []telegram.Middleware{
			guard.NewMiddleware(guard.FromConfig(cfg), log),
		},
	}, termAuth{})
	if err != nil {
		return loginHint(err)
	}

	if err := session.Harden(path); err != nil {
		return err
	}

	account := self.Username
	if account != "" {
		account = "@" + account
	} else {
		account = self.FirstName
	}
	fmt.Printf("%s logged in as %s (id=%d)\n", green("✅"), bold(account), self.ID)
	fmt.Printf("   %s\n", gray("the MCP servers pick this session up via SESSION_NAME"))
	return nil
}

// loginHint decorates well-known authorization failures with what to do
// about them before handing the error back to cobra.
func loginHint(err error) error {
	var mismatch *session.MismatchError
	if errors.As(err, &mismatch) {
		fmt.Printf("%s %s\n", red("❌"), mismatch.Error())
		fmt.Printf("   %s\n", gray("log into the expected account or update "+config.KeyExpectedUsername))
		return errors.New("account mismatch")
	}
	if tgerr.Is(err, "PHONE_CODE_INVALID", "PHONE_CODE_EXPIRED") {
		fmt.Printf("%s invalid or expired login code\n", red("❌"))
		fmt.Printf("   %s\n", gray("telegram often sends the code to the in-app chat, not SMS;"))
		fmt.Printf("   %s\n", gray("check the Telegram app on other devices, including archived chats"))
	}
	return err
}

// termAuth drives the interactive flow: phone and login code through
// prompts, 2FA password read without echo. Sign-up is refused so a typo
// in the phone number cannot register a fresh account.
type termAuth struct{}

func (termAuth) Phone(_ context.Context) (string, error) {
	prompt := promptui.Prompt{
		Label: "Phone (international format, e.g. +31612345678)",
		Validate: func(s string) error {
			s = strings.TrimSpace(s)
			if !strings.HasPrefix(s, "+") || len(s) < 8 {
				return errors.New("expected +<country><number>")
			}
			return nil
		},
	}
	phone, err := prompt.Run()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(phone), nil
}

func (termAuth) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	prompt := promptui.Prompt{
		Label: "Login code (check the Telegram app, not SMS)",
		Validate: func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("code is empty")
			}
			return nil
		},
	}
	code, err := prompt.Run()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(code), nil
}

func (termAuth) Password(_ context.Context) (string, error) {
	fmt.Print("2FA password: ")
	pwd, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(pwd)), nil
}

func (termAuth) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	return &auth.SignUpRequired{TermsOfService: tos}
}

func (termAuth) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("sign-up through this helper is not supported")
}
