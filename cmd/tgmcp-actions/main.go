// Command tgmcp-actions serves the full Telegram tool set over stdio:
// the read tools plus the gated send, membership and batch tools. It is
// the only process whose write context passes the guard, and every
// destructive tool still walks the dry-run, confirmation and approval
// pipeline before touching Telegram.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tgratelimit "github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/telegram"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tgmcp/internal/actions"
	"tgmcp/internal/config"
	"tgmcp/internal/guard"
	"tgmcp/internal/logging"
	"tgmcp/internal/mcp"
	"tgmcp/internal/metrics"
	"tgmcp/internal/ratelimit"
	"tgmcp/internal/server"
	"tgmcp/internal/statestore"
	"tgmcp/internal/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tgmcp-actions: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, _, err := config.Load(config.WithProfile(config.ProfileActions))
	if err != nil {
		return err
	}

	logFile := cfg.LogFile
	if logFile == "" {
		logFile = filepath.Join(cfg.DataDir, "logs", "tgmcp-actions.log")
	}
	log, err := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: "json",
		Output: "file",
		File:   logFile,
	})
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := statestore.Open(log)
	defer store.Close()

	m := metrics.New()
	limiter := ratelimit.New(store, server.LimiterConfig(cfg), m, log)

	gate := actions.NewGate(cfg, store)
	if reason := gate.StartupBlockReason(); reason != "" {
		log.Warn("actions blocked at startup",
			zap.String("reason", reason),
			zap.String("issues", strings.Join(gate.UnsafeIssues(), "; ")))
	} else if !gate.Enabled() {
		log.Info("actions disabled, tools respond with enable instructions",
			zap.String("key", config.KeyActionsEnabled))
	}
	engine := actions.NewEngine(store, gate, cfg, log)

	sctx := server.NewContext(server.Options{
		Config:  cfg,
		Limiter: limiter,
		Metrics: m,
		Logger:  log,
		Middlewares: []telegram.Middleware{
			guard.NewMiddleware(guard.FromConfig(cfg), log),
			tgratelimit.New(rate.Limit(cfg.RPS), 5),
		},
	})
	defer sctx.Close()

	// Read tools stay available here so an agent can resolve and inspect
	// targets in the same session that executes against them.
	reg := mcp.NewRegistry()
	server.RegisterReadTools(reg, sctx)
	server.RegisterActionTools(reg, sctx, gate, engine)

	srv := mcp.NewServer(mcp.ServerInfo{Name: cfg.ServerName, Version: version.Version}, reg, log)
	return srv.Serve(ctx, os.Stdin, os.Stdout)
}
