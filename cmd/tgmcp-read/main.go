// Command tgmcp-read serves the read-only Telegram tool set over stdio.
// It never issues direct writes: the guard middleware rejects write RPCs
// because this process runs outside the actions context.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tgratelimit "github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/telegram"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

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
		fmt.Fprintf(os.Stderr, "tgmcp-read: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, _, err := config.Load(config.WithProfile(config.ProfileRead))
	if err != nil {
		return err
	}

	// Stdout belongs to the protocol, so logs rotate into a file.
	logFile := cfg.LogFile
	if logFile == "" {
		logFile = filepath.Join(cfg.DataDir, "logs", "tgmcp-read.log")
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

	reg := mcp.NewRegistry()
	server.RegisterReadTools(reg, sctx)

	srv := mcp.NewServer(mcp.ServerInfo{Name: cfg.ServerName, Version: version.Version}, reg, log)
	return srv.Serve(ctx, os.Stdin, os.Stdout)
}
