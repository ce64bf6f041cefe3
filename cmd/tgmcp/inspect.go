package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tgmcp/internal/actions"
	"tgmcp/internal/config"
	"tgmcp/internal/ratelimit"
	"tgmcp/internal/server"
	"tgmcp/internal/statestore"
)

// newPolicyCommand prints the action policy the actions server would run
// with, limiter usage included, without touching Telegram.
func newPolicyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "policy",
		Short: "Print the effective action policy as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := config.Load(config.WithProfile(config.ProfileActions))
			if err != nil {
				return err
			}
			store := statestore.Open(zap.NewNop())
			defer store.Close()

			limiter := ratelimit.New(store, server.LimiterConfig(cfg), nil, zap.NewNop())
			stats, err := limiter.Stats()
			if err != nil {
				return err
			}
			gate := actions.NewGate(cfg, store)
			return printJSON(server.PolicySnapshot(cfg, gate, stats))
		},
	}
}

// newStatsCommand prints quota and circuit usage from the state files the
// servers share.
func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print shared rate-limiter stats as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadCLIConfig()
			if err != nil {
				return err
			}
			store := statestore.Open(zap.NewNop())
			defer store.Close()

			limiter := ratelimit.New(store, server.LimiterConfig(cfg), nil, zap.NewNop())
			stats, err := limiter.Stats()
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
