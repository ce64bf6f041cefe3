// Command tgmcp is the operator CLI for the Telegram MCP servers: an
// interactive login wizard, an environment doctor and read-only policy
// and limiter inspectors. It never sends messages or touches members;
// those run through tgmcp-actions only.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"tgmcp/internal/config"
	"tgmcp/internal/version"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// isTTY reports whether stdin and stdout are attached to a terminal.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func main() {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("%s %v\n", red("Error:"), err)
		os.Exit(1)
	}
}

// NewRootCommand assembles the operator CLI.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tgmcp",
		Short: "Operator CLI for the guarded Telegram MCP servers",
		Long: fmt.Sprintf(`%s

Companion CLI for tgmcp-read and tgmcp-actions. Sessions, quotas and the
circuit breaker live in shared files under the data directory, so what
this CLI reports is what the servers enforce.

%s
  tgmcp login                    # create or refresh a session file
  tgmcp login --session-name ops # separate session for another account
  tgmcp doctor                   # check .env completeness and safety posture
  tgmcp policy                   # print the effective action policy as JSON
  tgmcp stats                    # print shared limiter stats as JSON`,
			bold("tgmcp "+version.Version),
			bold("EXAMPLES:")),
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Same .env the servers read; missing file is fine.
			_ = godotenv.Load()
		},
	}

	rootCmd.AddCommand(newLoginCommand())
	rootCmd.AddCommand(newDoctorCommand())
	rootCmd.AddCommand(newPolicyCommand())
	rootCmd.AddCommand(newStatsCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func loadCLIConfig() (config.Config, config.Metadata, error) {
	return config.Load(config.WithProfile(config.ProfileCLI))
}

// newVersionCommand creates the version subcommand.
func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tgmcp %s (commit %s)\n", version.Version, version.GitCommit)
		},
	}
}
