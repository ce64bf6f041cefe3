package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tgmcp/internal/actions"
	"tgmcp/internal/config"
	"tgmcp/internal/session"
)

// newDoctorCommand creates the environment doctor.
func newDoctorCommand() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check env completeness, safety posture and file hygiene",
		Long: `Compares the env file against the full configuration contract, flags
placeholder values, reports flags that weaken the action gates and
checks that the env and session files are private. Exits non-zero when
anything needs attention.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(envFile)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "env file to inspect")
	return cmd
}

func runDoctor(envFile string) error {
	if envFile != ".env" {
		_ = godotenv.Load(envFile)
	}

	problems := checkEnvFile(envFile)

	cfg, meta, err := loadCLIConfig()
	if err != nil {
		fmt.Printf("%s Configuration does not load: %v\n", red("❌"), err)
		problems++
	} else {
		problems += checkSafetyPosture(cfg)
		problems += checkFileHygiene(envFile, cfg)
		fmt.Printf("%s secret provider: %s (%s resolved from %s)\n",
			gray("ℹ️"), cfg.SecretProvider, config.KeyAPIID, meta.Source(config.KeyAPIID))
	}

	if problems > 0 {
		return errors.Errorf("found %d problem(s)", problems)
	}
	fmt.Printf("\n%s Environment looks good\n", green("✅"))
	return nil
}

// checkEnvFile verifies every recognized key is present in the env file
// and that none keeps a sample placeholder. Keys for inactive secret
// providers only need to exist.
func checkEnvFile(envFile string) int {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("%s %s not readable: %v\n", red("❌"), envFile, err)
		fmt.Printf("%s copy env.sample to %s and fill in credentials\n", gray("💡"), envFile)
		return 1
	}

	provider := strings.ToLower(strings.TrimSpace(v.GetString(config.KeySecretProvider)))
	optional := map[string]bool{}
	if provider != "keychain" {
		optional[config.KeyKeychainService] = true
		optional[config.KeyKeychainAccountAPIID] = true
		optional[config.KeyKeychainAccountAPIHash] = true
	}
	if provider != "command" {
		optional[config.KeySecretCmdAPIID] = true
		optional[config.KeySecretCmdAPIHash] = true
	}
	if provider == "keychain" || provider == "command" {
		optional[config.KeyAPIID] = true
		optional[config.KeyAPIHash] = true
	}

	var missing, placeholders []string
	for _, key := range config.EnvKeys {
		if !v.IsSet(key) {
			missing = append(missing, key)
			continue
		}
		if optional[key] {
			continue
		}
		if isPlaceholder(v.GetString(key)) {
			placeholders = append(placeholders, key)
		}
	}

	problems := 0
	if len(missing) > 0 {
		fmt.Printf("%s Missing keys (%d):\n", red("❌"), len(missing))
		for _, key := range missing {
			fmt.Printf("  - %s\n", key)
		}
		fmt.Printf("%s copy the missing lines from env.sample\n", gray("💡"))
		problems++
	} else {
		fmt.Printf("%s All %d contract keys present\n", green("✅"), len(config.EnvKeys))
	}

	if len(placeholders) > 0 {
		fmt.Printf("%s Keys with default/empty values (%d):\n", yellow("⚠️"), len(placeholders))
		for _, key := range placeholders {
			fmt.Printf("  - %s = %s\n", key, v.GetString(key))
		}
		fmt.Printf("%s update these with your actual values\n", gray("💡"))
		problems++
	} else {
		fmt.Printf("%s All keys have values\n", green("✅"))
	}
	return problems
}

func isPlaceholder(value string) bool {
	value = strings.TrimSpace(value)
	for _, placeholder := range config.PlaceholderValues {
		if value == placeholder {
			return true
		}
	}
	return false
}

// checkSafetyPosture reports flags that weaken the action gates.
func checkSafetyPosture(cfg config.Config) int {
	issues := actions.DetectUnsafeDefaults(cfg)
	if len(issues) == 0 {
		fmt.Printf("%s Safety defaults are strict\n", green("✅"))
		return 0
	}
	fmt.Printf("%s Unsafe action defaults (%d):\n", red("❌"), len(issues))
	for _, issue := range issues {
		fmt.Printf("  - %s\n", issue)
	}
	if cfg.AllowUnsafeDefaults {
		fmt.Printf("%s %s=1 keeps the actions server running anyway\n",
			yellow("⚠️"), config.KeyAllowUnsafeDefaults)
	} else {
		fmt.Printf("%s the actions server refuses every action until these are restored\n", gray("💡"))
	}
	return 1
}

// checkFileHygiene warns when the env file or a session file is readable
// by group or other users.
func checkFileHygiene(envFile string, cfg config.Config) int {
	problems := 0
	if loose := loosePerm(envFile); loose != "" {
		fmt.Printf("%s %s is %s, run: chmod 600 %s\n", yellow("⚠️"), envFile, loose, envFile)
		problems++
	}

	infos, err := session.List(cfg.SessionsDir)
	if err != nil {
		fmt.Printf("%s cannot read sessions dir: %v\n", yellow("⚠️"), err)
		return problems + 1
	}
	if len(infos) == 0 {
		fmt.Printf("%s no session files under %s yet, run: tgmcp login\n",
			gray("ℹ️"), cfg.SessionsDir)
		return problems
	}
	for _, info := range infos {
		if loose := loosePerm(info.Path); loose != "" {
			fmt.Printf("%s session %s is %s, run: chmod 600 %s\n",
				yellow("⚠️"), info.Name, loose, info.Path)
			problems++
		}
	}
	if problems == 0 {
		fmt.Printf("%s Env and session files are private\n", green("✅"))
	}
	return problems
}

// loosePerm returns the octal mode when the file is group/other accessible,
// empty otherwise. Missing files are someone else's problem.
func loosePerm(path string) string {
	fi, err := os.Stat(path)
	if err != nil {
		return ""
	}
	if mode := fi.Mode().Perm(); mode&0o077 != 0 {
		return fmt.Sprintf("%#o", mode)
	}
	return ""
}
