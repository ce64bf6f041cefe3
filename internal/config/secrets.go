package config

import (
	"os/exec"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
)

// CommandRunner executes an external command and returns its stdout.
type CommandRunner func(name string, args ...string) ([]byte, error)

func runSecretCommand(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

// resolveSecrets fills API credentials from the configured secret provider.
// The env provider is a no-op because TG_API_ID and TG_API_HASH were already
// applied during the environment pass.
func resolveSecrets(cfg *Config, meta *Metadata, opts loadOptions) error {
	run := opts.runCommand
	if run == nil {
		run = runSecretCommand
	}

	switch cfg.SecretProvider {
	case "keychain":
		if cfg.KeychainAccountAPIID != "" {
			value, err := keychainLookup(run, cfg.KeychainService, cfg.KeychainAccountAPIID)
			if err != nil {
				return errors.Wrap(err, "keychain: api id")
			}
			parsed, err := strconv.Atoi(value)
			if err != nil {
				return errors.Wrap(err, "keychain: parse api id")
			}
			cfg.APIID = parsed
			meta.sources[KeyAPIID] = SourceSecret
		}
		if cfg.KeychainAccountAPIHash != "" {
			value, err := keychainLookup(run, cfg.KeychainService, cfg.KeychainAccountAPIHash)
			if err != nil {
				return errors.Wrap(err, "keychain: api hash")
			}
			cfg.APIHash = value
			meta.sources[KeyAPIHash] = SourceSecret
		}
	case "command":
		if cfg.SecretCmdAPIID != "" {
			value, err := commandLookup(run, cfg.SecretCmdAPIID)
			if err != nil {
				return errors.Wrap(err, "secret command: api id")
			}
			parsed, err := strconv.Atoi(value)
			if err != nil {
				return errors.Wrap(err, "secret command: parse api id")
			}
			cfg.APIID = parsed
			meta.sources[KeyAPIID] = SourceSecret
		}
		if cfg.SecretCmdAPIHash != "" {
			value, err := commandLookup(run, cfg.SecretCmdAPIHash)
			if err != nil {
				return errors.Wrap(err, "secret command: api hash")
			}
			cfg.APIHash = value
			meta.sources[KeyAPIHash] = SourceSecret
		}
	}

	return nil
}

func keychainLookup(run CommandRunner, service, account string) (string, error) {
	out, err := run("security", "find-generic-password", "-s", service, "-a", account, "-w")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func commandLookup(run CommandRunner, command string) (string, error) {
	out, err := run("sh", "-c", command)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
