package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"gopkg.in/yaml.v3"
)

// EnvLookup resolves the value of an environment variable.
type EnvLookup func(string) (string, bool)

// Option customises the loader behaviour.
type Option func(*loadOptions)

type loadOptions struct {
	envLookup  EnvLookup
	readFile   func(string) ([]byte, error)
	runCommand CommandRunner
	configFile string
	profile    Profile
}

// WithEnv supplies a custom environment lookup implementation.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) {
		o.envLookup = lookup
	}
}

// WithFileReader injects a custom reader, used primarily for tests.
func WithFileReader(reader func(string) ([]byte, error)) Option {
	return func(o *loadOptions) {
		o.readFile = reader
	}
}

// WithConfigFile points the loader at a YAML settings file. Values from the
// file sit between built-in defaults and environment overrides.
func WithConfigFile(path string) Option {
	return func(o *loadOptions) {
		o.configFile = path
	}
}

// WithCommandRunner overrides how secret provider commands are executed.
func WithCommandRunner(run CommandRunner) Option {
	return func(o *loadOptions) {
		o.runCommand = run
	}
}

// WithProfile selects the binary profile whose defaults apply.
func WithProfile(profile Profile) Option {
	return func(o *loadOptions) {
		o.profile = profile
	}
}

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// Load constructs the configuration by merging defaults, the optional config
// file and environment variables, then resolving secrets and derived paths.
func Load(opts ...Option) (Config, Metadata, error) {
	options := loadOptions{
		envLookup:  DefaultEnvLookup,
		readFile:   os.ReadFile,
		runCommand: runSecretCommand,
		profile:    ProfileCLI,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.envLookup == nil {
		options.envLookup = DefaultEnvLookup
	}

	meta := Metadata{sources: map[string]ValueSource{}, loadedAt: time.Now()}
	cfg := defaults(options.profile)

	if err := applyFile(&cfg, &meta, options); err != nil {
		return Config{}, Metadata{}, err
	}
	if err := applyEnv(&cfg, &meta, options); err != nil {
		return Config{}, Metadata{}, err
	}
	if err := resolveSecrets(&cfg, &meta, options); err != nil {
		return Config{}, Metadata{}, err
	}
	derivePaths(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, Metadata{}, err
	}

	return cfg, meta, nil
}

func defaults(profile Profile) Config {
	cfg := Config{
		Profile: profile,

		SecretProvider:  "env",
		KeychainService: "tgmcp",

		DataDir:     "data",
		SessionName: "tg_session",

		SessionLockMode:    "shared",
		AllowSessionSwitch: true,

		RPS:               4.0,
		DMCap:             20,
		JoinCap:           20,
		GroupMsgCap:       30,
		GlobalRPSMode:     "shared",
		FloodThresholdSec: 60,
		FloodCooldownSec:  900,

		BlockDirectWrite:     true,
		EnforceActionProcess: true,
		WriteContext:         "cli",
		AllowedWriteContexts: []string{"actions_mcp"},

		RequireAllowlist:        true,
		RequireConfirmationText: true,
		ConfirmationPhrase:      "отправляй",
		MinConfirmationTextLen:  6,
		RequireApprovalCode:     true,
		ApprovalTTLSec:          1800,
		IdempotencyEnabled:      true,
		IdempotencyWindowSec:    86400,
		MaxMessageLen:           2000,
		MaxFileMB:               20,

		BatchTTLHours:         168,
		BatchApprovalLeaseSec: 86400,
		BatchRunLeaseSec:      1800,

		ServerName: "tgmcp",
		LogLevel:   "info",
	}

	switch profile {
	case ProfileRead:
		cfg.ServerName = "tgmcp-read"
		cfg.WriteContext = "read_mcp"
	case ProfileActions:
		cfg.ServerName = "tgmcp-actions"
		cfg.WriteContext = "actions_mcp"
		cfg.ActionProcessMarker = true
		cfg.AllowSessionSwitch = false
	}

	return cfg
}

func applyFile(cfg *Config, meta *Metadata, opts loadOptions) error {
	if opts.configFile == "" {
		return nil
	}

	data, err := opts.readFile(opts.configFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return errors.Wrap(err, "read config file")
	}

	parsed := map[string]any{}
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return errors.Wrap(err, "parse config file")
	}

	known := make(map[string]struct{}, len(EnvKeys))
	for _, key := range EnvKeys {
		known[key] = struct{}{}
	}
	for key := range parsed {
		if _, ok := known[key]; !ok {
			return errors.Errorf("config file: unknown key %q", key)
		}
	}

	for _, key := range EnvKeys {
		raw, ok := parsed[key]
		if !ok {
			continue
		}
		value, err := scalarString(raw)
		if err != nil {
			return errors.Wrapf(err, "config file: %s", key)
		}
		if value == "" {
			continue
		}
		if err := applyValue(cfg, key, value); err != nil {
			return err
		}
		meta.sources[key] = SourceFile
	}

	return nil
}

func applyEnv(cfg *Config, meta *Metadata, opts loadOptions) error {
	for _, key := range EnvKeys {
		value, ok := opts.envLookup(key)
		if !ok || value == "" {
			continue
		}
		if err := applyValue(cfg, key, value); err != nil {
			return err
		}
		meta.sources[key] = SourceEnv
	}
	return nil
}

func applyValue(cfg *Config, key, value string) error {
	switch key {
	case KeyAPIID:
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return errors.Wrapf(err, "parse %s", key)
		}
		cfg.APIID = parsed
	case KeyAPIHash:
		cfg.APIHash = strings.TrimSpace(value)

	case KeySecretProvider:
		cfg.SecretProvider = strings.ToLower(strings.TrimSpace(value))
	case KeyKeychainService:
		cfg.KeychainService = strings.TrimSpace(value)
	case KeyKeychainAccountAPIID:
		cfg.KeychainAccountAPIID = strings.TrimSpace(value)
	case KeyKeychainAccountAPIHash:
		cfg.KeychainAccountAPIHash = strings.TrimSpace(value)
	case KeySecretCmdAPIID:
		cfg.SecretCmdAPIID = strings.TrimSpace(value)
	case KeySecretCmdAPIHash:
		cfg.SecretCmdAPIHash = strings.TrimSpace(value)

	case KeyDataDir:
		cfg.DataDir = value
	case KeySessionsDir:
		cfg.SessionsDir = value
	case KeySessionName:
		cfg.SessionName = strings.TrimSpace(value)
	case KeySessionPath:
		cfg.SessionPath = value
	case KeyDownloadsDir:
		cfg.DownloadsDir = value
	case KeyCountersFile:
		cfg.CountersFile = value
	case KeyBucketFile:
		cfg.BucketFile = value
	case KeyCircuitFile:
		cfg.CircuitFile = value
	case KeyApprovalFile:
		cfg.ApprovalFile = value
	case KeyIdempotencyFile:
		cfg.IdempotencyFile = value
	case KeyBatchFile:
		cfg.BatchFile = value

	case KeySessionLockMode:
		cfg.SessionLockMode = strings.ToLower(strings.TrimSpace(value))
	case KeyExpectedUsername:
		cfg.ExpectedUsername = strings.TrimSpace(value)
	case KeyAllowSessionSwitch:
		return applyBool(key, value, &cfg.AllowSessionSwitch)

	case KeyRPS:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return errors.Wrapf(err, "parse %s", key)
		}
		cfg.RPS = parsed
	case KeyDMCap:
		return applyInt(key, value, &cfg.DMCap)
	case KeyJoinCap:
		return applyInt(key, value, &cfg.JoinCap)
	case KeyGroupMsgCap:
		return applyInt(key, value, &cfg.GroupMsgCap)
	case KeyGlobalRPSMode:
		cfg.GlobalRPSMode = strings.ToLower(strings.TrimSpace(value))
	case KeyFloodThresholdSec:
		return applyInt(key, value, &cfg.FloodThresholdSec)
	case KeyFloodCooldownSec:
		return applyInt(key, value, &cfg.FloodCooldownSec)

	case KeyBlockDirectWrite:
		return applyBool(key, value, &cfg.BlockDirectWrite)
	case KeyAllowDirectWrite:
		return applyBool(key, value, &cfg.AllowDirectWrite)
	case KeyEnforceActionProcess:
		return applyBool(key, value, &cfg.EnforceActionProcess)
	case KeyWriteContext:
		cfg.WriteContext = strings.ToLower(strings.TrimSpace(value))
	case KeyAllowedWriteContexts:
		cfg.AllowedWriteContexts = splitList(strings.ToLower(value))
	case KeyActionProcessMarker:
		return applyBool(key, value, &cfg.ActionProcessMarker)
	case KeyAllowAuthBootstrap:
		return applyBool(key, value, &cfg.AllowAuthBootstrap)

	case KeyActionsEnabled:
		return applyBool(key, value, &cfg.ActionsEnabled)
	case KeyRequireAllowlist:
		return applyBool(key, value, &cfg.RequireAllowlist)
	case KeyAllowedGroups:
		cfg.AllowedGroups = splitList(value)
	case KeyRequireConfirmationText:
		return applyBool(key, value, &cfg.RequireConfirmationText)
	case KeyConfirmationPhrase:
		cfg.ConfirmationPhrase = strings.TrimSpace(value)
	case KeyMinConfirmationTextLen:
		return applyInt(key, value, &cfg.MinConfirmationTextLen)
	case KeyRequireApprovalCode:
		return applyBool(key, value, &cfg.RequireApprovalCode)
	case KeyApprovalTTLSec:
		return applyInt(key, value, &cfg.ApprovalTTLSec)
	case KeyIdempotencyEnabled:
		return applyBool(key, value, &cfg.IdempotencyEnabled)
	case KeyIdempotencyWindowSec:
		return applyInt(key, value, &cfg.IdempotencyWindowSec)
	case KeyMaxMessageLen:
		return applyInt(key, value, &cfg.MaxMessageLen)
	case KeyMaxFileMB:
		return applyInt(key, value, &cfg.MaxFileMB)
	case KeyAllowUnsafeDefaults:
		return applyBool(key, value, &cfg.AllowUnsafeDefaults)

	case KeyBatchTTLHours:
		return applyInt(key, value, &cfg.BatchTTLHours)
	case KeyBatchApprovalLeaseSec:
		return applyInt(key, value, &cfg.BatchApprovalLeaseSec)
	case KeyBatchRunLeaseSec:
		return applyInt(key, value, &cfg.BatchRunLeaseSec)

	case KeyServerName:
		cfg.ServerName = strings.TrimSpace(value)
	case KeyLogLevel:
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(value))
	case KeyLogFile:
		cfg.LogFile = value

	default:
		return errors.Errorf("unknown config key %q", key)
	}
	return nil
}

func applyInt(key, value string, dst *int) error {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return errors.Wrapf(err, "parse %s", key)
	}
	*dst = parsed
	return nil
}

func applyBool(key, value string, dst *bool) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		return errors.Errorf("parse %s: invalid boolean %q", key, value)
	}
	return nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func scalarString(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case nil:
		return "", nil
	default:
		return "", errors.Errorf("unsupported value type %T", raw)
	}
}

func derivePaths(cfg *Config) {
	if cfg.SessionsDir == "" {
		cfg.SessionsDir = filepath.Join(cfg.DataDir, "sessions")
	}
	if cfg.DownloadsDir == "" {
		cfg.DownloadsDir = filepath.Join(cfg.DataDir, "downloads")
	}

	antiSpam := filepath.Join(cfg.DataDir, "anti_spam")
	if cfg.CountersFile == "" {
		cfg.CountersFile = filepath.Join(antiSpam, "daily_counters.txt")
	}
	if cfg.BucketFile == "" {
		cfg.BucketFile = filepath.Join(antiSpam, "rate_bucket.json")
	}
	if cfg.CircuitFile == "" {
		cfg.CircuitFile = filepath.Join(antiSpam, "circuit_breaker.json")
	}
	if cfg.ApprovalFile == "" {
		cfg.ApprovalFile = filepath.Join(antiSpam, "action_approvals.json")
	}
	if cfg.IdempotencyFile == "" {
		cfg.IdempotencyFile = filepath.Join(antiSpam, "action_idempotency.json")
	}
	if cfg.BatchFile == "" {
		cfg.BatchFile = filepath.Join(antiSpam, "action_batches.json")
	}
}

func validate(cfg Config) error {
	switch cfg.GlobalRPSMode {
	case "shared", "local", "off":
	default:
		return errors.Errorf("%s: unknown mode %q", KeyGlobalRPSMode, cfg.GlobalRPSMode)
	}
	switch cfg.SessionLockMode {
	case "shared", "exclusive", "off":
	default:
		return errors.Errorf("%s: unknown mode %q", KeySessionLockMode, cfg.SessionLockMode)
	}
	switch cfg.SecretProvider {
	case "env", "keychain", "command":
	default:
		return errors.Errorf("%s: unknown provider %q", KeySecretProvider, cfg.SecretProvider)
	}
	if cfg.RPS <= 0 {
		return errors.Errorf("%s must be positive, got %v", KeyRPS, cfg.RPS)
	}
	if cfg.DMCap < 0 || cfg.JoinCap < 0 || cfg.GroupMsgCap < 0 {
		return errors.New("daily caps must not be negative")
	}
	return nil
}
