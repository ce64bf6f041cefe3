// Package config loads the environment-first runtime configuration shared by
// the tool servers and the CLI. Defaults are profile-aware, an optional YAML
// overlay may pin values, and environment variables always win.
package config

import (
	"time"
)

// Profile selects per-entrypoint defaults. Environment variables can still
// override anything a profile sets.
type Profile string

const (
	// ProfileRead is the read-only stdio server.
	ProfileRead Profile = "read"
	// ProfileActions is the actions stdio server.
	ProfileActions Profile = "actions"
	// ProfileCLI is the operator command line.
	ProfileCLI Profile = "cli"
)

// Config is the resolved runtime configuration.
type Config struct {
	Profile Profile

	// Telegram application credentials.
	APIID   int
	APIHash string

	// Secret sourcing: env reads the two values directly, keychain shells out
	// to the macOS keychain, command runs arbitrary configured commands.
	SecretProvider         string
	KeychainService        string
	KeychainAccountAPIID   string
	KeychainAccountAPIHash string
	SecretCmdAPIID         string
	SecretCmdAPIHash       string

	// Data layout.
	DataDir         string
	SessionsDir     string
	SessionName     string
	SessionPath     string // explicit path, wins over SessionsDir+SessionName
	DownloadsDir    string
	CountersFile    string
	BucketFile      string
	CircuitFile     string
	ApprovalFile    string
	IdempotencyFile string
	BatchFile       string

	// Session policy.
	SessionLockMode    string // shared | exclusive | off
	ExpectedUsername   string
	AllowSessionSwitch bool

	// Rate-limit kernel.
	RPS               float64
	DMCap             int
	JoinCap           int
	GroupMsgCap       int
	GlobalRPSMode     string // shared | local | off
	FloodThresholdSec int
	FloodCooldownSec  int

	// Write guard.
	BlockDirectWrite     bool
	AllowDirectWrite     bool
	EnforceActionProcess bool
	WriteContext         string
	AllowedWriteContexts []string
	ActionProcessMarker  bool
	AllowAuthBootstrap   bool

	// Action authorization.
	ActionsEnabled          bool
	RequireAllowlist        bool
	AllowedGroups           []string
	RequireConfirmationText bool
	ConfirmationPhrase      string
	MinConfirmationTextLen  int
	RequireApprovalCode     bool
	ApprovalTTLSec          int
	IdempotencyEnabled      bool
	IdempotencyWindowSec    int
	MaxMessageLen           int
	MaxFileMB               int
	AllowUnsafeDefaults     bool

	// Batch engine.
	BatchTTLHours         int
	BatchApprovalLeaseSec int
	BatchRunLeaseSec      int

	// Server identity and logging.
	ServerName string
	LogLevel   string
	LogFile    string
}

// ValueSource records where a configuration value came from.
type ValueSource string

const (
	SourceDefault ValueSource = "default"
	SourceFile    ValueSource = "file"
	SourceEnv     ValueSource = "env"
	SourceSecret  ValueSource = "secret"
)

// Metadata describes the provenance of each loaded key.
type Metadata struct {
	sources  map[string]ValueSource
	loadedAt time.Time
}

// Source reports where the given environment key was resolved from.
func (m Metadata) Source(key string) ValueSource {
	if s, ok := m.sources[key]; ok {
		return s
	}
	return SourceDefault
}

// LoadedAt reports when the configuration was assembled.
func (m Metadata) LoadedAt() time.Time { return m.loadedAt }
