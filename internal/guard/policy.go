package guard

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tgmcp/internal/config"
)

// Policy decides whether the current process may issue direct Telegram
// writes. The zero value blocks everything except when Enabled is false.
type Policy struct {
	// Enabled turns the guard on. When false every request passes.
	Enabled bool
	// AllowDirectWrite is the explicit operator override. It does not
	// bypass the action-process requirement.
	AllowDirectWrite bool
	// EnforceActionProcess requires the process itself to be the action
	// server before any write is considered.
	EnforceActionProcess bool
	// ActionProcessMarker is the environment marker set by the action
	// server entrypoint.
	ActionProcessMarker bool
	// ProcessName is the base name of argv[0], used as a fallback when
	// the marker is absent.
	ProcessName string
	// WriteContext is this process's declared context, for example
	// "actions_mcp" or "cli".
	WriteContext string
	// AllowedContexts lists contexts permitted to write.
	AllowedContexts []string
	// AllowAuthBootstrap lets authorization requests through for the
	// login helper even though their names classify as writes.
	AllowAuthBootstrap bool
}

// FromConfig builds the process policy from loaded configuration.
func FromConfig(cfg config.Config) Policy {
	name := ""
	if len(os.Args) > 0 {
		name = filepath.Base(os.Args[0])
	}
	return Policy{
		Enabled:              cfg.BlockDirectWrite,
		AllowDirectWrite:     cfg.AllowDirectWrite,
		EnforceActionProcess: cfg.EnforceActionProcess,
		ActionProcessMarker:  cfg.ActionProcessMarker,
		ProcessName:          name,
		WriteContext:         cfg.WriteContext,
		AllowedContexts:      cfg.AllowedWriteContexts,
		AllowAuthBootstrap:   cfg.AllowAuthBootstrap,
	}
}

// IsActionsProcess reports whether this process is the action server.
// The environment marker wins; otherwise the executable name decides.
func (p Policy) IsActionsProcess() bool {
	if p.ActionProcessMarker {
		return true
	}
	return strings.Contains(strings.ToLower(p.ProcessName), "actions")
}

// DirectWriteAllowed reports whether write requests may proceed. The
// checks run in a fixed order: guard disabled, action-process
// enforcement, operator override, then context allowlist.
func (p Policy) DirectWriteAllowed() bool {
	if !p.Enabled {
		return true
	}
	if p.EnforceActionProcess && !p.IsActionsProcess() {
		return false
	}
	if p.AllowDirectWrite {
		return true
	}
	if p.WriteContext == "" {
		return false
	}
	for _, allowed := range p.AllowedContexts {
		if p.WriteContext == allowed {
			return true
		}
	}
	return false
}

// PermissionError is returned for a write request blocked by the guard.
type PermissionError struct {
	Method string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("direct Telegram write %q is blocked by default: use tgmcp-actions with confirm=true and an allowlisted target", e.Method)
}
