// Package actions implements the authorization pipeline in front of every
// write tool: target allowlist, confirm flag, human confirmation phrase,
// one-time approval codes and an idempotency window, plus the persisted
// add-member batch engine with approval leases and run locks.
package actions

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"

	"tgmcp/internal/config"
	"tgmcp/internal/statestore"
)

// Gate enforces the action gates in fixed order: startup safety, actions
// enabled, allowlist, confirm flag, confirmation phrase. Approval codes
// and the idempotency window hang off it so tools deal with one object.
type Gate struct {
	enabled            bool
	requireAllowlist   bool
	allowed            map[string]bool
	requireConfirmText bool
	phrase             string
	minConfirmLen      int
	requireApproval    bool

	approvals *Approvals
	idem      *Idempotency

	unsafeIssues []string
	startupBlock string
}

// NewGate derives the pipeline from configuration. When the configuration
// weakens the default-safe policy and the unsafe override is not set,
// every action stays blocked and the reason names the offending keys.
func NewGate(cfg config.Config, store *statestore.Store) *Gate {
	g := &Gate{
		enabled:            cfg.ActionsEnabled,
		requireAllowlist:   cfg.RequireAllowlist,
		allowed:            ParseAllowlist(cfg.AllowedGroups),
		requireConfirmText: cfg.RequireConfirmationText,
		phrase:             strings.ToLower(strings.TrimSpace(cfg.ConfirmationPhrase)),
		minConfirmLen:      cfg.MinConfirmationTextLen,
		requireApproval:    cfg.RequireApprovalCode,
		approvals:          NewApprovals(store, cfg.ApprovalFile, time.Duration(cfg.ApprovalTTLSec)*time.Second),
		idem:               NewIdempotency(store, cfg.IdempotencyFile, time.Duration(cfg.IdempotencyWindowSec)*time.Second, cfg.IdempotencyEnabled),
	}
	g.unsafeIssues = DetectUnsafeDefaults(cfg)
	if len(g.unsafeIssues) > 0 && !cfg.AllowUnsafeDefaults {
		g.enabled = false
		g.startupBlock = "Unsafe actions policy detected: " + strings.Join(g.unsafeIssues, "; ") +
			". Set " + config.KeyAllowUnsafeDefaults + "=1 only if you really need non-safe mode."
	}
	return g
}

// Enabled reports whether actions may run at all.
func (g *Gate) Enabled() bool { return g.enabled }

// StartupBlockReason is non-empty when unsafe defaults disabled the server.
func (g *Gate) StartupBlockReason() string { return g.startupBlock }

// UnsafeIssues lists the policy weakenings detected at startup.
func (g *Gate) UnsafeIssues() []string { return g.unsafeIssues }

// AllowedTargets returns the normalized allowlist, sorted.
func (g *Gate) AllowedTargets() []string {
	out := make([]string, 0, len(g.allowed))
	for t := range g.allowed {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ConfirmationPhraseRequired returns the phrase agents must collect from
// the user, or empty when no confirmation text is required.
func (g *Gate) ConfirmationPhraseRequired() string {
	if !g.requireConfirmText {
		return ""
	}
	return g.phrase
}

// CheckEnabled covers the startup and enabled gates shared by every tool.
func (g *Gate) CheckEnabled() error {
	if g.startupBlock != "" {
		return errors.New(g.startupBlock)
	}
	if !g.enabled {
		return errors.New("Actions are disabled. Set " + config.KeyActionsEnabled + "=1.")
	}
	return nil
}

// TargetAllowed checks the group against the allowlist. An enforced but
// empty allowlist blocks everything.
func (g *Gate) TargetAllowed(group string) error {
	if g.requireAllowlist && len(g.allowed) == 0 {
		return errors.New("Actions blocked: " + config.KeyRequireAllowlist + "=1 but " + config.KeyAllowedGroups + " is empty.")
	}
	if len(g.allowed) > 0 && !g.allowed[NormalizeTarget(group)] {
		return errors.Errorf("Target '%s' is not in %s.", group, config.KeyAllowedGroups)
	}
	return nil
}

// CheckConfirmation validates the human phrase for non-dry-run writes.
// Comparison is case-insensitive on the trimmed text.
func (g *Gate) CheckConfirmation(text string, dryRun bool) error {
	if dryRun || !g.requireConfirmText {
		return nil
	}
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < g.minConfirmLen {
		return errors.Errorf("Execution blocked: add confirmation_text from user in this thread (min %d chars).", g.minConfirmLen)
	}
	if g.phrase != "" && strings.ToLower(trimmed) != g.phrase {
		return errors.Errorf("Execution blocked: confirmation_text must be exactly '%s'.", g.phrase)
	}
	return nil
}

// Preconditions runs the per-action gates in their fixed order.
func (g *Gate) Preconditions(group string, dryRun, confirm bool, confirmationText string) error {
	if err := g.CheckEnabled(); err != nil {
		return err
	}
	if err := g.TargetAllowed(group); err != nil {
		return err
	}
	if !dryRun && !confirm {
		return errors.New("Execution blocked: set confirm=true to run destructive action. Use dry_run=true to preview safely.")
	}
	return g.CheckConfirmation(confirmationText, dryRun)
}

// ApprovalGate issues a code on dry runs and consumes one on execution.
// The returned Approval is non-nil only on the dry-run path.
func (g *Gate) ApprovalGate(digest string, dryRun bool, code string) (*Approval, error) {
	if !g.requireApproval {
		return nil, nil
	}
	if dryRun {
		approval, err := g.approvals.Issue(digest)
		if err != nil {
			return nil, err
		}
		return &approval, nil
	}
	return nil, g.approvals.Consume(digest, code)
}

// CheckDuplicate reports whether the digest ran inside the idempotency
// window and the remaining retry-after seconds.
func (g *Gate) CheckDuplicate(digest string) (bool, int, error) {
	return g.idem.CheckDuplicate(digest)
}

// MarkExecuted opens a fresh idempotency window for the digest.
func (g *Gate) MarkExecuted(digest string) error {
	return g.idem.MarkExecuted(digest)
}

// NextStep maps a blocked-response error text to an actionable hint for
// the calling agent. Unknown errors get no hint.
func (g *Gate) NextStep(errText string) string {
	text := strings.ToLower(errText)
	switch {
	case text == "":
		return ""
	case strings.Contains(text, "unsafe actions policy detected"):
		return "Restore strict safety env flags, then restart the actions server. Use " +
			config.KeyAllowUnsafeDefaults + "=1 only for temporary debugging."
	case strings.Contains(text, "actions are disabled"):
		return "Set " + config.KeyActionsEnabled + "=1 for the actions server and restart it."
	case strings.Contains(text, strings.ToLower(config.KeyRequireAllowlist+"=1 but "+config.KeyAllowedGroups+" is empty")):
		return "Set " + config.KeyAllowedGroups + " with explicit targets, then retry dry_run."
	case strings.Contains(text, strings.ToLower("is not in "+config.KeyAllowedGroups)):
		return "Add this target to " + config.KeyAllowedGroups + ", then retry dry_run."
	case strings.Contains(text, "confirm=true"):
		return "Run same action with dry_run=true first, then rerun with confirm=true."
	case strings.Contains(text, "confirmation_text"):
		if g.phrase != "" {
			return fmt.Sprintf("Use exact confirmation_text='%s' in this thread.", g.phrase)
		}
		return "Provide confirmation_text from the user in this thread."
	case strings.Contains(text, "approval_code"):
		return "Run matching action with dry_run=true to get one-time approval_code, then execute."
	case strings.Contains(text, "duplicate action blocked"):
		return "Wait until idempotency window expires or set force_resend=true if resend is intentional."
	}
	return ""
}

// Blocked shapes the shared refusal payload: success=false, the error
// text and, when recognized, a next_step hint. Extra fields are merged in.
func (g *Gate) Blocked(errText string, extra map[string]any) map[string]any {
	payload := map[string]any{
		"success": false,
		"error":   errText,
	}
	if step := g.NextStep(errText); step != "" {
		payload["next_step"] = step
	}
	for k, v := range extra {
		payload[k] = v
	}
	return payload
}
