package actions

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tgmcp/internal/config"
	"tgmcp/internal/statestore"
)

// safeConfig is a fully strict actions configuration over temp state files.
func safeConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		BlockDirectWrite:        true,
		EnforceActionProcess:    true,
		ActionsEnabled:          true,
		RequireAllowlist:        true,
		AllowedGroups:           []string{"ops_team", "beta_chat"},
		RequireConfirmationText: true,
		ConfirmationPhrase:      "отправляй",
		MinConfirmationTextLen:  6,
		RequireApprovalCode:     true,
		ApprovalTTLSec:          1800,
		IdempotencyEnabled:      true,
		IdempotencyWindowSec:    86400,
		ApprovalFile:            filepath.Join(dir, "approvals.json"),
		IdempotencyFile:         filepath.Join(dir, "idempotency.json"),
		BatchFile:               filepath.Join(dir, "batches.json"),
		BatchTTLHours:           168,
		BatchApprovalLeaseSec:   86400,
		BatchRunLeaseSec:        1800,
		ServerName:              "tg-actions-test",
	}
}

func newTestGate(t *testing.T, mutate func(*config.Config)) *Gate {
	t.Helper()
	cfg := safeConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}
	return NewGate(cfg, statestore.Open(zap.NewNop()))
}

func TestGateBlocksUnsafeDefaultsAtStartup(t *testing.T) {
	g := newTestGate(t, func(cfg *config.Config) {
		cfg.BlockDirectWrite = false
		cfg.RequireApprovalCode = false
	})
	assert.False(t, g.Enabled())
	require.NotEmpty(t, g.StartupBlockReason())
	assert.Contains(t, g.StartupBlockReason(), "Unsafe actions policy detected")
	assert.Contains(t, g.StartupBlockReason(), "TG_BLOCK_DIRECT_WRITE must be 1")
	assert.Contains(t, g.StartupBlockReason(), "TG_ACTIONS_REQUIRE_APPROVAL_CODE must be 1")
	assert.Contains(t, g.StartupBlockReason(), "TG_ACTIONS_ALLOW_UNSAFE_DEFAULTS=1")

	err := g.CheckEnabled()
	require.Error(t, err)
	assert.Equal(t, g.StartupBlockReason(), err.Error())
}

func TestGateUnsafeOverrideKeepsActionsOn(t *testing.T) {
	g := newTestGate(t, func(cfg *config.Config) {
		cfg.RequireConfirmationText = false
		cfg.AllowUnsafeDefaults = true
	})
	assert.True(t, g.Enabled())
	assert.Empty(t, g.StartupBlockReason())
	assert.NotEmpty(t, g.UnsafeIssues())
	require.NoError(t, g.CheckEnabled())
}

func TestGateActionsDisabled(t *testing.T) {
	g := newTestGate(t, func(cfg *config.Config) { cfg.ActionsEnabled = false })
	err := g.CheckEnabled()
	require.Error(t, err)
	assert.Equal(t, "Actions are disabled. Set TG_ACTIONS_ENABLED=1.", err.Error())
}

func TestTargetAllowed(t *testing.T) {
	g := newTestGate(t, nil)
	assert.NoError(t, g.TargetAllowed("@Ops_Team"))
	assert.NoError(t, g.TargetAllowed("beta_chat"))

	err := g.TargetAllowed("@intruders")
	require.Error(t, err)
	assert.Equal(t, "Target '@intruders' is not in TG_ACTIONS_ALLOWED_GROUPS.", err.Error())
}

func TestTargetAllowedEmptyEnforcedAllowlist(t *testing.T) {
	g := newTestGate(t, func(cfg *config.Config) {
		cfg.AllowedGroups = nil
		cfg.AllowUnsafeDefaults = true
	})
	err := g.TargetAllowed("ops_team")
	require.Error(t, err)
	assert.Equal(t,
		"Actions blocked: TG_ACTIONS_REQUIRE_ALLOWLIST=1 but TG_ACTIONS_ALLOWED_GROUPS is empty.",
		err.Error())
}

func TestAllowedTargetsSorted(t *testing.T) {
	g := newTestGate(t, nil)
	assert.Equal(t, []string{"beta_chat", "ops_team"}, g.AllowedTargets())
}

func TestCheckConfirmation(t *testing.T) {
	g := newTestGate(t, nil)

	assert.NoError(t, g.CheckConfirmation("", true), "dry runs skip the phrase")

	err := g.CheckConfirmation("да", false)
	require.Error(t, err)
	assert.Equal(t, "Execution blocked: add confirmation_text from user in this thread (min 6 chars).", err.Error())

	err = g.CheckConfirmation("отправить", false)
	require.Error(t, err)
	assert.Equal(t, "Execution blocked: confirmation_text must be exactly 'отправляй'.", err.Error())

	assert.NoError(t, g.CheckConfirmation("  ОтПрАвЛяЙ  ", false), "comparison is case-insensitive")
}

func TestCheckConfirmationNotRequired(t *testing.T) {
	g := newTestGate(t, func(cfg *config.Config) {
		cfg.RequireConfirmationText = false
		cfg.AllowUnsafeDefaults = true
	})
	assert.NoError(t, g.CheckConfirmation("", false))
	assert.Empty(t, g.ConfirmationPhraseRequired())
}

func TestPreconditionsOrder(t *testing.T) {
	g := newTestGate(t, nil)

	err := g.Preconditions("@intruders", true, false, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not in TG_ACTIONS_ALLOWED_GROUPS")

	err = g.Preconditions("ops_team", false, false, "отправляй")
	require.Error(t, err)
	assert.Equal(t,
		"Execution blocked: set confirm=true to run destructive action. Use dry_run=true to preview safely.",
		err.Error())

	require.NoError(t, g.Preconditions("ops_team", true, false, ""), "dry run needs no confirm")
	require.NoError(t, g.Preconditions("ops_team", false, true, "отправляй"))
}

func TestApprovalGateRoundTrip(t *testing.T) {
	g := newTestGate(t, nil)
	digest := HashPayload(map[string]any{"action": "send_message", "target": "ops_team", "text": "hi"})

	approval, err := g.ApprovalGate(digest, true, "")
	require.NoError(t, err)
	require.NotNil(t, approval)
	assert.NotEmpty(t, approval.Code)

	_, err = g.ApprovalGate(digest, false, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "approval_code is required")

	_, err = g.ApprovalGate(digest, false, approval.Code)
	require.NoError(t, err)
}

func TestApprovalGateDisabled(t *testing.T) {
	g := newTestGate(t, func(cfg *config.Config) {
		cfg.RequireApprovalCode = false
		cfg.AllowUnsafeDefaults = true
	})
	approval, err := g.ApprovalGate("digest", true, "")
	require.NoError(t, err)
	assert.Nil(t, approval)

	_, err = g.ApprovalGate("digest", false, "")
	require.NoError(t, err)
}

func TestNextStepHints(t *testing.T) {
	g := newTestGate(t, nil)
	cases := []struct {
		err  string
		want string
	}{
		{"Unsafe actions policy detected: x. Set TG_ACTIONS_ALLOW_UNSAFE_DEFAULTS=1 only if you really need non-safe mode.", "Restore strict safety env flags"},
		{"Actions are disabled. Set TG_ACTIONS_ENABLED=1.", "Set TG_ACTIONS_ENABLED=1"},
		{"Actions blocked: TG_ACTIONS_REQUIRE_ALLOWLIST=1 but TG_ACTIONS_ALLOWED_GROUPS is empty.", "explicit targets"},
		{"Target '@x' is not in TG_ACTIONS_ALLOWED_GROUPS.", "Add this target"},
		{"Execution blocked: set confirm=true to run destructive action. Use dry_run=true to preview safely.", "rerun with confirm=true"},
		{"Execution blocked: confirmation_text must be exactly 'отправляй'.", "confirmation_text='отправляй'"},
		{"Execution blocked: approval_code is invalid or expired.", "one-time approval_code"},
		{"Duplicate action blocked by idempotency window. Set force_resend=true to override.", "force_resend=true"},
		{"something else entirely", ""},
	}
	for _, tc := range cases {
		got := g.NextStep(tc.err)
		if tc.want == "" {
			assert.Empty(t, got, "error %q", tc.err)
			continue
		}
		assert.Contains(t, got, tc.want, "error %q", tc.err)
	}
}

func TestBlockedPayloadShape(t *testing.T) {
	g := newTestGate(t, nil)
	payload := g.Blocked("Target '@x' is not in TG_ACTIONS_ALLOWED_GROUPS.", map[string]any{"batch_id": "batch_x"})
	assert.Equal(t, false, payload["success"])
	assert.Equal(t, "Target '@x' is not in TG_ACTIONS_ALLOWED_GROUPS.", payload["error"])
	assert.NotEmpty(t, payload["next_step"])
	assert.Equal(t, "batch_x", payload["batch_id"])

	plain := g.Blocked("something else entirely", nil)
	_, hasHint := plain["next_step"]
	assert.False(t, hasHint)
}
