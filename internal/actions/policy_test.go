package actions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgmcp/internal/config"
)

func TestNormalizeTarget(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  @Ops_Team  ", "ops_team"},
		{"ops_team", "ops_team"},
		{"-1001234567890", "-1001234567890"},
		{"@", ""},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeTarget(tc.in), "input %q", tc.in)
	}
}

func TestParseAllowlist(t *testing.T) {
	set := ParseAllowlist([]string{" @Alpha ", "beta", "", "  "})
	assert.Equal(t, map[string]bool{"alpha": true, "beta": true}, set)
}

func TestHashPayloadStable(t *testing.T) {
	a := HashPayload(map[string]any{
		"action": "send_message",
		"target": "ops_team",
		"text":   "hello",
	})
	b := HashPayload(map[string]any{
		"text":   "hello",
		"target": "ops_team",
		"action": "send_message",
	})
	require.Len(t, a, 64)
	assert.Equal(t, a, b, "key order must not change the digest")

	c := HashPayload(map[string]any{
		"action": "send_message",
		"target": "ops_team",
		"text":   "hello!",
	})
	assert.NotEqual(t, a, c)
}

func TestHashPayloadKeepsUnicodeAndHTML(t *testing.T) {
	a := HashPayload(map[string]any{"text": "отправляй <b>&</b>"})
	b := HashPayload(map[string]any{"text": "отправляй <b>&</b>"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, HashPayload(map[string]any{"text": "отправляй"}))
}

func TestDetectUnsafeDefaultsCleanConfig(t *testing.T) {
	cfg := config.Config{
		BlockDirectWrite:        true,
		EnforceActionProcess:    true,
		RequireAllowlist:        true,
		RequireConfirmationText: true,
		RequireApprovalCode:     true,
		IdempotencyEnabled:      true,
	}
	assert.Empty(t, DetectUnsafeDefaults(cfg))
}

func TestDetectUnsafeDefaultsNamesEveryWeakening(t *testing.T) {
	issues := DetectUnsafeDefaults(config.Config{AllowDirectWrite: true})
	require.Len(t, issues, 7)
	assert.Contains(t, issues, "TG_BLOCK_DIRECT_WRITE must be 1")
	assert.Contains(t, issues, "TG_ALLOW_DIRECT_WRITE must stay 0")
	assert.Contains(t, issues, "TG_ENFORCE_ACTION_PROCESS must be 1")
	assert.Contains(t, issues, "TG_ACTIONS_REQUIRE_ALLOWLIST must be 1")
	assert.Contains(t, issues, "TG_ACTIONS_REQUIRE_CONFIRMATION_TEXT must be 1")
	assert.Contains(t, issues, "TG_ACTIONS_REQUIRE_APPROVAL_CODE must be 1")
	assert.Contains(t, issues, "TG_ACTIONS_IDEMPOTENCY_ENABLED must be 1")
}
