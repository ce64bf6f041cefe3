package actions

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"tgmcp/internal/config"
)

// NormalizeTarget canonicalizes a group identifier for allowlist checks
// and payload digests: trimmed, @-stripped, lowercased.
func NormalizeTarget(group string) string {
	v := strings.TrimSpace(group)
	v = strings.TrimPrefix(v, "@")
	return strings.ToLower(v)
}

// ParseAllowlist normalizes allowlist entries into a lookup set. Empty
// entries are dropped.
func ParseAllowlist(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		if v := NormalizeTarget(item); v != "" {
			out[v] = true
		}
	}
	return out
}

// HashPayload is the stable digest identifying an action: SHA-256 over
// compact JSON with sorted keys and HTML escaping off, so the same
// payload always maps to the same approval and idempotency key.
func HashPayload(payload map[string]any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Payloads are flat maps of scalars; encoding cannot fail.
	_ = enc.Encode(payload)
	sum := sha256.Sum256(bytes.TrimRight(buf.Bytes(), "\n"))
	return hex.EncodeToString(sum[:])
}

// DetectUnsafeDefaults lists the ways the configuration weakens the
// default-safe policy. A non-empty result without the explicit unsafe
// override disables all actions at startup.
func DetectUnsafeDefaults(cfg config.Config) []string {
	var issues []string
	if !cfg.BlockDirectWrite {
		issues = append(issues, config.KeyBlockDirectWrite+" must be 1")
	}
	if cfg.AllowDirectWrite {
		issues = append(issues, config.KeyAllowDirectWrite+" must stay 0")
	}
	if !cfg.EnforceActionProcess {
		issues = append(issues, config.KeyEnforceActionProcess+" must be 1")
	}
	if !cfg.RequireAllowlist {
		issues = append(issues, config.KeyRequireAllowlist+" must be 1")
	}
	if !cfg.RequireConfirmationText {
		issues = append(issues, config.KeyRequireConfirmationText+" must be 1")
	}
	if !cfg.RequireApprovalCode {
		issues = append(issues, config.KeyRequireApprovalCode+" must be 1")
	}
	if !cfg.IdempotencyEnabled {
		issues = append(issues, config.KeyIdempotencyEnabled+" must be 1")
	}
	return issues
}
