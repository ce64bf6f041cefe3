package actions

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"tgmcp/internal/statestore"
)

// Gate messages surfaced verbatim to the calling agent.
var (
	errApprovalRequired = errors.New("Execution blocked: approval_code is required. Run the same action with dry_run=true first.")
	errApprovalInvalid  = errors.New("Execution blocked: approval_code is invalid or expired.")
	errApprovalMismatch = errors.New("Execution blocked: approval_code does not match this payload. Generate a fresh dry_run preview.")
)

// IsRefusal reports whether err is a policy refusal that tool handlers
// should render as a blocked payload. Storage failures are not refusals.
func IsRefusal(err error) bool {
	return errors.Is(err, errApprovalRequired) ||
		errors.Is(err, errApprovalInvalid) ||
		errors.Is(err, errApprovalMismatch)
}

// Approval is the one-time code minted by a dry-run preview. The agent
// passes it back to execute the identical payload.
type Approval struct {
	Code         string `json:"approval_code"`
	ExpiresInSec int    `json:"approval_expires_in_sec"`
	ExpiresAtTS  int64  `json:"approval_expires_at_ts"`
}

// Approvals persists one-time codes keyed by code, each bound to a
// payload digest with an expiry. Expired entries are trimmed on every
// access, so the file never grows past the active window.
type Approvals struct {
	store *statestore.Store
	path  string
	ttl   time.Duration

	now     func() time.Time
	newCode func() string
}

// NewApprovals builds the approval store backed by the given state file.
func NewApprovals(store *statestore.Store, path string, ttl time.Duration) *Approvals {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Approvals{
		store:   store,
		path:    path,
		ttl:     ttl,
		now:     time.Now,
		newCode: newApprovalCode,
	}
}

func newApprovalCode() string {
	raw := make([]byte, 9)
	_, _ = rand.Read(raw)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Issue mints a fresh code bound to the payload digest.
func (a *Approvals) Issue(digest string) (Approval, error) {
	now := a.now()
	code := a.newCode()
	expiresAt := now.Add(a.ttl)
	_, err := a.store.UpdateJSON(a.path, "", func(state map[string]any) (any, error) {
		trimApprovals(state, now)
		state[code] = map[string]any{
			"digest":     digest,
			"expires_at": float64(expiresAt.Unix()),
		}
		return nil, nil
	})
	if err != nil {
		return Approval{}, errors.Wrap(err, "persist approval")
	}
	return Approval{
		Code:         code,
		ExpiresInSec: int(a.ttl / time.Second),
		ExpiresAtTS:  expiresAt.Unix(),
	}, nil
}

// Consume validates and burns a code for the given digest. A code is
// single-use: a second consume with the same code fails as invalid.
func (a *Approvals) Consume(digest, code string) error {
	code = strings.TrimSpace(code)
	now := a.now()
	res, err := a.store.UpdateJSON(a.path, "", func(state map[string]any) (any, error) {
		trimApprovals(state, now)
		if code == "" {
			return errApprovalRequired, nil
		}
		entry, ok := state[code].(map[string]any)
		if !ok {
			return errApprovalInvalid, nil
		}
		if bound, _ := entry["digest"].(string); bound != digest {
			return errApprovalMismatch, nil
		}
		delete(state, code)
		return nil, nil
	})
	if err != nil {
		return errors.Wrap(err, "consume approval")
	}
	if res != nil {
		return res.(error)
	}
	return nil
}

func trimApprovals(state map[string]any, now time.Time) {
	cutoff := float64(now.Unix())
	for code, v := range state {
		entry, ok := v.(map[string]any)
		if !ok {
			delete(state, code)
			continue
		}
		expires, _ := entry["expires_at"].(float64)
		if expires <= cutoff {
			delete(state, code)
		}
	}
}
