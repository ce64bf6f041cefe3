package actions

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tgmcp/internal/statestore"
)

func newTestApprovals(t *testing.T, ttl time.Duration) *Approvals {
	t.Helper()
	store := statestore.Open(zap.NewNop())
	return NewApprovals(store, filepath.Join(t.TempDir(), "approvals.json"), ttl)
}

func TestApprovalIssueAndConsume(t *testing.T) {
	a := newTestApprovals(t, 30*time.Minute)

	approval, err := a.Issue("digest-1")
	require.NoError(t, err)
	assert.NotEmpty(t, approval.Code)
	assert.Equal(t, 1800, approval.ExpiresInSec)
	assert.Greater(t, approval.ExpiresAtTS, time.Now().Unix())

	require.NoError(t, a.Consume("digest-1", approval.Code))

	// Codes are single-use.
	err = a.Consume("digest-1", approval.Code)
	require.Error(t, err)
	assert.Equal(t, errApprovalInvalid.Error(), err.Error())
}

func TestApprovalCodeRequired(t *testing.T) {
	a := newTestApprovals(t, time.Minute)
	err := a.Consume("digest-1", "  ")
	require.Error(t, err)
	assert.Equal(t, errApprovalRequired.Error(), err.Error())
}

func TestApprovalDigestMismatch(t *testing.T) {
	a := newTestApprovals(t, time.Minute)
	approval, err := a.Issue("digest-1")
	require.NoError(t, err)

	err = a.Consume("digest-2", approval.Code)
	require.Error(t, err)
	assert.Equal(t, errApprovalMismatch.Error(), err.Error())

	// The mismatch must not burn the code.
	require.NoError(t, a.Consume("digest-1", approval.Code))
}

func TestApprovalExpires(t *testing.T) {
	a := newTestApprovals(t, time.Minute)
	approval, err := a.Issue("digest-1")
	require.NoError(t, err)

	a.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	err = a.Consume("digest-1", approval.Code)
	require.Error(t, err)
	assert.Equal(t, errApprovalInvalid.Error(), err.Error())
}

func TestApprovalCodesAreUnique(t *testing.T) {
	a := newTestApprovals(t, time.Minute)
	first, err := a.Issue("digest-1")
	require.NoError(t, err)
	second, err := a.Issue("digest-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.Code, second.Code)

	// Both stay valid until consumed.
	require.NoError(t, a.Consume("digest-1", first.Code))
	require.NoError(t, a.Consume("digest-1", second.Code))
}
