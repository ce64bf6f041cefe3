package session

import "fmt"

// BusyError reports a session file locked by another process.
type BusyError struct {
	Path string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("telegram session %q is already in use by another process: use a separate session or set TG_SESSION_LOCK_MODE=shared", e.Path)
}

// MismatchError reports a session bound to a different account than
// the one the caller expected.
type MismatchError struct {
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("session account mismatch: expected %q, authorized as %q", e.Expected, e.Actual)
}
