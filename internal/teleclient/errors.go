package teleclient

import "fmt"

// NotAuthorizedError reports a session file without a logged-in
// account. The servers never prompt; login happens via the CLI.
type NotAuthorizedError struct {
	Session string
}

func (e *NotAuthorizedError) Error() string {
	return fmt.Sprintf("telegram session %q is not authorized: run 'tgmcp login' first", e.Session)
}
