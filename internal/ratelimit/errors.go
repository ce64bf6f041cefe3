package ratelimit

import (
	"fmt"
	"time"
)

// Operation classifies a guarded call for quota accounting.
type Operation string

const (
	// OpAPI is the default: counted against api_calls only.
	OpAPI Operation = "api"
	// OpDM is a direct message to a user.
	OpDM Operation = "dm"
	// OpJoin is a join/leave or invite/kick style membership change.
	OpJoin Operation = "join"
	// OpGroupMsg is a message posted into a group or channel.
	OpGroupMsg Operation = "group_msg"
)

// CircuitOpenError rejects calls while the shared breaker is open.
type CircuitOpenError struct {
	Remaining time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open: retry in %ds", int(e.Remaining.Seconds()+0.5))
}

// QuotaError reports an exhausted daily budget.
type QuotaError struct {
	Op   Operation
	Used int
	Cap  int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s quota exceeded: %d/%d", e.Op, e.Used, e.Cap)
}
