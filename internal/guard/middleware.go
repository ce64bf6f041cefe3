package guard

import (
	"context"
	"strings"

	"github.com/gotd/td/bin"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"
)

// Middleware rejects write-classified requests at the invoker layer so
// every code path, including convenience helpers, hits the same gate.
type Middleware struct {
	policy Policy
	log    *zap.Logger
}

// NewMiddleware builds the guard middleware for the given policy.
func NewMiddleware(policy Policy, log *zap.Logger) *Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return &Middleware{policy: policy, log: log}
}

var _ telegram.Middleware = (*Middleware)(nil)

// Handle wraps the next invoker with the write-guard check.
func (m *Middleware) Handle(next tg.Invoker) telegram.InvokeFunc {
	return func(ctx context.Context, input bin.Encoder, output bin.Decoder) error {
		name := requestName(input)
		if IsWrite(name) && !m.allowed(name) {
			m.log.Warn("blocked direct write request",
				zap.String("method", name),
				zap.String("write_context", m.policy.WriteContext))
			return &PermissionError{Method: name}
		}
		return next.Invoke(ctx, input, output)
	}
}

func (m *Middleware) allowed(name string) bool {
	if m.policy.DirectWriteAllowed() {
		return true
	}
	// Login requests classify as writes ("auth.sendCode") but must pass
	// while the bootstrap helper is creating a session.
	if m.policy.AllowAuthBootstrap && strings.HasPrefix(name, "auth.") {
		return true
	}
	return false
}

func requestName(input bin.Encoder) string {
	if obj, ok := input.(interface{ TypeName() string }); ok {
		return obj.TypeName()
	}
	return ""
}
