package gate

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/assistant-gate/internal/auth"
	"github.com/spec-kit/assistant-gate/internal/observability"
	apperrors "github.com/spec-kit/assistant-gate/pkg/util/errorutil"
)

// Middleware exposes the gate as fiber handlers.
type Middleware struct {
	gate    *Gate
	metrics *observability.Metrics
}

// NewMiddleware constructs middleware. metrics may be nil.
func NewMiddleware(g *Gate, metrics *observability.Metrics) *Middleware {
	return &Middleware{gate: g, metrics: metrics}
}

// Protect guards the remaining handlers behind operation's quota. On success
// the identity is available through auth.IdentityFromContext.
func (m *Middleware) Protect(operation string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		decision, err := m.gate.Evaluate(c.UserContext(), auth.FiberRequest(c), operation)
		if err != nil {
			return err
		}
		m.metrics.RecordDecision(operation, decision.Outcome.String(), decision.Quota.Degraded)

		switch decision.Outcome {
		case Allow:
			auth.SetIdentity(c, decision.Identity, decision.Source)
			return c.Next()
		case RejectCSRF:
			return apperrors.NewCSRFRejected()
		case RejectRateLimited:
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(decision.RetryAfterSeconds()))
			return apperrors.NewTooManyRequests("rate limit exceeded", decision.RetryAfter)
		default:
			return apperrors.NewUnauthorized("authentication required")
		}
	}
}
