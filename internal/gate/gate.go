// Package gate combines identity resolution, CSRF enforcement and per-identity
// quotas into a single allow-or-reject decision for a protected operation.
package gate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/assistant-gate/internal/auth"
	"github.com/spec-kit/assistant-gate/internal/domain"
	"github.com/spec-kit/assistant-gate/internal/ratelimit"
	"github.com/spec-kit/assistant-gate/pkg/util/errorutil"
)

// Outcome is the gate's verdict. The zero value rejects.
type Outcome int

const (
	RejectUnauthenticated Outcome = iota
	RejectCSRF
	RejectRateLimited
	Allow
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case RejectCSRF:
		return "csrf"
	case RejectRateLimited:
		return "rate_limited"
	default:
		return "unauthenticated"
	}
}

// Decision is the result of one Evaluate call.
type Decision struct {
	Outcome    Outcome
	Identity   *domain.Identity
	Source     string
	RetryAfter time.Duration
	Quota      ratelimit.Result
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool { return d.Outcome == Allow }

// RetryAfterSeconds is the whole-second wait for a rate-limited decision, zero otherwise.
func (d Decision) RetryAfterSeconds() int {
	if d.Outcome != RejectRateLimited {
		return 0
	}
	return errorutil.RetryAfterSeconds(d.RetryAfter)
}

// IdentityResolver resolves the caller of a request.
type IdentityResolver interface {
	Resolve(ctx context.Context, req auth.Request) (auth.Resolution, error)
}

// QuotaLimiter counts a request against the caller's quota.
type QuotaLimiter interface {
	CheckAndConsume(ctx context.Context, subjectID, operation string, tier domain.Tier) (ratelimit.Result, error)
}

// Gate evaluates protected requests. It is safe for concurrent use.
type Gate struct {
	resolver IdentityResolver
	limiter  QuotaLimiter
	csrf     auth.CSRF
	logger   *zap.Logger
}

// New builds a gate.
func New(resolver IdentityResolver, limiter QuotaLimiter, csrf auth.CSRF, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{resolver: resolver, limiter: limiter, csrf: csrf, logger: logger}
}

// Evaluate resolves the caller, enforces CSRF on mutating methods and consumes
// one unit of the caller's quota for operation, stopping at the first rejection.
// A non-nil error means ctx ended or the limiter failed outside its store policy.
func (g *Gate) Evaluate(ctx context.Context, req auth.Request, operation string) (Decision, error) {
	res, err := g.resolver.Resolve(ctx, req)
	if err != nil {
		return Decision{}, err
	}
	if !res.Authenticated() {
		g.logger.Debug("request rejected",
			zap.String("operation", operation),
			zap.Stringer("outcome", RejectUnauthenticated))
		return Decision{Outcome: RejectUnauthenticated}, nil
	}

	identity := res.Identity
	decision := Decision{Identity: identity, Source: res.Source}

	if auth.IsMutating(req.Method()) && !g.csrf.Valid(req) {
		decision.Outcome = RejectCSRF
		g.logger.Info("request rejected",
			zap.String("operation", operation),
			zap.String("subject", identity.SubjectID),
			zap.Stringer("outcome", RejectCSRF))
		return decision, nil
	}

	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	quota, err := g.limiter.CheckAndConsume(ctx, identity.SubjectID, operation, identity.Tier)
	if err != nil {
		return Decision{}, err
	}
	decision.Quota = quota

	if !quota.Allowed {
		decision.Outcome = RejectRateLimited
		decision.RetryAfter = quota.RetryAfter
		g.logger.Info("request rejected",
			zap.String("operation", operation),
			zap.String("subject", identity.SubjectID),
			zap.Stringer("outcome", RejectRateLimited),
			zap.Int64("count", quota.Count),
			zap.Duration("retry_after", quota.RetryAfter))
		return decision, nil
	}

	decision.Outcome = Allow
	return decision, nil
}
