package auth

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/assistant-gate/internal/domain"
)

// Outcome tags what a single credential source produced.
type Outcome int

const (
	OutcomeAbsent Outcome = iota
	OutcomeVerified
	OutcomeMalformed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeVerified:
		return "verified"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "absent"
	}
}

// Reasons attached to non-verified attempts.
const (
	ReasonMissing        = "missing"
	ReasonExpired        = "expired"
	ReasonMalformed      = "malformed"
	ReasonBadSignature   = "bad_signature"
	ReasonRevoked        = "revoked"
	ReasonRevocationFail = "revocation_check_failed"
	ReasonUnknownSession = "unknown_session"
	ReasonLookupFailed   = "lookup_failed"
	ReasonLookupTimeout  = "lookup_timeout"
	ReasonCancelled      = "cancelled"
)

// Attempt records one source's result.
type Attempt struct {
	Source   string
	Outcome  Outcome
	Reason   string
	Identity *domain.Identity
}

// Source yields at most one identity from a request.
type Source interface {
	Name() string
	Resolve(ctx context.Context, req Request) Attempt
}

// Resolution is the resolver's answer for one request.
type Resolution struct {
	Identity *domain.Identity
	Source   string
	Attempts []Attempt
}

// Authenticated reports whether any source verified.
func (r Resolution) Authenticated() bool {
	return r.Identity != nil
}

// Resolver tries sources in order and stops at the first verified credential.
type Resolver struct {
	sources []Source
	logger  *zap.Logger
}

// NewResolver builds a resolver. Order of sources is precedence order.
func NewResolver(logger *zap.Logger, sources ...Source) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{sources: sources, logger: logger}
}

// Resolve returns an error only when ctx is done before a source verified.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Resolution, error) {
	var res Resolution
	for _, src := range r.sources {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		attempt := src.Resolve(ctx, req)
		if attempt.Source == "" {
			attempt.Source = src.Name()
		}
		res.Attempts = append(res.Attempts, attempt)

		switch attempt.Outcome {
		case OutcomeVerified:
			res.Identity = attempt.Identity
			res.Source = attempt.Source
			return res, nil
		case OutcomeMalformed:
			r.logger.Info("credential rejected",
				zap.String("source", attempt.Source),
				zap.String("reason", attempt.Reason))
		default:
			if attempt.Reason != ReasonMissing {
				r.logger.Debug("credential absent",
					zap.String("source", attempt.Source),
					zap.String("reason", attempt.Reason))
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}
