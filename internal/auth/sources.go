package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/spec-kit/assistant-gate/internal/domain"
)

// Source names, in default precedence order.
const (
	SourceCookie  = "cookie"
	SourceBearer  = "bearer"
	SourceSession = "session"
)

// DefaultSessionLookupTimeout bounds a framework session lookup.
const DefaultSessionLookupTimeout = 2 * time.Second

// TokenSource verifies a signed token taken from the request.
type TokenSource struct {
	name        string
	extract     func(Request) string
	codec       *TokenCodec
	revocations RevocationChecker
}

// CookieTokenSource reads the token from cookieName. revocations may be nil.
func CookieTokenSource(cookieName string, codec *TokenCodec, revocations RevocationChecker) *TokenSource {
	return &TokenSource{
		name:        SourceCookie,
		extract:     func(req Request) string { return req.Cookie(cookieName) },
		codec:       codec,
		revocations: revocations,
	}
}

// BearerTokenSource reads the token from an "Authorization: Bearer" header.
func BearerTokenSource(codec *TokenCodec, revocations RevocationChecker) *TokenSource {
	return &TokenSource{
		name:        SourceBearer,
		extract:     bearerToken,
		codec:       codec,
		revocations: revocations,
	}
}

func bearerToken(req Request) string {
	authHeader := req.Header("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Name implements Source.
func (s *TokenSource) Name() string { return s.name }

// Resolve implements Source.
func (s *TokenSource) Resolve(ctx context.Context, req Request) Attempt {
	raw := s.extract(req)
	if raw == "" {
		return Attempt{Source: s.name, Outcome: OutcomeAbsent, Reason: ReasonMissing}
	}

	identity, err := s.codec.Verify(raw)
	switch {
	case errors.Is(err, ErrExpired):
		return Attempt{Source: s.name, Outcome: OutcomeAbsent, Reason: ReasonExpired}
	case errors.Is(err, ErrBadSignature):
		return Attempt{Source: s.name, Outcome: OutcomeMalformed, Reason: ReasonBadSignature}
	case err != nil:
		return Attempt{Source: s.name, Outcome: OutcomeMalformed, Reason: ReasonMalformed}
	}

	if s.revocations != nil {
		revoked, err := s.revocations.IsRevoked(ctx, identity.TokenID)
		if err != nil {
			// Unknown revocation state is treated as revoked.
			return Attempt{Source: s.name, Outcome: OutcomeMalformed, Reason: ReasonRevocationFail}
		}
		if revoked {
			return Attempt{Source: s.name, Outcome: OutcomeMalformed, Reason: ReasonRevoked}
		}
	}
	return Attempt{Source: s.name, Outcome: OutcomeVerified, Identity: &identity}
}

// SessionLookup resolves a framework session id. A nil principal with a nil
// error means no such session.
type SessionLookup interface {
	LookupSessionPrincipal(ctx context.Context, sessionID string) (*domain.SessionPrincipal, error)
}

// SessionSource resolves identities through the framework session store.
// Concurrent lookups of the same session id share one call.
type SessionSource struct {
	cookieName string
	lookup     SessionLookup
	timeout    time.Duration
	now        func() time.Time
	group      singleflight.Group
}

// NewSessionSource builds a session source reading the id from cookieName.
func NewSessionSource(cookieName string, lookup SessionLookup, timeout time.Duration) *SessionSource {
	if timeout <= 0 {
		timeout = DefaultSessionLookupTimeout
	}
	return &SessionSource{cookieName: cookieName, lookup: lookup, timeout: timeout, now: time.Now}
}

// Name implements Source.
func (s *SessionSource) Name() string { return SourceSession }

// Resolve implements Source.
func (s *SessionSource) Resolve(ctx context.Context, req Request) Attempt {
	sessionID := req.Cookie(s.cookieName)
	if sessionID == "" {
		return Attempt{Source: SourceSession, Outcome: OutcomeAbsent, Reason: ReasonMissing}
	}

	ch := s.group.DoChan(sessionID, func() (interface{}, error) {
		// The shared call outlives any single waiter; only the timeout ends it.
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.lookup.LookupSessionPrincipal(lookupCtx, sessionID)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return Attempt{Source: SourceSession, Outcome: OutcomeAbsent, Reason: ReasonCancelled}
	case res = <-ch:
	}

	if res.Err != nil {
		reason := ReasonLookupFailed
		if errors.Is(res.Err, context.DeadlineExceeded) {
			reason = ReasonLookupTimeout
		}
		return Attempt{Source: SourceSession, Outcome: OutcomeMalformed, Reason: reason}
	}

	principal, _ := res.Val.(*domain.SessionPrincipal)
	if principal == nil || principal.SubjectID == "" {
		return Attempt{Source: SourceSession, Outcome: OutcomeAbsent, Reason: ReasonUnknownSession}
	}
	if !principal.ExpiresAt.IsZero() && s.now().After(principal.ExpiresAt) {
		return Attempt{Source: SourceSession, Outcome: OutcomeAbsent, Reason: ReasonExpired}
	}
	if !principal.Tier.Valid() {
		return Attempt{Source: SourceSession, Outcome: OutcomeMalformed, Reason: ReasonMalformed}
	}

	return Attempt{
		Source:  SourceSession,
		Outcome: OutcomeVerified,
		Identity: &domain.Identity{
			SubjectID: principal.SubjectID,
			Tier:      principal.Tier,
			ExpiresAt: principal.ExpiresAt,
		},
	}
}
