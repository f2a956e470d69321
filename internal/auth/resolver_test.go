package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/assistant-gate/internal/auth"
	"github.com/spec-kit/assistant-gate/internal/domain"
	"github.com/spec-kit/assistant-gate/internal/mocks"
)

const (
	sessionCookie   = "session-token"
	frameworkCookie = "next-auth.session-token"
)

type resolverFixture struct {
	codec    *auth.TokenCodec
	clock    *clock
	resolver *auth.Resolver
}

func newResolverFixture(t *testing.T, lookup auth.SessionLookup, revocations auth.RevocationChecker, timeout time.Duration) *resolverFixture {
	t.Helper()
	clk := newClock()
	codec := newCodec(t, clk)
	if lookup == nil {
		lookup = mocks.NewMockSessionLookup(gomock.NewController(t))
	}
	resolver := auth.NewResolver(zaptest.NewLogger(t),
		auth.CookieTokenSource(sessionCookie, codec, revocations),
		auth.BearerTokenSource(codec, revocations),
		auth.NewSessionSource(frameworkCookie, lookup, timeout),
	)
	return &resolverFixture{codec: codec, clock: clk, resolver: resolver}
}

func (f *resolverFixture) issue(t *testing.T, subject string, ttl time.Duration) (string, domain.Identity) {
	t.Helper()
	token, identity, err := f.codec.Issue(subject, domain.TierStandard, ttl)
	require.NoError(t, err)
	return token, identity
}

type requestOpt func(*http.Request)

func withCookie(name, value string) requestOpt {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: name, Value: value}) }
}

func withBearer(token string) requestOpt {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func newRequest(method string, opts ...requestOpt) auth.Request {
	r := httptest.NewRequest(method, "/api/llm/chat", nil)
	for _, opt := range opts {
		opt(r)
	}
	return auth.HTTPRequest(r)
}

func outcomes(res auth.Resolution) []auth.Outcome {
	out := make([]auth.Outcome, 0, len(res.Attempts))
	for _, a := range res.Attempts {
		out = append(out, a.Outcome)
	}
	return out
}

func TestResolverCookieTakesPrecedence(t *testing.T) {
	f := newResolverFixture(t, nil, nil, 0)
	cookieToken, _ := f.issue(t, "cookie-user", time.Hour)
	bearerToken, _ := f.issue(t, "bearer-user", time.Hour)

	res, err := f.resolver.Resolve(context.Background(),
		newRequest(http.MethodGet, withCookie(sessionCookie, cookieToken), withBearer(bearerToken)))
	require.NoError(t, err)
	require.True(t, res.Authenticated())
	require.Equal(t, "cookie-user", res.Identity.SubjectID)
	require.Equal(t, auth.SourceCookie, res.Source)
	require.Len(t, res.Attempts, 1, "later sources are not consulted")
}

func TestResolverFallsBackPastMalformedCookie(t *testing.T) {
	f := newResolverFixture(t, nil, nil, 0)
	bearerToken, _ := f.issue(t, "bearer-user", time.Hour)

	res, err := f.resolver.Resolve(context.Background(),
		newRequest(http.MethodGet, withCookie(sessionCookie, "not-a-token"), withBearer(bearerToken)))
	require.NoError(t, err)
	require.Equal(t, "bearer-user", res.Identity.SubjectID)
	require.Equal(t, auth.SourceBearer, res.Source)
	require.Equal(t, []auth.Outcome{auth.OutcomeMalformed, auth.OutcomeVerified}, outcomes(res))
	require.Equal(t, auth.ReasonMalformed, res.Attempts[0].Reason)
}

func TestResolverBadSignatureFallsBack(t *testing.T) {
	f := newResolverFixture(t, nil, nil, 0)
	other, err := auth.NewTokenCodec("another-secret-0123456789-abcdefghij", auth.WithClock(f.clock.Now))
	require.NoError(t, err)
	forged, _, err := other.Issue("mallory", domain.TierElevated, time.Hour)
	require.NoError(t, err)
	bearerToken, _ := f.issue(t, "bearer-user", time.Hour)

	res, err := f.resolver.Resolve(context.Background(),
		newRequest(http.MethodGet, withCookie(sessionCookie, forged), withBearer(bearerToken)))
	require.NoError(t, err)
	require.Equal(t, "bearer-user", res.Identity.SubjectID)
	require.Equal(t, auth.ReasonBadSignature, res.Attempts[0].Reason)
}

func TestResolverExpiredCookieIsAbsent(t *testing.T) {
	f := newResolverFixture(t, nil, nil, 0)
	expired, _ := f.issue(t, "cookie-user", 0)
	f.clock.Advance(time.Second)
	bearerToken, _ := f.issue(t, "bearer-user", time.Hour)

	res, err := f.resolver.Resolve(context.Background(),
		newRequest(http.MethodGet, withCookie(sessionCookie, expired), withBearer(bearerToken)))
	require.NoError(t, err)
	require.Equal(t, auth.SourceBearer, res.Source)
	require.Equal(t, auth.OutcomeAbsent, res.Attempts[0].Outcome)
	require.Equal(t, auth.ReasonExpired, res.Attempts[0].Reason)
}

func TestResolverUnauthenticated(t *testing.T) {
	f := newResolverFixture(t, nil, nil, 0)

	res, err := f.resolver.Resolve(context.Background(), newRequest(http.MethodGet))
	require.NoError(t, err)
	require.False(t, res.Authenticated())
	require.Empty(t, res.Source)
	require.Equal(t, []auth.Outcome{auth.OutcomeAbsent, auth.OutcomeAbsent, auth.OutcomeAbsent}, outcomes(res))
}

func TestResolverIgnoresNonBearerAuthorization(t *testing.T) {
	f := newResolverFixture(t, nil, nil, 0)
	token, _ := f.issue(t, "u", time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic "+token)
	res, err := f.resolver.Resolve(context.Background(), auth.HTTPRequest(req))
	require.NoError(t, err)
	require.False(t, res.Authenticated())
}

func TestResolverSessionFallback(t *testing.T) {
	ctrl := gomock.NewController(t)
	lookup := mocks.NewMockSessionLookup(ctrl)
	f := newResolverFixture(t, lookup, nil, time.Second)

	lookup.EXPECT().
		LookupSessionPrincipal(gomock.Any(), "sess-1").
		Return(&domain.SessionPrincipal{SubjectID: "session-user", Tier: domain.TierElevated, ExpiresAt: time.Now().Add(time.Hour)}, nil)

	res, err := f.resolver.Resolve(context.Background(),
		newRequest(http.MethodPost, withCookie(sessionCookie, "garbage"), withCookie(frameworkCookie, "sess-1")))
	require.NoError(t, err)
	require.Equal(t, auth.SourceSession, res.Source)
	require.Equal(t, "session-user", res.Identity.SubjectID)
	require.Equal(t, domain.TierElevated, res.Identity.Tier)
	require.Empty(t, res.Identity.TokenID)
	require.Equal(t, []auth.Outcome{auth.OutcomeMalformed, auth.OutcomeAbsent, auth.OutcomeVerified}, outcomes(res))
}

func TestResolverSessionOutcomes(t *testing.T) {
	cases := []struct {
		name      string
		principal *domain.SessionPrincipal
		err       error
		outcome   auth.Outcome
		reason    string
	}{
		{name: "unknown session", outcome: auth.OutcomeAbsent, reason: auth.ReasonUnknownSession},
		{name: "store error", err: errors.New("connection reset"), outcome: auth.OutcomeMalformed, reason: auth.ReasonLookupFailed},
		{
			name:      "expired session",
			principal: &domain.SessionPrincipal{SubjectID: "u", Tier: domain.TierStandard, ExpiresAt: time.Now().Add(-time.Minute)},
			outcome:   auth.OutcomeAbsent,
			reason:    auth.ReasonExpired,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lookup := mocks.NewMockSessionLookup(gomock.NewController(t))
			lookup.EXPECT().LookupSessionPrincipal(gomock.Any(), "sess").Return(tc.principal, tc.err)
			f := newResolverFixture(t, lookup, nil, time.Second)

			res, err := f.resolver.Resolve(context.Background(), newRequest(http.MethodGet, withCookie(frameworkCookie, "sess")))
			require.NoError(t, err)
			require.False(t, res.Authenticated())
			last := res.Attempts[len(res.Attempts)-1]
			require.Equal(t, tc.outcome, last.Outcome)
			require.Equal(t, tc.reason, last.Reason)
		})
	}
}

func TestResolverSessionLookupTimeout(t *testing.T) {
	lookup := mocks.NewMockSessionLookup(gomock.NewController(t))
	lookup.EXPECT().
		LookupSessionPrincipal(gomock.Any(), "slow").
		DoAndReturn(func(ctx context.Context, _ string) (*domain.SessionPrincipal, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
	f := newResolverFixture(t, lookup, nil, 20*time.Millisecond)

	start := time.Now()
	res, err := f.resolver.Resolve(context.Background(), newRequest(http.MethodGet, withCookie(frameworkCookie, "slow")))
	require.NoError(t, err)
	require.Less(t, time.Since(start), time.Second)
	require.False(t, res.Authenticated())
	require.Equal(t, auth.ReasonLookupTimeout, res.Attempts[2].Reason)
}

func TestResolverCallerCancellationAbandonsLookup(t *testing.T) {
	release := make(chan struct{})
	lookup := mocks.NewMockSessionLookup(gomock.NewController(t))
	lookup.EXPECT().
		LookupSessionPrincipal(gomock.Any(), "sess").
		DoAndReturn(func(context.Context, string) (*domain.SessionPrincipal, error) {
			<-release
			return nil, nil
		})
	t.Cleanup(func() { close(release) })
	f := newResolverFixture(t, lookup, nil, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.resolver.Resolve(ctx, newRequest(http.MethodGet, withCookie(frameworkCookie, "sess")))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("resolver did not return after cancellation")
	}
}

func TestResolverCoalescesConcurrentSessionLookups(t *testing.T) {
	release := make(chan struct{})
	lookup := mocks.NewMockSessionLookup(gomock.NewController(t))
	lookup.EXPECT().
		LookupSessionPrincipal(gomock.Any(), "shared").
		DoAndReturn(func(context.Context, string) (*domain.SessionPrincipal, error) {
			<-release
			return &domain.SessionPrincipal{SubjectID: "u", Tier: domain.TierStandard}, nil
		}).
		Times(1)
	f := newResolverFixture(t, lookup, nil, 5*time.Second)

	const callers = 10
	var wg sync.WaitGroup
	results := make([]auth.Resolution, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = f.resolver.Resolve(context.Background(), newRequest(http.MethodGet, withCookie(frameworkCookie, "shared")))
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, res := range results {
		require.True(t, res.Authenticated())
		require.Equal(t, "u", res.Identity.SubjectID)
	}
}

func TestResolverRejectsRevokedToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	revocations := auth.NewRedisRevocations(client)

	f := newResolverFixture(t, nil, revocations, 0)
	token, identity := f.issue(t, "u", time.Hour)
	req := newRequest(http.MethodGet, withCookie(sessionCookie, token))

	res, err := f.resolver.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Authenticated())

	require.NoError(t, revocations.Revoke(context.Background(), identity.TokenID, time.Now().Add(time.Hour)))

	res, err = f.resolver.Resolve(context.Background(), req)
	require.NoError(t, err)
	require.False(t, res.Authenticated())
	require.Equal(t, auth.ReasonRevoked, res.Attempts[0].Reason)
}

type brokenRevocations struct{}

func (brokenRevocations) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestResolverRevocationFailureIsNotTrusted(t *testing.T) {
	f := newResolverFixture(t, nil, brokenRevocations{}, 0)
	token, _ := f.issue(t, "u", time.Hour)

	res, err := f.resolver.Resolve(context.Background(), newRequest(http.MethodGet, withBearer(token)))
	require.NoError(t, err)
	require.False(t, res.Authenticated())
	require.Equal(t, auth.ReasonRevocationFail, res.Attempts[1].Reason)
}
