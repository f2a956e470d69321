package service_test

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/assistant-gate/internal/auth"
	"github.com/spec-kit/assistant-gate/internal/domain"
	"github.com/spec-kit/assistant-gate/internal/events"
	"github.com/spec-kit/assistant-gate/internal/ratelimit"
	"github.com/spec-kit/assistant-gate/internal/service"
	"github.com/spec-kit/assistant-gate/internal/worker"
	apperrors "github.com/spec-kit/assistant-gate/pkg/util/errorutil"
)

const secret = "service-test-secret-0123456789-abcd"

type memoryUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{users: map[string]*domain.User{}}
}

func (m *memoryUsers) Create(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	m.users[strings.ToLower(user.Email)] = user
	return nil
}

func (m *memoryUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memoryUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[strings.ToLower(email)]; ok {
		return u, nil
	}
	return nil, pgx.ErrNoRows
}

type recordingRevoker struct {
	revoked []string
}

func (r *recordingRevoker) Revoke(_ context.Context, tokenID string, _ time.Time) error {
	r.revoked = append(r.revoked, tokenID)
	return nil
}

type fixture struct {
	svc     *service.AuthService
	users   *memoryUsers
	codec   *auth.TokenCodec
	mr      *miniredis.Miniredis
	revoker *recordingRevoker
	audit   *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	policy, err := ratelimit.ParsePolicy("default:*=60/1m;login-attempt:*=5/1h")
	require.NoError(t, err)
	limiter := ratelimit.NewLimiter(ratelimit.NewRedisStore(client), policy, ratelimit.Options{}, zaptest.NewLogger(t))

	codec, err := auth.NewTokenCodec(secret)
	require.NoError(t, err)

	f := &fixture{users: newMemoryUsers(), codec: codec, mr: mr, revoker: &recordingRevoker{}}

	dispatcher := events.NewInMemoryDispatcher()
	core, logs := observer.New(zapcore.InfoLevel)
	f.audit = logs
	worker.StartAuditWorker(service.NewAuditService(dispatcher, zap.New(core)))

	f.svc = service.NewAuthService(service.AuthDependencies{
		Users:      f.users,
		Codec:      codec,
		Throttle:   limiter,
		Revoker:    f.revoker,
		TokenTTL:   24 * time.Hour,
		BcryptCost: bcrypt.MinCost,
		Events:     dispatcher,
		Logger:     zaptest.NewLogger(t),
	})
	return f
}

func requireStatus(t *testing.T, err error, status int) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, status, apperrors.ToDomainError(err).HTTPStatus)
}

func TestSignupAndLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.Signup(ctx, "Ada", "Ada@Example.com", "correct horse")
	require.NoError(t, err)
	require.Equal(t, domain.TierStandard, user.Tier)
	require.NotEqual(t, "correct horse", user.PasswordHash)

	res, err := f.svc.Login(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	require.Equal(t, user.ID, res.User.ID)

	identity, err := f.codec.Verify(res.Token)
	require.NoError(t, err)
	require.Equal(t, user.ID, identity.SubjectID)
	require.Equal(t, res.Identity.TokenID, identity.TokenID)
	require.WithinDuration(t, time.Now().Add(24*time.Hour), identity.ExpiresAt, 2*time.Second)

	require.False(t, f.mr.Exists("rate:ada@example.com:login-attempt"), "success clears the attempt counter")
}

func TestSignupValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Signup(ctx, "x", "not-an-email", "long enough")
	requireStatus(t, err, http.StatusBadRequest)

	_, err = f.svc.Signup(ctx, "x", "x@example.com", "short")
	requireStatus(t, err, http.StatusBadRequest)

	_, err = f.svc.Signup(ctx, "x", "x@example.com", "long enough")
	require.NoError(t, err)
	_, err = f.svc.Signup(ctx, "x", "X@example.com", "long enough")
	requireStatus(t, err, http.StatusConflict)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Signup(ctx, "Ada", "ada@example.com", "correct horse")
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, "ada@example.com", "wrong")
	requireStatus(t, err, http.StatusUnauthorized)

	_, err = f.svc.Login(ctx, "nobody@example.com", "whatever")
	requireStatus(t, err, http.StatusUnauthorized)

	_, err = f.svc.Login(ctx, "", "")
	requireStatus(t, err, http.StatusBadRequest)
}

func TestLoginThrottlesPerEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Signup(ctx, "Ada", "ada@example.com", "correct horse")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := f.svc.Login(ctx, "ADA@example.com", "wrong")
		requireStatus(t, err, http.StatusUnauthorized)
	}

	_, err = f.svc.Login(ctx, "ada@example.com", "correct horse")
	requireStatus(t, err, http.StatusTooManyRequests)
	de := apperrors.ToDomainError(err)
	require.Equal(t, "RATE_LIMITED", de.Code)
	require.Greater(t, de.Details["retry_after_seconds"], 0)

	f.mr.FastForward(time.Hour)
	_, err = f.svc.Login(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
}

func TestLogoutRevokesTokenID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Logout(ctx, &domain.Identity{SubjectID: "u", TokenID: "jti-1", ExpiresAt: time.Now().Add(time.Hour)}))
	require.Equal(t, []string{"jti-1"}, f.revoker.revoked)

	require.NoError(t, f.svc.Logout(ctx, &domain.Identity{SubjectID: "session-user"}), "session identities carry no token id")
	require.Len(t, f.revoker.revoked, 1)
}

func TestIssueCSRFToken(t *testing.T) {
	f := newFixture(t)
	token, err := f.svc.IssueCSRFToken()
	require.NoError(t, err)
	require.Len(t, token, 64)
}

func auditTypes(logs *observer.ObservedLogs) []string {
	var types []string
	for _, entry := range logs.FilterMessage("audit").All() {
		types = append(types, entry.ContextMap()["event_type"].(string))
	}
	return types
}

func TestAuthEventsReachAuditLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.Signup(ctx, "Ada", "ada@example.com", "correct horse")
	require.NoError(t, err)
	_, err = f.svc.Login(ctx, "ada@example.com", "wrong")
	requireStatus(t, err, http.StatusUnauthorized)
	res, err := f.svc.Login(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	require.NoError(t, f.svc.Logout(ctx, &res.Identity))

	require.Equal(t, []string{
		string(events.EventAccountCreated),
		string(events.EventLoginFailed),
		string(events.EventLoginSucceeded),
		string(events.EventLoggedOut),
	}, auditTypes(f.audit))

	failed := f.audit.FilterField(zap.String("event_type", string(events.EventLoginFailed))).All()
	require.Len(t, failed, 1)
	require.Equal(t, zapcore.WarnLevel, failed[0].Level)
	require.Equal(t, user.ID, failed[0].ContextMap()["subject_id"])
}
