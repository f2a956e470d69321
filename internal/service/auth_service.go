package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/assistant-gate/internal/auth"
	"github.com/spec-kit/assistant-gate/internal/domain"
	"github.com/spec-kit/assistant-gate/internal/events"
	"github.com/spec-kit/assistant-gate/internal/ratelimit"
	"github.com/spec-kit/assistant-gate/internal/repository"
	apperrors "github.com/spec-kit/assistant-gate/pkg/util/errorutil"
)

const minPasswordLength = 8

// LoginThrottle limits credential checks per account.
type LoginThrottle interface {
	CheckAndConsume(ctx context.Context, subjectID, operation string, tier domain.Tier) (ratelimit.Result, error)
	Reset(ctx context.Context, subjectID, operation string) error
}

// TokenRevoker withdraws an issued token before it expires.
type TokenRevoker interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	User     *domain.User
	Token    string
	Identity domain.Identity
}

// AuthService coordinates signup, login and logout.
type AuthService struct {
	users    repository.UserRepository
	codec    *auth.TokenCodec
	throttle LoginThrottle
	revoker  TokenRevoker
	tokenTTL time.Duration
	hasher   *auth.Hasher
	events   events.Dispatcher
	logger   *zap.Logger
}

// AuthDependencies encapsulates collaborators for the auth service.
type AuthDependencies struct {
	Users    repository.UserRepository
	Codec    *auth.TokenCodec
	Throttle LoginThrottle
	// Revoker may be nil, in which case logout only clears the cookie.
	Revoker    TokenRevoker
	TokenTTL   time.Duration
	BcryptCost int
	Events     events.Dispatcher
	Logger     *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:    deps.Users,
		codec:    deps.Codec,
		throttle: deps.Throttle,
		revoker:  deps.Revoker,
		tokenTTL: deps.TokenTTL,
		hasher:   auth.NewHasher(deps.BcryptCost),
		events:   deps.Events,
		logger:   logger,
	}
}

// Signup creates a STANDARD-tier account.
func (s *AuthService) Signup(ctx context.Context, name, email, password string) (*domain.User, error) {
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperrors.NewValidationError("invalid email", map[string]any{"email": email})
	}
	if len(password) < minPasswordLength {
		return nil, apperrors.NewValidationError("password too short", map[string]any{"min_length": minPasswordLength})
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, apperrors.NewConflict("email already registered")
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		return nil, apperrors.NewValidationError("password too long", nil)
	}
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: hash,
		Tier:         domain.TierStandard,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, apperrors.NewConflict("email already registered")
		}
		return nil, err
	}
	s.logger.Info("account created", zap.String("user_id", user.ID))
	s.publish(ctx, events.NewEvent(events.EventAccountCreated, user.ID, user.Tier, nil))
	return user, nil
}

// Login checks credentials under the login-attempt quota, keyed on the
// lower-cased email. A successful login clears the counter.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	key := strings.ToLower(strings.TrimSpace(email))
	if key == "" || password == "" {
		return nil, apperrors.NewValidationError("email and password required", nil)
	}

	quota, err := s.throttle.CheckAndConsume(ctx, key, ratelimit.OperationLoginAttempt, domain.TierStandard)
	if err != nil {
		return nil, err
	}
	if !quota.Allowed {
		s.logger.Info("login throttled", zap.Int64("attempts", quota.Count))
		s.publish(ctx, events.NewEvent(events.EventLoginThrottled, "", "", events.LoginThrottledPayload{
			Attempts:   quota.Count,
			RetryAfter: quota.RetryAfter,
		}))
		return nil, apperrors.NewTooManyRequests("too many login attempts", quota.RetryAfter)
	}

	user, err := s.users.GetByEmail(ctx, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.hasher.CompareMissing(password)
			s.publish(ctx, events.NewEvent(events.EventLoginFailed, "", "", events.LoginFailedPayload{Reason: "unknown_account"}))
			return nil, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, err
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Error("stored password hash unusable", zap.String("user_id", user.ID), zap.Error(err))
		}
		s.publish(ctx, events.NewEvent(events.EventLoginFailed, user.ID, user.Tier, events.LoginFailedPayload{Reason: "bad_password"}))
		return nil, apperrors.NewUnauthorized("invalid credentials")
	}

	if err := s.throttle.Reset(ctx, key, ratelimit.OperationLoginAttempt); err != nil {
		s.logger.Warn("failed to reset login attempts", zap.Error(err))
	}

	token, identity, err := s.codec.Issue(user.ID, user.Tier, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.NewEvent(events.EventLoginSucceeded, user.ID, user.Tier, nil))
	return &LoginResult{User: user, Token: token, Identity: identity}, nil
}

// Logout revokes the caller's token when it carries an id and revocation is enabled.
func (s *AuthService) Logout(ctx context.Context, identity *domain.Identity) error {
	if identity == nil {
		return nil
	}
	revoked := false
	if s.revoker != nil && identity.TokenID != "" {
		if err := s.revoker.Revoke(ctx, identity.TokenID, identity.ExpiresAt); err != nil {
			return apperrors.NewServiceUnavailable("unable to revoke session", err)
		}
		revoked = true
	}
	s.publish(ctx, events.NewEvent(events.EventLoggedOut, identity.SubjectID, identity.Tier, events.LoggedOutPayload{
		TokenID: identity.TokenID,
		Revoked: revoked,
	}))
	return nil
}

func (s *AuthService) publish(ctx context.Context, event events.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn("event handler failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

// IssueCSRFToken returns a fresh double-submit token.
func (s *AuthService) IssueCSRFToken() (string, error) {
	return auth.GenerateCSRFToken()
}
