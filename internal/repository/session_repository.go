package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/assistant-gate/internal/domain"
)

// SessionRepository reads framework-managed sessions.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository returns a Postgres-backed session reader.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// LookupSessionPrincipal returns the owner of sessionID, or nil when the
// session does not exist. Expiry is left to the caller.
func (r *SessionRepository) LookupSessionPrincipal(ctx context.Context, sessionID string) (*domain.SessionPrincipal, error) {
	if r.pool == nil {
		return nil, ErrStoreNotConfigured
	}

	const query = `
        SELECT u.id, u.tier, s.expires
        FROM sessions s
        JOIN users u ON u.id = s.user_id
        WHERE s.session_token=$1`

	var (
		principal domain.SessionPrincipal
		tier      string
	)
	err := r.pool.QueryRow(ctx, query, sessionID).Scan(&principal.SubjectID, &tier, &principal.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	parsed, err := domain.ParseTier(tier)
	if err != nil {
		return nil, err
	}
	principal.Tier = parsed
	return &principal, nil
}

// Create stores a session row.
func (r *SessionRepository) Create(ctx context.Context, sessionID, userID string, expires time.Time) error {
	if r.pool == nil {
		return ErrStoreNotConfigured
	}
	const query = `INSERT INTO sessions (session_token, user_id, expires) VALUES ($1, $2, $3)`
	_, err := r.pool.Exec(ctx, query, sessionID, userID, expires)
	return err
}
