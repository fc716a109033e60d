package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/core/ports"
)

type SessionRepository struct {
	db      DBTX
	timeout time.Duration
}

var _ ports.SessionRepository = (*SessionRepository)(nil)

func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, family_id, counter, issued_at, expires_at, ip, user_agent, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.UserID, s.FamilyID, s.Counter, s.IssuedAt, s.ExpiresAt, s.IP, s.UserAgent, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *SessionRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var s domain.Session
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, family_id, counter, issued_at, expires_at, revoked, revoked_at,
		        revoke_reason, ip, user_agent, updated_at
		 FROM sessions WHERE id = $1`, id).
		Scan(&s.ID, &s.UserID, &s.FamilyID, &s.Counter, &s.IssuedAt, &s.ExpiresAt, &s.Revoked, &s.RevokedAt,
			&s.RevokeReason, &s.IP, &s.UserAgent, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &s, nil
}

// UpdateIfCounter is a single conditional UPDATE; row-level locking lets
// only one of two concurrent rotations match.
func (r *SessionRepository) UpdateIfCounter(ctx context.Context, id string, expected, next int64, at time.Time) (bool, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET counter = $3, updated_at = $4
		 WHERE id = $1 AND counter = $2 AND NOT revoked`,
		id, expected, next, at)
	if err != nil {
		return false, fmt.Errorf("advance session counter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *SessionRepository) Revoke(ctx context.Context, id, reason string, at time.Time) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked = TRUE, revoked_at = $3, revoke_reason = $2, updated_at = $3
		 WHERE id = $1 AND NOT revoked`,
		id, reason, at)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	// Already revoked keeps its first reason; only a missing session is an error.
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	return revokeAll(ctx, r.db, userID, reason, at)
}

func revokeAll(ctx context.Context, db DBTX, userID, reason string, at time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE sessions SET revoked = TRUE, revoked_at = $3, revoke_reason = $2, updated_at = $3
		 WHERE user_id = $1 AND NOT revoked`,
		userID, reason, at)
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions: %w", err)
	}
	return res.RowsAffected()
}

func (r *SessionRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}
