package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/core/ports"
)

type TokenRepository struct {
	db      *sql.DB
	timeout time.Duration
}

var _ ports.TokenRepository = (*TokenRepository)(nil)

const tokenColumns = `id, user_id, token_hash, purpose, expires_at, consumed_at, created_at`

func scanToken(row rowScanner) (*domain.OneTimeToken, error) {
	var t domain.OneTimeToken
	if err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.Purpose, &t.ExpiresAt, &t.ConsumedAt, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TokenRepository) Replace(ctx context.Context, tok *domain.OneTimeToken) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	id := tok.ID
	if id == "" {
		id = uuid.NewString()
	}
	return withTx(ctx, r.db, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM one_time_tokens WHERE user_id = $1 AND purpose = $2 AND consumed_at IS NULL`,
			tok.UserID, tok.Purpose); err != nil {
			return fmt.Errorf("drop previous %s tokens: %w", tok.Purpose, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO one_time_tokens (id, user_id, token_hash, purpose, expires_at, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			id, tok.UserID, tok.TokenHash, tok.Purpose, tok.ExpiresAt, tok.CreatedAt); err != nil {
			return fmt.Errorf("insert %s token: %w", tok.Purpose, err)
		}
		return nil
	})
}

// Consume is one conditional UPDATE ... RETURNING, so a token is consumed at
// most once.
func (r *TokenRepository) Consume(ctx context.Context, hash string, purpose domain.TokenPurpose, at time.Time) (*domain.OneTimeToken, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	tok, err := scanToken(r.db.QueryRowContext(ctx,
		`UPDATE one_time_tokens SET consumed_at = $3
		 WHERE token_hash = $1 AND purpose = $2 AND consumed_at IS NULL AND expires_at > $3
		 RETURNING `+tokenColumns,
		hash, purpose, at))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("consume token: %w", err)
	}
	return tok, nil
}

func (r *TokenRepository) FindByHash(ctx context.Context, hash string, purpose domain.TokenPurpose) (*domain.OneTimeToken, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	tok, err := scanToken(r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM one_time_tokens WHERE token_hash = $1 AND purpose = $2`,
		hash, purpose))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find token: %w", err)
	}
	return tok, nil
}

func (r *TokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM one_time_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return res.RowsAffected()
}
