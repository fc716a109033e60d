// Package postgres implements the identity store on PostgreSQL through the
// pgx database/sql driver. The schema is embedded and applied with goose.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/devlink/identity/internal/core/ports"
)

const defaultTimeout = 10 * time.Second

//go:embed migrations/*.sql
var migrations embed.FS

// DBTX is the subset of database/sql used by the repositories. Both *sql.DB
// and *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn in a transaction, committing on success and rolling back
// on error or panic.
func withTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(ctx, tx)
}

// Open connects with the pgx driver and pings the server.
func Open(ctx context.Context, dsn string, timeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	pingCtx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Store implements ports.Store on PostgreSQL.
type Store struct {
	db       *sql.DB
	timeout  time.Duration
	users    *UserRepository
	roles    *RoleRepository
	sessions *SessionRepository
	tokens   *TokenRepository
	audit    *AuditRepository
}

var _ ports.Store = (*Store)(nil)

func NewStore(db *sql.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Store{
		db:       db,
		timeout:  timeout,
		users:    &UserRepository{db: db, timeout: timeout},
		roles:    &RoleRepository{db: db, timeout: timeout},
		sessions: &SessionRepository{db: db, timeout: timeout},
		tokens:   &TokenRepository{db: db, timeout: timeout},
		audit:    &AuditRepository{db: db, timeout: timeout},
	}
}

func (s *Store) Users() ports.UserRepository       { return s.users }
func (s *Store) Roles() ports.RoleRepository       { return s.roles }
func (s *Store) Sessions() ports.SessionRepository { return s.sessions }
func (s *Store) Tokens() ports.TokenRepository     { return s.tokens }
func (s *Store) Audit() ports.AuditRepository      { return s.audit }

// ReplacePassword writes the hash and revokes sessions in one transaction.
func (s *Store) ReplacePassword(ctx context.Context, userID, hash, reason string, at time.Time) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	return withTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`,
			userID, hash, at)
		if err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		if err := expectRow(res); err != nil {
			return err
		}
		if _, err := revokeAll(ctx, tx, userID, reason, at); err != nil {
			return err
		}
		return nil
	})
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = defaultTimeout
	}
	return context.WithTimeout(ctx, d)
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
