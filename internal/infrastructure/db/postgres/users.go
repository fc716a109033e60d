package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/core/ports"
)

type UserRepository struct {
	db      DBTX
	timeout time.Duration
}

var _ ports.UserRepository = (*UserRepository)(nil)

const userColumns = `id, email, password_hash, name, email_verified, active, role,
	two_factor_enabled, deleted_at, last_login_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.EmailVerified, &u.Active, &u.Role,
		&u.TwoFactorEnabled, &u.DeletedAt, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) (*domain.User, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	c := *user
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.Email, c.PasswordHash, c.Name, c.EmailVerified, c.Active, c.Role,
		c.TwoFactorEnabled, c.DeletedAt, c.LastLoginAt, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrConflict
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &c, nil
}

func (r *UserRepository) findOne(ctx context.Context, where string, arg any) (*domain.User, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return r.findOne(ctx, `id = $1`, id)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, `email = $1`, email)
}

func (r *UserRepository) exec(ctx context.Context, query string, args ...any) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return expectRow(res)
}

func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `UPDATE users SET email_verified = TRUE, updated_at = $2 WHERE id = $1`, id, at)
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id, name string, twoFactorEnabled bool, at time.Time) error {
	return r.exec(ctx, `UPDATE users SET name = $2, two_factor_enabled = $3, updated_at = $4 WHERE id = $1`,
		id, name, twoFactorEnabled, at)
}

func (r *UserRepository) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
}

func (r *UserRepository) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	return r.exec(ctx, `UPDATE users SET active = $2, updated_at = $3 WHERE id = $1`, id, active, at)
}

func (r *UserRepository) SetRole(ctx context.Context, id, role string, at time.Time) error {
	return r.exec(ctx, `UPDATE users SET role = $2, updated_at = $3 WHERE id = $1`, id, role, at)
}

func (r *UserRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `UPDATE users SET deleted_at = $2, active = FALSE, updated_at = $2 WHERE id = $1`, id, at)
}

func (r *UserRepository) List(ctx context.Context, f ports.ListUsersFilter) ([]*domain.User, int64, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	where, args := listWhere(f)

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	args = append(args, f.Limit, (f.Page-1)*f.Limit)
	query := fmt.Sprintf(`SELECT %s FROM users WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		userColumns, where, len(args)-1, len(args))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.User, 0, f.Limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return out, total, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func listWhere(f ports.ListUsersFilter) (string, []any) {
	conds := []string{"deleted_at IS NULL"}
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Search != "" {
		add("(email ILIKE $%[1]d OR name ILIKE $%[1]d)", "%"+likeEscaper.Replace(f.Search)+"%")
	}
	if f.Role != "" {
		add("role = $%d", f.Role)
	}
	if f.Active != nil {
		add("active = $%d", *f.Active)
	}
	if f.EmailVerified != nil {
		add("email_verified = $%d", *f.EmailVerified)
	}
	return strings.Join(conds, " AND "), args
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
