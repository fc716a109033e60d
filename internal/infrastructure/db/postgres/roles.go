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

// RoleRepository stores roles and their permissions in roles,
// permissions and role_permissions.
type RoleRepository struct {
	db      *sql.DB
	timeout time.Duration
}

var _ ports.RoleRepository = (*RoleRepository)(nil)

func (r *RoleRepository) FindByName(ctx context.Context, name string) (*domain.Role, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var role domain.Role
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, description, system FROM roles WHERE name = $1`, name).
		Scan(&role.ID, &role.Name, &role.Description, &role.System)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find role: %w", err)
	}

	perms, err := r.permissions(ctx, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return &role, nil
}

func (r *RoleRepository) permissions(ctx context.Context, roleID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT p.name FROM permissions p
		 JOIN role_permissions rp ON rp.permission_id = p.id
		 WHERE rp.role_id = $1
		 ORDER BY p.name`, roleID)
	if err != nil {
		return nil, fmt.Errorf("load permissions: %w", err)
	}
	defer rows.Close()

	perms := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		perms = append(perms, name)
	}
	return perms, rows.Err()
}

func (r *RoleRepository) List(ctx context.Context) ([]*domain.Role, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT id, name, description, system FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	var roles []*domain.Role
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.System); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, &role)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}

	for _, role := range roles {
		if role.Permissions, err = r.permissions(ctx, role.ID); err != nil {
			return nil, err
		}
	}
	return roles, nil
}

// Upsert creates or updates the role and replaces its permission links.
// Permissions are created on first use.
func (r *RoleRepository) Upsert(ctx context.Context, role *domain.Role) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	id := role.ID
	if id == "" {
		id = uuid.NewString()
	}

	return withTx(ctx, r.db, func(ctx context.Context, tx DBTX) error {
		var roleID string
		err := tx.QueryRowContext(ctx,
			`INSERT INTO roles (id, name, description, system) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description, system = EXCLUDED.system
			 RETURNING id`,
			id, role.Name, role.Description, role.System).Scan(&roleID)
		if err != nil {
			return fmt.Errorf("upsert role %q: %w", role.Name, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return fmt.Errorf("clear permissions of %q: %w", role.Name, err)
		}

		for _, name := range role.Permissions {
			var permID string
			err := tx.QueryRowContext(ctx,
				`INSERT INTO permissions (id, name) VALUES ($1, $2)
				 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
				 RETURNING id`,
				uuid.NewString(), name).Scan(&permID)
			if err != nil {
				return fmt.Errorf("upsert permission %q: %w", name, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				roleID, permID); err != nil {
				return fmt.Errorf("link permission %q: %w", name, err)
			}
		}
		return nil
	})
}
