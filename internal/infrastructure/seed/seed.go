// Package seed loads the built-in role catalog and bootstraps accounts.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/core/ports"
	"github.com/devlink/identity/internal/core/service"
)

//go:embed roles.yaml
var defaultCatalog []byte

type PermissionDef struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type RoleDef struct {
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description"`
	Permissions    []string `yaml:"permissions"`
	AllPermissions bool     `yaml:"all_permissions"`
}

// Catalog is the declared set of permissions and roles.
type Catalog struct {
	Permissions []PermissionDef `yaml:"permissions"`
	Roles       []RoleDef       `yaml:"roles"`
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Parse decodes and validates a catalog. Unknown fields are rejected.
func Parse(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode role catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	known := make(map[string]struct{}, len(c.Permissions))
	for _, p := range c.Permissions {
		if _, _, err := domain.ParsePermission(p.Name); err != nil {
			return fmt.Errorf("permission %q: %w", p.Name, err)
		}
		if _, dup := known[p.Name]; dup {
			return fmt.Errorf("permission %q declared twice", p.Name)
		}
		known[p.Name] = struct{}{}
	}

	if len(c.Roles) == 0 {
		return errors.New("role catalog declares no roles")
	}
	seen := make(map[string]struct{}, len(c.Roles))
	for _, r := range c.Roles {
		if r.Name == "" {
			return errors.New("role without a name")
		}
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("role %q declared twice", r.Name)
		}
		seen[r.Name] = struct{}{}
		for _, p := range r.Permissions {
			if _, ok := known[p]; !ok {
				return fmt.Errorf("role %q references undeclared permission %q", r.Name, p)
			}
		}
	}
	return nil
}

// DomainRoles expands the catalog into domain roles.
func (c *Catalog) DomainRoles() []*domain.Role {
	out := make([]*domain.Role, 0, len(c.Roles))
	for _, r := range c.Roles {
		perms := r.Permissions
		if r.AllPermissions {
			perms = make([]string, 0, len(c.Permissions))
			for _, p := range c.Permissions {
				perms = append(perms, p.Name)
			}
		}
		out = append(out, &domain.Role{
			Name:        r.Name,
			Description: r.Description,
			Permissions: perms,
			System:      true,
		})
	}
	return out
}

// Apply upserts every catalog role and returns their names.
func (c *Catalog) Apply(ctx context.Context, roles ports.RoleRepository) ([]string, error) {
	var names []string
	for _, r := range c.DomainRoles() {
		if err := roles.Upsert(ctx, r); err != nil {
			return names, fmt.Errorf("seed role %q: %w", r.Name, err)
		}
		names = append(names, r.Name)
	}
	return names, nil
}

// PasswordHasher hashes admin passwords.
type PasswordHasher interface {
	HashPassword(plaintext string) (string, error)
}

// AdminInput describes the bootstrap administrator.
type AdminInput struct {
	Email    string
	Password string
	Name     string
}

// CreateAdmin creates a verified, active administrator. An existing account
// with the same email is promoted to admin instead.
func CreateAdmin(ctx context.Context, store ports.Store, hasher PasswordHasher, in AdminInput, now time.Time) (*domain.PublicUser, bool, error) {
	email := domain.NormalizeEmail(in.Email)
	if email == "" || in.Name == "" {
		return nil, false, domain.ValidationError("email and name are required")
	}

	existing, err := store.Users().FindByEmail(ctx, email)
	switch {
	case err == nil:
		if err := store.Users().SetRole(ctx, existing.ID, domain.RoleAdmin, now); err != nil {
			return nil, false, fmt.Errorf("promote admin: %w", err)
		}
		existing.Role = domain.RoleAdmin
		return existing.Public(), false, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, false, fmt.Errorf("lookup admin: %w", err)
	}

	if err := service.ValidatePassword(in.Password); err != nil {
		return nil, false, err
	}
	hash, err := hasher.HashPassword(in.Password)
	if err != nil {
		return nil, false, err
	}
	user, err := store.Users().Create(ctx, &domain.User{
		ID:            uuid.NewString(),
		Email:         email,
		PasswordHash:  hash,
		Name:          in.Name,
		EmailVerified: true,
		Active:        true,
		Role:          domain.RoleAdmin,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create admin: %w", err)
	}
	return user.Public(), true, nil
}
