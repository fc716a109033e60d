package seed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/infrastructure/db/memory"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	roles := map[string]*domain.Role{}
	for _, r := range c.DomainRoles() {
		roles[r.Name] = r
	}
	require.Contains(t, roles, domain.RoleAdmin)
	require.Contains(t, roles, domain.RoleModerator)
	require.Contains(t, roles, domain.RoleUser)

	assert.Len(t, roles[domain.RoleAdmin].Permissions, len(c.Permissions))
	assert.ElementsMatch(t, []string{"file:upload", "file:read"}, roles[domain.RoleUser].Permissions)
	assert.Contains(t, roles[domain.RoleModerator].Permissions, "user:read")
	assert.NotContains(t, roles[domain.RoleModerator].Permissions, "user:delete")
}

func TestParse_Rejects(t *testing.T) {
	tests := map[string]string{
		"bad permission":      "permissions: [{name: nocolon}]\nroles: [{name: user}]",
		"undeclared":          "permissions: [{name: 'a:b'}]\nroles: [{name: user, permissions: ['c:d']}]",
		"duplicate role":      "roles: [{name: user}, {name: user}]",
		"no roles":            "permissions: [{name: 'a:b'}]",
		"unknown field":       "roles: [{name: user, colour: red}]",
		"duplicate permisson": "permissions: [{name: 'a:b'}, {name: 'a:b'}]\nroles: [{name: user}]",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestApply_IsIdempotent(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	store := memory.NewStore()
	ctx := context.Background()

	_, err = c.Apply(ctx, store.Roles())
	require.NoError(t, err)
	first, err := store.Roles().FindByName(ctx, domain.RoleUser)
	require.NoError(t, err)

	names, err := c.Apply(ctx, store.Roles())
	require.NoError(t, err)
	assert.Len(t, names, 3)

	again, err := store.Roles().FindByName(ctx, domain.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
}

type plainHasher struct{}

func (plainHasher) HashPassword(p string) (string, error) { return "hashed:" + p, nil }

func TestCreateAdmin(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	u, created, err := CreateAdmin(ctx, store, plainHasher{}, AdminInput{Email: " Admin@Devlink.com", Password: "Admin123!", Name: "Admin"}, now)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "admin@devlink.com", u.Email)
	assert.Equal(t, domain.RoleAdmin, u.Role)
	assert.True(t, u.EmailVerified)

	stored, err := store.Users().FindByEmail(ctx, "admin@devlink.com")
	require.NoError(t, err)
	assert.Equal(t, "hashed:Admin123!", stored.PasswordHash)

	_, created, err = CreateAdmin(ctx, store, plainHasher{}, AdminInput{Email: "admin@devlink.com", Password: "x", Name: "Admin"}, now)
	require.NoError(t, err)
	assert.False(t, created)

	_, _, err = CreateAdmin(ctx, store, plainHasher{}, AdminInput{Email: "", Name: "x"}, now)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCreateAdmin_WeakPassword(t *testing.T) {
	_, _, err := CreateAdmin(context.Background(), memory.NewStore(), plainHasher{}, AdminInput{Email: "a@x.com", Password: "short", Name: "A"}, time.Now())
	assert.ErrorIs(t, err, domain.ErrValidation)
}
