package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/core/ports"
	"github.com/devlink/identity/internal/infrastructure/db/memory"
)

func newTestCLI(store *memory.Store, stdin string) (*cli, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &cli{
		stdin:  strings.NewReader(stdin),
		stdout: out,
		stderr: io.Discard,
		openStore: func(context.Context, io.Writer) (ports.Store, error) {
			return store, nil
		},
		now: func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) },
	}, out
}

func stubPasswords(t *testing.T, answers ...string) {
	t.Helper()
	orig := readPassword
	t.Cleanup(func() { readPassword = orig })
	readPassword = func(int) ([]byte, error) {
		if len(answers) == 0 {
			return nil, errors.New("no more input")
		}
		next := answers[0]
		answers = answers[1:]
		return []byte(next), nil
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	c, _ := newTestCLI(memory.NewStore(), "")
	assert.Error(t, c.run(context.Background(), nil))
	assert.ErrorContains(t, c.run(context.Background(), []string{"bogus"}), "unknown command")
}

func TestSeed_AppliesDefaultCatalog(t *testing.T) {
	store := memory.NewStore()
	c, out := newTestCLI(store, "")

	require.NoError(t, c.run(context.Background(), []string{"seed"}))
	assert.Contains(t, out.String(), "admin")

	role, err := store.Roles().FindByName(context.Background(), domain.RoleModerator)
	require.NoError(t, err)
	assert.Contains(t, role.Permissions, "user:read")
}

func TestSeed_CustomFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
permissions:
  - name: file:read
roles:
  - name: reader
    permissions: [file:read]
`), 0o600))

	store := memory.NewStore()
	c, out := newTestCLI(store, "")
	require.NoError(t, c.run(context.Background(), []string{"seed", "-file", path}))
	assert.Equal(t, "applied roles: reader\n", out.String())
}

func TestCreateAdmin_PromptsTwice(t *testing.T) {
	stubPasswords(t, "Adm1n!pass", "Adm1n!pass")
	store := memory.NewStore()
	c, out := newTestCLI(store, "")

	require.NoError(t, c.run(context.Background(), []string{"create-admin", "-email", "Root@Example.com", "-cost", "4"}))
	assert.Contains(t, out.String(), "created admin root@example.com")

	u, err := store.Users().FindByEmail(context.Background(), "root@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, u.Role)
	assert.True(t, u.EmailVerified)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("Adm1n!pass")))
}

func TestCreateAdmin_MismatchedConfirmation(t *testing.T) {
	stubPasswords(t, "Adm1n!pass", "different")
	c, _ := newTestCLI(memory.NewStore(), "")
	err := c.run(context.Background(), []string{"create-admin", "-email", "root@example.com"})
	assert.ErrorContains(t, err, "do not match")
}

func TestCreateAdmin_PasswordFromStdin(t *testing.T) {
	store := memory.NewStore()
	c, out := newTestCLI(store, "Adm1n!pass\n")
	require.NoError(t, c.run(context.Background(), []string{"create-admin", "-email", "ops@example.com", "-password-stdin", "-cost", "4"}))
	assert.Contains(t, out.String(), "created admin ops@example.com")

	// Running again promotes instead of failing.
	c, out = newTestCLI(store, "Adm1n!pass\n")
	require.NoError(t, c.run(context.Background(), []string{"create-admin", "-email", "ops@example.com", "-password-stdin"}))
	assert.Contains(t, out.String(), "promoted ops@example.com")
}

func TestCreateAdmin_RequiresEmail(t *testing.T) {
	c, _ := newTestCLI(memory.NewStore(), "")
	assert.ErrorContains(t, c.run(context.Background(), []string{"create-admin"}), "-email")
}

func TestHashPassword(t *testing.T) {
	c, out := newTestCLI(memory.NewStore(), "Str0ng!pass\n")
	require.NoError(t, c.run(context.Background(), []string{"hash-password", "-password-stdin", "-cost", "4"}))

	hash := strings.TrimSpace(out.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("Str0ng!pass")))

	c, _ = newTestCLI(memory.NewStore(), "weak\n")
	assert.Error(t, c.run(context.Background(), []string{"hash-password", "-password-stdin"}))
}
