package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/core/ports"
	"github.com/devlink/identity/internal/infrastructure/db/memory"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

const (
	testKeyID    = "k1"
	testKey      = "0123456789abcdef0123456789abcdef"
	testOtherKey = "fedcba9876543210fedcba9876543210"
	testPassword = "Abc12345!"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type captureMailer struct {
	mu     sync.Mutex
	verify map[string][]string // email -> raw tokens, oldest first
	reset  map[string][]string
	err    error
}

func newCaptureMailer() *captureMailer {
	return &captureMailer{verify: make(map[string][]string), reset: make(map[string][]string)}
}

func (m *captureMailer) SendVerificationEmail(_ context.Context, u *domain.PublicUser, raw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.verify[u.Email] = append(m.verify[u.Email], raw)
	return nil
}

func (m *captureMailer) SendPasswordResetEmail(_ context.Context, u *domain.PublicUser, raw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.reset[u.Email] = append(m.reset[u.Email], raw)
	return nil
}

func (m *captureMailer) lastVerify(t *testing.T, email string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	toks := m.verify[email]
	if len(toks) == 0 {
		t.Fatalf("no verification email for %s", email)
	}
	return toks[len(toks)-1]
}

func (m *captureMailer) lastReset(t *testing.T, email string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	toks := m.reset[email]
	if len(toks) == 0 {
		t.Fatalf("no reset email for %s", email)
	}
	return toks[len(toks)-1]
}

type countingMetrics struct {
	mu     sync.Mutex
	reuse  int
	logins map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{logins: make(map[string]int)}
}

func (m *countingMetrics) LoginAttempt(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins[result]++
}

func (m *countingMetrics) RefreshAttempt(string) {}

func (m *countingMetrics) ReuseDetected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reuse++
}

func (m *countingMetrics) SessionsRevoked(string, int64) {}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	svc     *AuthService
	store   *memory.Store
	mailer  *captureMailer
	clock   *fakeClock
	metrics *countingMetrics
	keys    *Keyring
}

func seedRoles(t *testing.T, store ports.Store) {
	t.Helper()
	roles := []*domain.Role{
		{Name: domain.RoleAdmin, System: true, Permissions: []string{"user:create", "user:read", "user:update", "user:delete", "file:read"}},
		{Name: domain.RoleModerator, System: true, Permissions: []string{"user:read", "user:update", "file:read"}},
		{Name: domain.RoleUser, System: true, Permissions: []string{"file:upload", "file:read"}},
	}
	for _, r := range roles {
		if err := store.Roles().Upsert(context.Background(), r); err != nil {
			t.Fatalf("seed role %s: %v", r.Name, err)
		}
	}
}

func newFixtureWithStore(t *testing.T, store ports.Store, mem *memory.Store, opts ...func(*Deps)) *fixture {
	t.Helper()

	keys, err := NewKeyring(testKeyID, map[string]string{testKeyID: testKey})
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	seedRoles(t, store)

	clock := newFakeClock()
	mailer := newCaptureMailer()
	metrics := newCountingMetrics()
	deps := Deps{
		Store:   store,
		Keys:    keys,
		Mailer:  mailer,
		Metrics: metrics,
		Clock:   clock.Now,
		Log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc := NewAuthService(Config{
		BcryptCost: bcrypt.MinCost,
		Token:      TokenConfig{Issuer: "test", AccessTTL: 15 * time.Minute, RefreshTTL: 7 * 24 * time.Hour},
		Credentials: CredentialConfig{
			DefaultRole: domain.RoleUser,
			VerifyTTL:   24 * time.Hour,
			ResetTTL:    time.Hour,
		},
	}, deps)

	return &fixture{svc: svc, store: mem, mailer: mailer, clock: clock, metrics: metrics, keys: keys}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.NewStore()
	return newFixtureWithStore(t, mem, mem)
}

// verifiedUser signs up and verifies an account.
func (f *fixture) verifiedUser(t *testing.T, email string) *domain.PublicUser {
	t.Helper()
	ctx := context.Background()
	if _, err := f.svc.Signup(ctx, ports.SignupInput{Email: email, Password: testPassword, Name: "Test"}); err != nil {
		t.Fatalf("signup %s: %v", email, err)
	}
	u, err := f.svc.VerifyEmail(ctx, f.mailer.lastVerify(t, email))
	if err != nil {
		t.Fatalf("verify %s: %v", email, err)
	}
	return u
}

func (f *fixture) login(t *testing.T, email, password string) *ports.LoginResult {
	t.Helper()
	res, err := f.svc.Login(context.Background(), email, password, domain.DeviceMeta{IP: "10.0.0.1", UserAgent: "test"})
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return res
}

func (f *fixture) setRole(t *testing.T, userID, role string) {
	t.Helper()
	if _, err := f.svc.AssignRole(context.Background(), userID, role); err != nil {
		t.Fatalf("assign role %s: %v", role, err)
	}
}

func expectKind(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
}
