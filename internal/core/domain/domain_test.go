package domain

import (
	"errors"
	"testing"
	"time"
)

func TestSession_State(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	s := &Session{ExpiresAt: now.Add(time.Hour)}
	if got := s.State(now); got != SessionActive {
		t.Fatalf("expected active, got %s", got)
	}
	if got := s.State(now.Add(time.Hour)); got != SessionExpired {
		t.Fatalf("expected expired at the boundary, got %s", got)
	}

	s.Revoked = true
	if got := s.State(now.Add(2 * time.Hour)); got != SessionRevoked {
		t.Fatalf("revocation must win over expiry, got %s", got)
	}
}

func TestOneTimeToken_Usable(t *testing.T) {
	now := time.Now().UTC()
	tok := &OneTimeToken{ExpiresAt: now.Add(time.Minute)}
	if !tok.Usable(now) {
		t.Fatalf("fresh token should be usable")
	}
	if tok.Usable(now.Add(time.Minute)) {
		t.Fatalf("token must not be usable at expiry")
	}
	consumed := now
	tok.ConsumedAt = &consumed
	if tok.Usable(now) {
		t.Fatalf("consumed token must not be usable")
	}
}

func TestParsePermission(t *testing.T) {
	res, act, err := ParsePermission("user:read")
	if err != nil || res != "user" || act != "read" {
		t.Fatalf("unexpected parse: %q %q %v", res, act, err)
	}

	for _, bad := range []string{"user", ":read", "user:", "a:b:c", ""} {
		if _, _, err := ParsePermission(bad); !errors.Is(err, ErrValidation) {
			t.Fatalf("%q: expected ErrValidation, got %v", bad, err)
		}
	}
}

func TestError_KindAndReason(t *testing.T) {
	err := TokenError("invalid or expired token").WithReason("consumed")

	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken kind")
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Fatalf("kinds must not overlap")
	}
	if err.Error() != "invalid or expired token" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	if ReasonOf(err) != "consumed" {
		t.Fatalf("unexpected reason: %s", ReasonOf(err))
	}
}

func TestUser_PublicHidesSecrets(t *testing.T) {
	deleted := time.Now()
	u := &User{ID: "u1", Email: "a@b.c", PasswordHash: "hash", Active: true, DeletedAt: &deleted}

	if u.CanAuthenticate() {
		t.Fatalf("deleted user must not authenticate")
	}
	p := u.Public()
	if p.ID != "u1" || p.Email != "a@b.c" {
		t.Fatalf("unexpected projection: %+v", p)
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Alice@Example.COM "); got != "alice@example.com" {
		t.Fatalf("unexpected normalized email: %q", got)
	}
}
