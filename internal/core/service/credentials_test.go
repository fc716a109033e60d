package service

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/infrastructure/db/memory"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		ok       bool
	}{
		{"valid", "Abc12345!", true},
		{"unicode symbol", "Abc12345€", true},
		{"too short", "Ab1!", false},
		{"too long", "Aa1!" + strings.Repeat("x", 69), false},
		{"no upper", "abc12345!", false},
		{"no lower", "ABC12345!", false},
		{"no digit", "Abcdefgh!", false},
		{"no symbol", "Abc123456", false},
		{"exactly max", "Aa1!" + strings.Repeat("x", 68), true},
		{"multibyte over limit", "Aa1!" + strings.Repeat("é", 35), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.ok && !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestPasswordHasher(t *testing.T) {
	h := NewPasswordHasher(bcrypt.MinCost)

	hash, err := h.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == testPassword || !strings.HasPrefix(hash, "$2") {
		t.Fatalf("expected a bcrypt hash, got %q", hash)
	}
	if !h.VerifyPassword(testPassword, hash) {
		t.Fatalf("correct password rejected")
	}
	if h.VerifyPassword("Abc12345?", hash) {
		t.Fatalf("wrong password accepted")
	}
	if h.VerifyPassword(testPassword, "not-a-hash") {
		t.Fatalf("malformed hash accepted")
	}

	// Must not panic or allocate a new dummy per call.
	h.BurnCompare("anything")
	h.BurnCompare("anything else")
}

func TestNewPasswordHasher_ClampsCost(t *testing.T) {
	if got := NewPasswordHasher(1).cost; got != bcrypt.DefaultCost {
		t.Fatalf("expected default cost for too-low value, got %d", got)
	}
	if got := NewPasswordHasher(99).cost; got != bcrypt.MaxCost {
		t.Fatalf("expected max cost for too-high value, got %d", got)
	}
}

func TestHashToken(t *testing.T) {
	raw, err := newRawToken()
	if err != nil {
		t.Fatalf("raw token: %v", err)
	}
	if len(raw) != 2*oneTimeTokenBytes {
		t.Fatalf("expected %d hex chars, got %d", 2*oneTimeTokenBytes, len(raw))
	}
	if HashToken(raw) != HashToken(raw) {
		t.Fatalf("hash must be deterministic")
	}
	if HashToken(raw) == raw || len(HashToken(raw)) != 64 {
		t.Fatalf("unexpected hash %q", HashToken(raw))
	}

	other, _ := newRawToken()
	if other == raw {
		t.Fatalf("tokens must be random")
	}
}

func TestNewCredentialService_Defaults(t *testing.T) {
	s := NewCredentialService(memory.NewStore(), nil, nil, CredentialConfig{}, nil, zerolog.Nop())
	if s.cfg.ResetTTL != defaultResetTTL {
		t.Fatalf("expected reset TTL %s, got %s", defaultResetTTL, s.cfg.ResetTTL)
	}
	if s.cfg.DefaultRole != domain.RoleUser {
		t.Fatalf("expected default role %q, got %q", domain.RoleUser, s.cfg.DefaultRole)
	}

	// configured values are validated at load time and kept as given
	s = NewCredentialService(memory.NewStore(), nil, nil, CredentialConfig{ResetTTL: 30 * time.Minute}, nil, zerolog.Nop())
	if s.cfg.ResetTTL != 30*time.Minute {
		t.Fatalf("expected reset TTL 30m, got %s", s.cfg.ResetTTL)
	}
}
