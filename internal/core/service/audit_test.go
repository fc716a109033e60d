package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/infrastructure/db/memory"
)

func actions(events []*domain.AuditEvent) []domain.AuditAction {
	out := make([]domain.AuditAction, 0, len(events))
	for _, e := range events {
		out = append(out, e.Action)
	}
	return out
}

func TestAuthService_AuditLog_RecordsSecurityEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.verifiedUser(t, "audit@x.com")

	if _, err := f.svc.Login(ctx, "audit@x.com", "Wrong123!", domain.DeviceMeta{IP: "10.0.0.9"}); err == nil {
		t.Fatalf("expected login failure")
	}
	res := f.login(t, "audit@x.com", testPassword)

	// Rotate once, then replay the original refresh token.
	if _, err := f.svc.Refresh(ctx, res.Tokens.RefreshToken); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, res.Tokens.RefreshToken); !errors.Is(err, domain.ErrTokenReuse) {
		t.Fatalf("expected reuse, got %v", err)
	}
	f.setRole(t, u.ID, domain.RoleModerator)

	events, err := f.svc.AuditLog(ctx, u.ID, 0)
	if err != nil {
		t.Fatalf("audit log: %v", err)
	}
	want := []domain.AuditAction{domain.AuditRoleAssigned, domain.AuditReuseDetected, domain.AuditLogin, domain.AuditLoginFailed}
	got := actions(events)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	if events[3].IP != "10.0.0.9" || events[3].Detail != "bad_password" {
		t.Fatalf("failed login should carry ip and reason: %+v", events[3])
	}
	if events[1].IP != "10.0.0.1" || !strings.Contains(events[1].Detail, "presented counter 0") {
		t.Fatalf("reuse event should carry session origin: %+v", events[1])
	}
	if events[0].Detail != "user -> moderator" {
		t.Fatalf("unexpected role detail %q", events[0].Detail)
	}
}

func TestAuthService_AuditLog_PasswordAndStatusChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.verifiedUser(t, "status@x.com")

	if err := f.svc.ChangePassword(ctx, u.ID, testPassword, "Xyz98765!"); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := f.svc.SetUserActive(ctx, u.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := f.svc.SetUserActive(ctx, u.ID, true); err != nil {
		t.Fatalf("activate: %v", err)
	}

	events, err := f.svc.AuditLog(ctx, u.ID, 2)
	if err != nil {
		t.Fatalf("audit log: %v", err)
	}
	got := actions(events)
	if len(got) != 2 || got[0] != domain.AuditActivated || got[1] != domain.AuditDeactivated {
		t.Fatalf("expected newest two status events, got %v", got)
	}
}

func TestAuthService_AuditLog_UnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AuditLog(context.Background(), "missing", 10)
	expectKind(t, err, domain.ErrNotFound)
}

type failingAuditRepo struct{}

func (failingAuditRepo) Insert(context.Context, *domain.AuditEvent) error {
	return errors.New("disk full")
}

func (failingAuditRepo) ListByUser(context.Context, string, int) ([]*domain.AuditEvent, error) {
	return nil, errors.New("disk full")
}

func TestAuditTrail_WriteFailureIsNotFatal(t *testing.T) {
	trail := NewAuditTrail(failingAuditRepo{}, nil, zerolog.Nop())
	trail.Record(context.Background(), "u1", domain.AuditLogin, domain.DeviceMeta{}, "")

	if _, err := trail.List(context.Background(), "u1", 10); err == nil {
		t.Fatalf("expected list error")
	}
}

func TestAuditTrail_ClampsLimit(t *testing.T) {
	store := memory.NewStore()
	trail := NewAuditTrail(store.Audit(), nil, zerolog.Nop())
	for i := 0; i < maxAuditLimit+5; i++ {
		trail.Record(context.Background(), "u1", domain.AuditLogin, domain.DeviceMeta{}, "")
	}
	events, err := trail.List(context.Background(), "u1", 10_000)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != maxAuditLimit {
		t.Fatalf("expected %d events, got %d", maxAuditLimit, len(events))
	}
	events, _ = trail.List(context.Background(), "u1", 0)
	if len(events) != defaultAuditLimit {
		t.Fatalf("expected default limit %d, got %d", defaultAuditLimit, len(events))
	}
}
