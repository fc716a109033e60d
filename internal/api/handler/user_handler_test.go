package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/core/ports"
)

const testUserID = "6f1c2f0e-8c1b-4d7a-9b1e-2a3c4d5e6f70"

func TestUserHandler_UpdateProfile_PartialFields(t *testing.T) {
	e := newEcho()
	stub := &stubAuthService{
		updateProfileFn: func(_ context.Context, id string, in ports.ProfileUpdate) (*domain.PublicUser, error) {
			if id != "u1" {
				t.Fatalf("unexpected user %q", id)
			}
			if in.Name != nil || in.TwoFactorEnabled == nil || !*in.TwoFactorEnabled {
				t.Fatalf("expected only two_factor_enabled, got %+v", in)
			}
			return &domain.PublicUser{ID: id, TwoFactorEnabled: true}, nil
		},
	}
	c, rec := jsonRequest(e, http.MethodPut, "/v1/users/profile", `{"two_factor_enabled":true}`)
	withClaims(c, "u1")

	if err := NewUserHandler(stub).UpdateProfile(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if decode(t, rec)["two_factor_enabled"] != true {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestUserHandler_UpdateProfile_EmptyName(t *testing.T) {
	e := newEcho()
	c, _ := jsonRequest(e, http.MethodPut, "/v1/users/profile", `{"name":""}`)
	withClaims(c, "u1")

	var fe FieldErrors
	if err := NewUserHandler(&stubAuthService{}).UpdateProfile(c); !errors.As(err, &fe) {
		t.Fatalf("expected FieldErrors, got %v", err)
	}
}

func TestUserHandler_ChangePassword(t *testing.T) {
	e := newEcho()
	stub := &stubAuthService{
		changePasswordFn: func(_ context.Context, id, current, next string) error {
			if id != "u1" || current != "Abc12345!" || next != "N3w-Password" {
				t.Fatalf("unexpected args %q %q %q", id, current, next)
			}
			return nil
		},
	}
	c, rec := jsonRequest(e, http.MethodPost, "/v1/users/change-password", `{"current_password":"Abc12345!","new_password":"N3w-Password"}`)
	withClaims(c, "u1")

	if err := NewUserHandler(stub).ChangePassword(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestUserHandler_List_ParsesQuery(t *testing.T) {
	e := newEcho()
	stub := &stubAuthService{
		listUsersFn: func(_ context.Context, f ports.ListUsersFilter) (*ports.UserPage, error) {
			if f.Search != "ann" || f.Role != "moderator" || f.Page != 2 || f.Limit != 5 {
				t.Fatalf("unexpected filter %+v", f)
			}
			if f.Active == nil || *f.Active || f.EmailVerified != nil {
				t.Fatalf("unexpected flags %+v", f)
			}
			return &ports.UserPage{Users: []*domain.PublicUser{{ID: "u9"}}, Total: 6, Page: 2, Limit: 5}, nil
		},
	}
	c, rec := jsonRequest(e, http.MethodGet, "/v1/users?search=ann&role=moderator&active=false&page=2&limit=5", "")

	if err := NewUserHandler(stub).List(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	resp := decode(t, rec)
	if resp["total"] != float64(6) {
		t.Fatalf("unexpected page %+v", resp)
	}
}

func TestUserHandler_List_BadQuery(t *testing.T) {
	e := newEcho()
	for _, q := range []string{"?page=abc", "?active=maybe", "?limit=-1"} {
		c, _ := jsonRequest(e, http.MethodGet, "/v1/users"+q, "")
		if err := NewUserHandler(&stubAuthService{}).List(c); err == nil {
			t.Fatalf("%s: expected error", q)
		}
	}
}

func TestUserHandler_Get(t *testing.T) {
	e := newEcho()
	stub := &stubAuthService{
		getUserFn: func(_ context.Context, id string) (*domain.PublicUser, error) {
			if id != testUserID {
				return nil, domain.NotFoundError("user not found")
			}
			return &domain.PublicUser{ID: id}, nil
		},
	}
	h := NewUserHandler(stub)

	c, rec := jsonRequest(e, http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(testUserID)
	if err := h.Get(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	c, _ = jsonRequest(e, http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if err := h.Get(c); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUserHandler_ActivateDeactivate(t *testing.T) {
	e := newEcho()
	var calls []bool
	stub := &stubAuthService{
		setActiveFn: func(_ context.Context, id string, active bool) (*domain.PublicUser, error) {
			calls = append(calls, active)
			return &domain.PublicUser{ID: id, Active: active}, nil
		},
	}
	h := NewUserHandler(stub)

	for _, fn := range []echo.HandlerFunc{h.Deactivate, h.Activate} {
		c, rec := jsonRequest(e, http.MethodPost, "/", "")
		c.SetParamNames("id")
		c.SetParamValues(testUserID)
		if err := fn(c); err != nil || rec.Code != http.StatusOK {
			t.Fatalf("handler: %v %d", err, rec.Code)
		}
	}
	if len(calls) != 2 || calls[0] || !calls[1] {
		t.Fatalf("unexpected calls %v", calls)
	}
}

func TestUserHandler_AssignRole(t *testing.T) {
	e := newEcho()
	stub := &stubAuthService{
		assignRoleFn: func(_ context.Context, id, role string) (*domain.PublicUser, error) {
			if role == "root" {
				return nil, domain.ValidationError("unknown role")
			}
			return &domain.PublicUser{ID: id, Role: role}, nil
		},
	}
	h := NewUserHandler(stub)

	c, rec := jsonRequest(e, http.MethodPut, "/", `{"role":"moderator"}`)
	c.SetParamNames("id")
	c.SetParamValues(testUserID)
	if err := h.AssignRole(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if decode(t, rec)["role"] != "moderator" {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	c, _ = jsonRequest(e, http.MethodPut, "/", `{"role":"root"}`)
	c.SetParamNames("id")
	c.SetParamValues(testUserID)
	if err := h.AssignRole(c); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUserHandler_DeleteAccount(t *testing.T) {
	e := newEcho()
	deleted := ""
	stub := &stubAuthService{
		deleteAccountFn: func(_ context.Context, id string) error { deleted = id; return nil },
	}

	c, rec := jsonRequest(e, http.MethodDelete, "/v1/users/profile", "")
	withClaims(c, "u1")
	if err := NewUserHandler(stub).DeleteAccount(c); err != nil || rec.Code != http.StatusNoContent || deleted != "u1" {
		t.Fatalf("delete: %v %d %q", err, rec.Code, deleted)
	}
}

func TestUserHandler_Audit(t *testing.T) {
	e := newEcho()
	gotLimit := -1
	stub := &stubAuthService{
		auditLogFn: func(_ context.Context, id string, limit int) ([]*domain.AuditEvent, error) {
			gotLimit = limit
			return []*domain.AuditEvent{{ID: "e1", UserID: id, Action: domain.AuditLogin}}, nil
		},
	}
	h := NewUserHandler(stub)

	c, rec := jsonRequest(e, http.MethodGet, "/?limit=5", "")
	c.SetParamNames("id")
	c.SetParamValues(testUserID)
	if err := h.Audit(c); err != nil || rec.Code != http.StatusOK {
		t.Fatalf("handler: %v %d", err, rec.Code)
	}
	if gotLimit != 5 || !strings.Contains(rec.Body.String(), `"action":"login"`) {
		t.Fatalf("unexpected limit %d body %s", gotLimit, rec.Body.String())
	}

	c, _ = jsonRequest(e, http.MethodGet, "/?limit=lots", "")
	c.SetParamNames("id")
	c.SetParamValues(testUserID)
	var he *echo.HTTPError
	if err := h.Audit(c); !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}
