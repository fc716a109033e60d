package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/devlink/identity/internal/api/handler"
	"github.com/devlink/identity/internal/core/domain"
)

func render(t *testing.T, err error) (int, handler.ErrorResponse) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil), rec)

	NewHTTPErrorHandler(zerolog.Nop())(err, c)

	var body handler.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	return rec.Code, body
}

func TestErrorHandler_DomainKinds(t *testing.T) {
	tests := []struct {
		err  error
		code int
		msg  string
	}{
		{domain.ValidationError("password too weak"), http.StatusBadRequest, "password too weak"},
		{domain.ConflictError("email already registered"), http.StatusConflict, "email already registered"},
		{domain.AuthError("invalid credentials").WithReason("bad_password"), http.StatusUnauthorized, "invalid credentials"},
		{domain.ReuseDetectedError(), http.StatusUnauthorized, "session revoked, please log in again"},
		{domain.ForbiddenError("insufficient permissions"), http.StatusForbidden, "insufficient permissions"},
		{domain.TokenError("invalid or expired token"), http.StatusBadRequest, "invalid or expired token"},
		{domain.NotFoundError("user not found"), http.StatusNotFound, "user not found"},
		{fmt.Errorf("login: %w", domain.AuthError("email not verified")), http.StatusUnauthorized, "email not verified"},
	}

	for _, tt := range tests {
		code, body := render(t, tt.err)
		if code != tt.code || body.Error != tt.msg {
			t.Fatalf("%v: expected %d %q, got %d %q", tt.err, tt.code, tt.msg, code, body.Error)
		}
	}
}

func TestErrorHandler_ReasonIsNotExposed(t *testing.T) {
	_, body := render(t, domain.AuthError("invalid or expired token").WithReason("bad_signature"))
	if body.Error != "invalid or expired token" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestErrorHandler_FieldErrors(t *testing.T) {
	code, body := render(t, handler.FieldErrors{"email is required", "name is required"})
	if code != http.StatusUnprocessableEntity || len(body.Details) != 2 {
		t.Fatalf("expected 422 with details, got %d %+v", code, body)
	}
}

func TestErrorHandler_EchoError(t *testing.T) {
	code, body := render(t, echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header"))
	if code != http.StatusUnauthorized || body.Error != "missing authorization header" {
		t.Fatalf("unexpected %d %+v", code, body)
	}
}

func TestErrorHandler_InternalErrorIsHidden(t *testing.T) {
	code, body := render(t, errors.New("mongo: connection reset by peer"))
	if code != http.StatusInternalServerError || body.Error != "internal server error" {
		t.Fatalf("unexpected %d %+v", code, body)
	}
}
