package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/devlink/identity/internal/api/middleware"
	"github.com/devlink/identity/internal/core/domain"
)

// ctxClaims extracts the claims injected by the auth middleware and fails
// fast when the route was mounted without it.
func ctxClaims(c echo.Context) (*domain.Claims, error) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok || claims.UserID == "" {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "missing authentication claims")
	}
	return claims, nil
}

func ctxToken(c echo.Context) (string, error) {
	raw, ok := middleware.TokenFrom(c)
	if !ok {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authentication claims")
	}
	return raw, nil
}

// bindAndValidate decodes the request into req and runs struct validation.
func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	return c.Validate(req)
}

type messageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the error envelope of every API error.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}
