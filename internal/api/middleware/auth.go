package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/devlink/identity/internal/core/domain"
)

// Context keys set by the middleware in this package.
const (
	ContextClaims    = "auth.claims"
	ContextToken     = "auth.token"
	ContextPrincipal = "auth.principal"
)

// Gateway is the part of the authentication gateway the middleware needs.
type Gateway interface {
	Authenticate(ctx context.Context, accessToken string) (*domain.Claims, error)
	Authorize(ctx context.Context, accessToken, permission string) (*domain.Principal, error)
	AuthorizeRoles(ctx context.Context, accessToken string, roles ...string) (*domain.Principal, error)
}

// Authenticate validates the bearer access token and stores its claims in the
// context. It does not touch storage.
func Authenticate(gw Gateway) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, err := bearerToken(c)
			if err != nil {
				return err
			}

			claims, err := gw.Authenticate(c.Request().Context(), raw)
			if err != nil {
				return err
			}

			c.Set(ContextToken, raw)
			c.Set(ContextClaims, claims)
			return next(c)
		}
	}
}

func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if authHeader == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

// ClaimsFrom returns the claims stored by Authenticate.
func ClaimsFrom(c echo.Context) (*domain.Claims, bool) {
	claims, ok := c.Get(ContextClaims).(*domain.Claims)
	return claims, ok && claims != nil
}

// TokenFrom returns the raw access token stored by Authenticate.
func TokenFrom(c echo.Context) (string, bool) {
	raw, ok := c.Get(ContextToken).(string)
	return raw, ok && raw != ""
}

// PrincipalFrom returns the principal stored by RequirePermission or
// RequireRole.
func PrincipalFrom(c echo.Context) (*domain.Principal, bool) {
	p, ok := c.Get(ContextPrincipal).(*domain.Principal)
	return p, ok && p != nil
}
