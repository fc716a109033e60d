package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/devlink/identity/internal/core/domain"
)

// RequirePermission authorizes the caller for permission. It runs after
// Authenticate and loads the user, so deactivated or deleted accounts are
// refused even while their access token is unexpired.
func RequirePermission(gw Gateway, permission string) echo.MiddlewareFunc {
	return guard(func(c echo.Context, raw string) (*domain.Principal, error) {
		return gw.Authorize(c.Request().Context(), raw, permission)
	})
}

// RequireRole authorizes the caller when their role is one of roles.
func RequireRole(gw Gateway, roles ...string) echo.MiddlewareFunc {
	return guard(func(c echo.Context, raw string) (*domain.Principal, error) {
		return gw.AuthorizeRoles(c.Request().Context(), raw, roles...)
	})
}

func guard(check func(c echo.Context, raw string) (*domain.Principal, error)) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := TokenFrom(c)
			if !ok {
				var err error
				if raw, err = bearerToken(c); err != nil {
					return err
				}
			}

			principal, err := check(c, raw)
			if err != nil {
				return err
			}

			c.Set(ContextToken, raw)
			c.Set(ContextClaims, principal.Claims)
			c.Set(ContextPrincipal, principal)
			return next(c)
		}
	}
}
