package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/core/ports"
)

// UserHandler serves account self-service and user administration.
type UserHandler struct {
	authService ports.AuthService
}

func NewUserHandler(authService ports.AuthService) *UserHandler {
	return &UserHandler{authService: authService}
}

type updateProfileRequest struct {
	Name             *string `json:"name"               validate:"omitempty,min=1,max=100"`
	TwoFactorEnabled *bool   `json:"two_factor_enabled"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=128"`
	NewPassword     string `json:"new_password"     validate:"required,max=128"`
}

type assignRoleRequest struct {
	Role string `json:"role" validate:"required,max=50"`
}

type listUsersQuery struct {
	Search        string `query:"search" validate:"max=100"`
	Role          string `query:"role"   validate:"max=50"`
	Active        *bool
	EmailVerified *bool
	Page          int `query:"page"  validate:"min=0"`
	Limit         int `query:"limit" validate:"min=0"`
}

type userIDParam struct {
	ID string `param:"id" validate:"required,uuid"`
}

// UpdateProfile handles PUT /v1/users/profile.
//
// @Summary      Update the current user's profile
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      updateProfileRequest  true  "Fields to change"
// @Success      200   {object}  domain.PublicUser
// @Failure      400   {object}  ErrorResponse
// @Failure      401   {object}  ErrorResponse
// @Router       /v1/users/profile [put]
func (h *UserHandler) UpdateProfile(c echo.Context) error {
	claims, err := ctxClaims(c)
	if err != nil {
		return err
	}
	var req updateProfileRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := h.authService.UpdateProfile(c.Request().Context(), claims.UserID, ports.ProfileUpdate{
		Name:             req.Name,
		TwoFactorEnabled: req.TwoFactorEnabled,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

// ChangePassword handles POST /v1/users/change-password.
//
// @Summary      Change the current user's password
// @Description  Every session of the user is revoked.
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body      changePasswordRequest  true  "Current and new password"
// @Success      200   {object}  messageResponse
// @Failure      400   {object}  ErrorResponse
// @Failure      401   {object}  ErrorResponse
// @Router       /v1/users/change-password [post]
func (h *UserHandler) ChangePassword(c echo.Context) error {
	claims, err := ctxClaims(c)
	if err != nil {
		return err
	}
	var req changePasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.authService.ChangePassword(c.Request().Context(), claims.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: msgPasswordSet})
}

// DeleteAccount handles DELETE /v1/users/profile.
//
// @Summary      Delete the current user's account
// @Tags         users
// @Security     BearerAuth
// @Success      204
// @Failure      401  {object}  ErrorResponse
// @Router       /v1/users/profile [delete]
func (h *UserHandler) DeleteAccount(c echo.Context) error {
	claims, err := ctxClaims(c)
	if err != nil {
		return err
	}

	if err := h.authService.DeleteAccount(c.Request().Context(), claims.UserID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// List handles GET /v1/users.
//
// @Summary      List users
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        search          query     string  false  "Partial email or name"
// @Param        role            query     string  false  "Role name"
// @Param        active          query     bool    false  "Active flag"
// @Param        email_verified  query     bool    false  "Verification flag"
// @Param        page            query     int     false  "Page, 1-based"
// @Param        limit           query     int     false  "Page size, at most 100"
// @Success      200             {object}  ports.UserPage
// @Failure      403             {object}  ErrorResponse
// @Router       /v1/users [get]
func (h *UserHandler) List(c echo.Context) error {
	var q listUsersQuery
	err := echo.QueryParamsBinder(c).
		String("search", &q.Search).
		String("role", &q.Role).
		Int("page", &q.Page).
		Int("limit", &q.Limit).
		BindError()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid query")
	}
	if q.Active, err = optionalBool(c, "active"); err != nil {
		return err
	}
	if q.EmailVerified, err = optionalBool(c, "email_verified"); err != nil {
		return err
	}
	if err := c.Validate(&q); err != nil {
		return err
	}

	page, err := h.authService.ListUsers(c.Request().Context(), ports.ListUsersFilter{
		Search:        q.Search,
		Role:          q.Role,
		Active:        q.Active,
		EmailVerified: q.EmailVerified,
		Page:          q.Page,
		Limit:         q.Limit,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

// Get handles GET /v1/users/:id.
//
// @Summary      Get a user
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "User ID"
// @Success      200  {object}  domain.PublicUser
// @Failure      403  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /v1/users/{id} [get]
func (h *UserHandler) Get(c echo.Context) error {
	id, err := userID(c)
	if err != nil {
		return err
	}

	user, err := h.authService.GetUser(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

// Activate handles POST /v1/users/:id/activate.
//
// @Summary      Activate a user
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "User ID"
// @Success      200  {object}  domain.PublicUser
// @Failure      403  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /v1/users/{id}/activate [post]
func (h *UserHandler) Activate(c echo.Context) error {
	return h.setActive(c, true)
}

// Deactivate handles POST /v1/users/:id/deactivate.
//
// @Summary      Deactivate a user
// @Description  Every session of the user is revoked.
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "User ID"
// @Success      200  {object}  domain.PublicUser
// @Failure      403  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /v1/users/{id}/deactivate [post]
func (h *UserHandler) Deactivate(c echo.Context) error {
	return h.setActive(c, false)
}

func (h *UserHandler) setActive(c echo.Context, active bool) error {
	id, err := userID(c)
	if err != nil {
		return err
	}

	user, err := h.authService.SetUserActive(c.Request().Context(), id, active)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

// AssignRole handles PUT /v1/users/:id/role.
//
// @Summary      Change a user's role
// @Description  Takes effect on the user's next token refresh.
// @Tags         users
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path      string             true  "User ID"
// @Param        body  body      assignRoleRequest  true  "Role name"
// @Success      200   {object}  domain.PublicUser
// @Failure      400   {object}  ErrorResponse
// @Failure      403   {object}  ErrorResponse
// @Failure      404   {object}  ErrorResponse
// @Router       /v1/users/{id}/role [put]
func (h *UserHandler) AssignRole(c echo.Context) error {
	id, err := userID(c)
	if err != nil {
		return err
	}
	var req assignRoleRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := h.authService.AssignRole(c.Request().Context(), id, req.Role)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

// Audit handles GET /v1/users/:id/audit.
//
// @Summary      Security audit trail of a user
// @Tags         users
// @Produce      json
// @Security     BearerAuth
// @Param        id     path      string  true   "User ID"
// @Param        limit  query     int     false  "Maximum events, at most 200"
// @Success      200    {array}   domain.AuditEvent
// @Failure      403    {object}  ErrorResponse
// @Failure      404    {object}  ErrorResponse
// @Router       /v1/users/{id}/audit [get]
func (h *UserHandler) Audit(c echo.Context) error {
	id, err := userID(c)
	if err != nil {
		return err
	}
	var limit int
	if err := echo.QueryParamsBinder(c).Int("limit", &limit).BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "limit must be a number")
	}

	events, err := h.authService.AuditLog(c.Request().Context(), id, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, events)
}

func optionalBool(c echo.Context, name string) (*bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, name+" must be true or false")
	}
	return &v, nil
}

func userID(c echo.Context) (string, error) {
	p := userIDParam{ID: c.Param("id")}
	if err := c.Validate(&p); err != nil {
		return "", domain.NotFoundError("user not found")
	}
	return p.ID, nil
}
