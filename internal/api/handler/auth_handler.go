package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/core/ports"
)

const (
	msgCheckEmail  = "if the account exists, an email has been sent"
	msgSignupOK    = "account created, check your email to verify it"
	msgVerified    = "email verified"
	msgPasswordSet = "password updated, please log in again"
)

type AuthHandler struct {
	authService ports.AuthService
}

func NewAuthHandler(authService ports.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// --- Request / Response types ---

type signupRequest struct {
	Email    string `json:"email"    validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=128"`
	Name     string `json:"name"     validate:"required,max=100"`
}

type loginRequest struct {
	Email    string `json:"email"    validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type tokenRequest struct {
	Token string `json:"token" validate:"required"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"    validate:"required"`
	Password string `json:"password" validate:"required,max=128"`
}

type userResponse struct {
	Message string             `json:"message,omitempty"`
	User    *domain.PublicUser `json:"user"`
}

// Signup handles POST /v1/auth/signup.
//
// @Summary      Register a new account
// @Description  Creates an unverified account and mails a verification link.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      signupRequest  true  "Account details"
// @Success      201   {object}  userResponse
// @Failure      400   {object}  ErrorResponse
// @Failure      409   {object}  ErrorResponse
// @Failure      422   {object}  ErrorResponse
// @Router       /v1/auth/signup [post]
func (h *AuthHandler) Signup(c echo.Context) error {
	var req signupRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := h.authService.Signup(c.Request().Context(), ports.SignupInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, userResponse{Message: msgSignupOK, User: user})
}

// Login handles POST /v1/auth/login.
//
// @Summary      Log in
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      loginRequest  true  "Credentials"
// @Success      200   {object}  ports.LoginResult
// @Failure      401   {object}  ErrorResponse
// @Failure      422   {object}  ErrorResponse
// @Router       /v1/auth/login [post]
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	res, err := h.authService.Login(c.Request().Context(), req.Email, req.Password, domain.DeviceMeta{
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// Refresh handles POST /v1/auth/refresh.
//
// @Summary      Rotate a refresh token
// @Description  Returns a new token pair. Replaying a rotated token revokes the session.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      refreshRequest  true  "Refresh token"
// @Success      200   {object}  domain.TokenPair
// @Failure      401   {object}  ErrorResponse
// @Router       /v1/auth/refresh [post]
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	pair, err := h.authService.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pair)
}

// VerifyEmail handles POST /v1/auth/verify-email.
//
// @Summary      Verify an email address
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      tokenRequest  true  "Verification token"
// @Success      200   {object}  userResponse
// @Failure      400   {object}  ErrorResponse
// @Router       /v1/auth/verify-email [post]
func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	var req tokenRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	user, err := h.authService.VerifyEmail(c.Request().Context(), req.Token)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, userResponse{Message: msgVerified, User: user})
}

// ResendVerification handles POST /v1/auth/resend-verification.
//
// @Summary      Resend the verification email
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      emailRequest  true  "Account email"
// @Success      202   {object}  messageResponse
// @Router       /v1/auth/resend-verification [post]
func (h *AuthHandler) ResendVerification(c echo.Context) error {
	var req emailRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.authService.ResendVerification(c.Request().Context(), req.Email); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, messageResponse{Message: msgCheckEmail})
}

// ForgotPassword handles POST /v1/auth/forgot-password.
//
// @Summary      Request a password reset
// @Description  Always answers 202 so the response does not reveal whether the account exists.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      emailRequest  true  "Account email"
// @Success      202   {object}  messageResponse
// @Router       /v1/auth/forgot-password [post]
func (h *AuthHandler) ForgotPassword(c echo.Context) error {
	var req emailRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.authService.ForgotPassword(c.Request().Context(), req.Email); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, messageResponse{Message: msgCheckEmail})
}

// ResetPassword handles POST /v1/auth/reset-password.
//
// @Summary      Reset a password
// @Description  Consumes the reset token, stores the new password and revokes every session.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        body  body      resetPasswordRequest  true  "Reset token and new password"
// @Success      200   {object}  messageResponse
// @Failure      400   {object}  ErrorResponse
// @Router       /v1/auth/reset-password [post]
func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req resetPasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	if err := h.authService.ResetPassword(c.Request().Context(), req.Token, req.Password); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: msgPasswordSet})
}

// Profile handles GET /v1/auth/profile.
//
// @Summary      Current user
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  domain.PublicUser
// @Failure      401  {object}  ErrorResponse
// @Failure      404  {object}  ErrorResponse
// @Router       /v1/auth/profile [get]
func (h *AuthHandler) Profile(c echo.Context) error {
	claims, err := ctxClaims(c)
	if err != nil {
		return err
	}

	user, err := h.authService.GetProfile(c.Request().Context(), claims.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, user)
}

// Logout handles POST /v1/auth/logout.
//
// @Summary      End the current session
// @Description  The access token stays valid until it expires; the session can no longer be refreshed.
// @Tags         auth
// @Security     BearerAuth
// @Success      204
// @Failure      401  {object}  ErrorResponse
// @Router       /v1/auth/logout [post]
func (h *AuthHandler) Logout(c echo.Context) error {
	raw, err := ctxToken(c)
	if err != nil {
		return err
	}

	if err := h.authService.Logout(c.Request().Context(), raw); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// LogoutAll handles POST /v1/auth/logout-all.
//
// @Summary      End every session of the current user
// @Tags         auth
// @Security     BearerAuth
// @Success      204
// @Failure      401  {object}  ErrorResponse
// @Router       /v1/auth/logout-all [post]
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	claims, err := ctxClaims(c)
	if err != nil {
		return err
	}

	if err := h.authService.LogoutAll(c.Request().Context(), claims.UserID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
