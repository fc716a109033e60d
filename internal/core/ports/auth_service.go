package ports

import (
	"context"

	"github.com/devlink/identity/internal/core/domain"
)

// SignupInput is the DTO passed from the transport layer on registration.
type SignupInput struct {
	Email    string
	Password string
	Name     string
}

// ProfileUpdate carries optional profile changes; nil fields are left as-is.
type ProfileUpdate struct {
	Name             *string
	TwoFactorEnabled *bool
}

// LoginResult is returned on successful login.
type LoginResult struct {
	Tokens *domain.TokenPair  `json:"tokens"`
	User   *domain.PublicUser `json:"user"`
}

// UserPage is one page of the admin user listing.
type UserPage struct {
	Users []*domain.PublicUser `json:"users"`
	Total int64                `json:"total"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
}

// AuthService is the authentication gateway used by the transport layer.
type AuthService interface {
	Signup(ctx context.Context, in SignupInput) (*domain.PublicUser, error)
	Login(ctx context.Context, email, password string, meta domain.DeviceMeta) (*LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error)
	Logout(ctx context.Context, accessToken string) error
	LogoutAll(ctx context.Context, userID string) error

	VerifyEmail(ctx context.Context, token string) (*domain.PublicUser, error)
	ResendVerification(ctx context.Context, email string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error

	GetProfile(ctx context.Context, userID string) (*domain.PublicUser, error)
	UpdateProfile(ctx context.Context, userID string, in ProfileUpdate) (*domain.PublicUser, error)
	DeleteAccount(ctx context.Context, userID string) error
	GetUser(ctx context.Context, id string) (*domain.PublicUser, error)
	ListUsers(ctx context.Context, filter ListUsersFilter) (*UserPage, error)
	SetUserActive(ctx context.Context, id string, active bool) (*domain.PublicUser, error)
	AssignRole(ctx context.Context, id, role string) (*domain.PublicUser, error)
	AuditLog(ctx context.Context, userID string, limit int) ([]*domain.AuditEvent, error)

	Authenticate(ctx context.Context, accessToken string) (*domain.Claims, error)
	Authorize(ctx context.Context, accessToken, permission string) (*domain.Principal, error)
	AuthorizeRoles(ctx context.Context, accessToken string, roles ...string) (*domain.Principal, error)
}
