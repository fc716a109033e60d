package domain

import (
	"strings"
	"time"
)

// User models an account that can authenticate against the service.
type User struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"`
	Name             string     `json:"name"`
	EmailVerified    bool       `json:"email_verified"`
	Active           bool       `json:"active"`
	Role             string     `json:"role"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
	DeletedAt        *time.Time `json:"-"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Deleted reports whether the account was soft-deleted.
func (u *User) Deleted() bool {
	return u.DeletedAt != nil
}

// CanAuthenticate reports whether the account may hold sessions at all.
// Email verification is checked separately at login.
func (u *User) CanAuthenticate() bool {
	return u.Active && !u.Deleted()
}

// Public returns the projection of the user that is safe to hand to callers.
func (u *User) Public() *PublicUser {
	if u == nil {
		return nil
	}
	return &PublicUser{
		ID:               u.ID,
		Email:            u.Email,
		Name:             u.Name,
		EmailVerified:    u.EmailVerified,
		Active:           u.Active,
		Role:             u.Role,
		TwoFactorEnabled: u.TwoFactorEnabled,
		LastLoginAt:      u.LastLoginAt,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

// PublicUser is the user shape returned across the gateway boundary.
type PublicUser struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Name             string     `json:"name"`
	EmailVerified    bool       `json:"email_verified"`
	Active           bool       `json:"active"`
	Role             string     `json:"role"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// NormalizeEmail lower-cases and trims an address so lookups are
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DeviceMeta describes the client that opened a session.
type DeviceMeta struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}
