package domain

import "time"

// TokenPurpose distinguishes the one-time token workflows.
type TokenPurpose string

const (
	PurposeEmailVerify   TokenPurpose = "email_verify"
	PurposePasswordReset TokenPurpose = "password_reset"
)

// OneTimeToken is a single-use secret mailed to the user. Only the SHA-256
// of the raw value is stored.
type OneTimeToken struct {
	ID         string       `json:"id"`
	UserID     string       `json:"user_id"`
	TokenHash  string       `json:"-"`
	Purpose    TokenPurpose `json:"purpose"`
	ExpiresAt  time.Time    `json:"expires_at"`
	ConsumedAt *time.Time   `json:"consumed_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Usable reports whether the token can still be consumed at now.
func (t *OneTimeToken) Usable(now time.Time) bool {
	return t.ConsumedAt == nil && now.Before(t.ExpiresAt)
}

// TokenType tags a JWT as an access or refresh token.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// TokenPair is returned on login and on every refresh rotation.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Claims is the verified content of an access or refresh token.
type Claims struct {
	UserID    string    `json:"sub"`
	Role      string    `json:"role,omitempty"`
	SessionID string    `json:"sid"`
	Counter   int64     `json:"ctr"`
	Type      TokenType `json:"typ"`
	KeyID     string    `json:"-"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// Principal is an authenticated and authorized caller.
type Principal struct {
	Claims *Claims     `json:"claims"`
	User   *PublicUser `json:"user"`
}
