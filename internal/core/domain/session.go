package domain

import "time"

// SessionState is the lifecycle state of a login session.
type SessionState string

const (
	SessionActive  SessionState = "active"
	SessionRevoked SessionState = "revoked"
	SessionExpired SessionState = "expired"
)

// Revocation reasons recorded on sessions.
const (
	RevokeLogout         = "logout"
	RevokeLogoutAll      = "logout_all"
	RevokeReuseDetected  = "reuse_detected"
	RevokePasswordReset  = "password_reset"
	RevokePasswordChange = "password_change"
	RevokeDeactivated    = "deactivated"
	RevokeDeleted        = "account_deleted"
)

// Session is one login. Refresh rotation advances Counter in place; a
// refresh token is only accepted when its embedded counter equals Counter.
type Session struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	FamilyID     string     `json:"family_id"`
	Counter      int64      `json:"counter"`
	IssuedAt     time.Time  `json:"issued_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	Revoked      bool       `json:"revoked"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokeReason string     `json:"revoke_reason,omitempty"`
	IP           string     `json:"ip,omitempty"`
	UserAgent    string     `json:"user_agent,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// State reports the session state as observed at now. Revocation wins over
// expiry.
func (s *Session) State(now time.Time) SessionState {
	switch {
	case s.Revoked:
		return SessionRevoked
	case !now.Before(s.ExpiresAt):
		return SessionExpired
	default:
		return SessionActive
	}
}
