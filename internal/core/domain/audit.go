package domain

import "time"

// AuditAction names a security-relevant event in an account's history.
type AuditAction string

const (
	AuditLogin           AuditAction = "login"
	AuditLoginFailed     AuditAction = "login_failed"
	AuditReuseDetected   AuditAction = "refresh_reuse_detected"
	AuditLogoutAll       AuditAction = "logout_all"
	AuditPasswordChanged AuditAction = "password_changed"
	AuditPasswordReset   AuditAction = "password_reset"
	AuditActivated       AuditAction = "account_activated"
	AuditDeactivated     AuditAction = "account_deactivated"
	AuditRoleAssigned    AuditAction = "role_assigned"
	AuditAccountDeleted  AuditAction = "account_deleted"
)

// AuditEvent is one append-only entry of the security audit trail.
type AuditEvent struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Action    AuditAction `json:"action"`
	IP        string      `json:"ip,omitempty"`
	UserAgent string      `json:"user_agent,omitempty"`
	Detail    string      `json:"detail,omitempty"`
	At        time.Time   `json:"at"`
}
