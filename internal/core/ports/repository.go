package ports

import (
	"context"
	"time"

	"github.com/devlink/identity/internal/core/domain"
)

// ListUsersFilter carries the query parameters for the admin user listing.
// Soft-deleted users are never listed.
type ListUsersFilter struct {
	Search        string // optional: partial match on email or name
	Role          string // optional
	Active        *bool  // optional
	EmailVerified *bool  // optional
	Page          int    // 1-based
	Limit         int    // capped by the service
}

// UserRepository persists user accounts. Lookups return domain.ErrNotFound
// when no row matches; Create returns domain.ErrConflict on a duplicate email.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) (*domain.User, error)
	FindByID(ctx context.Context, id string) (*domain.User, error)
	// FindByEmail expects an already normalized address.
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
	UpdateProfile(ctx context.Context, id, name string, twoFactorEnabled bool, at time.Time) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool, at time.Time) error
	SetRole(ctx context.Context, id, role string, at time.Time) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
	// List returns a page of users ordered by creation time, newest first,
	// and the total number of matches.
	List(ctx context.Context, filter ListUsersFilter) ([]*domain.User, int64, error)
}

// RoleRepository reads role reference data. Upsert is only used by seeding.
type RoleRepository interface {
	FindByName(ctx context.Context, name string) (*domain.Role, error)
	List(ctx context.Context) ([]*domain.Role, error)
	Upsert(ctx context.Context, role *domain.Role) error
}

// SessionRepository persists login sessions.
type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	FindByID(ctx context.Context, id string) (*domain.Session, error)
	// UpdateIfCounter advances the rotation counter from expected to next only
	// if the session is not revoked and its counter still equals expected.
	// It reports whether the update matched.
	UpdateIfCounter(ctx context.Context, id string, expected, next int64, at time.Time) (bool, error)
	Revoke(ctx context.Context, id, reason string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// TokenRepository persists hashed one-time tokens.
type TokenRepository interface {
	// Replace drops any unconsumed token of the same user and purpose, then
	// inserts tok.
	Replace(ctx context.Context, tok *domain.OneTimeToken) error
	// Consume marks the token consumed if it is unconsumed and unexpired at
	// the given time, and returns it. Otherwise it returns domain.ErrNotFound.
	Consume(ctx context.Context, hash string, purpose domain.TokenPurpose, at time.Time) (*domain.OneTimeToken, error)
	FindByHash(ctx context.Context, hash string, purpose domain.TokenPurpose) (*domain.OneTimeToken, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// AuditRepository appends to and reads the security audit trail.
type AuditRepository interface {
	Insert(ctx context.Context, event *domain.AuditEvent) error
	// ListByUser returns at most limit events of a user, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditEvent, error)
}

// Store bundles the repositories of one backend.
type Store interface {
	Users() UserRepository
	Roles() RoleRepository
	Sessions() SessionRepository
	Tokens() TokenRepository
	Audit() AuditRepository
	// ReplacePassword stores a new password hash and revokes every session of
	// the user. Backends must never leave the new hash in place while old
	// sessions stay live.
	ReplacePassword(ctx context.Context, userID, hash, reason string, at time.Time) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// PermissionCache is an optional read-through cache for role permissions.
type PermissionCache interface {
	Get(ctx context.Context, role string) ([]string, bool, error)
	Set(ctx context.Context, role string, permissions []string) error
}
