// Package memory is a process-local Store used for development and tests.
// All repositories share one mutex, so every operation is atomic with
// respect to the others.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/core/ports"
)

type Store struct {
	mu       sync.Mutex
	users    map[string]*domain.User
	roles    map[string]*domain.Role
	sessions map[string]*domain.Session
	tokens   map[string]*domain.OneTimeToken
	audit    []*domain.AuditEvent
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		users:    make(map[string]*domain.User),
		roles:    make(map[string]*domain.Role),
		sessions: make(map[string]*domain.Session),
		tokens:   make(map[string]*domain.OneTimeToken),
	}
}

func (s *Store) lock()   { s.mu.Lock() }
func (s *Store) unlock() { s.mu.Unlock() }

func (s *Store) Users() ports.UserRepository       { return userRepo{s} }
func (s *Store) Roles() ports.RoleRepository       { return roleRepo{s} }
func (s *Store) Sessions() ports.SessionRepository { return sessionRepo{s} }
func (s *Store) Tokens() ports.TokenRepository     { return tokenRepo{s} }
func (s *Store) Audit() ports.AuditRepository      { return auditRepo{s} }

func (s *Store) Ping(context.Context) error  { return nil }
func (s *Store) Close(context.Context) error { return nil }

// ReplacePassword updates the hash and revokes all sessions under one lock.
func (s *Store) ReplacePassword(_ context.Context, userID, hash, reason string, at time.Time) error {
	s.lock()
	defer s.unlock()

	u, ok := s.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = at
	s.revokeAllLocked(userID, reason, at)
	return nil
}

func (s *Store) revokeAllLocked(userID, reason string, at time.Time) int64 {
	var n int64
	for _, sess := range s.sessions {
		if sess.UserID == userID && !sess.Revoked {
			revokeLocked(sess, reason, at)
			n++
		}
	}
	return n
}

func revokeLocked(sess *domain.Session, reason string, at time.Time) {
	t := at
	sess.Revoked = true
	sess.RevokedAt = &t
	sess.RevokeReason = reason
	sess.UpdatedAt = at
}

// ── Users ────────────────────────────────────────────────────────────────────

type userRepo struct{ s *Store }

func cloneUser(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func (r userRepo) Create(_ context.Context, user *domain.User) (*domain.User, error) {
	r.s.lock()
	defer r.s.unlock()

	for _, u := range r.s.users {
		if u.Email == user.Email {
			return nil, domain.ErrConflict
		}
	}
	c := cloneUser(user)
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	r.s.users[c.ID] = c
	return cloneUser(c), nil
}

func (r userRepo) FindByID(_ context.Context, id string) (*domain.User, error) {
	r.s.lock()
	defer r.s.unlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneUser(u), nil
}

func (r userRepo) FindByEmail(_ context.Context, email string) (*domain.User, error) {
	r.s.lock()
	defer r.s.unlock()

	for _, u := range r.s.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r userRepo) update(id string, fn func(u *domain.User)) error {
	r.s.lock()
	defer r.s.unlock()

	u, ok := r.s.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(u)
	return nil
}

func (r userRepo) MarkEmailVerified(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(u *domain.User) {
		u.EmailVerified = true
		u.UpdatedAt = at
	})
}

func (r userRepo) UpdateProfile(_ context.Context, id, name string, twoFactorEnabled bool, at time.Time) error {
	return r.update(id, func(u *domain.User) {
		u.Name = name
		u.TwoFactorEnabled = twoFactorEnabled
		u.UpdatedAt = at
	})
}

func (r userRepo) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(u *domain.User) {
		t := at
		u.LastLoginAt = &t
	})
}

func (r userRepo) SetActive(_ context.Context, id string, active bool, at time.Time) error {
	return r.update(id, func(u *domain.User) {
		u.Active = active
		u.UpdatedAt = at
	})
}

func (r userRepo) SetRole(_ context.Context, id, role string, at time.Time) error {
	return r.update(id, func(u *domain.User) {
		u.Role = role
		u.UpdatedAt = at
	})
}

func (r userRepo) SoftDelete(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(u *domain.User) {
		t := at
		u.DeletedAt = &t
		u.Active = false
		u.UpdatedAt = at
	})
}

// ── Roles ────────────────────────────────────────────────────────────────────

type roleRepo struct{ s *Store }

func cloneRole(r *domain.Role) *domain.Role {
	c := *r
	c.Permissions = append([]string(nil), r.Permissions...)
	return &c
}

func (r roleRepo) FindByName(_ context.Context, name string) (*domain.Role, error) {
	r.s.lock()
	defer r.s.unlock()

	role, ok := r.s.roles[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRole(role), nil
}

func (r roleRepo) List(_ context.Context) ([]*domain.Role, error) {
	r.s.lock()
	defer r.s.unlock()

	out := make([]*domain.Role, 0, len(r.s.roles))
	for _, role := range r.s.roles {
		out = append(out, cloneRole(role))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r roleRepo) Upsert(_ context.Context, role *domain.Role) error {
	r.s.lock()
	defer r.s.unlock()

	c := cloneRole(role)
	if existing, ok := r.s.roles[c.Name]; ok {
		c.ID = existing.ID
	} else if c.ID == "" {
		c.ID = uuid.NewString()
	}
	r.s.roles[c.Name] = c
	return nil
}

// ── Sessions ─────────────────────────────────────────────────────────────────

type sessionRepo struct{ s *Store }

func cloneSession(sess *domain.Session) *domain.Session {
	c := *sess
	return &c
}

func (r sessionRepo) Create(_ context.Context, sess *domain.Session) error {
	r.s.lock()
	defer r.s.unlock()

	if _, exists := r.s.sessions[sess.ID]; exists {
		return domain.ErrConflict
	}
	r.s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (r sessionRepo) FindByID(_ context.Context, id string) (*domain.Session, error) {
	r.s.lock()
	defer r.s.unlock()

	sess, ok := r.s.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneSession(sess), nil
}

func (r sessionRepo) UpdateIfCounter(_ context.Context, id string, expected, next int64, at time.Time) (bool, error) {
	r.s.lock()
	defer r.s.unlock()

	sess, ok := r.s.sessions[id]
	if !ok || sess.Revoked || sess.Counter != expected {
		return false, nil
	}
	sess.Counter = next
	sess.UpdatedAt = at
	return true, nil
}

func (r sessionRepo) Revoke(_ context.Context, id, reason string, at time.Time) error {
	r.s.lock()
	defer r.s.unlock()

	sess, ok := r.s.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !sess.Revoked {
		revokeLocked(sess, reason, at)
	}
	return nil
}

func (r sessionRepo) RevokeAllForUser(_ context.Context, userID, reason string, at time.Time) (int64, error) {
	r.s.lock()
	defer r.s.unlock()

	return r.s.revokeAllLocked(userID, reason, at), nil
}

func (r sessionRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.s.lock()
	defer r.s.unlock()

	var n int64
	for id, sess := range r.s.sessions {
		if sess.ExpiresAt.Before(before) {
			delete(r.s.sessions, id)
			n++
		}
	}
	return n, nil
}

// ── One-time tokens ──────────────────────────────────────────────────────────

type tokenRepo struct{ s *Store }

func cloneToken(t *domain.OneTimeToken) *domain.OneTimeToken {
	c := *t
	return &c
}

func (r tokenRepo) Replace(_ context.Context, tok *domain.OneTimeToken) error {
	r.s.lock()
	defer r.s.unlock()

	for id, t := range r.s.tokens {
		if t.UserID == tok.UserID && t.Purpose == tok.Purpose && t.ConsumedAt == nil {
			delete(r.s.tokens, id)
		}
	}
	c := cloneToken(tok)
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	r.s.tokens[c.ID] = c
	return nil
}

func (r tokenRepo) findLocked(hash string, purpose domain.TokenPurpose) *domain.OneTimeToken {
	for _, t := range r.s.tokens {
		if t.TokenHash == hash && t.Purpose == purpose {
			return t
		}
	}
	return nil
}

func (r tokenRepo) Consume(_ context.Context, hash string, purpose domain.TokenPurpose, at time.Time) (*domain.OneTimeToken, error) {
	r.s.lock()
	defer r.s.unlock()

	t := r.findLocked(hash, purpose)
	if t == nil || !t.Usable(at) {
		return nil, domain.ErrNotFound
	}
	consumed := at
	t.ConsumedAt = &consumed
	return cloneToken(t), nil
}

func (r tokenRepo) FindByHash(_ context.Context, hash string, purpose domain.TokenPurpose) (*domain.OneTimeToken, error) {
	r.s.lock()
	defer r.s.unlock()

	t := r.findLocked(hash, purpose)
	if t == nil {
		return nil, domain.ErrNotFound
	}
	return cloneToken(t), nil
}

func (r tokenRepo) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	r.s.lock()
	defer r.s.unlock()

	var n int64
	for id, t := range r.s.tokens {
		if t.ExpiresAt.Before(before) {
			delete(r.s.tokens, id)
			n++
		}
	}
	return n, nil
}

func (r userRepo) List(_ context.Context, f ports.ListUsersFilter) ([]*domain.User, int64, error) {
	r.s.lock()
	defer r.s.unlock()

	search := strings.ToLower(f.Search)
	matched := make([]*domain.User, 0)
	for _, u := range r.s.users {
		switch {
		case u.Deleted():
			continue
		case search != "" && !strings.Contains(u.Email, search) && !strings.Contains(strings.ToLower(u.Name), search):
			continue
		case f.Role != "" && u.Role != f.Role:
			continue
		case f.Active != nil && u.Active != *f.Active:
			continue
		case f.EmailVerified != nil && u.EmailVerified != *f.EmailVerified:
			continue
		}
		matched = append(matched, u)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := int64(len(matched))
	start := (f.Page - 1) * f.Limit
	if start < 0 || start >= len(matched) {
		return []*domain.User{}, total, nil
	}
	end := min(start+f.Limit, len(matched))

	out := make([]*domain.User, 0, end-start)
	for _, u := range matched[start:end] {
		out = append(out, cloneUser(u))
	}
	return out, total, nil
}

// ── Audit trail ──────────────────────────────────────────────────────────────

type auditRepo struct{ s *Store }

func (r auditRepo) Insert(_ context.Context, event *domain.AuditEvent) error {
	r.s.lock()
	defer r.s.unlock()

	c := *event
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	r.s.audit = append(r.s.audit, &c)
	return nil
}

func (r auditRepo) ListByUser(_ context.Context, userID string, limit int) ([]*domain.AuditEvent, error) {
	r.s.lock()
	defer r.s.unlock()

	out := []*domain.AuditEvent{}
	for i := len(r.s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if e := r.s.audit[i]; e.UserID == userID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}
