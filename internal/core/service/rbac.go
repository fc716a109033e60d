package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/devlink/identity/internal/core/domain"
	"github.com/devlink/identity/internal/core/ports"
)

// RBACService resolves role permissions and answers access queries. It only
// reads role data.
type RBACService struct {
	roles ports.RoleRepository
	cache ports.PermissionCache
	log   zerolog.Logger
}

// NewRBACService returns an RBACService. cache may be nil.
func NewRBACService(roles ports.RoleRepository, cache ports.PermissionCache, log zerolog.Logger) *RBACService {
	return &RBACService{roles: roles, cache: cache, log: log}
}

// PermissionsFor returns the effective permission set of a role. An unknown
// role has no permissions.
func (s *RBACService) PermissionsFor(ctx context.Context, role string) (domain.PermissionSet, error) {
	if role == "" {
		return domain.PermissionSet{}, nil
	}

	if s.cache != nil {
		perms, ok, err := s.cache.Get(ctx, role)
		if err != nil {
			s.log.Warn().Err(err).Str("role", role).Msg("permission cache read failed, falling back to store")
		} else if ok {
			return domain.NewPermissionSet(perms...), nil
		}
	}

	r, err := s.roles.FindByName(ctx, role)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.PermissionSet{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load role %q: %w", role, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, role, r.Permissions); err != nil {
			s.log.Warn().Err(err).Str("role", role).Msg("permission cache write failed")
		}
	}
	return domain.NewPermissionSet(r.Permissions...), nil
}

// Authorize allows the call only for a live user whose role grants
// permission.
func (s *RBACService) Authorize(ctx context.Context, user *domain.User, permission string) error {
	if err := checkLive(user); err != nil {
		return err
	}

	perms, err := s.PermissionsFor(ctx, user.Role)
	if err != nil {
		return err
	}
	if !perms.Has(permission) {
		return domain.ForbiddenError("insufficient permissions").WithReason("missing " + permission)
	}
	return nil
}

// AuthorizeAny allows the call only for a live user holding one of roles.
func (s *RBACService) AuthorizeAny(_ context.Context, user *domain.User, roles ...string) error {
	if err := checkLive(user); err != nil {
		return err
	}
	for _, r := range roles {
		if user.Role == r {
			return nil
		}
	}
	return domain.ForbiddenError("insufficient role").WithReason("role " + user.Role)
}

func checkLive(user *domain.User) error {
	switch {
	case user == nil:
		return domain.ForbiddenError("access forbidden").WithReason("no user")
	case user.Deleted():
		return domain.ForbiddenError("access forbidden").WithReason("deleted")
	case !user.Active:
		return domain.ForbiddenError("access forbidden").WithReason("inactive")
	}
	return nil
}
