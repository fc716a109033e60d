package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devlink/identity/internal/core/ports"
)

const defaultPermissionTTL = 5 * time.Minute

// PermissionCache caches role permission lists.
// Key format: rbac:perms:<role>
type PermissionCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ ports.PermissionCache = (*PermissionCache)(nil)

// NewPermissionCache wraps client. Entries expire after ttl.
func NewPermissionCache(client *redis.Client, ttl time.Duration) *PermissionCache {
	if ttl <= 0 {
		ttl = defaultPermissionTTL
	}
	return &PermissionCache{client: client, ttl: ttl}
}

// Ping reports whether the cache server is reachable.
func (c *PermissionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get reports a miss as ok == false with a nil error.
func (c *PermissionCache) Get(ctx context.Context, role string) ([]string, bool, error) {
	raw, err := c.client.Get(ctx, c.key(role)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("permission cache get: %w", err)
	}

	var perms []string
	if err := json.Unmarshal(raw, &perms); err != nil {
		return nil, false, fmt.Errorf("permission cache decode: %w", err)
	}
	return perms, true, nil
}

func (c *PermissionCache) Set(ctx context.Context, role string, permissions []string) error {
	if permissions == nil {
		permissions = []string{}
	}
	raw, err := json.Marshal(permissions)
	if err != nil {
		return fmt.Errorf("permission cache encode: %w", err)
	}
	return c.client.Set(ctx, c.key(role), raw, c.ttl).Err()
}

// Invalidate drops the cached entries of roles.
func (c *PermissionCache) Invalidate(ctx context.Context, roles ...string) error {
	if len(roles) == 0 {
		return nil
	}
	keys := make([]string, 0, len(roles))
	for _, r := range roles {
		keys = append(keys, c.key(r))
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *PermissionCache) key(role string) string {
	return "rbac:perms:" + role
}
