package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionCache_Get(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewPermissionCache(client, time.Minute)
	ctx := context.Background()

	mock.ExpectGet("rbac:perms:user").SetVal(`["file:read","file:upload"]`)
	perms, ok, err := cache.Get(ctx, "user")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"file:read", "file:upload"}, perms)

	mock.ExpectGet("rbac:perms:admin").RedisNil()
	perms, ok, err = cache.Get(ctx, "admin")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, perms)

	mock.ExpectGet("rbac:perms:moderator").SetErr(errors.New("connection refused"))
	_, _, err = cache.Get(ctx, "moderator")
	assert.ErrorContains(t, err, "connection refused")

	mock.ExpectGet("rbac:perms:broken").SetVal("not-json")
	_, _, err = cache.Get(ctx, "broken")
	assert.ErrorContains(t, err, "decode")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPermissionCache_SetAndInvalidate(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewPermissionCache(client, 2*time.Minute)
	ctx := context.Background()

	mock.ExpectSet("rbac:perms:user", []byte(`["file:read"]`), 2*time.Minute).SetVal("OK")
	require.NoError(t, cache.Set(ctx, "user", []string{"file:read"}))

	mock.ExpectSet("rbac:perms:ghost", []byte(`[]`), 2*time.Minute).SetVal("OK")
	require.NoError(t, cache.Set(ctx, "ghost", nil))

	mock.ExpectDel("rbac:perms:user", "rbac:perms:admin").SetVal(2)
	require.NoError(t, cache.Invalidate(ctx, "user", "admin"))
	require.NoError(t, cache.Invalidate(ctx))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPermissionCache_DefaultTTL(t *testing.T) {
	client, _ := redismock.NewClientMock()
	assert.Equal(t, defaultPermissionTTL, NewPermissionCache(client, 0).ttl)
}

func TestPermissionCache_Ping(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cache := NewPermissionCache(client, time.Minute)

	mock.ExpectPing().SetVal("PONG")
	if err := cache.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}

	mock.ExpectPing().SetErr(errors.New("down"))
	if err := cache.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping error")
	}
}

func TestConfig_Options(t *testing.T) {
	opts := Config{Addr: "cache:6379", DB: 2}.options()
	if opts.Addr != "cache:6379" || opts.DB != 2 || opts.DialTimeout != defaultTimeout || opts.ReadTimeout != defaultTimeout {
		t.Fatalf("unexpected options: %+v", opts)
	}
	if got := (Config{Timeout: time.Second}).options().WriteTimeout; got != time.Second {
		t.Fatalf("expected 1s write timeout, got %s", got)
	}
}
