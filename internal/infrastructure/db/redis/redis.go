// Package redis holds the optional Redis-backed permission cache.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTimeout = 5 * time.Second

// Config selects the Redis server. Timeout bounds dialing, each command and
// the startup ping.
type Config struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

func (c Config) options() *redis.Options {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
}

// Connect opens a client and fails unless the server answers a ping.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts := cfg.options()
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}
