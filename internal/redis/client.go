package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/conexhealth/oncall-service/internal/config"
)

// NewClient connects to the Redis instance backing the per-request
// acceptance locks.
func NewClient(cfg config.Config) (*redis.Client, error) {
	timeout := lockIOTimeout(cfg.LockTTL)

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Username:     cfg.RedisUsername,
		Password:     cfg.RedisPassword,
		DB:           0,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		PoolSize:     10,
		MinIdleConns: 1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return rdb, nil
}

// lockIOTimeout keeps Redis round trips well under the lock TTL, so a slow
// Redis surfaces as a failed acquisition instead of a stalled acceptance.
func lockIOTimeout(lockTTL time.Duration) time.Duration {
	timeout := lockTTL / 2
	if timeout <= 0 || timeout > 2*time.Second {
		timeout = 2 * time.Second
	}
	return timeout
}
