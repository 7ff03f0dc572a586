package database

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/paywire/backend/internal/config"
)

// NewRedis connects the cache client. Callers may treat a nil client as
// "run without caching"; the decision to do so belongs to them, not here.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("error connecting to redis: %w", err)
	}

	return rdb, nil
}
