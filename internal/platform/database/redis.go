package database

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"auction-logistics/internal/platform/config"
)

// ConnectRedis returns a client for cfg after a successful ping.
func ConnectRedis(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	logger.Info().Str("addr", cfg.Addr).Msg("connected to redis")
	return rdb, nil
}
