package driver

import (
	"context"
	"fmt"
	"time"

	"chat-relay/internal/platform/config"
	"chat-relay/internal/platform/logger"

	"github.com/redis/go-redis/v9"
)

// ConnectRedis 建立 Redis 客戶端並 ping 一次.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	dial := time.Duration(cfg.DialTimeout) * time.Second
	if dial <= 0 {
		dial = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: dial,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dial)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	logger.Infof(ctx, "Redis connected: %s", cfg.Addr)
	return client, nil
}
