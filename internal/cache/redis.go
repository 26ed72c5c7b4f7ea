// Package cache holds the redis client and the notification dedup guard built on it.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/straye-as/quotation-api/internal/config"
)

// New creates a redis client and verifies the connection
func New(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}

	return client, nil
}

// HealthCheck adapts a redis client to the readiness probe
type HealthCheck struct {
	Client *redis.Client
}

func (h HealthCheck) Ping(ctx context.Context) error {
	return h.Client.Ping(ctx).Err()
}
