package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupKeyPrefix = "notif:dedup:"

// RedisDedupGuard claims notification dedup keys with SET NX so that concurrent
// producers of the same event agree on a single winner for the window.
type RedisDedupGuard struct {
	client *redis.Client
}

func NewRedisDedupGuard(client *redis.Client) *RedisDedupGuard {
	return &RedisDedupGuard{client: client}
}

// Claim returns true if the caller is the first to claim key within window
func (g *RedisDedupGuard) Claim(ctx context.Context, key string, window time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, dedupKeyPrefix+key, time.Now().UTC().Format(time.RFC3339Nano), window).Result()
	if err != nil {
		return false, fmt.Errorf("cache: claim dedup key: %w", err)
	}
	return ok, nil
}

// Release drops a claim, used when the claimed notification could not be stored
func (g *RedisDedupGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, dedupKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("cache: release dedup key: %w", err)
	}
	return nil
}
