package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGuard is a Redis-backed Guard. SET NX gives the atomic
// check-and-claim across orchestrator replicas.
type RedisGuard struct {
	client redis.Cmdable
}

// NewRedisGuard creates a new Redis-backed guard.
func NewRedisGuard(client redis.Cmdable) *RedisGuard {
	return &RedisGuard{client: client}
}

// Admit claims the correlation ID with SET NX and the given TTL.
func (g *RedisGuard) Admit(ctx context.Context, correlationID string, ttl time.Duration) (bool, error) {
	key := FormatKey(correlationID)
	ok, err := g.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %q: %w", key, err)
	}
	return ok, nil
}

// HealthCheck verifies Redis connectivity for the readiness endpoint.
func (g *RedisGuard) HealthCheck(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}

// Release frees the correlation ID.
func (g *RedisGuard) Release(ctx context.Context, correlationID string) error {
	key := FormatKey(correlationID)
	if err := g.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}
