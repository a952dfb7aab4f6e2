package api

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper remembers the Idempotency-Key of each board mutation per user.
// Keys live in Redis, so a retried move or merge reaching another instance is
// still answered with 409 instead of running twice.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper keeps keys for ttl; DEDUPER_TTL sets it in main.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func idempotencyKey(userID, key string) string {
	return "idem:" + userID + ":" + key
}

// Add claims the key for a mutation about to run. false means the same user
// already sent a request with this key.
func (r *RedisDeduper) Add(ctx context.Context, userID, key string) (bool, error) {
	return r.client.SetNX(ctx, idempotencyKey(userID, key), 1, r.ttl).Result()
}

// Remove gives the key back after a mutation failed, so the client's retry
// is processed.
func (r *RedisDeduper) Remove(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, idempotencyKey(userID, key)).Err()
}
