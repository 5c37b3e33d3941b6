package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares seen ids across cashier replicas. Each id is a key
// written with SET NX and a TTL, so the check and the mark are one atomic
// step.
type RedisStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisStore creates a Redis-backed dedup store.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb:    rdb,
		ttl:    ttl,
		prefix: "cashier:event:",
	}
}

func (s *RedisStore) MarkSeen(ctx context.Context, id string) (bool, error) {
	first, err := s.rdb.SetNX(ctx, s.prefix+id, time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: mark event %s: %w", id, err)
	}
	return first, nil
}

func (s *RedisStore) Forget(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, s.prefix+id).Err(); err != nil {
		return fmt.Errorf("dedup: forget event %s: %w", id, err)
	}
	return nil
}
