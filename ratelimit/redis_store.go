package ratelimit

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// ensure that redisStore satisfies the full BanStore contract
var _ BanStore = &redisStore{}

// redisStore counts and bans against a Redis server. Atomicity comes from
// Redis itself: INCR is atomic and the INCR+EXPIRE pair is grouped into a
// single transactional pipeline so no competing client observes the key
// without a TTL.
type redisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client as a rate limiting store.
func NewRedisStore(client *redis.Client) BanStore {
	return &redisStore{client: client}
}

func (s *redisStore) Increment(ctx context.Context, name, classification string, epoch float64, period time.Duration) (int64, error) {
	key := counterKey(name, classification, epoch)

	pipe := s.client.TxPipeline()
	count := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, period)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return count.Val(), nil
}

func (s *redisStore) Ban(ctx context.Context, name, classification string, duration time.Duration) error {
	// SETNX keeps the first ban's TTL: later violations inside the same
	// ban window leave the existing flag untouched.
	return s.client.SetNX(ctx, banKey(name, classification), "1", duration).Err()
}

func (s *redisStore) Banned(ctx context.Context, name, classification string) (bool, error) {
	exists, err := s.client.Exists(ctx, banKey(name, classification)).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
