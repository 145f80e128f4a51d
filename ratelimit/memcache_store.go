package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// memcacheClient is the slice of *memcache.Client this store actually uses,
// extracted so tests can substitute a fake without a running memcached.
type memcacheClient interface {
	Increment(key string, delta uint64) (uint64, error)
	Add(item *memcache.Item) error
	Get(key string) (*memcache.Item, error)
}

var _ BanStore = &memcacheStore{}

// memcacheStore counts and bans against a memcached server. memcached has no
// increment-with-create, so creation is an Add (set-if-absent with TTL) and a
// caller that loses the creation race retries the plain atomic increment
// against the key the winner just created.
type memcacheStore struct {
	client memcacheClient
}

// NewMemcacheStore wraps an existing memcached client as a rate limiting store.
func NewMemcacheStore(client *memcache.Client) BanStore {
	return &memcacheStore{client: client}
}

func (s *memcacheStore) Increment(ctx context.Context, name, classification string, epoch float64, period time.Duration) (int64, error) {
	key := counterKey(name, classification, epoch)

	count, err := s.client.Increment(key, 1)
	if err == nil {
		return int64(count), nil
	}
	if !errors.Is(err, memcache.ErrCacheMiss) {
		return 0, err
	}

	addErr := s.client.Add(&memcache.Item{
		Key:        key,
		Value:      []byte("1"),
		Expiration: ttlSeconds(period),
	})
	if addErr == nil {
		return 1, nil
	}
	if !errors.Is(addErr, memcache.ErrNotStored) {
		return 0, addErr
	}

	// Lost the creation race: another caller stored the key between our
	// miss and our Add. Their value already includes their increment, so
	// ours must land on top of it.
	count, err = s.client.Increment(key, 1)
	if err != nil {
		return 0, err
	}
	return int64(count), nil
}

func (s *memcacheStore) Ban(ctx context.Context, name, classification string, duration time.Duration) error {
	err := s.client.Add(&memcache.Item{
		Key:        banKey(name, classification),
		Value:      []byte("1"),
		Expiration: ttlSeconds(duration),
	})
	if errors.Is(err, memcache.ErrNotStored) {
		// Already banned; first-to-ban wins.
		return nil
	}
	return err
}

func (s *memcacheStore) Banned(ctx context.Context, name, classification string) (bool, error) {
	_, err := s.client.Get(banKey(name, classification))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, memcache.ErrCacheMiss) {
		return false, nil
	}
	return false, err
}

// ttlSeconds converts a duration into memcached's whole-second expiration,
// rounding up so sub-second windows don't produce a zero (never-expiring) TTL.
func ttlSeconds(d time.Duration) int32 {
	secs := int32(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
