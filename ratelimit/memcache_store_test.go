package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMemcache implements memcacheClient with memcached's observable
// semantics for the three operations the store uses, so the adapter can be
// exercised without a running memcached.
type fakeMemcache struct {
	mu    sync.Mutex
	items map[string]*memcache.Item

	// failAddOnce makes the next Add report ErrNotStored while storing the
	// racing winner's value, simulating a lost creation race.
	failAddOnce bool
}

func newFakeMemcache() *fakeMemcache {
	return &fakeMemcache{items: make(map[string]*memcache.Item)}
}

func (f *fakeMemcache) Increment(key string, delta uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	item, ok := f.items[key]
	if !ok {
		return 0, memcache.ErrCacheMiss
	}
	value, err := strconv.ParseUint(string(item.Value), 10, 64)
	if err != nil {
		return 0, err
	}
	value += delta
	item.Value = []byte(strconv.FormatUint(value, 10))
	return value, nil
}

func (f *fakeMemcache) Add(item *memcache.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failAddOnce {
		f.failAddOnce = false
		f.items[item.Key] = &memcache.Item{Key: item.Key, Value: []byte("1"), Expiration: item.Expiration}
		return memcache.ErrNotStored
	}
	if _, ok := f.items[item.Key]; ok {
		return memcache.ErrNotStored
	}
	f.items[item.Key] = item
	return nil
}

func (f *fakeMemcache) Get(key string) (*memcache.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	item, ok := f.items[key]
	if !ok {
		return nil, memcache.ErrCacheMiss
	}
	return item, nil
}

func TestMemcacheStoreIncrement(t *testing.T) {
	client := newFakeMemcache()
	store := &memcacheStore{client: client}
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		count, err := store.Increment(ctx, "HTTP", "1.2.3.4", 1650000010, 10*time.Second)
		require.NoError(t, err)
		assert.Equal(t, i, count)
	}

	item, err := client.Get("ratelimit/HTTP/1.2.3.4/1650000010")
	require.NoError(t, err)
	assert.Equal(t, "3", string(item.Value))
	assert.Equal(t, int32(10), item.Expiration)
}

func TestMemcacheStoreIncrementLostCreationRace(t *testing.T) {
	client := newFakeMemcache()
	client.failAddOnce = true
	store := &memcacheStore{client: client}

	// the loser of the creation race must land its increment on the
	// winner's key instead of losing it
	count, err := store.Increment(context.Background(), "HTTP", "1.2.3.4", 1650000010, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestMemcacheStoreSubSecondPeriod(t *testing.T) {
	client := newFakeMemcache()
	store := &memcacheStore{client: client}

	_, err := store.Increment(context.Background(), "HTTP", "1.2.3.4", 100.5, 500*time.Millisecond)
	require.NoError(t, err)

	// memcached TTLs are whole seconds; sub-second periods round up
	item, err := client.Get("ratelimit/HTTP/1.2.3.4/100")
	require.NoError(t, err)
	assert.Equal(t, int32(1), item.Expiration)
}

func TestMemcacheStoreBan(t *testing.T) {
	client := newFakeMemcache()
	store := &memcacheStore{client: client}
	ctx := context.Background()

	banned, err := store.Banned(ctx, "HTTP", "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, banned)

	require.NoError(t, store.Ban(ctx, "HTTP", "1.2.3.4", time.Minute))
	// banning an already banned classification is a no-op, not an error
	require.NoError(t, store.Ban(ctx, "HTTP", "1.2.3.4", time.Minute))

	banned, err = store.Banned(ctx, "HTTP", "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, banned)

	item, err := client.Get("ratelimit/banned/HTTP/1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, int32(60), item.Expiration)
}
