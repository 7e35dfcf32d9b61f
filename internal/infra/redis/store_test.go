package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"product-data-service/internal/domain"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewStore(client, zap.NewNop(), "test"), mr
}

func entry(key string, ttl time.Duration) *domain.CacheEntry {
	now := time.Now()

	return &domain.CacheEntry{
		Key:     key,
		Data:    map[string]any{"value": key},
		Created: now,
		Expires: now.Add(ttl),
		TTL:     ttl,
	}
}

func TestStore_SetGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", entry("k1", time.Minute), time.Minute))

	got, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "k1", got.Key)
	assert.Equal(t, "k1", got.Data.(map[string]any)["value"])
}

func TestStore_Get_MissingKey(t *testing.T) {
	s, _ := newTestStore(t)

	got, err := s.Get(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_Get_CorruptEntryDropped(t *testing.T) {
	s, mr := newTestStore(t)

	require.NoError(t, mr.Set("test:entry:bad", "not-json"))

	got, err := s.Get(context.Background(), "bad")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, mr.Exists("test:entry:bad"))
}

func TestStore_RedisTTLApplied(t *testing.T) {
	s, mr := newTestStore(t)

	require.NoError(t, s.Set(context.Background(), "k1", entry("k1", time.Minute), time.Minute))

	mr.FastForward(2 * time.Minute)

	got, err := s.Get(context.Background(), "k1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_Delete_Idempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", entry("k1", time.Minute), time.Minute))
	require.NoError(t, s.Delete(ctx, "k1"))
	require.NoError(t, s.Delete(ctx, "k1"))

	got, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_ClearNamespace_LeavesTagsAndCounters(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k1", entry("k1", time.Minute), time.Minute))
	require.NoError(t, s.AddToTag(ctx, "provider:paapi", "k1"))
	_, err := s.Incr(ctx, "paapi:search", time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.ClearNamespace(ctx))

	got, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, got)

	keys, err := s.KeysByTag(ctx, "provider:paapi")
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, keys)

	count, _, err := s.Count(ctx, "paapi:search")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestStore_TagRegistry(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddToTag(ctx, "provider:paapi", "k1"))
	require.NoError(t, s.AddToTag(ctx, "provider:paapi", "k2"))

	keys, err := s.KeysByTag(ctx, "provider:paapi")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"k1", "k2"}, keys)

	require.NoError(t, s.RemoveFromTag(ctx, "provider:paapi", "k1"))
	keys, err = s.KeysByTag(ctx, "provider:paapi")
	require.NoError(t, err)
	assert.Equal(t, []string{"k2"}, keys)

	require.NoError(t, s.ClearTags(ctx))
	keys, err = s.KeysByTag(ctx, "provider:paapi")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStore_StatsRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	loaded, err := s.LoadStats(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	stats := &domain.CacheStats{Hits: 10, Misses: 4, Writes: 7, Deletes: 1}
	require.NoError(t, s.SaveStats(ctx, stats))

	loaded, err = s.LoadStats(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, *stats, *loaded)
}

func TestStore_CounterWindow(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	count, remaining, err := s.Count(ctx, "paapi:search")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
	assert.Equal(t, time.Duration(0), remaining)

	for i := 1; i <= 3; i++ {
		n, err := s.Incr(ctx, "paapi:search", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(i), n)
	}

	count, remaining, err = s.Count(ctx, "paapi:search")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.Greater(t, remaining, time.Duration(0))

	// The window expiry is armed on the first increment only.
	mr.FastForward(61 * time.Second)
	count, _, err = s.Count(ctx, "paapi:search")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
