// Package redis implements the cache backend, tag registry and
// rate-limit counter store on Redis.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"product-data-service/internal/domain"
)

// Store implements domain.CacheStore and domain.CounterStore. All keys
// are namespaced under keyPrefix to prevent collisions with other
// applications sharing the Redis instance.
type Store struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
}

// NewStore creates a Redis-backed store.
func NewStore(client *redis.Client, logger *zap.Logger, keyPrefix string) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		keyPrefix: keyPrefix,
	}
}

// Get retrieves a cache entry. Returns (nil, nil) when the key does
// not exist; expiry validation is the caller's concern.
func (s *Store) Get(ctx context.Context, key string) (*domain.CacheEntry, error) {
	data, err := s.client.Get(ctx, s.entryKey(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", key, err)
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Corrupt entry: drop it and report a miss.
		s.logger.Warn("dropping corrupt cache entry", zap.String("key", key), zap.Error(err))
		_ = s.client.Del(ctx, s.entryKey(key)).Err()

		return nil, nil
	}

	return &entry, nil
}

// Set stores a cache entry with the given TTL so Redis evicts it on
// its own even if the lazy deletion never runs.
func (s *Store) Set(ctx context.Context, key string, entry *domain.CacheEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", key, err)
	}

	if err := s.client.Set(ctx, s.entryKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}

	s.logger.Debug("cache set",
		zap.String("key", key),
		zap.Int("bytes", len(data)),
		zap.Duration("ttl", ttl),
	)

	return nil
}

// Delete removes a cache entry. Idempotent.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.entryKey(key)).Err(); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}

	return nil
}

// ClearNamespace removes every entry under the prefix. Uses SCAN,
// which is safe for production use (non-blocking).
func (s *Store) ClearNamespace(ctx context.Context) error {
	return s.deleteByPattern(ctx, s.keyPrefix+":entry:*")
}

// AddToTag registers a key under a tag set.
func (s *Store) AddToTag(ctx context.Context, tag string, key string) error {
	if err := s.client.SAdd(ctx, s.tagKey(tag), key).Err(); err != nil {
		return fmt.Errorf("tag add %s: %w", tag, err)
	}

	return nil
}

// KeysByTag lists the keys registered under a tag.
func (s *Store) KeysByTag(ctx context.Context, tag string) ([]string, error) {
	keys, err := s.client.SMembers(ctx, s.tagKey(tag)).Result()
	if err != nil {
		return nil, fmt.Errorf("tag members %s: %w", tag, err)
	}

	return keys, nil
}

// RemoveFromTag drops a key from a tag set, removing the set once it
// empties.
func (s *Store) RemoveFromTag(ctx context.Context, tag string, key string) error {
	if err := s.client.SRem(ctx, s.tagKey(tag), key).Err(); err != nil {
		return fmt.Errorf("tag remove %s: %w", tag, err)
	}

	size, err := s.client.SCard(ctx, s.tagKey(tag)).Result()
	if err == nil && size == 0 {
		_ = s.client.Del(ctx, s.tagKey(tag)).Err()
	}

	return nil
}

// ClearTags wipes the whole tag registry.
func (s *Store) ClearTags(ctx context.Context) error {
	return s.deleteByPattern(ctx, s.keyPrefix+":tag:*")
}

// LoadStats restores persisted cache statistics. Returns (nil, nil)
// when none were saved yet.
func (s *Store) LoadStats(ctx context.Context) (*domain.CacheStats, error) {
	data, err := s.client.Get(ctx, s.keyPrefix+":stats").Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stats load: %w", err)
	}

	var stats domain.CacheStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, nil
	}

	return &stats, nil
}

// SaveStats persists cache statistics.
func (s *Store) SaveStats(ctx context.Context, stats *domain.CacheStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("stats marshal: %w", err)
	}

	if err := s.client.Set(ctx, s.keyPrefix+":stats", data, 0).Err(); err != nil {
		return fmt.Errorf("stats save: %w", err)
	}

	return nil
}

// Incr atomically bumps a rate-limit counter, arming the window expiry
// only when the counter is created.
func (s *Store) Incr(ctx context.Context, scope string, window time.Duration) (int64, error) {
	key := s.counterKey(scope)

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("counter incr %s: %w", scope, err)
	}

	if count == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return count, fmt.Errorf("counter expire %s: %w", scope, err)
		}
	}

	return count, nil
}

// Count reads a rate-limit counter and the time left in its window.
func (s *Store) Count(ctx context.Context, scope string) (int64, time.Duration, error) {
	key := s.counterKey(scope)

	count, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("counter get %s: %w", scope, err)
	}

	remaining, err := s.client.TTL(ctx, key).Result()
	if err != nil || remaining < 0 {
		remaining = 0
	}

	return count, remaining, nil
}

func (s *Store) deleteByPattern(ctx context.Context, pattern string) error {
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()

	keys := []string{}
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", pattern, err)
	}

	if len(keys) > 0 {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("delete %d keys: %w", len(keys), err)
		}
		s.logger.Info("cleared keys", zap.Int("key_count", len(keys)), zap.String("pattern", pattern))
	}

	return nil
}

func (s *Store) entryKey(key string) string {
	return s.keyPrefix + ":entry:" + key
}

func (s *Store) tagKey(tag string) string {
	return s.keyPrefix + ":tag:" + tag
}

func (s *Store) counterKey(scope string) string {
	return s.keyPrefix + ":ratelimit:" + scope
}
