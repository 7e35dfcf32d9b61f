// Package cache provides the response caching layer: a request-scoped
// memory tier over a durable backend, type-aware TTL policy, tag-based
// group invalidation and hit/miss statistics.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"product-data-service/internal/domain"
)

// cacheTypes are the known key prefixes, used to resolve a TTL when
// the caller does not supply one.
var cacheTypes = []string{"product", "search", "variations", "categories", "bestsellers", "offers", "reviews"}

// Config holds cache layer settings.
type Config struct {
	Enabled    bool
	DefaultTTL time.Duration
	TTLs       map[string]time.Duration
}

// Cache is the two-tier caching layer. All methods are safe for
// concurrent use. Backend I/O failures are treated as misses; the
// cache never fails the caller.
type Cache struct {
	store   domain.CacheStore
	logger  *zap.Logger
	enabled bool

	defaultTTL time.Duration
	ttlByType  map[string]time.Duration

	mu     sync.RWMutex
	memory map[string]*domain.CacheEntry

	statsMu sync.Mutex
	stats   domain.CacheStats

	now func() time.Time
}

// New creates a Cache over the given backend store.
func New(store domain.CacheStore, cfg Config, logger *zap.Logger) *Cache {
	ttls := make(map[string]time.Duration, len(cfg.TTLs))
	for t, ttl := range cfg.TTLs {
		ttls[t] = ttl
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}

	return &Cache{
		store:      store,
		logger:     logger,
		enabled:    cfg.Enabled,
		defaultTTL: cfg.DefaultTTL,
		ttlByType:  ttls,
		memory:     map[string]*domain.CacheEntry{},
		now:        time.Now,
	}
}

// SetOptions carries the optional arguments to Set.
type SetOptions struct {
	TTL      time.Duration
	Tags     []string
	Metadata map[string]any
}

// Get returns the cached value for key, or def on a miss. The memory
// tier is consulted first; a valid backend hit is promoted into it.
// Expired entries are deleted lazily and counted as misses. Generic
// maps and slices are copied on the way out so callers cannot mutate
// the stored entry.
func (c *Cache) Get(ctx context.Context, key string, def any) any {
	entry, ok := c.lookup(ctx, key)
	if !ok {
		c.countMiss()

		return def
	}
	c.countHit()

	return cloneData(entry.Data)
}

// Exists reports whether a valid entry is cached under key. Agrees
// with Get without touching the hit/miss counters.
func (c *Cache) Exists(ctx context.Context, key string) bool {
	_, ok := c.lookup(ctx, key)

	return ok
}

// Set caches data under key. A zero TTL resolves from the key's type
// prefix (falling back to the default). Returns false when caching is
// disabled or the backend write fails.
func (c *Cache) Set(ctx context.Context, key string, data any, opts SetOptions) bool {
	if !c.enabled {
		return false
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.ttlForKey(key)
	}

	now := c.now()
	metadata := map[string]any{
		"type": c.detectType(key),
	}
	if raw, err := json.Marshal(data); err == nil {
		metadata["size"] = len(raw)
	}
	for k, v := range opts.Metadata {
		metadata[k] = v
	}

	entry := &domain.CacheEntry{
		Key:      key,
		Data:     data,
		Created:  now,
		Expires:  now.Add(ttl),
		TTL:      ttl,
		Tags:     opts.Tags,
		Metadata: metadata,
	}

	c.mu.Lock()
	c.memory[key] = entry
	c.mu.Unlock()

	if err := c.store.Set(ctx, key, entry, ttl); err != nil {
		c.logger.Warn("cache backend write failed", zap.String("key", key), zap.Error(err))

		return false
	}

	for _, tag := range opts.Tags {
		if err := c.store.AddToTag(ctx, tag, key); err != nil {
			c.logger.Warn("cache tag update failed", zap.String("tag", tag), zap.Error(err))
		}
	}

	c.statsMu.Lock()
	c.stats.Writes++
	c.statsMu.Unlock()

	return true
}

// Delete removes an entry from both tiers and the tag registry.
func (c *Cache) Delete(ctx context.Context, key string) bool {
	if !c.enabled {
		return false
	}

	c.mu.Lock()
	entry := c.memory[key]
	delete(c.memory, key)
	c.mu.Unlock()

	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Warn("cache backend delete failed", zap.String("key", key), zap.Error(err))

		return false
	}

	if entry != nil {
		for _, tag := range entry.Tags {
			_ = c.store.RemoveFromTag(ctx, tag, key)
		}
	}

	c.statsMu.Lock()
	c.stats.Deletes++
	c.statsMu.Unlock()

	return true
}

// DeleteByTag removes every entry registered under tag and returns the
// number deleted. Entries carrying only other tags are untouched.
func (c *Cache) DeleteByTag(ctx context.Context, tag string) int {
	if !c.enabled {
		return 0
	}

	keys, err := c.store.KeysByTag(ctx, tag)
	if err != nil {
		c.logger.Warn("cache tag lookup failed", zap.String("tag", tag), zap.Error(err))

		return 0
	}

	deleted := 0
	for _, key := range keys {
		if c.Delete(ctx, key) {
			deleted++
		}
	}

	return deleted
}

// ClearAll wipes the memory tier, the backend namespace, the tag
// registry and the statistics.
func (c *Cache) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	c.memory = map[string]*domain.CacheEntry{}
	c.mu.Unlock()

	if err := c.store.ClearNamespace(ctx); err != nil {
		return err
	}
	if err := c.store.ClearTags(ctx); err != nil {
		return err
	}

	c.ResetStatistics(ctx)

	return nil
}

// TTL returns the remaining lifetime of an entry.
func (c *Cache) TTL(ctx context.Context, key string) (time.Duration, bool) {
	entry, ok := c.lookup(ctx, key)
	if !ok {
		return 0, false
	}

	remaining := entry.Expires.Sub(c.now())
	if remaining < 0 {
		remaining = 0
	}

	return remaining, true
}

// Touch extends an entry's expiry, preserving its data, tags and
// metadata. A zero extra re-arms the entry's original TTL.
func (c *Cache) Touch(ctx context.Context, key string, extra time.Duration) bool {
	entry, ok := c.lookup(ctx, key)
	if !ok {
		return false
	}

	ttl := entry.TTL
	if extra > 0 {
		ttl = extra
	}

	return c.Set(ctx, key, entry.Data, SetOptions{
		TTL:      ttl,
		Tags:     entry.Tags,
		Metadata: entry.Metadata,
	})
}

// WarmEntry is a preloadable cache entry.
type WarmEntry struct {
	Key      string
	Data     any
	TTL      time.Duration
	Tags     []string
	Metadata map[string]any
}

// Warm preloads entries and returns how many were stored.
func (c *Cache) Warm(ctx context.Context, entries []WarmEntry) int {
	warmed := 0
	for _, e := range entries {
		if e.Key == "" || e.Data == nil {
			continue
		}
		if c.Set(ctx, e.Key, e.Data, SetOptions{TTL: e.TTL, Tags: e.Tags, Metadata: e.Metadata}) {
			warmed++
		}
	}

	return warmed
}

// SetResponse caches a full response envelope.
func (c *Cache) SetResponse(ctx context.Context, key string, resp *domain.Response, opts SetOptions) bool {
	return c.Set(ctx, key, resp, opts)
}

// GetResponse restores a cached envelope. The restored copy is marked
// as a cache hit and is independent of the stored entry.
func (c *Cache) GetResponse(ctx context.Context, key string) *domain.Response {
	entry, ok := c.lookup(ctx, key)
	if !ok {
		c.countMiss()

		return nil
	}

	// Round-trip through JSON: backend hits arrive as generic maps and
	// memory hits must not alias the stored envelope.
	raw, err := json.Marshal(entry.Data)
	if err != nil {
		c.countMiss()

		return nil
	}

	var resp domain.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		c.countMiss()

		return nil
	}
	if resp.Data == nil {
		resp.Data = map[string]any{}
	}
	resp.Meta.CacheHit = true

	c.countHit()

	return &resp
}

// Statistics returns a snapshot of the cache counters.
func (c *Cache) Statistics() domain.CacheStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	return c.stats
}

// LoadStatistics restores persisted counters from the backend.
func (c *Cache) LoadStatistics(ctx context.Context) {
	stats, err := c.store.LoadStats(ctx)
	if err != nil || stats == nil {
		return
	}

	c.statsMu.Lock()
	c.stats = *stats
	c.statsMu.Unlock()
}

// FlushStatistics persists the current counters to the backend.
func (c *Cache) FlushStatistics(ctx context.Context) {
	stats := c.Statistics()
	if err := c.store.SaveStats(ctx, &stats); err != nil {
		c.logger.Warn("cache stats flush failed", zap.Error(err))
	}
}

// ResetStatistics zeroes and persists the counters.
func (c *Cache) ResetStatistics(ctx context.Context) {
	c.statsMu.Lock()
	c.stats = domain.CacheStats{}
	c.statsMu.Unlock()

	c.FlushStatistics(ctx)
}

// lookup finds a valid entry in either tier, deleting expired ones.
func (c *Cache) lookup(ctx context.Context, key string) (*domain.CacheEntry, bool) {
	if !c.enabled {
		return nil, false
	}

	now := c.now()

	c.mu.RLock()
	entry := c.memory[key]
	c.mu.RUnlock()

	if entry != nil {
		if entry.Valid(now) {
			return entry, true
		}
		c.Delete(ctx, key)

		return nil, false
	}

	entry, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache backend read failed", zap.String("key", key), zap.Error(err))

		return nil, false
	}
	if entry == nil {
		return nil, false
	}
	if !entry.Valid(now) {
		c.Delete(ctx, key)

		return nil, false
	}

	c.mu.Lock()
	c.memory[key] = entry
	c.mu.Unlock()

	return entry, true
}

func (c *Cache) ttlForKey(key string) time.Duration {
	if ttl, ok := c.ttlByType[c.detectType(key)]; ok && ttl > 0 {
		return ttl
	}

	return c.defaultTTL
}

func (c *Cache) detectType(key string) string {
	for _, t := range cacheTypes {
		if strings.HasPrefix(key, t) {
			return t
		}
	}

	return "unknown"
}

// cloneData deep-copies the generic containers JSON decoding produces.
// Other values are returned as-is.
func cloneData(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneData(val)
		}

		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneData(val)
		}

		return out
	default:
		return v
	}
}

func (c *Cache) countHit() {
	c.statsMu.Lock()
	c.stats.Hits++
	c.statsMu.Unlock()
}

func (c *Cache) countMiss() {
	c.statsMu.Lock()
	c.stats.Misses++
	c.statsMu.Unlock()
}
