package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"product-data-service/internal/cache"
	"product-data-service/internal/domain"
	"product-data-service/internal/ratelimit"
)

// maxRetryDelay caps the exponential backoff between attempts.
const maxRetryDelay = 30 * time.Second

// Deps are the shared collaborators injected into every provider.
// Cache and Logs may be nil; the corresponding behavior is skipped.
type Deps struct {
	Limiter *ratelimit.Limiter
	Cache   *cache.Cache
	Logs    domain.RequestLogRepository
	Logger  *zap.Logger

	// MaxAttempts bounds the transient-failure retry loop. Values
	// below 1 default to 3.
	MaxAttempts int
}

// Base carries the cross-cutting behavior every provider shares:
// rate-limit pre-checks, classified retries with backoff, response
// caching and request logging. Concrete providers embed it and route
// their upstream calls through Do.
type Base struct {
	key          string
	caps         map[domain.Operation]bool
	capList      []domain.Operation
	bulkLimit    int
	marketplaces []domain.Marketplace

	limiter *ratelimit.Limiter
	cache   *cache.Cache
	logs    domain.RequestLogRepository
	logger  *zap.Logger

	maxAttempts int

	mu      sync.Mutex
	lastErr *domain.APIError
}

// NewBase creates the shared provider core.
func NewBase(key string, caps []domain.Operation, bulkLimit int, marketplaces []domain.Marketplace, deps Deps) *Base {
	capSet := make(map[domain.Operation]bool, len(caps))
	for _, op := range caps {
		capSet[op] = true
	}

	maxAttempts := deps.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 3
	}

	return &Base{
		key:          key,
		caps:         capSet,
		capList:      caps,
		bulkLimit:    bulkLimit,
		marketplaces: marketplaces,
		limiter:      deps.Limiter,
		cache:        deps.Cache,
		logs:         deps.Logs,
		logger:       deps.Logger,
		maxAttempts:  maxAttempts,
	}
}

// Key returns the provider identifier.
func (b *Base) Key() string {
	return b.key
}

// Capabilities lists the operations this provider supports.
func (b *Base) Capabilities() []domain.Operation {
	return b.capList
}

// Supports reports whether the provider declares an operation.
func (b *Base) Supports(op domain.Operation) bool {
	return b.caps[op]
}

// BulkLimit is the maximum identifiers per multi-product request.
func (b *Base) BulkLimit() int {
	return b.bulkLimit
}

// SupportedMarketplaces lists the marketplaces this provider serves.
func (b *Base) SupportedMarketplaces() []domain.Marketplace {
	return b.marketplaces
}

// LastError returns the most recent classified failure, if any.
func (b *Base) LastError() *domain.APIError {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.lastErr
}

// ClearCache drops cached responses. An empty key clears everything
// tagged with this provider's namespace.
func (b *Base) ClearCache(ctx context.Context, key string) error {
	if b.cache == nil {
		return nil
	}

	if key == "" {
		b.cache.DeleteByTag(ctx, b.Tag())

		return nil
	}
	b.cache.Delete(ctx, key)

	return nil
}

// Tag is the cache tag grouping every entry this provider writes.
func (b *Base) Tag() string {
	return "provider:" + b.key
}

// Unsupported is the failure returned when an operation outside the
// provider's capability set is invoked directly.
func (b *Base) Unsupported(op domain.Operation) error {
	err := domain.NewAPIError(domain.ErrKindMalformed,
		fmt.Sprintf("operation %s not supported", op), 501)
	err.Provider = b.key
	b.fail(err)

	return err
}

// Request describes one upstream call routed through Do.
type Request struct {
	Op       domain.Operation
	Endpoint string
	Method   string
	Params   map[string]string

	// CacheKey enables read-before/write-through caching when set.
	CacheKey string
	CacheTTL time.Duration

	// Call performs the actual upstream round trip.
	Call func(ctx context.Context) (*domain.Response, error)
}

// Do executes an upstream request with the full shared pipeline:
//
//  1. cache read (a hit returns immediately, no quota consumed)
//  2. local rate-limit pre-check (a block is a quota failure, no
//     retry attempt is consumed)
//  3. the call itself, retried with exponential backoff on transient
//     failures only
//  4. request logging and cache write-through
func (b *Base) Do(ctx context.Context, req Request) (*domain.Response, error) {
	if req.CacheKey != "" && b.cache != nil {
		if resp := b.cache.GetResponse(ctx, req.CacheKey); resp != nil {
			return resp, nil
		}
	}

	scope := ratelimit.Scope(b.key, req.Op)
	if b.limiter != nil {
		if !b.limiter.Allow(ctx, scope) {
			err := domain.QuotaError(
				fmt.Sprintf("rate limit exceeded for %s", scope),
				b.limiter.ResetHint(ctx, scope),
			)
			err.Provider = b.key
			b.fail(err)

			return nil, err
		}
		b.limiter.Record(ctx, scope)
	}

	finish := b.startLog(ctx, req)
	start := time.Now()

	resp, err := b.callWithRetry(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		apiErr := b.classify(err)
		b.fail(apiErr)
		finish(apiErr.Code, apiErr.Message, 0, elapsed)

		return nil, apiErr
	}

	resp.Meta.Provider = b.key
	resp.Meta.ExecutionTime = elapsed
	finish(200, "", resp.Meta.CreditsUsed, elapsed)

	if req.CacheKey != "" && b.cache != nil && resp.Success {
		b.cache.SetResponse(ctx, req.CacheKey, resp, cache.SetOptions{
			TTL:  req.CacheTTL,
			Tags: []string{b.Tag()},
		})
	}

	return resp, nil
}

// callWithRetry runs the upstream call, retrying transient failures
// with exponential backoff. Quota, auth, not-found and malformed
// failures return immediately.
func (b *Base) callWithRetry(ctx context.Context, req Request) (*domain.Response, error) {
	var lastErr error

	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		resp, err := req.Call(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !domain.IsRetryable(err) || attempt == b.maxAttempts {
			break
		}

		delay := retryDelay(attempt)
		b.logger.Warn("provider call failed, retrying",
			zap.String("provider", b.key),
			zap.String("operation", string(req.Op)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, lastErr
}

// retryDelay is the backoff before the attempt following attempt n.
func retryDelay(attempt int) time.Duration {
	delay := time.Duration(1<<uint(attempt-1)) * time.Second
	if delay > maxRetryDelay {
		return maxRetryDelay
	}

	return delay
}

// classify wraps any failure into a typed APIError attributed to this
// provider. Context cancellation surfaces as transient.
func (b *Base) classify(err error) *domain.APIError {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Provider == "" {
			apiErr.Provider = b.key
		}

		return apiErr
	}

	wrapped := domain.NewAPIError(domain.ErrKindTransient, err.Error(), 0)
	wrapped.Provider = b.key

	return wrapped
}

// fail records the most recent classified failure.
func (b *Base) fail(err *domain.APIError) {
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()
}

// startLog opens a request log entry and returns the closure that
// completes it. Logging failures are reported but never fail the call.
func (b *Base) startLog(ctx context.Context, req Request) func(code int, message string, credits int, elapsed time.Duration) {
	if b.logs == nil {
		return func(int, string, int, time.Duration) {}
	}

	params := ""
	if req.Params != nil {
		if raw, err := json.Marshal(req.Params); err == nil {
			params = string(raw)
		}
	}

	entry := &domain.RequestLog{
		ID:       uuid.NewString(),
		Provider: b.key,
		Endpoint: req.Endpoint,
		Method:   req.Method,
		Params:   params,
	}
	if err := b.logs.Start(ctx, entry); err != nil {
		b.logger.Warn("request log insert failed", zap.String("provider", b.key), zap.Error(err))

		return func(int, string, int, time.Duration) {}
	}

	return func(code int, message string, credits int, elapsed time.Duration) {
		if err := b.logs.Finish(ctx, entry.ID, code, message, credits, elapsed); err != nil {
			b.logger.Warn("request log update failed", zap.String("provider", b.key), zap.Error(err))
		}
	}
}

// CachedResponse returns a cached envelope, or nil on a miss.
func (b *Base) CachedResponse(ctx context.Context, key string) *domain.Response {
	if b.cache == nil || key == "" {
		return nil
	}

	return b.cache.GetResponse(ctx, key)
}

// StoreResponse caches an envelope under this provider's tag.
func (b *Base) StoreResponse(ctx context.Context, key string, resp *domain.Response, ttl time.Duration) {
	if b.cache == nil || key == "" || resp == nil || !resp.Success {
		return
	}

	b.cache.SetResponse(ctx, key, resp, cache.SetOptions{
		TTL:  ttl,
		Tags: []string{b.Tag()},
	})
}

// CacheType maps an operation to the cache key type prefix that
// selects its TTL policy.
func CacheType(op domain.Operation) string {
	switch op {
	case domain.OpSearch:
		return "search"
	case domain.OpGetProduct, domain.OpGetMany:
		return "product"
	case domain.OpVariations:
		return "variations"
	case domain.OpOffers:
		return "offers"
	case domain.OpReviews:
		return "reviews"
	case domain.OpBestsellers, domain.OpNewReleases:
		return "bestsellers"
	case domain.OpCategories:
		return "categories"
	default:
		return "unknown"
	}
}

// Quota derives a quota report from the local rate-limit budget for
// providers whose upstream does not expose one.
func (b *Base) Quota(ctx context.Context, op domain.Operation) *domain.QuotaInfo {
	info := &domain.QuotaInfo{Provider: b.key}
	if b.limiter == nil {
		return info
	}

	used, limit, reset := b.limiter.Usage(ctx, ratelimit.Scope(b.key, op))
	info.Used = int(used)
	info.Limit = limit
	info.Remaining = limit - int(used)
	if info.Remaining < 0 {
		info.Remaining = 0
	}
	info.ResetAt = time.Now().UTC().Add(reset)

	return info
}

// RequireCredentials validates that every named credential is present
// and non-empty, returning an auth failure naming the missing keys.
func RequireCredentials(creds map[string]string, required ...string) error {
	missing := []string{}
	for _, key := range required {
		if creds[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return domain.AuthError(fmt.Sprintf("missing credentials: %v", missing))
	}

	return nil
}
