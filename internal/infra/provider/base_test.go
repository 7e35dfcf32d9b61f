package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"product-data-service/internal/cache"
	"product-data-service/internal/domain"
	redisinfra "product-data-service/internal/infra/redis"
	"product-data-service/internal/ratelimit"
)

func newTestBase(t *testing.T, limiterCfg ratelimit.Config) *Base {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := redisinfra.NewStore(client, zap.NewNop(), "test")
	deps := Deps{
		Limiter:     ratelimit.New(store, limiterCfg, zap.NewNop()),
		Cache:       cache.New(store, cache.Config{Enabled: true, DefaultTTL: time.Hour}, zap.NewNop()),
		Logger:      zap.NewNop(),
		MaxAttempts: 2,
	}

	return NewBase("testprov",
		[]domain.Operation{domain.OpSearch, domain.OpGetProduct},
		10,
		[]domain.Marketplace{{Code: "US", Name: "United States"}},
		deps,
	)
}

func okResponse() *domain.Response {
	return domain.NewProductResponse(map[string]any{"asin": "A1"}, domain.Metadata{})
}

func TestBase_Capabilities(t *testing.T) {
	b := newTestBase(t, ratelimit.Config{})

	assert.Equal(t, "testprov", b.Key())
	assert.True(t, b.Supports(domain.OpSearch))
	assert.False(t, b.Supports(domain.OpReviews))
	assert.Equal(t, 10, b.BulkLimit())
	assert.Equal(t, "provider:testprov", b.Tag())
}

func TestBase_Do_CacheHitSkipsCall(t *testing.T) {
	b := newTestBase(t, ratelimit.Config{})
	ctx := context.Background()

	calls := 0
	req := Request{
		Op:       domain.OpGetProduct,
		CacheKey: "product_testprov_A1",
		Call: func(ctx context.Context) (*domain.Response, error) {
			calls++

			return okResponse(), nil
		},
	}

	first, err := b.Do(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Meta.CacheHit)
	assert.Equal(t, 1, calls)

	second, err := b.Do(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Meta.CacheHit)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "A1", second.Data["asin"])
}

func TestBase_Do_RateLimitBlocksWithoutCalling(t *testing.T) {
	b := newTestBase(t, ratelimit.Config{
		Rules: map[string]ratelimit.Rule{
			"testprov:product": {Limit: 1, Window: time.Minute},
		},
	})
	ctx := context.Background()

	calls := 0
	req := Request{
		Op: domain.OpGetProduct,
		Call: func(ctx context.Context) (*domain.Response, error) {
			calls++

			return okResponse(), nil
		},
	}

	_, err := b.Do(ctx, req)
	require.NoError(t, err)

	_, err = b.Do(ctx, req)
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindQuota, domain.ErrKind(err))
	assert.Equal(t, 1, calls)

	var apiErr *domain.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "testprov", apiErr.Provider)
	assert.Greater(t, apiErr.RetryAfter, time.Duration(0))
	assert.Equal(t, apiErr, b.LastError())
}

func TestBase_Do_RetriesTransientOnly(t *testing.T) {
	b := newTestBase(t, ratelimit.Config{})
	ctx := context.Background()

	calls := 0
	resp, err := b.Do(ctx, Request{
		Op: domain.OpSearch,
		Call: func(ctx context.Context) (*domain.Response, error) {
			calls++
			if calls == 1 {
				return nil, domain.NewAPIError(domain.ErrKindTransient, "upstream hiccup", 503)
			}

			return okResponse(), nil
		},
	})

	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 2, calls)
}

func TestBase_Do_AuthFailureNotRetried(t *testing.T) {
	b := newTestBase(t, ratelimit.Config{})
	ctx := context.Background()

	calls := 0
	_, err := b.Do(ctx, Request{
		Op: domain.OpSearch,
		Call: func(ctx context.Context) (*domain.Response, error) {
			calls++

			return nil, domain.AuthError("bad key")
		},
	})

	require.Error(t, err)
	assert.Equal(t, domain.ErrKindAuth, domain.ErrKind(err))
	assert.Equal(t, 1, calls)
}

func TestBase_Do_AttemptsBounded(t *testing.T) {
	b := newTestBase(t, ratelimit.Config{})
	ctx := context.Background()

	calls := 0
	_, err := b.Do(ctx, Request{
		Op: domain.OpSearch,
		Call: func(ctx context.Context) (*domain.Response, error) {
			calls++

			return nil, domain.NewAPIError(domain.ErrKindTransient, "still down", 503)
		},
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestBase_Do_UnclassifiedErrorBecomesTransient(t *testing.T) {
	b := newTestBase(t, ratelimit.Config{})

	calls := 0
	_, err := b.Do(context.Background(), Request{
		Op: domain.OpSearch,
		Call: func(ctx context.Context) (*domain.Response, error) {
			calls++

			return nil, errors.New("connection reset by peer")
		},
	})

	require.Error(t, err)
	var apiErr *domain.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, domain.ErrKindTransient, apiErr.Kind)
	assert.Equal(t, "testprov", apiErr.Provider)
}

func TestBase_Do_FailedCallNotCached(t *testing.T) {
	b := newTestBase(t, ratelimit.Config{})
	ctx := context.Background()

	_, err := b.Do(ctx, Request{
		Op:       domain.OpGetProduct,
		CacheKey: "product_testprov_A1",
		Call: func(ctx context.Context) (*domain.Response, error) {
			return nil, domain.AuthError("nope")
		},
	})
	require.Error(t, err)

	assert.Nil(t, b.CachedResponse(ctx, "product_testprov_A1"))
}

func TestBase_ClearCache(t *testing.T) {
	b := newTestBase(t, ratelimit.Config{})
	ctx := context.Background()

	call := func(ctx context.Context) (*domain.Response, error) { return okResponse(), nil }
	_, err := b.Do(ctx, Request{Op: domain.OpGetProduct, CacheKey: "product_testprov_A1", Call: call})
	require.NoError(t, err)
	_, err = b.Do(ctx, Request{Op: domain.OpGetProduct, CacheKey: "product_testprov_A2", Call: call})
	require.NoError(t, err)

	// Single-key clear leaves the other entry.
	require.NoError(t, b.ClearCache(ctx, "product_testprov_A1"))
	assert.Nil(t, b.CachedResponse(ctx, "product_testprov_A1"))
	assert.NotNil(t, b.CachedResponse(ctx, "product_testprov_A2"))

	// Empty key clears everything under the provider tag.
	require.NoError(t, b.ClearCache(ctx, ""))
	assert.Nil(t, b.CachedResponse(ctx, "product_testprov_A2"))
}

func TestBase_Unsupported(t *testing.T) {
	b := newTestBase(t, ratelimit.Config{})

	err := b.Unsupported(domain.OpReviews)

	require.Error(t, err)
	var apiErr *domain.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, domain.ErrKindMalformed, apiErr.Kind)
	assert.Equal(t, 501, apiErr.Code)
	assert.Equal(t, apiErr, b.LastError())
}

func TestBase_Quota(t *testing.T) {
	b := newTestBase(t, ratelimit.Config{
		Rules: map[string]ratelimit.Rule{
			"testprov:search": {Limit: 5, Window: time.Minute},
		},
	})
	ctx := context.Background()

	_, err := b.Do(ctx, Request{
		Op:   domain.OpSearch,
		Call: func(ctx context.Context) (*domain.Response, error) { return okResponse(), nil },
	})
	require.NoError(t, err)

	info := b.Quota(ctx, domain.OpSearch)
	assert.Equal(t, "testprov", info.Provider)
	assert.Equal(t, 1, info.Used)
	assert.Equal(t, 5, info.Limit)
	assert.Equal(t, 4, info.Remaining)
	assert.False(t, info.ResetAt.IsZero())
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, time.Second, retryDelay(1))
	assert.Equal(t, 2*time.Second, retryDelay(2))
	assert.Equal(t, 16*time.Second, retryDelay(5))
	assert.Equal(t, 30*time.Second, retryDelay(6))
	assert.Equal(t, 30*time.Second, retryDelay(20))
}

func TestCacheType(t *testing.T) {
	assert.Equal(t, "search", CacheType(domain.OpSearch))
	assert.Equal(t, "product", CacheType(domain.OpGetProduct))
	assert.Equal(t, "product", CacheType(domain.OpGetMany))
	assert.Equal(t, "bestsellers", CacheType(domain.OpNewReleases))
	assert.Equal(t, "unknown", CacheType(domain.Operation("nope")))
}

func TestRequireCredentials(t *testing.T) {
	err := RequireCredentials(map[string]string{"api_key": "abc"}, "api_key")
	assert.NoError(t, err)

	err = RequireCredentials(map[string]string{"api_key": ""}, "api_key", "secret")
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindAuth, domain.ErrKind(err))
	assert.Contains(t, err.Error(), "api_key")
	assert.Contains(t, err.Error(), "secret")
}
