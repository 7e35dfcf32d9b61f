package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"product-data-service/internal/domain"
)

// fakeProvider scripts per-operation outcomes for chain tests.
type fakeProvider struct {
	key       string
	ops       []domain.Operation
	bulkLimit int

	searchErr  error
	productErr error
	bulkErr    error
	bulkFailed []string

	mu    sync.Mutex
	calls []string
	bulks [][]string
}

func newFakeProvider(key string, ops ...domain.Operation) *fakeProvider {
	if len(ops) == 0 {
		ops = []domain.Operation{domain.OpSearch, domain.OpGetProduct, domain.OpGetMany}
	}

	return &fakeProvider{key: key, ops: ops, bulkLimit: 10}
}

func (f *fakeProvider) recordCall(op string) {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	f.mu.Unlock()
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

func (f *fakeProvider) Key() string                      { return f.key }
func (f *fakeProvider) Capabilities() []domain.Operation { return f.ops }
func (f *fakeProvider) BulkLimit() int                   { return f.bulkLimit }

func (f *fakeProvider) Supports(op domain.Operation) bool {
	for _, o := range f.ops {
		if o == op {
			return true
		}
	}

	return false
}

func (f *fakeProvider) SearchProducts(ctx context.Context, keyword string, opts domain.RequestOptions) (*domain.Response, error) {
	f.recordCall("search")
	if f.searchErr != nil {
		return nil, f.searchErr
	}

	resp := domain.NewSearchResponse([]map[string]any{{"asin": "A1"}}, domain.Metadata{Provider: f.key})

	return resp, nil
}

func (f *fakeProvider) GetProduct(ctx context.Context, asin string, opts domain.RequestOptions) (*domain.Response, error) {
	f.recordCall("product")
	if f.productErr != nil {
		return nil, f.productErr
	}

	return domain.NewProductResponse(map[string]any{"asin": asin}, domain.Metadata{Provider: f.key}), nil
}

func (f *fakeProvider) GetMultipleProducts(ctx context.Context, asins []string, opts domain.RequestOptions) (*domain.BulkResult, error) {
	f.mu.Lock()
	f.bulks = append(f.bulks, append([]string{}, asins...))
	f.mu.Unlock()

	if f.bulkErr != nil {
		return nil, f.bulkErr
	}

	result := domain.NewBulkResult()
	skip := map[string]bool{}
	for _, asin := range f.bulkFailed {
		skip[asin] = true
	}
	for _, asin := range asins {
		if skip[asin] {
			result.Failed = append(result.Failed, asin)

			continue
		}
		result.Products[asin] = map[string]any{"asin": asin, "provider": f.key}
	}

	return result, nil
}

func (f *fakeProvider) GetVariations(ctx context.Context, asin string, opts domain.RequestOptions) (*domain.Response, error) {
	return nil, domain.NewAPIError(domain.ErrKindMalformed, "unsupported", 501)
}

func (f *fakeProvider) GetOffers(ctx context.Context, asin string, opts domain.RequestOptions) (*domain.Response, error) {
	return nil, domain.NewAPIError(domain.ErrKindMalformed, "unsupported", 501)
}

func (f *fakeProvider) GetReviewsSummary(ctx context.Context, asin string, opts domain.RequestOptions) (*domain.Response, error) {
	return nil, domain.NewAPIError(domain.ErrKindMalformed, "unsupported", 501)
}

func (f *fakeProvider) GetBestsellers(ctx context.Context, category string, opts domain.RequestOptions) (*domain.Response, error) {
	return nil, domain.NewAPIError(domain.ErrKindMalformed, "unsupported", 501)
}

func (f *fakeProvider) GetNewReleases(ctx context.Context, category string, opts domain.RequestOptions) (*domain.Response, error) {
	return nil, domain.NewAPIError(domain.ErrKindMalformed, "unsupported", 501)
}

func (f *fakeProvider) GetCategories(ctx context.Context, opts domain.RequestOptions) (*domain.Response, error) {
	return nil, domain.NewAPIError(domain.ErrKindMalformed, "unsupported", 501)
}

func (f *fakeProvider) TestConnection(ctx context.Context) domain.ConnectionResult {
	return domain.ConnectionResult{Provider: f.key, Success: true}
}

func (f *fakeProvider) QuotaInfo(ctx context.Context) (*domain.QuotaInfo, error) {
	return &domain.QuotaInfo{Provider: f.key, Limit: 100, Remaining: 100}, nil
}

func (f *fakeProvider) SupportedMarketplaces() []domain.Marketplace {
	return []domain.Marketplace{{Code: "US", Name: "United States"}}
}

func (f *fakeProvider) SetCredentials(creds map[string]string) error { return nil }
func (f *fakeProvider) LastError() *domain.APIError                  { return nil }
func (f *fakeProvider) ClearCache(ctx context.Context, key string) error {
	return nil
}

// fakeStatsRepo records saves for flush-cadence assertions.
type fakeStatsRepo struct {
	mu     sync.Mutex
	saves  []domain.ProviderStats
	loaded map[string]*domain.ProviderStats
}

func (r *fakeStatsRepo) Load(ctx context.Context) (map[string]*domain.ProviderStats, error) {
	return r.loaded, nil
}

func (r *fakeStatsRepo) Save(ctx context.Context, stats *domain.ProviderStats, capabilities []domain.Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, *stats)

	return nil
}

func (r *fakeStatsRepo) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.saves)
}

func newTestManager(cfg ManagerConfig, providers ...*fakeProvider) *Manager {
	m := NewManager(cfg, nil, zap.NewNop())
	for _, p := range providers {
		m.Register(p)
	}

	return m
}

func TestManager_PriorityPolicy(t *testing.T) {
	a := newFakeProvider("a")
	b := newFakeProvider("b")
	m := newTestManager(ManagerConfig{Policy: PolicyPriority, Priority: []string{"b", "a"}}, a, b)

	resp := m.SearchProducts(context.Background(), "laptop", domain.RequestOptions{})

	require.NotNil(t, resp)
	assert.Equal(t, "b", resp.Meta.Provider)
	assert.Equal(t, 0, a.callCount())
}

func TestManager_PriorityPolicy_UnlistedKeepRegistrationOrder(t *testing.T) {
	a := newFakeProvider("a")
	b := newFakeProvider("b")
	c := newFakeProvider("c")
	m := newTestManager(ManagerConfig{Policy: PolicyPriority, Priority: []string{"c"}}, a, b, c)

	resp := m.SearchProducts(context.Background(), "laptop", domain.RequestOptions{})

	require.NotNil(t, resp)
	assert.Equal(t, "c", resp.Meta.Provider)

	// With c failing, the unlisted providers answer in registration order.
	c.searchErr = domain.NewAPIError(domain.ErrKindTransient, "down", 503)
	resp = m.SearchProducts(context.Background(), "laptop", domain.RequestOptions{})
	require.NotNil(t, resp)
	assert.Equal(t, "a", resp.Meta.Provider)
}

func TestManager_RoundRobinRotates(t *testing.T) {
	a := newFakeProvider("a")
	b := newFakeProvider("b")
	m := newTestManager(ManagerConfig{Policy: PolicyRoundRobin}, a, b)
	ctx := context.Background()

	first := m.SearchProducts(ctx, "q", domain.RequestOptions{})
	second := m.SearchProducts(ctx, "q", domain.RequestOptions{})
	third := m.SearchProducts(ctx, "q", domain.RequestOptions{})

	require.NotNil(t, first)
	require.NotNil(t, second)
	require.NotNil(t, third)
	assert.Equal(t, "a", first.Meta.Provider)
	assert.Equal(t, "b", second.Meta.Provider)
	assert.Equal(t, "a", third.Meta.Provider)
}

func TestManager_PolicyFromConfigValue(t *testing.T) {
	// Policies arrive from configuration as plain strings.
	configured := "round_robin"

	a := newFakeProvider("a")
	b := newFakeProvider("b")
	m := newTestManager(ManagerConfig{Policy: Policy(configured)}, a, b)
	ctx := context.Background()

	first := m.SearchProducts(ctx, "q", domain.RequestOptions{})
	second := m.SearchProducts(ctx, "q", domain.RequestOptions{})

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, "a", first.Meta.Provider)
	assert.Equal(t, "b", second.Meta.Provider)
}

func TestManager_LeastUsedPrefersIdleProvider(t *testing.T) {
	a := newFakeProvider("a")
	b := newFakeProvider("b")
	m := newTestManager(ManagerConfig{Policy: PolicyLeastUsed}, a, b)
	ctx := context.Background()

	// First call lands on a (equal counters keep registration order),
	// pushing its usage ahead of b.
	first := m.SearchProducts(ctx, "q", domain.RequestOptions{})
	require.NotNil(t, first)
	assert.Equal(t, "a", first.Meta.Provider)

	second := m.SearchProducts(ctx, "q", domain.RequestOptions{})
	require.NotNil(t, second)
	assert.Equal(t, "b", second.Meta.Provider)
}

func TestManager_RandomPolicyStillAnswers(t *testing.T) {
	a := newFakeProvider("a")
	b := newFakeProvider("b")
	m := newTestManager(ManagerConfig{Policy: PolicyRandom}, a, b)

	for i := 0; i < 5; i++ {
		resp := m.SearchProducts(context.Background(), "q", domain.RequestOptions{})
		require.NotNil(t, resp)
		assert.Contains(t, []string{"a", "b"}, resp.Meta.Provider)
	}
}

func TestManager_FallbackOnFailure(t *testing.T) {
	a := newFakeProvider("a")
	a.searchErr = domain.NewAPIError(domain.ErrKindTransient, "down", 503)
	b := newFakeProvider("b")
	m := newTestManager(ManagerConfig{}, a, b)

	resp := m.SearchProducts(context.Background(), "q", domain.RequestOptions{})

	require.NotNil(t, resp)
	assert.Equal(t, "b", resp.Meta.Provider)
	assert.Equal(t, 1, a.callCount())
	assert.Equal(t, 1, b.callCount())
}

func TestManager_ExhaustionReturnsNil(t *testing.T) {
	a := newFakeProvider("a")
	a.searchErr = domain.NewAPIError(domain.ErrKindQuota, "over budget", 429)
	b := newFakeProvider("b")
	b.searchErr = domain.NewAPIError(domain.ErrKindTransient, "down", 503)
	m := newTestManager(ManagerConfig{}, a, b)

	assert.Nil(t, m.SearchProducts(context.Background(), "q", domain.RequestOptions{}))
	assert.Equal(t, 1, a.callCount())
	assert.Equal(t, 1, b.callCount())
}

func TestManager_NoProviderSupportsOperation(t *testing.T) {
	a := newFakeProvider("a", domain.OpSearch)
	m := newTestManager(ManagerConfig{}, a)

	assert.Nil(t, m.GetProduct(context.Background(), "B000000000", domain.RequestOptions{}))
	assert.Equal(t, 0, a.callCount())
}

func TestManager_UnsupportedProviderSkipped(t *testing.T) {
	searchOnly := newFakeProvider("searchonly", domain.OpSearch)
	full := newFakeProvider("full")
	m := newTestManager(ManagerConfig{}, searchOnly, full)

	resp := m.GetProduct(context.Background(), "B000000000", domain.RequestOptions{})

	require.NotNil(t, resp)
	assert.Equal(t, "full", resp.Meta.Provider)
}

func TestManager_CancelledContextStopsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	a := newFakeProvider("a")
	a.searchErr = domain.NewAPIError(domain.ErrKindTransient, "down", 503)
	b := newFakeProvider("b")
	m := newTestManager(ManagerConfig{}, a, b)

	cancel()

	assert.Nil(t, m.SearchProducts(ctx, "q", domain.RequestOptions{}))
	assert.Equal(t, 1, a.callCount())
	assert.Equal(t, 0, b.callCount(), "chain must stop once the context is done")
}

func TestManager_GetMultipleProducts_ChunksByBulkLimit(t *testing.T) {
	a := newFakeProvider("a")
	a.bulkLimit = 2
	m := newTestManager(ManagerConfig{}, a)

	result := m.GetMultipleProducts(context.Background(),
		[]string{"A1", "A2", "A3", "A4", "A5"}, domain.RequestOptions{})

	require.NotNil(t, result)
	assert.Len(t, result.Products, 5)
	assert.Empty(t, result.Failed)

	a.mu.Lock()
	defer a.mu.Unlock()
	require.Len(t, a.bulks, 3)
	assert.Equal(t, []string{"A1", "A2"}, a.bulks[0])
	assert.Equal(t, []string{"A3", "A4"}, a.bulks[1])
	assert.Equal(t, []string{"A5"}, a.bulks[2])
}

func TestManager_GetMultipleProducts_FailoverCarriesRemaining(t *testing.T) {
	a := newFakeProvider("a")
	a.bulkErr = domain.NewAPIError(domain.ErrKindQuota, "over budget", 429)
	b := newFakeProvider("b")
	m := newTestManager(ManagerConfig{}, a, b)

	result := m.GetMultipleProducts(context.Background(),
		[]string{"A1", "A2", "A3"}, domain.RequestOptions{})

	require.NotNil(t, result)
	assert.Len(t, result.Products, 3)
	assert.Empty(t, result.Failed)
	assert.Equal(t, "b", result.Products["A1"]["provider"])
}

func TestManager_GetMultipleProducts_PerASINFailuresRetryOnNextProvider(t *testing.T) {
	a := newFakeProvider("a")
	a.bulkFailed = []string{"A2"}
	b := newFakeProvider("b")
	m := newTestManager(ManagerConfig{}, a, b)

	result := m.GetMultipleProducts(context.Background(),
		[]string{"A1", "A2"}, domain.RequestOptions{})

	require.NotNil(t, result)
	assert.Len(t, result.Products, 2)
	assert.Empty(t, result.Failed)
	assert.Equal(t, "b", result.Products["A2"]["provider"])
}

func TestManager_GetMultipleProducts_NothingProducedReturnsNil(t *testing.T) {
	a := newFakeProvider("a")
	a.bulkErr = domain.NewAPIError(domain.ErrKindTransient, "down", 503)
	m := newTestManager(ManagerConfig{}, a)

	assert.Nil(t, m.GetMultipleProducts(context.Background(), []string{"A1"}, domain.RequestOptions{}))
	assert.Nil(t, m.GetMultipleProducts(context.Background(), nil, domain.RequestOptions{}))
}

func TestManager_StatsTrackOutcomes(t *testing.T) {
	a := newFakeProvider("a")
	b := newFakeProvider("b")
	b.searchErr = domain.NewAPIError(domain.ErrKindTransient, "down", 503)
	m := newTestManager(ManagerConfig{Policy: PolicyPriority, Priority: []string{"b", "a"}}, a, b)

	m.SearchProducts(context.Background(), "q", domain.RequestOptions{})

	stats := m.Stats()
	assert.Equal(t, int64(1), stats["b"].TotalRequests)
	assert.Equal(t, int64(1), stats["b"].Failures)
	assert.Equal(t, int64(1), stats["a"].Successes)
	assert.False(t, stats["a"].LastUsed.IsZero())
}

func TestManager_StatsFlushCadence(t *testing.T) {
	repo := &fakeStatsRepo{}
	a := newFakeProvider("a")
	m := NewManager(ManagerConfig{StatsFlushEvery: 3}, repo, zap.NewNop())
	m.Register(a)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		m.SearchProducts(ctx, "q", domain.RequestOptions{})
	}

	// Flushed after the 3rd and 6th update only.
	assert.Equal(t, 2, repo.saveCount())
}

func TestManager_FlushStatsPersistsEverything(t *testing.T) {
	repo := &fakeStatsRepo{}
	m := NewManager(ManagerConfig{}, repo, zap.NewNop())
	m.Register(newFakeProvider("a"))
	m.Register(newFakeProvider("b"))

	m.SearchProducts(context.Background(), "q", domain.RequestOptions{})
	m.FlushStats(context.Background())

	assert.Equal(t, 2, repo.saveCount())
}

func TestManager_LoadStatsRestoresKnownProviders(t *testing.T) {
	repo := &fakeStatsRepo{loaded: map[string]*domain.ProviderStats{
		"a":       {Provider: "a", TotalRequests: 42, Successes: 40},
		"retired": {Provider: "retired", TotalRequests: 7},
	}}
	m := NewManager(ManagerConfig{}, repo, zap.NewNop())
	m.Register(newFakeProvider("a"))

	m.LoadStats(context.Background())

	stats := m.Stats()
	assert.Equal(t, int64(42), stats["a"].TotalRequests)
	_, ok := stats["retired"]
	assert.False(t, ok, "stats for unregistered providers are dropped")
}

func TestManager_RegisterTwiceKeepsPositionAndStats(t *testing.T) {
	a := newFakeProvider("a")
	b := newFakeProvider("b")
	m := newTestManager(ManagerConfig{}, a, b)

	m.SearchProducts(context.Background(), "q", domain.RequestOptions{})

	replacement := newFakeProvider("a")
	m.Register(replacement)

	assert.Equal(t, []string{"a", "b"}, m.ProviderKeys())
	assert.Equal(t, int64(1), m.Stats()["a"].TotalRequests)

	resp := m.SearchProducts(context.Background(), "q", domain.RequestOptions{})
	require.NotNil(t, resp)
	assert.Equal(t, 1, replacement.callCount())
}

func TestManager_TestConnection(t *testing.T) {
	m := newTestManager(ManagerConfig{}, newFakeProvider("a"))

	result, ok := m.TestConnection(context.Background(), "a")
	require.True(t, ok)
	assert.True(t, result.Success)

	_, ok = m.TestConnection(context.Background(), "nope")
	assert.False(t, ok)
}

func TestManager_QuotaInfo_UnknownProvider(t *testing.T) {
	m := newTestManager(ManagerConfig{}, newFakeProvider("a"))

	info, err := m.QuotaInfo(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a", info.Provider)

	_, err = m.QuotaInfo(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindNotFound, domain.ErrKind(err))
}

func TestManager_StatsAverageResponseTime(t *testing.T) {
	stats := domain.ProviderStats{
		Successes:         4,
		TotalResponseTime: 2 * time.Second,
	}

	assert.Equal(t, 500*time.Millisecond, stats.AvgResponseTime())
}
