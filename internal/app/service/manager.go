package service

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"product-data-service/internal/domain"
)

// Policy selects how the manager orders providers for a request.
type Policy string

const (
	PolicyPriority   Policy = "priority"
	PolicyRoundRobin Policy = "round_robin"
	PolicyLeastUsed  Policy = "least_used"
	PolicyRandom     Policy = "random"
)

// defaultStatsFlushEvery is how many stat updates accumulate before a
// provider's counters are persisted.
const defaultStatsFlushEvery = 10

// ManagerConfig holds orchestration settings.
type ManagerConfig struct {
	Policy Policy

	// Priority orders provider keys for the priority policy and for
	// fallback tie-breaking. Unlisted providers keep registration order
	// after the listed ones.
	Priority []string

	// StatsFlushEvery overrides the persistence cadence. Zero keeps the
	// default.
	StatsFlushEvery int
}

// Manager routes operations to providers. It orders the candidates by
// the configured policy, walks the chain until one succeeds and tracks
// advisory usage statistics. Exhausting every provider yields nil, not
// an error: the caller decides how to surface total failure.
type Manager struct {
	cfg       ManagerConfig
	statsRepo domain.StatsRepository
	logger    *zap.Logger

	mu        sync.Mutex
	providers map[string]domain.Provider
	order     []string
	stats     map[string]*domain.ProviderStats
	updates   map[string]int
	rrNext    int
	rnd       *rand.Rand
}

// NewManager creates a provider orchestration manager. The stats
// repository may be nil; statistics then stay in memory only.
func NewManager(cfg ManagerConfig, statsRepo domain.StatsRepository, logger *zap.Logger) *Manager {
	if cfg.Policy == "" {
		cfg.Policy = PolicyPriority
	}
	if cfg.StatsFlushEvery <= 0 {
		cfg.StatsFlushEvery = defaultStatsFlushEvery
	}

	return &Manager{
		cfg:       cfg,
		statsRepo: statsRepo,
		logger:    logger,
		providers: map[string]domain.Provider{},
		stats:     map[string]*domain.ProviderStats{},
		updates:   map[string]int{},
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Register adds a provider. Registering the same key twice replaces
// the previous instance but keeps its position and statistics.
func (m *Manager) Register(p domain.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := p.Key()
	if _, ok := m.providers[key]; !ok {
		m.order = append(m.order, key)
	}
	m.providers[key] = p
	if _, ok := m.stats[key]; !ok {
		m.stats[key] = &domain.ProviderStats{Provider: key}
	}
}

// Provider returns a registered provider by key.
func (m *Manager) Provider(key string) (domain.Provider, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.providers[key]

	return p, ok
}

// ProviderKeys lists registered providers in registration order.
func (m *Manager) ProviderKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string{}, m.order...)
}

// LoadStats restores persisted provider statistics. Call once at
// startup, after every provider is registered.
func (m *Manager) LoadStats(ctx context.Context) {
	if m.statsRepo == nil {
		return
	}

	loaded, err := m.statsRepo.Load(ctx)
	if err != nil {
		m.logger.Warn("provider stats load failed", zap.Error(err))

		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, stats := range loaded {
		if _, ok := m.providers[key]; ok {
			m.stats[key] = stats
		}
	}
}

// FlushStats persists every provider's counters. Call on shutdown.
func (m *Manager) FlushStats(ctx context.Context) {
	if m.statsRepo == nil {
		return
	}

	m.mu.Lock()
	snapshots := make([]domain.ProviderStats, 0, len(m.stats))
	caps := map[string][]domain.Operation{}
	for key, stats := range m.stats {
		snapshots = append(snapshots, *stats)
		if p, ok := m.providers[key]; ok {
			caps[key] = p.Capabilities()
		}
	}
	m.mu.Unlock()

	for i := range snapshots {
		if err := m.statsRepo.Save(ctx, &snapshots[i], caps[snapshots[i].Provider]); err != nil {
			m.logger.Warn("provider stats flush failed",
				zap.String("provider", snapshots[i].Provider),
				zap.Error(err),
			)
		}
	}
}

// Stats returns a snapshot of every provider's counters.
func (m *Manager) Stats() map[string]domain.ProviderStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]domain.ProviderStats, len(m.stats))
	for key, stats := range m.stats {
		out[key] = *stats
	}

	return out
}

// SearchProducts runs a keyword search through the provider chain.
func (m *Manager) SearchProducts(ctx context.Context, keyword string, opts domain.RequestOptions) *domain.Response {
	return m.execute(ctx, domain.OpSearch, func(p domain.Provider) (*domain.Response, error) {
		return p.SearchProducts(ctx, keyword, opts)
	})
}

// GetProduct fetches one product through the provider chain.
func (m *Manager) GetProduct(ctx context.Context, asin string, opts domain.RequestOptions) *domain.Response {
	return m.execute(ctx, domain.OpGetProduct, func(p domain.Provider) (*domain.Response, error) {
		return p.GetProduct(ctx, asin, opts)
	})
}

// GetVariations fetches variation children through the provider chain.
func (m *Manager) GetVariations(ctx context.Context, asin string, opts domain.RequestOptions) *domain.Response {
	return m.execute(ctx, domain.OpVariations, func(p domain.Provider) (*domain.Response, error) {
		return p.GetVariations(ctx, asin, opts)
	})
}

// GetOffers fetches offer listings through the provider chain.
func (m *Manager) GetOffers(ctx context.Context, asin string, opts domain.RequestOptions) *domain.Response {
	return m.execute(ctx, domain.OpOffers, func(p domain.Provider) (*domain.Response, error) {
		return p.GetOffers(ctx, asin, opts)
	})
}

// GetReviewsSummary fetches the review summary through the chain.
func (m *Manager) GetReviewsSummary(ctx context.Context, asin string, opts domain.RequestOptions) *domain.Response {
	return m.execute(ctx, domain.OpReviews, func(p domain.Provider) (*domain.Response, error) {
		return p.GetReviewsSummary(ctx, asin, opts)
	})
}

// GetBestsellers fetches a category's bestsellers through the chain.
func (m *Manager) GetBestsellers(ctx context.Context, category string, opts domain.RequestOptions) *domain.Response {
	return m.execute(ctx, domain.OpBestsellers, func(p domain.Provider) (*domain.Response, error) {
		return p.GetBestsellers(ctx, category, opts)
	})
}

// GetNewReleases fetches a category's newest releases through the chain.
func (m *Manager) GetNewReleases(ctx context.Context, category string, opts domain.RequestOptions) *domain.Response {
	return m.execute(ctx, domain.OpNewReleases, func(p domain.Provider) (*domain.Response, error) {
		return p.GetNewReleases(ctx, category, opts)
	})
}

// GetCategories fetches category metadata through the chain.
func (m *Manager) GetCategories(ctx context.Context, opts domain.RequestOptions) *domain.Response {
	return m.execute(ctx, domain.OpCategories, func(p domain.Provider) (*domain.Response, error) {
		return p.GetCategories(ctx, opts)
	})
}

// GetMultipleProducts fetches many products, chunking by each
// provider's bulk limit. A provider failure hands its remaining
// identifiers to the next provider in the chain. Returns nil only
// when every provider failed without producing anything.
func (m *Manager) GetMultipleProducts(ctx context.Context, asins []string, opts domain.RequestOptions) *domain.BulkResult {
	candidates := m.candidates(domain.OpGetMany)
	if len(candidates) == 0 || len(asins) == 0 {
		return nil
	}

	result := domain.NewBulkResult()
	remaining := append([]string{}, asins...)
	produced := false

	for _, p := range candidates {
		limit := p.BulkLimit()
		if limit < 1 {
			limit = 1
		}

		failed := []string{}
		for start := 0; start < len(remaining); start += limit {
			end := start + limit
			if end > len(remaining) {
				end = len(remaining)
			}
			chunk := remaining[start:end]

			began := time.Now()
			chunkResult, err := p.GetMultipleProducts(ctx, chunk, opts)
			m.record(p.Key(), time.Since(began), err)

			if err != nil {
				m.logger.Warn("bulk chunk failed, deferring to next provider",
					zap.String("provider", p.Key()),
					zap.Int("chunk_size", len(chunk)),
					zap.Error(err),
				)
				failed = append(failed, chunk...)

				continue
			}

			produced = true
			result.Merge(chunkResult)
			failed = append(failed, chunkResult.Failed...)
			result.Failed = nil
		}

		remaining = failed
		if len(remaining) == 0 {
			break
		}
	}

	if !produced {
		return nil
	}
	result.Failed = remaining

	return result
}

// TestConnection verifies a single provider.
func (m *Manager) TestConnection(ctx context.Context, key string) (domain.ConnectionResult, bool) {
	p, ok := m.Provider(key)
	if !ok {
		return domain.ConnectionResult{}, false
	}

	return p.TestConnection(ctx), true
}

// TestConnections verifies every registered provider.
func (m *Manager) TestConnections(ctx context.Context) []domain.ConnectionResult {
	results := []domain.ConnectionResult{}
	for _, key := range m.ProviderKeys() {
		if p, ok := m.Provider(key); ok {
			results = append(results, p.TestConnection(ctx))
		}
	}

	return results
}

// QuotaInfo reports one provider's remaining budget.
func (m *Manager) QuotaInfo(ctx context.Context, key string) (*domain.QuotaInfo, error) {
	p, ok := m.Provider(key)
	if !ok {
		return nil, domain.NewAPIError(domain.ErrKindNotFound, "unknown provider "+key, 404)
	}

	return p.QuotaInfo(ctx)
}

// execute walks the provider chain for an operation until one
// succeeds. Every failure is recorded and logged; exhausting the chain
// returns nil.
func (m *Manager) execute(ctx context.Context, op domain.Operation, call func(domain.Provider) (*domain.Response, error)) *domain.Response {
	candidates := m.candidates(op)
	if len(candidates) == 0 {
		m.logger.Warn("no provider supports operation", zap.String("operation", string(op)))

		return nil
	}

	for _, p := range candidates {
		start := time.Now()
		resp, err := call(p)
		m.record(p.Key(), time.Since(start), err)

		if err == nil {
			return resp
		}

		m.logger.Warn("provider failed, trying next",
			zap.String("provider", p.Key()),
			zap.String("operation", string(op)),
			zap.String("kind", string(domain.ErrKind(err))),
			zap.Error(err),
		)

		if ctx.Err() != nil {
			return nil
		}
	}

	m.logger.Error("all providers exhausted",
		zap.String("operation", string(op)),
		zap.Int("tried", len(candidates)),
	)

	return nil
}

// candidates orders the providers supporting an operation by the
// configured policy. The order doubles as the fallback chain.
func (m *Manager) candidates(op domain.Operation) []domain.Provider {
	m.mu.Lock()
	defer m.mu.Unlock()

	supporting := []string{}
	for _, key := range m.order {
		if m.providers[key].Supports(op) {
			supporting = append(supporting, key)
		}
	}
	if len(supporting) == 0 {
		return nil
	}

	switch m.cfg.Policy {
	case PolicyPriority:
		supporting = m.orderByPriority(supporting)
	case PolicyRoundRobin:
		offset := m.rrNext % len(supporting)
		m.rrNext++
		supporting = append(supporting[offset:], supporting[:offset]...)
	case PolicyLeastUsed:
		sort.SliceStable(supporting, func(i, j int) bool {
			return m.stats[supporting[i]].TotalRequests < m.stats[supporting[j]].TotalRequests
		})
	case PolicyRandom:
		m.rnd.Shuffle(len(supporting), func(i, j int) {
			supporting[i], supporting[j] = supporting[j], supporting[i]
		})
	}

	out := make([]domain.Provider, len(supporting))
	for i, key := range supporting {
		out[i] = m.providers[key]
	}

	return out
}

// orderByPriority sorts keys by their position in the configured
// priority list, keeping unlisted keys last in registration order.
func (m *Manager) orderByPriority(keys []string) []string {
	rank := map[string]int{}
	for i, key := range m.cfg.Priority {
		rank[key] = i
	}

	sort.SliceStable(keys, func(i, j int) bool {
		ri, iok := rank[keys[i]]
		rj, jok := rank[keys[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		default:
			return false
		}
	})

	return keys
}

// record updates a provider's advisory counters, persisting them on
// the configured cadence.
func (m *Manager) record(key string, elapsed time.Duration, callErr error) {
	m.mu.Lock()

	stats, ok := m.stats[key]
	if !ok {
		stats = &domain.ProviderStats{Provider: key}
		m.stats[key] = stats
	}
	stats.TotalRequests++
	stats.LastUsed = time.Now().UTC()
	if callErr != nil {
		stats.Failures++
	} else {
		stats.Successes++
		stats.TotalResponseTime += elapsed
	}

	m.updates[key]++
	flush := m.updates[key]%m.cfg.StatsFlushEvery == 0
	snapshot := *stats
	var caps []domain.Operation
	if p, ok := m.providers[key]; ok {
		caps = p.Capabilities()
	}

	m.mu.Unlock()

	if flush && m.statsRepo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.statsRepo.Save(ctx, &snapshot, caps); err != nil {
			m.logger.Warn("provider stats flush failed", zap.String("provider", key), zap.Error(err))
		}
	}
}
