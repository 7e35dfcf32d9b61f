package domain

import (
	"context"
	"sort"
	"strconv"
	"time"
)

// Operation identifies a provider capability. A provider is only
// selected for operations it declares.
type Operation string

const (
	OpSearch      Operation = "search"
	OpGetProduct  Operation = "product"
	OpGetMany     Operation = "products"
	OpVariations  Operation = "variations"
	OpOffers      Operation = "offers"
	OpReviews     Operation = "reviews"
	OpBestsellers Operation = "bestsellers"
	OpNewReleases Operation = "new_releases"
	OpCategories  Operation = "categories"
)

// RequestOptions carries the optional parameters accepted by provider
// operations. Zero values are omitted from cache keys and upstream
// requests.
type RequestOptions struct {
	Marketplace       string  `json:"marketplace,omitempty"`
	Category          string  `json:"category,omitempty"`
	Brand             string  `json:"brand,omitempty"`
	Condition         string  `json:"condition,omitempty"`
	Sort              string  `json:"sort,omitempty"`
	MinPrice          float64 `json:"min_price,omitempty"`
	MaxPrice          float64 `json:"max_price,omitempty"`
	MinRating         float64 `json:"min_rating,omitempty"`
	Page              int     `json:"page,omitempty"`
	PerPage           int     `json:"per_page,omitempty"`
	PrimeOnly         bool    `json:"prime_only,omitempty"`
	IncludeReviews    bool    `json:"include_reviews,omitempty"`
	IncludeOffers     bool    `json:"include_offers,omitempty"`
	IncludeVariations bool    `json:"include_variations,omitempty"`
}

// Params flattens the options into a string map for cache key
// generation and query building. Zero values are dropped.
func (o RequestOptions) Params() map[string]string {
	params := map[string]string{}

	put := func(k, v string) {
		if v != "" {
			params[k] = v
		}
	}
	put("marketplace", o.Marketplace)
	put("category", o.Category)
	put("brand", o.Brand)
	put("condition", o.Condition)
	put("sort", o.Sort)

	if o.MinPrice > 0 {
		params["min_price"] = strconv.FormatFloat(o.MinPrice, 'f', -1, 64)
	}
	if o.MaxPrice > 0 {
		params["max_price"] = strconv.FormatFloat(o.MaxPrice, 'f', -1, 64)
	}
	if o.MinRating > 0 {
		params["min_rating"] = strconv.FormatFloat(o.MinRating, 'f', -1, 64)
	}
	if o.Page > 0 {
		params["page"] = strconv.Itoa(o.Page)
	}
	if o.PerPage > 0 {
		params["per_page"] = strconv.Itoa(o.PerPage)
	}
	if o.PrimeOnly {
		params["prime_only"] = "1"
	}
	if o.IncludeReviews {
		params["include_reviews"] = "1"
	}
	if o.IncludeOffers {
		params["include_offers"] = "1"
	}
	if o.IncludeVariations {
		params["include_variations"] = "1"
	}

	return params
}

// BulkResult is the partial-failure outcome of a multi-product fetch:
// successes keyed by identifier plus the identifiers that failed.
type BulkResult struct {
	Products map[string]map[string]any `json:"products"`
	Failed   []string                  `json:"failed"`
	Credits  int                       `json:"credits_used"`
}

// NewBulkResult creates an empty bulk result.
func NewBulkResult() *BulkResult {
	return &BulkResult{
		Products: map[string]map[string]any{},
		Failed:   []string{},
	}
}

// Merge folds another bulk result into this one.
func (b *BulkResult) Merge(other *BulkResult) {
	if other == nil {
		return
	}
	for asin, p := range other.Products {
		b.Products[asin] = p
	}
	b.Failed = append(b.Failed, other.Failed...)
	b.Credits += other.Credits
}

// Provider is the capability interface every upstream integration
// implements. Operations return a typed *APIError on failure so the
// manager can decide retry-vs-fallback from the kind alone.
// Implementations: internal/infra/provider/paapi, internal/infra/provider/rainforest
type Provider interface {
	// Key returns the unique identifier for this provider.
	Key() string

	// Capabilities lists the operations this provider supports.
	Capabilities() []Operation

	// Supports reports whether the provider declares an operation.
	Supports(op Operation) bool

	// BulkLimit is the maximum identifiers per multi-product request.
	BulkLimit() int

	SearchProducts(ctx context.Context, keyword string, opts RequestOptions) (*Response, error)
	GetProduct(ctx context.Context, asin string, opts RequestOptions) (*Response, error)
	GetMultipleProducts(ctx context.Context, asins []string, opts RequestOptions) (*BulkResult, error)
	GetVariations(ctx context.Context, asin string, opts RequestOptions) (*Response, error)
	GetOffers(ctx context.Context, asin string, opts RequestOptions) (*Response, error)
	GetReviewsSummary(ctx context.Context, asin string, opts RequestOptions) (*Response, error)
	GetBestsellers(ctx context.Context, category string, opts RequestOptions) (*Response, error)
	GetNewReleases(ctx context.Context, category string, opts RequestOptions) (*Response, error)
	GetCategories(ctx context.Context, opts RequestOptions) (*Response, error)

	// TestConnection verifies the provider is reachable and authorized.
	TestConnection(ctx context.Context) ConnectionResult

	// QuotaInfo reports remaining upstream credits.
	QuotaInfo(ctx context.Context) (*QuotaInfo, error)

	// SupportedMarketplaces lists the marketplaces this provider serves.
	SupportedMarketplaces() []Marketplace

	// SetCredentials validates and installs credentials. Invalid
	// credentials return an Auth error without mutating stored state.
	SetCredentials(creds map[string]string) error

	// LastError returns the most recent classified failure, if any.
	LastError() *APIError

	// ClearCache drops this provider's cached responses; an empty key
	// clears everything under the provider's namespace.
	ClearCache(ctx context.Context, key string) error
}

// CacheEntry is the stored form of a cached value.
type CacheEntry struct {
	Key      string         `json:"key"`
	Data     any            `json:"data"`
	Created  time.Time      `json:"created"`
	Expires  time.Time      `json:"expires"`
	TTL      time.Duration  `json:"ttl"`
	Tags     []string       `json:"tags,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Valid reports whether the entry has not expired.
func (e *CacheEntry) Valid(now time.Time) bool {
	return e != nil && now.Before(e.Expires)
}

// CacheStats tracks cache effectiveness counters.
type CacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Writes  int64 `json:"writes"`
	Deletes int64 `json:"deletes"`
}

// HitRate returns the percentage of reads served from cache.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}

	return float64(s.Hits) / float64(total) * 100
}

// CacheStore is the durable cache backend with a persisted tag
// registry. Implementations: internal/infra/redis/store.go
type CacheStore interface {
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Set(ctx context.Context, key string, entry *CacheEntry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// ClearNamespace removes every entry under this store's prefix.
	ClearNamespace(ctx context.Context) error

	// Tag registry. Group invalidation without a full scan.
	AddToTag(ctx context.Context, tag string, key string) error
	KeysByTag(ctx context.Context, tag string) ([]string, error)
	RemoveFromTag(ctx context.Context, tag string, key string) error
	ClearTags(ctx context.Context) error

	// Statistics persistence (loaded at startup, flushed on a cadence).
	LoadStats(ctx context.Context) (*CacheStats, error)
	SaveStats(ctx context.Context, stats *CacheStats) error
}

// CounterStore backs the rate limiter with atomic windowed counters.
// Implementations: internal/infra/redis/store.go
type CounterStore interface {
	// Incr atomically increments the scope counter, starting a window
	// of the given duration on first increment. Returns the new count.
	Incr(ctx context.Context, scope string, window time.Duration) (int64, error)

	// Count returns the current counter and the time until the window
	// resets. A missing scope returns (0, 0, nil).
	Count(ctx context.Context, scope string) (int64, time.Duration, error)
}

// JobRepository persists queue jobs.
// Implementations: internal/infra/postgres/job_repository.go
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, id int64) (*Job, error)

	// FetchDue returns up to limit pending jobs whose scheduled_at has
	// passed, ordered by priority descending then scheduled_at ascending.
	FetchDue(ctx context.Context, limit int, now time.Time) ([]*Job, error)

	// MarkProcessing claims a job: status processing, attempts+1,
	// started_at stamped.
	MarkProcessing(ctx context.Context, id int64, now time.Time) error
	MarkCompleted(ctx context.Context, id int64, result map[string]any, now time.Time) error
	MarkFailed(ctx context.Context, id int64, errMsg string, now time.Time) error

	// Reschedule returns a job to pending with a future scheduled_at.
	Reschedule(ctx context.Context, id int64, at time.Time, errMsg string) error

	// ReclaimStale returns processing jobs claimed before the cutoff to
	// pending so a crashed worker's jobs are retried.
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)

	CancelJob(ctx context.Context, id int64) (bool, error)
	CancelBatch(ctx context.Context, batchID string) (int64, error)
	RetryFailed(ctx context.Context, batchID string) (int64, error)

	BatchCounts(ctx context.Context, batchID string) (*BatchStatus, error)
	BatchJobs(ctx context.Context, batchID string) ([]*Job, error)
	Stats(ctx context.Context) (*QueueStats, error)

	// DeleteTerminalBefore purges completed/failed/cancelled jobs whose
	// completion predates the cutoff.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RequestLog is one upstream API call record.
type RequestLog struct {
	ID              string        `json:"id"`
	Provider        string        `json:"provider"`
	Endpoint        string        `json:"endpoint"`
	Method          string        `json:"method"`
	Params          string        `json:"params"`
	ResponseCode    int           `json:"response_code"`
	ResponseMessage string        `json:"response_message"`
	CreditsUsed     int           `json:"credits_used"`
	ExecutionTime   time.Duration `json:"execution_time"`
	CreatedAt       time.Time     `json:"created_at"`
}

// RequestLogRepository records provider request/response pairs.
// Implementations: internal/infra/postgres/log_repository.go
type RequestLogRepository interface {
	// Start inserts the request half of a log entry.
	Start(ctx context.Context, log *RequestLog) error

	// Finish updates the entry with the response outcome.
	Finish(ctx context.Context, id string, code int, message string, credits int, elapsed time.Duration) error

	Recent(ctx context.Context, limit int) ([]*RequestLog, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// StatsRepository persists advisory provider usage statistics.
// Implementations: internal/infra/postgres/stats_repository.go
type StatsRepository interface {
	Load(ctx context.Context) (map[string]*ProviderStats, error)
	Save(ctx context.Context, stats *ProviderStats, capabilities []Operation) error
}

// OperationNames renders operations as strings for persistence.
func OperationNames(ops []Operation) []string {
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = string(op)
	}
	sort.Strings(names)

	return names
}
