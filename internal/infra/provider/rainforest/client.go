// Package rainforest implements the Rainforest API provider.
package rainforest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"product-data-service/internal/cache"
	"product-data-service/internal/domain"
	"product-data-service/internal/infra/provider"
)

// Key is the provider identifier.
const Key = "rainforest"

// DefaultBulkLimit bounds one multi-product request. The upstream has
// no batch endpoint, so bulk fetches fan out into single requests.
const DefaultBulkLimit = 50

// requestPath is the single endpoint all request types share.
const requestPath = "/request"

// amazonDomains maps a marketplace code to the amazon_domain request
// parameter.
var amazonDomains = map[string]string{
	"US": "amazon.com",
	"UK": "amazon.co.uk",
	"DE": "amazon.de",
	"FR": "amazon.fr",
	"JP": "amazon.co.jp",
	"CA": "amazon.ca",
	"IT": "amazon.it",
	"ES": "amazon.es",
	"IN": "amazon.in",
	"MX": "amazon.com.mx",
	"BR": "amazon.com.br",
	"AU": "amazon.com.au",
}

func capabilities() []domain.Operation {
	return []domain.Operation{
		domain.OpSearch,
		domain.OpGetProduct,
		domain.OpGetMany,
		domain.OpVariations,
		domain.OpOffers,
		domain.OpReviews,
		domain.OpBestsellers,
		domain.OpNewReleases,
		domain.OpCategories,
	}
}

func supportedMarketplaces() []domain.Marketplace {
	supported := []domain.Marketplace{}
	for _, m := range domain.Marketplaces() {
		if _, ok := amazonDomains[m.Code]; ok {
			supported = append(supported, m)
		}
	}

	return supported
}

// Config holds the Rainforest credentials and defaults.
type Config struct {
	APIKey      string
	Marketplace string
	Client      provider.ClientConfig
}

// Client implements domain.Provider against the Rainforest API. Every
// operation is a GET on one endpoint differentiated by the type
// parameter.
type Client struct {
	*provider.Base

	client *resty.Client
	cb     *gobreaker.CircuitBreaker[*resty.Response]
	logger *zap.Logger

	mu        sync.RWMutex
	cfg       Config
	lastQuota *domain.QuotaInfo
}

// New creates a Rainforest client.
func New(cfg Config, deps provider.Deps) *Client {
	clientCfg := cfg.Client
	if clientCfg.BaseURL == "" {
		clientCfg.BaseURL = "https://api.rainforestapi.com"
	}

	return &Client{
		Base:   provider.NewBase(Key, capabilities(), DefaultBulkLimit, supportedMarketplaces(), deps),
		client: provider.NewRestyClient(clientCfg),
		cb:     provider.NewCircuitBreaker[*resty.Response](Key, cfg.Client.CB),
		logger: deps.Logger,
		cfg:    cfg,
	}
}

// SetCredentials validates and installs a new API key.
func (c *Client) SetCredentials(creds map[string]string) error {
	if err := provider.RequireCredentials(creds, "api_key"); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg.APIKey = creds["api_key"]
	if creds["marketplace"] != "" {
		c.cfg.Marketplace = creds["marketplace"]
	}

	return nil
}

// SearchProducts runs a keyword search.
func (c *Client) SearchProducts(ctx context.Context, keyword string, opts domain.RequestOptions) (*domain.Response, error) {
	params := opts.Params()
	params["keyword"] = keyword

	return c.Do(ctx, provider.Request{
		Op:       domain.OpSearch,
		Endpoint: requestPath,
		Method:   "GET",
		Params:   params,
		CacheKey: c.cacheKey(domain.OpSearch, params),
		Call: func(ctx context.Context) (*domain.Response, error) {
			query := c.query("search", opts)
			query["search_term"] = keyword
			if opts.Sort != "" {
				query["sort_by"] = sortBy(opts.Sort)
			}
			if opts.Page > 0 {
				query["page"] = fmt.Sprintf("%d", opts.Page)
			}
			if opts.Category != "" {
				query["category_id"] = opts.Category
			}

			out, err := c.get(ctx, query)
			if err != nil {
				return nil, err
			}

			products := make([]map[string]any, 0, len(out.SearchResults))
			for _, p := range out.SearchResults {
				products = append(products, p.toProduct(time.Now().UTC()).Map())
			}

			resp := domain.NewSearchResponse(products, domain.Metadata{CreditsUsed: out.RequestInfo.CreditsUsed})
			if out.Pagination != nil {
				resp.Set("current_page", out.Pagination.CurrentPage)
				resp.Set("total_pages", out.Pagination.TotalPages)
				if out.Pagination.TotalResults > 0 {
					resp.Set("total_results", out.Pagination.TotalResults)
				}
			}

			return resp, nil
		},
	})
}

// GetProduct fetches a single product by ASIN.
func (c *Client) GetProduct(ctx context.Context, asin string, opts domain.RequestOptions) (*domain.Response, error) {
	params := opts.Params()
	params["asin"] = asin

	return c.Do(ctx, provider.Request{
		Op:       domain.OpGetProduct,
		Endpoint: requestPath,
		Method:   "GET",
		Params:   params,
		CacheKey: c.cacheKey(domain.OpGetProduct, params),
		Call: func(ctx context.Context) (*domain.Response, error) {
			query := c.query("product", opts)
			query["asin"] = asin

			out, err := c.get(ctx, query)
			if err != nil {
				return nil, err
			}
			if out.Product == nil {
				return nil, domain.NewAPIError(domain.ErrKindNotFound,
					fmt.Sprintf("product %s not found", asin), 404)
			}

			return domain.NewProductResponse(
				out.Product.toProduct(time.Now().UTC()).Map(),
				domain.Metadata{CreditsUsed: out.RequestInfo.CreditsUsed},
			), nil
		},
	})
}

// GetMultipleProducts fans a bulk fetch out into individual product
// requests. Per-identifier failures land in Failed; the call only
// errors when nothing succeeded and a hard failure occurred.
func (c *Client) GetMultipleProducts(ctx context.Context, asins []string, opts domain.RequestOptions) (*domain.BulkResult, error) {
	if len(asins) > c.BulkLimit() {
		asins = asins[:c.BulkLimit()]
	}

	result := domain.NewBulkResult()
	var hardErr error

	for _, asin := range asins {
		resp, err := c.GetProduct(ctx, asin, opts)
		if err != nil {
			result.Failed = append(result.Failed, asin)
			if domain.ErrKind(err) != domain.ErrKindNotFound {
				hardErr = err
			}

			continue
		}
		result.Products[asin] = resp.Data
		result.Credits += resp.Meta.CreditsUsed
	}

	if len(result.Products) == 0 && hardErr != nil {
		return nil, hardErr
	}

	return result, nil
}

// GetVariations lists variation children from the product payload.
func (c *Client) GetVariations(ctx context.Context, asin string, opts domain.RequestOptions) (*domain.Response, error) {
	params := opts.Params()
	params["asin"] = asin

	return c.Do(ctx, provider.Request{
		Op:       domain.OpVariations,
		Endpoint: requestPath,
		Method:   "GET",
		Params:   params,
		CacheKey: c.cacheKey(domain.OpVariations, params),
		Call: func(ctx context.Context) (*domain.Response, error) {
			query := c.query("product", opts)
			query["asin"] = asin

			out, err := c.get(ctx, query)
			if err != nil {
				return nil, err
			}

			products := make([]map[string]any, 0, len(out.Variants))
			for _, p := range out.Variants {
				products = append(products, p.toProduct(time.Now().UTC()).Map())
			}

			resp := domain.NewSearchResponse(products, domain.Metadata{CreditsUsed: out.RequestInfo.CreditsUsed})
			resp.Set("parent_asin", asin)

			return resp, nil
		},
	})
}

// GetOffers fetches offer listings for an ASIN.
func (c *Client) GetOffers(ctx context.Context, asin string, opts domain.RequestOptions) (*domain.Response, error) {
	params := opts.Params()
	params["asin"] = asin

	return c.Do(ctx, provider.Request{
		Op:       domain.OpOffers,
		Endpoint: requestPath,
		Method:   "GET",
		Params:   params,
		CacheKey: c.cacheKey(domain.OpOffers, params),
		Call: func(ctx context.Context) (*domain.Response, error) {
			query := c.query("offers", opts)
			query["asin"] = asin

			out, err := c.get(ctx, query)
			if err != nil {
				return nil, err
			}

			data := map[string]any{"asin": asin}
			attachRaw(data, "offers", out.Offers)

			return domain.NewResponse(data, domain.Metadata{CreditsUsed: out.RequestInfo.CreditsUsed}, domain.ResponseTypeProduct), nil
		},
	})
}

// GetReviewsSummary fetches the review summary for an ASIN.
func (c *Client) GetReviewsSummary(ctx context.Context, asin string, opts domain.RequestOptions) (*domain.Response, error) {
	params := opts.Params()
	params["asin"] = asin

	return c.Do(ctx, provider.Request{
		Op:       domain.OpReviews,
		Endpoint: requestPath,
		Method:   "GET",
		Params:   params,
		CacheKey: c.cacheKey(domain.OpReviews, params),
		Call: func(ctx context.Context) (*domain.Response, error) {
			query := c.query("reviews", opts)
			query["asin"] = asin

			out, err := c.get(ctx, query)
			if err != nil {
				return nil, err
			}

			data := map[string]any{"asin": asin}
			attachRaw(data, "summary", out.Summary)
			attachRaw(data, "reviews", out.Reviews)

			return domain.NewResponse(data, domain.Metadata{CreditsUsed: out.RequestInfo.CreditsUsed}, domain.ResponseTypeProduct), nil
		},
	})
}

// GetBestsellers lists the bestsellers of a category.
func (c *Client) GetBestsellers(ctx context.Context, category string, opts domain.RequestOptions) (*domain.Response, error) {
	return c.ranked(ctx, domain.OpBestsellers, "bestsellers", category, opts)
}

// GetNewReleases lists the newest releases of a category.
func (c *Client) GetNewReleases(ctx context.Context, category string, opts domain.RequestOptions) (*domain.Response, error) {
	return c.ranked(ctx, domain.OpNewReleases, "new_releases", category, opts)
}

// ranked is the shared bestsellers/new-releases round trip.
func (c *Client) ranked(ctx context.Context, op domain.Operation, reqType, category string, opts domain.RequestOptions) (*domain.Response, error) {
	params := opts.Params()
	params["category"] = category

	return c.Do(ctx, provider.Request{
		Op:       op,
		Endpoint: requestPath,
		Method:   "GET",
		Params:   params,
		CacheKey: c.cacheKey(op, params),
		Call: func(ctx context.Context) (*domain.Response, error) {
			query := c.query(reqType, opts)
			query["category_id"] = category

			out, err := c.get(ctx, query)
			if err != nil {
				return nil, err
			}

			items := out.Bestsellers
			if reqType == "new_releases" {
				items = out.NewReleases
			}
			products := make([]map[string]any, 0, len(items))
			for _, p := range items {
				products = append(products, p.toProduct(time.Now().UTC()).Map())
			}

			resp := domain.NewSearchResponse(products, domain.Metadata{CreditsUsed: out.RequestInfo.CreditsUsed})
			resp.Set("category", category)

			return resp, nil
		},
	})
}

// GetCategories lists the category tree of a marketplace.
func (c *Client) GetCategories(ctx context.Context, opts domain.RequestOptions) (*domain.Response, error) {
	params := opts.Params()

	return c.Do(ctx, provider.Request{
		Op:       domain.OpCategories,
		Endpoint: requestPath,
		Method:   "GET",
		Params:   params,
		CacheKey: c.cacheKey(domain.OpCategories, params),
		Call: func(ctx context.Context) (*domain.Response, error) {
			query := c.query("category", opts)
			if opts.Category != "" {
				query["category_id"] = opts.Category
			}

			out, err := c.get(ctx, query)
			if err != nil {
				return nil, err
			}

			data := map[string]any{}
			attachRaw(data, "categories", out.Categories)

			return domain.NewResponse(data, domain.Metadata{CreditsUsed: out.RequestInfo.CreditsUsed}, domain.ResponseTypeUnknown), nil
		},
	})
}

// TestConnection verifies the API key with a minimal search.
func (c *Client) TestConnection(ctx context.Context) domain.ConnectionResult {
	start := time.Now()
	_, err := c.SearchProducts(ctx, "test", domain.RequestOptions{PerPage: 1})
	latency := time.Since(start)

	result := domain.ConnectionResult{
		Provider: Key,
		Latency:  latency,
	}
	if err != nil && domain.ErrKind(err) != domain.ErrKindNotFound {
		result.Message = err.Error()

		return result
	}
	result.Success = true
	result.Message = "connection ok"
	if quota, qerr := c.QuotaInfo(ctx); qerr == nil {
		result.Quota = quota
	}

	return result
}

// QuotaInfo reports the upstream credit balance observed on the most
// recent call, falling back to the local rate-limit budget before any
// call has been made.
func (c *Client) QuotaInfo(ctx context.Context) (*domain.QuotaInfo, error) {
	c.mu.RLock()
	quota := c.lastQuota
	c.mu.RUnlock()

	if quota != nil {
		return quota, nil
	}

	return c.Quota(ctx, domain.OpGetProduct), nil
}

// get executes one upstream call through the circuit breaker and
// records the credit balance it reports.
func (c *Client) get(ctx context.Context, query map[string]string) (*apiResponse, error) {
	resp, err := c.cb.Execute(func() (*resty.Response, error) {
		return c.client.R().
			SetContext(ctx).
			SetQueryParams(query).
			Get(requestPath)
	})
	if err != nil {
		return nil, domain.NewAPIError(domain.ErrKindTransient, err.Error(), 0)
	}

	if resp.IsError() {
		kind := domain.ClassifyHTTPStatus(resp.StatusCode())
		message := upstreamMessage(resp.Body())
		if message == "" {
			message = fmt.Sprintf("upstream returned status %d", resp.StatusCode())
		}

		return nil, domain.NewAPIError(kind, message, resp.StatusCode())
	}

	var out apiResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, domain.NewAPIError(domain.ErrKindMalformed,
			fmt.Sprintf("unparsable payload: %v", err), resp.StatusCode())
	}
	if !out.RequestInfo.Success {
		message := out.RequestInfo.Message
		if message == "" {
			message = "upstream reported failure"
		}

		return nil, domain.NewAPIError(domain.ErrKindMalformed, message, resp.StatusCode())
	}

	c.recordQuota(out.RequestInfo)

	return &out, nil
}

// recordQuota remembers the credit balance reported by the upstream.
func (c *Client) recordQuota(info requestInfo) {
	if info.CreditsUsed == 0 && info.CreditsRemaining == 0 {
		return
	}

	quota := &domain.QuotaInfo{
		Provider:  Key,
		Used:      info.CreditsUsed,
		Remaining: info.CreditsRemaining,
		Limit:     info.CreditsUsed + info.CreditsRemaining,
	}
	if reset, err := time.Parse(time.RFC3339, info.CreditsResetAt); err == nil {
		quota.ResetAt = reset
	}

	c.mu.Lock()
	c.lastQuota = quota
	c.mu.Unlock()
}

// query builds the base parameter set every request type shares.
func (c *Client) query(reqType string, opts domain.RequestOptions) map[string]string {
	c.mu.RLock()
	apiKey := c.cfg.APIKey
	marketplace := c.cfg.Marketplace
	c.mu.RUnlock()

	if opts.Marketplace != "" {
		marketplace = opts.Marketplace
	}

	return map[string]string{
		"api_key":       apiKey,
		"type":          reqType,
		"amazon_domain": amazonDomain(marketplace),
	}
}

func (c *Client) cacheKey(op domain.Operation, params map[string]string) string {
	return cache.GenerateKey(provider.CacheType(op), params, Key)
}

func amazonDomain(code string) string {
	if d, ok := amazonDomains[strings.ToUpper(code)]; ok {
		return d
	}

	return amazonDomains["US"]
}

// attachRaw decodes a raw JSON fragment into the data map when present.
func attachRaw(data map[string]any, key string, raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}

	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		data[key] = v
	}
}

func upstreamMessage(body []byte) string {
	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return ""
	}

	return out.RequestInfo.Message
}

func sortBy(sort string) string {
	switch sort {
	case "price_asc":
		return "price_low_to_high"
	case "price_desc":
		return "price_high_to_low"
	case "rating":
		return "average_review"
	case "newest":
		return "most_recent"
	default:
		return sort
	}
}
