// Package paapi implements the Amazon Product Advertising API v5
// provider.
package paapi

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
const Key = "paapi"

// DefaultBulkLimit is the upstream GetItems cap per request.
const DefaultBulkLimit = 10

const (
	pathSearchItems    = "/paapi5/searchitems"
	pathGetItems       = "/paapi5/getitems"
	pathGetVariations  = "/paapi5/getvariations"
	pathGetBrowseNodes = "/paapi5/getbrowsenodes"

	targetPrefix = "com.amazon.paapi5.v1.ProductAdvertisingAPIv1."
)

// endpoint maps a marketplace code to its upstream host, marketplace
// identifier and signing region.
type endpoint struct {
	Host        string
	Marketplace string
	Region      string
}

var endpoints = map[string]endpoint{
	"US": {"webservices.amazon.com", "www.amazon.com", "us-east-1"},
	"UK": {"webservices.amazon.co.uk", "www.amazon.co.uk", "eu-west-1"},
	"DE": {"webservices.amazon.de", "www.amazon.de", "eu-west-1"},
	"FR": {"webservices.amazon.fr", "www.amazon.fr", "eu-west-1"},
	"JP": {"webservices.amazon.co.jp", "www.amazon.co.jp", "us-west-2"},
	"CA": {"webservices.amazon.ca", "www.amazon.ca", "us-east-1"},
	"IT": {"webservices.amazon.it", "www.amazon.it", "eu-west-1"},
	"ES": {"webservices.amazon.es", "www.amazon.es", "eu-west-1"},
	"IN": {"webservices.amazon.in", "webservices.amazon.in", "eu-west-1"},
	"MX": {"webservices.amazon.com.mx", "www.amazon.com.mx", "us-east-1"},
	"BR": {"webservices.amazon.com.br", "www.amazon.com.br", "us-east-1"},
	"AU": {"webservices.amazon.com.au", "www.amazon.com.au", "us-west-2"},
}

func capabilities() []domain.Operation {
	return []domain.Operation{
		domain.OpSearch,
		domain.OpGetProduct,
		domain.OpGetMany,
		domain.OpVariations,
		domain.OpOffers,
		domain.OpCategories,
	}
}

func supportedMarketplaces() []domain.Marketplace {
	supported := []domain.Marketplace{}
	for _, m := range domain.Marketplaces() {
		if _, ok := endpoints[m.Code]; ok {
			supported = append(supported, m)
		}
	}

	return supported
}

// Config holds the PA-API credentials and defaults.
type Config struct {
	AccessKey   string
	SecretKey   string
	PartnerTag  string
	Marketplace string
	Client      provider.ClientConfig
}

// Client implements domain.Provider against the Product Advertising
// API. Requests are signed per call, POSTed as JSON and routed through
// the shared Base pipeline.
type Client struct {
	*provider.Base

	client *resty.Client
	cb     *gobreaker.CircuitBreaker[*resty.Response]
	logger *zap.Logger

	mu     sync.RWMutex
	cfg    Config
	signer Signer
}

// New creates a PA-API client. The configured marketplace selects the
// upstream host; unknown codes fall back to US.
func New(cfg Config, deps provider.Deps) *Client {
	ep := resolveEndpoint(cfg.Marketplace)

	clientCfg := cfg.Client
	if clientCfg.BaseURL == "" {
		clientCfg.BaseURL = "https://" + ep.Host
	}

	c := &Client{
		Base:   provider.NewBase(Key, capabilities(), DefaultBulkLimit, supportedMarketplaces(), deps),
		client: provider.NewRestyClient(clientCfg),
		cb:     provider.NewCircuitBreaker[*resty.Response](Key, cfg.Client.CB),
		logger: deps.Logger,
		cfg:    cfg,
		signer: NewV4Signer(cfg.AccessKey, cfg.SecretKey, ep.Region, ep.Host),
	}

	return c
}

// SetSigner replaces the request signer. Used by tests.
func (c *Client) SetSigner(s Signer) {
	c.mu.Lock()
	c.signer = s
	c.mu.Unlock()
}

// SetCredentials validates and installs new credentials, rebinding the
// signer. Stored state is untouched on validation failure.
func (c *Client) SetCredentials(creds map[string]string) error {
	if err := provider.RequireCredentials(creds, "access_key", "secret_key", "partner_tag"); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg.AccessKey = creds["access_key"]
	c.cfg.SecretKey = creds["secret_key"]
	c.cfg.PartnerTag = creds["partner_tag"]
	if creds["marketplace"] != "" {
		c.cfg.Marketplace = creds["marketplace"]
	}

	ep := resolveEndpoint(c.cfg.Marketplace)
	c.client.SetBaseURL("https://" + ep.Host)
	c.signer = NewV4Signer(c.cfg.AccessKey, c.cfg.SecretKey, ep.Region, ep.Host)

	return nil
}

// SearchProducts runs a keyword search.
func (c *Client) SearchProducts(ctx context.Context, keyword string, opts domain.RequestOptions) (*domain.Response, error) {
	params := opts.Params()
	params["keyword"] = keyword

	return c.Do(ctx, provider.Request{
		Op:       domain.OpSearch,
		Endpoint: pathSearchItems,
		Method:   "POST",
		Params:   params,
		CacheKey: c.cacheKey(domain.OpSearch, params),
		Call: func(ctx context.Context) (*domain.Response, error) {
			cfg := c.config()
			req := searchRequest{
				Keywords:    keyword,
				PartnerTag:  cfg.PartnerTag,
				PartnerType: "Associates",
				Marketplace: c.marketplaceID(opts.Marketplace),
				ItemPage:    opts.Page,
				ItemCount:   opts.PerPage,
				SortBy:      sortBy(opts.Sort),
				Brand:       opts.Brand,
				Resources:   defaultResources,
			}

			var out apiResponse
			if err := c.post(ctx, pathSearchItems, "SearchItems", req, &out); err != nil {
				return nil, err
			}

			products := []map[string]any{}
			total := 0
			if out.SearchResult != nil {
				total = out.SearchResult.TotalResultCount
				for _, it := range out.SearchResult.Items {
					products = append(products, it.toProduct(time.Now().UTC()).Map())
				}
			}

			resp := domain.NewSearchResponse(products, domain.Metadata{CreditsUsed: 1})
			resp.Set("total_results", total)
			page := opts.Page
			if page < 1 {
				page = 1
			}
			perPage := len(products)
			if perPage == 0 {
				perPage = 10
			}
			resp.Set("current_page", page)
			resp.Set("per_page", perPage)
			resp.Set("total_pages", (total+perPage-1)/perPage)

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
		Endpoint: pathGetItems,
		Method:   "POST",
		Params:   params,
		CacheKey: c.cacheKey(domain.OpGetProduct, params),
		Call: func(ctx context.Context) (*domain.Response, error) {
			items, err := c.getItems(ctx, []string{asin}, opts)
			if err != nil {
				return nil, err
			}
			if len(items) == 0 {
				return nil, domain.NewAPIError(domain.ErrKindNotFound,
					fmt.Sprintf("product %s not found", asin), 404)
			}

			return domain.NewProductResponse(
				items[0].toProduct(time.Now().UTC()).Map(),
				domain.Metadata{CreditsUsed: 1},
			), nil
		},
	})
}

// GetMultipleProducts fetches up to BulkLimit products in one upstream
// call. Individually cached products are served from cache and only
// the misses hit the network. Missing ASINs land in Failed, not in an
// error.
func (c *Client) GetMultipleProducts(ctx context.Context, asins []string, opts domain.RequestOptions) (*domain.BulkResult, error) {
	result := domain.NewBulkResult()

	missing := []string{}
	for _, asin := range asins {
		params := opts.Params()
		params["asin"] = asin
		if cached := c.CachedResponse(ctx, c.cacheKey(domain.OpGetProduct, params)); cached != nil {
			result.Products[asin] = cached.Data

			continue
		}
		missing = append(missing, asin)
	}
	if len(missing) == 0 {
		return result, nil
	}
	if len(missing) > c.BulkLimit() {
		missing = missing[:c.BulkLimit()]
	}

	resp, err := c.Do(ctx, provider.Request{
		Op:       domain.OpGetMany,
		Endpoint: pathGetItems,
		Method:   "POST",
		Params:   map[string]string{"asins": strings.Join(missing, ",")},
		Call: func(ctx context.Context) (*domain.Response, error) {
			items, err := c.getItems(ctx, missing, opts)
			if err != nil {
				return nil, err
			}

			products := make([]map[string]any, 0, len(items))
			for _, it := range items {
				products = append(products, it.toProduct(time.Now().UTC()).Map())
			}

			return domain.NewSearchResponse(products, domain.Metadata{CreditsUsed: 1}), nil
		},
	})
	if err != nil {
		return nil, err
	}

	found := map[string]bool{}
	for _, p := range resp.Products() {
		asin, _ := p["asin"].(string)
		if asin == "" {
			continue
		}
		found[asin] = true
		result.Products[asin] = p

		params := opts.Params()
		params["asin"] = asin
		c.StoreResponse(ctx,
			c.cacheKey(domain.OpGetProduct, params),
			domain.NewProductResponse(p, domain.Metadata{Provider: Key}),
			0,
		)
	}
	for _, asin := range missing {
		if !found[asin] {
			result.Failed = append(result.Failed, asin)
		}
	}
	result.Credits = resp.Meta.CreditsUsed

	return result, nil
}

// GetVariations lists the variation children of a parent ASIN.
func (c *Client) GetVariations(ctx context.Context, asin string, opts domain.RequestOptions) (*domain.Response, error) {
	params := opts.Params()
	params["asin"] = asin

	return c.Do(ctx, provider.Request{
		Op:       domain.OpVariations,
		Endpoint: pathGetVariations,
		Method:   "POST",
		Params:   params,
		CacheKey: c.cacheKey(domain.OpVariations, params),
		Call: func(ctx context.Context) (*domain.Response, error) {
			cfg := c.config()
			req := getVariationsRequest{
				ASIN:          asin,
				PartnerTag:    cfg.PartnerTag,
				PartnerType:   "Associates",
				Marketplace:   c.marketplaceID(opts.Marketplace),
				VariationPage: opts.Page,
				Resources:     defaultResources,
			}

			var out apiResponse
			if err := c.post(ctx, pathGetVariations, "GetVariations", req, &out); err != nil {
				return nil, err
			}

			products := []map[string]any{}
			if out.VariationsResult != nil {
				for _, it := range out.VariationsResult.Items {
					products = append(products, it.toProduct(time.Now().UTC()).Map())
				}
			}

			resp := domain.NewSearchResponse(products, domain.Metadata{CreditsUsed: 1})
			resp.Set("parent_asin", asin)

			return resp, nil
		},
	})
}

// GetOffers fetches the offer listings for an ASIN.
func (c *Client) GetOffers(ctx context.Context, asin string, opts domain.RequestOptions) (*domain.Response, error) {
	params := opts.Params()
	params["asin"] = asin

	return c.Do(ctx, provider.Request{
		Op:       domain.OpOffers,
		Endpoint: pathGetItems,
		Method:   "POST",
		Params:   params,
		CacheKey: c.cacheKey(domain.OpOffers, params),
		Call: func(ctx context.Context) (*domain.Response, error) {
			items, err := c.getItems(ctx, []string{asin}, opts)
			if err != nil {
				return nil, err
			}
			if len(items) == 0 {
				return nil, domain.NewAPIError(domain.ErrKindNotFound,
					fmt.Sprintf("product %s not found", asin), 404)
			}

			listings := []map[string]any{}
			if items[0].Offers != nil {
				for _, l := range items[0].Offers.Listings {
					offer := map[string]any{}
					if l.Price != nil {
						offer["price"] = l.Price.Amount
						offer["currency"] = l.Price.Currency
					}
					if l.Availability != nil {
						offer["availability"] = l.Availability.Message
					}
					if l.DeliveryInfo != nil {
						offer["is_prime"] = l.DeliveryInfo.IsPrimeEligible
					}
					listings = append(listings, offer)
				}
			}

			data := map[string]any{
				"asin":   asin,
				"offers": listings,
			}

			return domain.NewResponse(data, domain.Metadata{CreditsUsed: 1}, domain.ResponseTypeProduct), nil
		},
	})
}

// GetReviewsSummary is not available upstream.
func (c *Client) GetReviewsSummary(ctx context.Context, asin string, opts domain.RequestOptions) (*domain.Response, error) {
	return nil, c.Unsupported(domain.OpReviews)
}

// GetBestsellers is not available upstream.
func (c *Client) GetBestsellers(ctx context.Context, category string, opts domain.RequestOptions) (*domain.Response, error) {
	return nil, c.Unsupported(domain.OpBestsellers)
}

// GetNewReleases is not available upstream.
func (c *Client) GetNewReleases(ctx context.Context, category string, opts domain.RequestOptions) (*domain.Response, error) {
	return nil, c.Unsupported(domain.OpNewReleases)
}

// GetCategories resolves browse node metadata. The category option
// carries a comma-separated browse node id list.
func (c *Client) GetCategories(ctx context.Context, opts domain.RequestOptions) (*domain.Response, error) {
	params := opts.Params()

	return c.Do(ctx, provider.Request{
		Op:       domain.OpCategories,
		Endpoint: pathGetBrowseNodes,
		Method:   "POST",
		Params:   params,
		CacheKey: c.cacheKey(domain.OpCategories, params),
		Call: func(ctx context.Context) (*domain.Response, error) {
			nodeIDs := strings.Split(opts.Category, ",")
			if opts.Category == "" {
				return nil, domain.NewAPIError(domain.ErrKindMalformed,
					"category browse node ids required", 400)
			}

			cfg := c.config()
			req := getBrowseNodesRequest{
				BrowseNodeIds: nodeIDs,
				PartnerTag:    cfg.PartnerTag,
				PartnerType:   "Associates",
				Marketplace:   c.marketplaceID(opts.Marketplace),
				Resources:     []string{"BrowseNodes.Ancestor", "BrowseNodes.Children"},
			}

			var out apiResponse
			if err := c.post(ctx, pathGetBrowseNodes, "GetBrowseNodes", req, &out); err != nil {
				return nil, err
			}

			var nodes any
			if len(out.BrowseNodesResult) > 0 {
				_ = json.Unmarshal(out.BrowseNodesResult, &nodes)
			}
			data := map[string]any{"categories": nodes}

			return domain.NewResponse(data, domain.Metadata{CreditsUsed: 1}, domain.ResponseTypeUnknown), nil
		},
	})
}

// TestConnection runs a minimal search to verify the credentials and
// network path.
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
	result.Quota = c.Quota(ctx, domain.OpSearch)

	return result
}

// QuotaInfo reports the remaining local request budget; the upstream
// exposes no quota endpoint.
func (c *Client) QuotaInfo(ctx context.Context) (*domain.QuotaInfo, error) {
	return c.Quota(ctx, domain.OpGetProduct), nil
}

// getItems is the shared GetItems round trip.
func (c *Client) getItems(ctx context.Context, asins []string, opts domain.RequestOptions) ([]item, error) {
	cfg := c.config()
	req := getItemsRequest{
		ItemIds:     asins,
		PartnerTag:  cfg.PartnerTag,
		PartnerType: "Associates",
		Marketplace: c.marketplaceID(opts.Marketplace),
		Resources:   defaultResources,
	}

	var out apiResponse
	if err := c.post(ctx, pathGetItems, "GetItems", req, &out); err != nil {
		return nil, err
	}
	if out.ItemsResult == nil {
		return nil, nil
	}

	return out.ItemsResult.Items, nil
}

// post signs and executes one upstream call through the circuit
// breaker, classifying HTTP failures into typed errors.
func (c *Client) post(ctx context.Context, path, operation string, body any, out *apiResponse) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return domain.NewAPIError(domain.ErrKindMalformed, err.Error(), 0)
	}

	c.mu.RLock()
	signer := c.signer
	c.mu.RUnlock()
	headers := signer.Sign("POST", path, targetPrefix+operation, payload, time.Now())

	resp, err := c.cb.Execute(func() (*resty.Response, error) {
		return c.client.R().
			SetContext(ctx).
			SetHeaders(headers).
			SetBody(payload).
			Post(path)
	})
	if err != nil {
		// Network failures and an open breaker are both transient.
		return domain.NewAPIError(domain.ErrKindTransient, err.Error(), 0)
	}

	if resp.IsError() {
		kind := domain.ClassifyHTTPStatus(resp.StatusCode())
		message := upstreamMessage(resp.Body())
		if message == "" {
			message = fmt.Sprintf("upstream returned status %d", resp.StatusCode())
		}

		return domain.NewAPIError(kind, message, resp.StatusCode())
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return domain.NewAPIError(domain.ErrKindMalformed,
			fmt.Sprintf("unparsable payload: %v", err), resp.StatusCode())
	}

	return nil
}

// upstreamMessage extracts the first error message from a failure
// payload, if one parses.
func upstreamMessage(body []byte) string {
	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return ""
	}
	if len(out.Errors) == 0 {
		return ""
	}

	return out.Errors[0].Message
}

func (c *Client) cacheKey(op domain.Operation, params map[string]string) string {
	return cache.GenerateKey(provider.CacheType(op), params, Key)
}

func (c *Client) config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.cfg
}

// marketplaceID resolves the Marketplace request field from an option
// code, falling back to the configured default.
func (c *Client) marketplaceID(code string) string {
	if code == "" {
		code = c.config().Marketplace
	}
	ep := resolveEndpoint(code)

	return ep.Marketplace
}

func resolveEndpoint(code string) endpoint {
	if ep, ok := endpoints[strings.ToUpper(code)]; ok {
		return ep
	}

	return endpoints["US"]
}

// sortBy maps the shared sort option onto upstream sort keys.
func sortBy(sort string) string {
	switch sort {
	case "price_asc":
		return "Price:LowToHigh"
	case "price_desc":
		return "Price:HighToLow"
	case "rating":
		return "AvgCustomerReviews"
	case "newest":
		return "NewestArrivals"
	default:
		return ""
	}
}
