package rainforest

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jarcoal/httpmock"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"product-data-service/internal/cache"
	"product-data-service/internal/domain"
	"product-data-service/internal/infra/provider"
	redisinfra "product-data-service/internal/infra/redis"
	"product-data-service/internal/ratelimit"
)

const testBaseURL = "https://rainforest.example.com"

func newTestClient(t *testing.T) *Client {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	store := redisinfra.NewStore(redisClient, zap.NewNop(), "test")
	deps := provider.Deps{
		Limiter:     ratelimit.New(store, ratelimit.Config{Default: ratelimit.Rule{Limit: 100, Window: time.Minute}}, zap.NewNop()),
		Cache:       cache.New(store, cache.Config{Enabled: true, DefaultTTL: time.Hour}, zap.NewNop()),
		Logger:      zap.NewNop(),
		MaxAttempts: 1,
	}

	client := New(Config{
		APIKey:      "rf-test-key",
		Marketplace: "US",
		Client: provider.ClientConfig{
			BaseURL: testBaseURL,
			Timeout: 5 * time.Second,
			CB: provider.CBConfig{
				MaxRequests:  5,
				Interval:     60 * time.Second,
				Timeout:      15 * time.Second,
				FailureRatio: 0.9,
			},
		},
	}, deps)

	httpmock.ActivateNonDefault(client.client.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	return client
}

// respondByType routes the shared /request endpoint on its type query
// parameter the way the upstream does.
func respondByType(t *testing.T, bodies map[string]string) {
	t.Helper()

	httpmock.RegisterResponder("GET", testBaseURL+requestPath,
		func(req *http.Request) (*http.Response, error) {
			q := req.URL.Query()
			if q.Get("api_key") == "" {
				return httpmock.NewStringResponse(401,
					`{"request_info":{"success":false,"message":"missing api_key"}}`), nil
			}
			body, ok := bodies[q.Get("type")]
			if !ok {
				return httpmock.NewStringResponse(400,
					`{"request_info":{"success":false,"message":"unknown type"}}`), nil
			}

			return httpmock.NewStringResponse(200, body), nil
		})
}

const searchBody = `{
	"request_info": {"success": true, "credits_used": 3, "credits_remaining": 97},
	"search_results": [
		{"asin": "B08N5WRWNW", "title": "Echo Dot", "link": "https://www.amazon.com/dp/B08N5WRWNW",
		 "rating": 4.7, "ratings_total": 512, "is_prime": true,
		 "price": {"value": 49.99, "currency": "USD"}},
		{"asin": "B07XJ8C8F5", "title": "Fire TV Stick",
		 "price": {"value": 39.99, "currency": "USD"}}
	],
	"pagination": {"total_pages": 5, "current_page": 1, "total_results": 87}
}`

const productBody = `{
	"request_info": {"success": true, "credits_used": 1, "credits_remaining": 99},
	"product": {
		"asin": "B08N5WRWNW", "title": "Echo Dot", "description": "Smart speaker",
		"main_image": {"link": "https://img.example.com/dot.jpg"},
		"rating": 4.7, "ratings_total": 512,
		"buybox_winner": {
			"price": {"value": 44.99, "currency": "USD"},
			"availability": {"raw": "In Stock"},
			"is_prime": true
		}
	}
}`

func TestClient_SearchProducts_Success(t *testing.T) {
	client := newTestClient(t)
	respondByType(t, map[string]string{"search": searchBody})

	resp, err := client.SearchProducts(context.Background(), "echo dot", domain.RequestOptions{})

	require.NoError(t, err)
	require.True(t, resp.Success)

	products := resp.Products()
	require.Len(t, products, 2)
	assert.Equal(t, "B08N5WRWNW", products[0]["asin"])
	assert.Equal(t, "Echo Dot", products[0]["title"])
	assert.Equal(t, 49.99, products[0]["price"])
	assert.Equal(t, true, products[0]["is_prime"])

	assert.Equal(t, 3, resp.Meta.CreditsUsed)
	assert.Equal(t, 1, resp.Data["current_page"])
	assert.Equal(t, 5, resp.Data["total_pages"])
	assert.Equal(t, 87, resp.Data["total_results"])
}

func TestClient_GetProduct_BuyboxOverridesListPrice(t *testing.T) {
	client := newTestClient(t)
	respondByType(t, map[string]string{"product": productBody})

	resp, err := client.GetProduct(context.Background(), "B08N5WRWNW", domain.RequestOptions{})

	require.NoError(t, err)
	assert.Equal(t, "B08N5WRWNW", resp.Data["asin"])
	assert.Equal(t, 44.99, resp.Data["price"])
	assert.Equal(t, "In Stock", resp.Data["availability"])
	assert.Equal(t, true, resp.Data["is_prime"])
	assert.Equal(t, "https://img.example.com/dot.jpg", resp.Data["image_url"])
}

func TestClient_GetProduct_NotFound(t *testing.T) {
	client := newTestClient(t)
	respondByType(t, map[string]string{
		"product": `{"request_info":{"success":true,"credits_used":1}}`,
	})

	_, err := client.GetProduct(context.Background(), "B000000000", domain.RequestOptions{})

	require.Error(t, err)
	assert.Equal(t, domain.ErrKindNotFound, domain.ErrKind(err))
}

func TestClient_GetMultipleProducts_FansOut(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder("GET", testBaseURL+requestPath,
		func(req *http.Request) (*http.Response, error) {
			if req.URL.Query().Get("asin") == "B08N5WRWNW" {
				return httpmock.NewStringResponse(200, productBody), nil
			}

			return httpmock.NewStringResponse(200,
				`{"request_info":{"success":true,"credits_used":1}}`), nil
		})

	result, err := client.GetMultipleProducts(context.Background(),
		[]string{"B08N5WRWNW", "B000000000"}, domain.RequestOptions{})

	require.NoError(t, err)
	require.Contains(t, result.Products, "B08N5WRWNW")
	assert.Equal(t, []string{"B000000000"}, result.Failed)
	assert.Equal(t, 1, result.Credits)
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestClient_UpstreamFailureFlag(t *testing.T) {
	client := newTestClient(t)
	respondByType(t, map[string]string{
		"search": `{"request_info":{"success":false,"message":"invalid category_id"}}`,
	})

	_, err := client.SearchProducts(context.Background(), "anything", domain.RequestOptions{})

	require.Error(t, err)
	assert.Equal(t, domain.ErrKindMalformed, domain.ErrKind(err))
	assert.Contains(t, err.Error(), "invalid category_id")
}

func TestClient_MissingAPIKeyIsAuthError(t *testing.T) {
	client := newTestClient(t)
	respondByType(t, map[string]string{"search": searchBody})

	require.NoError(t, client.SetCredentials(map[string]string{"api_key": "x"}))
	client.mu.Lock()
	client.cfg.APIKey = ""
	client.mu.Unlock()

	_, err := client.SearchProducts(context.Background(), "anything", domain.RequestOptions{})

	require.Error(t, err)
	assert.Equal(t, domain.ErrKindAuth, domain.ErrKind(err))
}

func TestClient_QuotaInfo_TracksUpstreamCredits(t *testing.T) {
	client := newTestClient(t)
	respondByType(t, map[string]string{"search": searchBody})

	// Before any call the local rate-limit budget answers.
	info, err := client.QuotaInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, info.Limit)

	_, err = client.SearchProducts(context.Background(), "echo dot", domain.RequestOptions{})
	require.NoError(t, err)

	info, err = client.QuotaInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, info.Used)
	assert.Equal(t, 97, info.Remaining)
	assert.Equal(t, 100, info.Limit)
}

func TestClient_MarketplaceSelectsAmazonDomain(t *testing.T) {
	client := newTestClient(t)

	var seenDomain string
	httpmock.RegisterResponder("GET", testBaseURL+requestPath,
		func(req *http.Request) (*http.Response, error) {
			seenDomain = req.URL.Query().Get("amazon_domain")

			return httpmock.NewStringResponse(200, searchBody), nil
		})

	_, err := client.SearchProducts(context.Background(), "echo",
		domain.RequestOptions{Marketplace: "DE"})

	require.NoError(t, err)
	assert.Equal(t, "amazon.de", seenDomain)
}

func TestClient_GetBestsellers(t *testing.T) {
	client := newTestClient(t)
	respondByType(t, map[string]string{
		"bestsellers": `{
			"request_info": {"success": true, "credits_used": 1},
			"bestsellers": [{"asin": "B08N5WRWNW", "title": "Echo Dot"}]
		}`,
	})

	resp, err := client.GetBestsellers(context.Background(), "electronics", domain.RequestOptions{})

	require.NoError(t, err)
	require.Len(t, resp.Products(), 1)
	assert.Equal(t, "electronics", resp.Data["category"])
}

func TestClient_GetOffers_AttachesRawPayload(t *testing.T) {
	client := newTestClient(t)
	respondByType(t, map[string]string{
		"offers": `{
			"request_info": {"success": true, "credits_used": 1},
			"offers": [{"price": {"value": 42.0}, "condition": {"title": "New"}}]
		}`,
	})

	resp, err := client.GetOffers(context.Background(), "B08N5WRWNW", domain.RequestOptions{})

	require.NoError(t, err)
	assert.Equal(t, "B08N5WRWNW", resp.Data["asin"])
	offers, ok := resp.Data["offers"].([]any)
	require.True(t, ok)
	assert.Len(t, offers, 1)
}

func TestClient_Capabilities(t *testing.T) {
	client := newTestClient(t)

	assert.Equal(t, Key, client.Key())
	assert.Equal(t, DefaultBulkLimit, client.BulkLimit())
	assert.True(t, client.Supports(domain.OpReviews))
	assert.True(t, client.Supports(domain.OpBestsellers))
	assert.True(t, client.Supports(domain.OpCategories))
}

func TestClient_SetCredentials(t *testing.T) {
	client := newTestClient(t)

	err := client.SetCredentials(map[string]string{})
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindAuth, domain.ErrKind(err))

	err = client.SetCredentials(map[string]string{"api_key": "new-key", "marketplace": "UK"})
	require.NoError(t, err)

	client.mu.RLock()
	defer client.mu.RUnlock()
	assert.Equal(t, "new-key", client.cfg.APIKey)
	assert.Equal(t, "UK", client.cfg.Marketplace)
}

func TestAmazonDomain(t *testing.T) {
	assert.Equal(t, "amazon.co.uk", amazonDomain("uk"))
	assert.Equal(t, "amazon.com", amazonDomain("US"))
	assert.Equal(t, "amazon.com", amazonDomain("ZZ"))
}

func TestSortBy(t *testing.T) {
	assert.Equal(t, "price_low_to_high", sortBy("price_asc"))
	assert.Equal(t, "price_high_to_low", sortBy("price_desc"))
	assert.Equal(t, "average_review", sortBy("rating"))
	assert.Equal(t, "featured", sortBy("featured"))
}
