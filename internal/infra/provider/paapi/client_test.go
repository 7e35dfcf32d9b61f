package paapi

import (
	"context"
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

const testBaseURL = "https://paapi.example.com"

// stubSigner replaces SigV4 so tests do not depend on real credentials.
type stubSigner struct{}

func (stubSigner) Sign(method, path, target string, payload []byte, now time.Time) map[string]string {
	return map[string]string{
		"Content-Type": "application/json; charset=utf-8",
		"X-Amz-Target": target,
	}
}

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
		AccessKey:   "AKTEST",
		SecretKey:   "secret",
		PartnerTag:  "tag-20",
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
	client.SetSigner(stubSigner{})

	httpmock.ActivateNonDefault(client.client.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	return client
}

func itemJSON(asin, title string) string {
	return `{
		"ASIN": "` + asin + `",
		"DetailPageURL": "https://www.amazon.com/dp/` + asin + `",
		"ItemInfo": {"Title": {"DisplayValue": "` + title + `"}},
		"Offers": {"Listings": [{
			"Price": {"Amount": 49.99, "Currency": "USD"},
			"DeliveryInfo": {"IsPrimeEligible": true}
		}]}
	}`
}

func searchItemsBody() string {
	return `{"SearchResult": {"TotalResultCount": 120, "Items": [` +
		itemJSON("B08N5WRWNW", "Echo Dot") + `,` + itemJSON("B07XJ8C8F5", "Fire TV Stick") +
		`]}}`
}

func getItemsBody(asin, title string) string {
	return `{"ItemsResult": {"Items": [` + itemJSON(asin, title) + `]}}`
}

func TestClient_SearchProducts_Success(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder("POST", testBaseURL+pathSearchItems,
		httpmock.NewStringResponder(200, searchItemsBody()))

	resp, err := client.SearchProducts(context.Background(), "echo dot", domain.RequestOptions{})

	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, Key, resp.Meta.Provider)

	products := resp.Products()
	require.Len(t, products, 2)
	assert.Equal(t, "B08N5WRWNW", products[0]["asin"])
	assert.Equal(t, "Echo Dot", products[0]["title"])
	assert.Equal(t, 49.99, products[0]["price"])
	assert.Equal(t, 120, resp.Data["total_results"])
}

func TestClient_SearchProducts_CachedOnSecondCall(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder("POST", testBaseURL+pathSearchItems,
		httpmock.NewStringResponder(200, searchItemsBody()))

	_, err := client.SearchProducts(context.Background(), "echo dot", domain.RequestOptions{})
	require.NoError(t, err)

	resp, err := client.SearchProducts(context.Background(), "echo dot", domain.RequestOptions{})
	require.NoError(t, err)

	assert.True(t, resp.Meta.CacheHit)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestClient_GetProduct_Success(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder("POST", testBaseURL+pathGetItems,
		httpmock.NewStringResponder(200, getItemsBody("B08N5WRWNW", "Echo Dot")))

	resp, err := client.GetProduct(context.Background(), "B08N5WRWNW", domain.RequestOptions{})

	require.NoError(t, err)
	assert.Equal(t, "B08N5WRWNW", resp.Data["asin"])
	assert.Equal(t, "Echo Dot", resp.Data["title"])
}

func TestClient_GetProduct_NotFound(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder("POST", testBaseURL+pathGetItems,
		httpmock.NewStringResponder(200, `{}`))

	_, err := client.GetProduct(context.Background(), "B000000000", domain.RequestOptions{})

	require.Error(t, err)
	assert.Equal(t, domain.ErrKindNotFound, domain.ErrKind(err))
}

func TestClient_GetMultipleProducts_MissingASINsFail(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder("POST", testBaseURL+pathGetItems,
		httpmock.NewStringResponder(200, getItemsBody("B08N5WRWNW", "Echo Dot")))

	result, err := client.GetMultipleProducts(context.Background(),
		[]string{"B08N5WRWNW", "B000000000"}, domain.RequestOptions{})

	require.NoError(t, err)
	assert.Len(t, result.Products, 1)
	assert.Contains(t, result.Products, "B08N5WRWNW")
	assert.Equal(t, []string{"B000000000"}, result.Failed)
}

func TestClient_GetMultipleProducts_ServesCachedFirst(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder("POST", testBaseURL+pathGetItems,
		httpmock.NewStringResponder(200, getItemsBody("B08N5WRWNW", "Echo Dot")))

	// Prime the per-product cache.
	_, err := client.GetProduct(context.Background(), "B08N5WRWNW", domain.RequestOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, httpmock.GetTotalCallCount())

	result, err := client.GetMultipleProducts(context.Background(),
		[]string{"B08N5WRWNW"}, domain.RequestOptions{})

	require.NoError(t, err)
	assert.Contains(t, result.Products, "B08N5WRWNW")
	assert.Equal(t, 1, httpmock.GetTotalCallCount(), "cached product must not hit the network")
}

func TestClient_HTTPStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   domain.ErrorKind
	}{
		{"unauthorized", 401, domain.ErrKindAuth},
		{"not found", 404, domain.ErrKindNotFound},
		{"throttled upstream", 429, domain.ErrKindTransient},
		{"server error", 500, domain.ErrKindTransient},
		{"bad request", 400, domain.ErrKindMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t)
			httpmock.RegisterResponder("POST", testBaseURL+pathSearchItems,
				httpmock.NewStringResponder(tt.status, `{}`))

			_, err := client.SearchProducts(context.Background(), "anything", domain.RequestOptions{})

			require.Error(t, err)
			assert.Equal(t, tt.kind, domain.ErrKind(err))
		})
	}
}

func TestClient_UpstreamErrorMessageSurfaced(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder("POST", testBaseURL+pathSearchItems,
		httpmock.NewStringResponder(401,
			`{"Errors":[{"Code":"InvalidSignature","Message":"The request signature is invalid."}]}`))

	_, err := client.SearchProducts(context.Background(), "anything", domain.RequestOptions{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature is invalid")
}

func TestClient_UnsupportedOperations(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.GetReviewsSummary(ctx, "B08N5WRWNW", domain.RequestOptions{})
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindMalformed, domain.ErrKind(err))

	_, err = client.GetBestsellers(ctx, "electronics", domain.RequestOptions{})
	require.Error(t, err)

	_, err = client.GetNewReleases(ctx, "electronics", domain.RequestOptions{})
	require.Error(t, err)

	assert.False(t, client.Supports(domain.OpReviews))
	assert.False(t, client.Supports(domain.OpBestsellers))
}

func TestClient_GetCategories_RequiresNodeIDs(t *testing.T) {
	client := newTestClient(t)

	_, err := client.GetCategories(context.Background(), domain.RequestOptions{})

	require.Error(t, err)
	assert.Equal(t, domain.ErrKindMalformed, domain.ErrKind(err))
}

func TestClient_SetCredentials(t *testing.T) {
	client := newTestClient(t)

	err := client.SetCredentials(map[string]string{"access_key": "AK"})
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindAuth, domain.ErrKind(err))

	// Stored config is untouched by the failed update.
	client.mu.RLock()
	tag := client.cfg.PartnerTag
	client.mu.RUnlock()
	assert.Equal(t, "tag-20", tag)

	err = client.SetCredentials(map[string]string{
		"access_key":  "AKNEW",
		"secret_key":  "secretnew",
		"partner_tag": "newtag-20",
	})
	require.NoError(t, err)

	client.mu.RLock()
	defer client.mu.RUnlock()
	assert.Equal(t, "newtag-20", client.cfg.PartnerTag)
}

func TestClient_TestConnection(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder("POST", testBaseURL+pathSearchItems,
		httpmock.NewStringResponder(200, searchItemsBody()))

	result := client.TestConnection(context.Background())

	assert.True(t, result.Success)
	assert.Equal(t, Key, result.Provider)
	require.NotNil(t, result.Quota)
	assert.Equal(t, Key, result.Quota.Provider)
}

func TestClient_QuotaInfo_FromLocalBudget(t *testing.T) {
	client := newTestClient(t)

	info, err := client.QuotaInfo(context.Background())

	require.NoError(t, err)
	assert.Equal(t, Key, info.Provider)
	assert.Equal(t, 100, info.Limit)
}

func TestSortBy(t *testing.T) {
	assert.Equal(t, "Price:LowToHigh", sortBy("price_asc"))
	assert.Equal(t, "Price:HighToLow", sortBy("price_desc"))
	assert.Equal(t, "AvgCustomerReviews", sortBy("rating"))
	assert.Equal(t, "", sortBy("relevance"))
}

func TestResolveEndpoint_FallsBackToUS(t *testing.T) {
	assert.Equal(t, "webservices.amazon.de", resolveEndpoint("de").Host)
	assert.Equal(t, "webservices.amazon.com", resolveEndpoint("XX").Host)
}
