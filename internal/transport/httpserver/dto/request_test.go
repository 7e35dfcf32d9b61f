package dto

import (
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchRequest_ToOptions(t *testing.T) {
	req := SearchRequest{
		Keyword:     "echo dot",
		Marketplace: "de",
		Sort:        "price_asc",
		MinPrice:    10,
		MaxPrice:    100,
		Page:        2,
		PerPage:     20,
		PrimeOnly:   true,
	}

	opts := req.ToOptions()

	assert.Equal(t, "DE", opts.Marketplace, "marketplace codes are normalized to upper case")
	assert.Equal(t, "price_asc", opts.Sort)
	assert.Equal(t, 10.0, opts.MinPrice)
	assert.Equal(t, 2, opts.Page)
	assert.True(t, opts.PrimeOnly)
}

func TestSearchRequest_Validation(t *testing.T) {
	v := validator.New()

	require.Error(t, v.Struct(SearchRequest{}), "keyword is required")
	require.Error(t, v.Struct(SearchRequest{Keyword: "x", Marketplace: "USA"}))
	require.Error(t, v.Struct(SearchRequest{Keyword: "x", Sort: "cheapest"}))
	require.Error(t, v.Struct(SearchRequest{Keyword: "x", PerPage: 100}))
	assert.NoError(t, v.Struct(SearchRequest{Keyword: "x", Marketplace: "us", Sort: "rating"}))
}

func TestProductRequest_ToOptions(t *testing.T) {
	opts := ProductRequest{Marketplace: "uk", IncludeOffers: true}.ToOptions()

	assert.Equal(t, "UK", opts.Marketplace)
	assert.True(t, opts.IncludeOffers)
	assert.False(t, opts.IncludeReviews)
}

func TestEnqueueRequest_Delay(t *testing.T) {
	assert.Equal(t, time.Duration(0), EnqueueRequest{}.Delay())
	assert.Equal(t, 90*time.Second, EnqueueRequest{DelaySec: 90}.Delay())
}

func TestBulkEnqueueRequest_Validation(t *testing.T) {
	v := validator.New()

	require.Error(t, v.Struct(BulkEnqueueRequest{Action: "fetch_product"}), "payloads are required")

	payloads := make([]map[string]any, 501)
	for i := range payloads {
		payloads[i] = map[string]any{"asin": "A"}
	}
	require.Error(t, v.Struct(BulkEnqueueRequest{Action: "fetch_product", Payloads: payloads}))

	assert.NoError(t, v.Struct(BulkEnqueueRequest{
		Action:   "fetch_product",
		Payloads: []map[string]any{{"asin": "A1"}},
	}))
}
