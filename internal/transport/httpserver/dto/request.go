// Package dto defines the HTTP request and response shapes.
package dto

import (
	"strings"
	"time"

	"product-data-service/internal/domain"
)

// SearchRequest holds the query parameters for product search.
type SearchRequest struct {
	Keyword     string  `query:"keyword" json:"keyword" validate:"required,min=1,max=200"`
	Marketplace string  `query:"marketplace" json:"marketplace" validate:"omitempty,len=2"`
	Category    string  `query:"category" json:"category"`
	Brand       string  `query:"brand" json:"brand"`
	Condition   string  `query:"condition" json:"condition" validate:"omitempty,oneof=new used refurbished"`
	Sort        string  `query:"sort" json:"sort" validate:"omitempty,oneof=price_asc price_desc rating newest relevance"`
	MinPrice    float64 `query:"min_price" json:"min_price" validate:"omitempty,min=0"`
	MaxPrice    float64 `query:"max_price" json:"max_price" validate:"omitempty,min=0"`
	MinRating   float64 `query:"min_rating" json:"min_rating" validate:"omitempty,min=0,max=5"`
	Page        int     `query:"page" json:"page" validate:"omitempty,min=1"`
	PerPage     int     `query:"per_page" json:"per_page" validate:"omitempty,min=1,max=50"`
	PrimeOnly   bool    `query:"prime_only" json:"prime_only"`
}

// ToOptions converts the request into shared request options.
func (r SearchRequest) ToOptions() domain.RequestOptions {
	return domain.RequestOptions{
		Marketplace: strings.ToUpper(r.Marketplace),
		Category:    r.Category,
		Brand:       r.Brand,
		Condition:   r.Condition,
		Sort:        r.Sort,
		MinPrice:    r.MinPrice,
		MaxPrice:    r.MaxPrice,
		MinRating:   r.MinRating,
		Page:        r.Page,
		PerPage:     r.PerPage,
		PrimeOnly:   r.PrimeOnly,
	}
}

// ProductRequest holds the query parameters for single-product
// lookups.
type ProductRequest struct {
	Marketplace       string `query:"marketplace" json:"marketplace" validate:"omitempty,len=2"`
	IncludeReviews    bool   `query:"include_reviews" json:"include_reviews"`
	IncludeOffers     bool   `query:"include_offers" json:"include_offers"`
	IncludeVariations bool   `query:"include_variations" json:"include_variations"`
	Page              int    `query:"page" json:"page" validate:"omitempty,min=1"`
}

// ToOptions converts the request into shared request options.
func (r ProductRequest) ToOptions() domain.RequestOptions {
	return domain.RequestOptions{
		Marketplace:       strings.ToUpper(r.Marketplace),
		IncludeReviews:    r.IncludeReviews,
		IncludeOffers:     r.IncludeOffers,
		IncludeVariations: r.IncludeVariations,
		Page:              r.Page,
	}
}

// EnqueueRequest is the body for POST /jobs.
type EnqueueRequest struct {
	Action     string         `json:"action" validate:"required,min=1,max=100"`
	Payload    map[string]any `json:"payload" validate:"required"`
	Provider   string         `json:"provider"`
	Priority   int            `json:"priority" validate:"omitempty,min=1,max=100"`
	MaxRetries int            `json:"max_retries" validate:"omitempty,min=1,max=10"`
	DelaySec   int            `json:"delay_seconds" validate:"omitempty,min=0"`
}

// Delay returns the enqueue delay as a duration.
func (r EnqueueRequest) Delay() time.Duration {
	return time.Duration(r.DelaySec) * time.Second
}

// BulkEnqueueRequest is the body for POST /jobs/bulk.
type BulkEnqueueRequest struct {
	Action   string           `json:"action" validate:"required,min=1,max=100"`
	Payloads []map[string]any `json:"payloads" validate:"required,min=1,max=500"`
	Provider string           `json:"provider"`
	Priority int              `json:"priority" validate:"omitempty,min=1,max=100"`
}

// RetryRequest is the body for POST /jobs/retry.
type RetryRequest struct {
	BatchID string `json:"batch_id"`
}

// CredentialsRequest is the body for PUT /admin/providers/:key/credentials.
type CredentialsRequest struct {
	Credentials map[string]string `json:"credentials" validate:"required,min=1"`
}
