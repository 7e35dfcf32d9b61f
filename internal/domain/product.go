// Package domain contains the core business logic and entities.
// This package has no external dependencies (only stdlib).
package domain

import "time"

// Product is the normalized product schema shared by all providers.
// Every field has an explicit default so callers never branch on
// missing keys.
type Product struct {
	ASIN         string    `json:"asin"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Price        float64   `json:"price"`
	Currency     string    `json:"currency"`
	Availability string    `json:"availability"`
	URL          string    `json:"url"`
	ImageURL     string    `json:"image_url"`
	Rating       float64   `json:"rating"`
	ReviewsCount int       `json:"reviews_count"`
	IsPrime      bool      `json:"is_prime"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Map converts the product into the loosely-typed form carried inside
// a response envelope.
func (p Product) Map() map[string]any {
	return map[string]any{
		"asin":          p.ASIN,
		"title":         p.Title,
		"description":   p.Description,
		"price":         p.Price,
		"currency":      p.Currency,
		"availability":  p.Availability,
		"url":           p.URL,
		"image_url":     p.ImageURL,
		"rating":        p.Rating,
		"reviews_count": p.ReviewsCount,
		"is_prime":      p.IsPrime,
		"updated_at":    p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// Marketplace is a region/locale scope for a provider. It affects
// currency, endpoint host and catalog.
type Marketplace struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Marketplaces lists every marketplace the system knows about.
// Individual providers may support a subset.
func Marketplaces() []Marketplace {
	return []Marketplace{
		{Code: "US", Name: "United States"},
		{Code: "UK", Name: "United Kingdom"},
		{Code: "DE", Name: "Germany"},
		{Code: "FR", Name: "France"},
		{Code: "JP", Name: "Japan"},
		{Code: "CA", Name: "Canada"},
		{Code: "IT", Name: "Italy"},
		{Code: "ES", Name: "Spain"},
		{Code: "IN", Name: "India"},
		{Code: "MX", Name: "Mexico"},
		{Code: "BR", Name: "Brazil"},
		{Code: "AU", Name: "Australia"},
	}
}

// QuotaInfo reports upstream usage-credit consumption for a provider.
type QuotaInfo struct {
	Provider  string    `json:"provider"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// ConnectionResult is the outcome of a provider connection test.
type ConnectionResult struct {
	Provider string        `json:"provider"`
	Success  bool          `json:"success"`
	Message  string        `json:"message"`
	Latency  time.Duration `json:"latency"`
	Quota    *QuotaInfo    `json:"quota,omitempty"`
}

// ProviderStats tracks advisory per-provider usage counters. They feed
// least-used selection and reporting, never correctness decisions.
type ProviderStats struct {
	Provider          string        `json:"provider"`
	TotalRequests     int64         `json:"total_requests"`
	Successes         int64         `json:"successes"`
	Failures          int64         `json:"failures"`
	TotalResponseTime time.Duration `json:"total_response_time"`
	LastUsed          time.Time     `json:"last_used"`
}

// AvgResponseTime returns the mean response time over successful calls.
func (s ProviderStats) AvgResponseTime() time.Duration {
	if s.Successes == 0 {
		return 0
	}

	return s.TotalResponseTime / time.Duration(s.Successes)
}
