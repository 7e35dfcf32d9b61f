package rainforest

import (
	"encoding/json"
	"time"

	"product-data-service/internal/domain"
)

type apiResponse struct {
	RequestInfo   requestInfo     `json:"request_info"`
	Product       *rfProduct      `json:"product"`
	SearchResults []rfProduct     `json:"search_results"`
	Bestsellers   []rfProduct     `json:"bestsellers"`
	NewReleases   []rfProduct     `json:"new_releases"`
	Variants      []rfProduct     `json:"variants"`
	Offers        json.RawMessage `json:"offers"`
	Reviews       json.RawMessage `json:"reviews"`
	Summary       json.RawMessage `json:"summary"`
	Categories    json.RawMessage `json:"categories"`
	Pagination    *rfPagination   `json:"pagination"`
}

type requestInfo struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	CreditsUsed      int    `json:"credits_used"`
	CreditsRemaining int    `json:"credits_remaining"`
	CreditsResetAt   string `json:"credits_reset_at"`
}

type rfPagination struct {
	TotalPages   int `json:"total_pages"`
	CurrentPage  int `json:"current_page"`
	TotalResults int `json:"total_results"`
}

type rfProduct struct {
	ASIN         string   `json:"asin"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Link         string   `json:"link"`
	Image        string   `json:"image"`
	MainImage    *rfImage `json:"main_image"`
	Rating       float64  `json:"rating"`
	RatingsTotal int      `json:"ratings_total"`
	IsPrime      bool     `json:"is_prime"`
	Price        *rfPrice `json:"price"`
	BuyboxWinner *struct {
		Price        *rfPrice `json:"price"`
		Availability *struct {
			Raw string `json:"raw"`
		} `json:"availability"`
		IsPrime bool `json:"is_prime"`
	} `json:"buybox_winner"`
}

type rfImage struct {
	Link string `json:"link"`
}

type rfPrice struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

// toProduct normalizes an upstream product into the shared schema.
func (p rfProduct) toProduct(now time.Time) domain.Product {
	out := domain.Product{
		ASIN:         p.ASIN,
		Title:        p.Title,
		Description:  p.Description,
		URL:          p.Link,
		ImageURL:     p.Image,
		Rating:       p.Rating,
		ReviewsCount: p.RatingsTotal,
		IsPrime:      p.IsPrime,
		UpdatedAt:    now,
	}

	if p.MainImage != nil && p.MainImage.Link != "" {
		out.ImageURL = p.MainImage.Link
	}
	if p.Price != nil {
		out.Price = p.Price.Value
		out.Currency = p.Price.Currency
	}
	if p.BuyboxWinner != nil {
		if p.BuyboxWinner.Price != nil {
			out.Price = p.BuyboxWinner.Price.Value
			out.Currency = p.BuyboxWinner.Price.Currency
		}
		if p.BuyboxWinner.Availability != nil {
			out.Availability = p.BuyboxWinner.Availability.Raw
		}
		if p.BuyboxWinner.IsPrime {
			out.IsPrime = true
		}
	}

	return out
}
