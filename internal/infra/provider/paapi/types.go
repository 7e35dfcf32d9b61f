package paapi

import (
	"encoding/json"
	"time"

	"product-data-service/internal/domain"
)

// defaultResources are the response groups requested on every item
// lookup.
var defaultResources = []string{
	"ItemInfo.Title",
	"ItemInfo.Features",
	"ItemInfo.ByLineInfo",
	"Offers.Listings.Price",
	"Offers.Listings.Availability.Message",
	"Offers.Listings.DeliveryInfo.IsPrimeEligible",
	"Images.Primary.Large",
}

type searchRequest struct {
	Keywords    string   `json:"Keywords"`
	PartnerTag  string   `json:"PartnerTag"`
	PartnerType string   `json:"PartnerType"`
	Marketplace string   `json:"Marketplace"`
	ItemPage    int      `json:"ItemPage,omitempty"`
	ItemCount   int      `json:"ItemCount,omitempty"`
	SortBy      string   `json:"SortBy,omitempty"`
	Brand       string   `json:"Brand,omitempty"`
	Resources   []string `json:"Resources"`
}

type getItemsRequest struct {
	ItemIds     []string `json:"ItemIds"`
	PartnerTag  string   `json:"PartnerTag"`
	PartnerType string   `json:"PartnerType"`
	Marketplace string   `json:"Marketplace"`
	Resources   []string `json:"Resources"`
}

type getVariationsRequest struct {
	ASIN          string   `json:"ASIN"`
	PartnerTag    string   `json:"PartnerTag"`
	PartnerType   string   `json:"PartnerType"`
	Marketplace   string   `json:"Marketplace"`
	VariationPage int      `json:"VariationPage,omitempty"`
	Resources     []string `json:"Resources"`
}

type getBrowseNodesRequest struct {
	BrowseNodeIds []string `json:"BrowseNodeIds"`
	PartnerTag    string   `json:"PartnerTag"`
	PartnerType   string   `json:"PartnerType"`
	Marketplace   string   `json:"Marketplace"`
	Resources     []string `json:"Resources"`
}

type apiResponse struct {
	SearchResult      *searchResult   `json:"SearchResult"`
	ItemsResult       *itemsResult    `json:"ItemsResult"`
	VariationsResult  *itemsResult    `json:"VariationsResult"`
	BrowseNodesResult json.RawMessage `json:"BrowseNodesResult"`
	Errors            []apiError      `json:"Errors"`
}

type apiError struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
}

type searchResult struct {
	TotalResultCount int    `json:"TotalResultCount"`
	Items            []item `json:"Items"`
}

type itemsResult struct {
	Items []item `json:"Items"`
}

type item struct {
	ASIN          string    `json:"ASIN"`
	DetailPageURL string    `json:"DetailPageURL"`
	ItemInfo      *itemInfo `json:"ItemInfo"`
	Offers        *offers   `json:"Offers"`
	Images        *images   `json:"Images"`
}

type itemInfo struct {
	Title    *displayValue `json:"Title"`
	Features *struct {
		DisplayValues []string `json:"DisplayValues"`
	} `json:"Features"`
}

type displayValue struct {
	DisplayValue string `json:"DisplayValue"`
}

type offers struct {
	Listings []listing `json:"Listings"`
}

type listing struct {
	Price *struct {
		Amount   float64 `json:"Amount"`
		Currency string  `json:"Currency"`
	} `json:"Price"`
	Availability *struct {
		Message string `json:"Message"`
	} `json:"Availability"`
	DeliveryInfo *struct {
		IsPrimeEligible bool `json:"IsPrimeEligible"`
	} `json:"DeliveryInfo"`
}

type images struct {
	Primary *struct {
		Large *struct {
			URL string `json:"URL"`
		} `json:"Large"`
	} `json:"Primary"`
}

// toProduct normalizes an upstream item into the shared schema.
func (i item) toProduct(now time.Time) domain.Product {
	p := domain.Product{
		ASIN:      i.ASIN,
		URL:       i.DetailPageURL,
		UpdatedAt: now,
	}

	if i.ItemInfo != nil {
		if i.ItemInfo.Title != nil {
			p.Title = i.ItemInfo.Title.DisplayValue
		}
		if i.ItemInfo.Features != nil && len(i.ItemInfo.Features.DisplayValues) > 0 {
			p.Description = i.ItemInfo.Features.DisplayValues[0]
		}
	}

	if i.Offers != nil && len(i.Offers.Listings) > 0 {
		l := i.Offers.Listings[0]
		if l.Price != nil {
			p.Price = l.Price.Amount
			p.Currency = l.Price.Currency
		}
		if l.Availability != nil {
			p.Availability = l.Availability.Message
		}
		if l.DeliveryInfo != nil {
			p.IsPrime = l.DeliveryInfo.IsPrimeEligible
		}
	}

	if i.Images != nil && i.Images.Primary != nil && i.Images.Primary.Large != nil {
		p.ImageURL = i.Images.Primary.Large.URL
	}

	return p
}
