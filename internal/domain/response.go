package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ResponseType describes the payload shape carried by a Response.
type ResponseType string

const (
	ResponseTypeProduct ResponseType = "product"
	ResponseTypeSearch  ResponseType = "search"
	ResponseTypeError   ResponseType = "error"
	ResponseTypeUnknown ResponseType = "unknown"
)

// Metadata carries request bookkeeping attached to every response.
type Metadata struct {
	Timestamp     time.Time     `json:"timestamp"`
	ExecutionTime time.Duration `json:"execution_time"`
	CreditsUsed   int           `json:"credits_used"`
	Provider      string        `json:"provider"`
	CacheHit      bool          `json:"cache_hit"`
	APIVersion    string        `json:"api_version"`
}

// ErrorInfo describes a failed response. Present iff Success is false.
type ErrorInfo struct {
	Message string         `json:"message"`
	Code    int            `json:"code"`
	Details map[string]any `json:"details,omitempty"`
	Type    string         `json:"type"`
}

// Response is the uniform envelope wrapping every provider result.
// Invariant: Err != nil exactly when Success is false; Meta is always
// populated with defaults.
type Response struct {
	Success bool            `json:"success"`
	Type    ResponseType    `json:"type"`
	Data    map[string]any  `json:"data"`
	Meta    Metadata        `json:"meta"`
	Err     *ErrorInfo      `json:"error,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// NewResponse creates an envelope with defaulted metadata.
func NewResponse(data map[string]any, meta Metadata, typ ResponseType) *Response {
	if data == nil {
		data = map[string]any{}
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}

	return &Response{
		Success: true,
		Type:    typ,
		Data:    data,
		Meta:    meta,
	}
}

// NewProductResponse wraps a single product payload.
func NewProductResponse(product map[string]any, meta Metadata) *Response {
	return NewResponse(product, meta, ResponseTypeProduct)
}

// NewSearchResponse wraps a list of products with pagination counters.
func NewSearchResponse(products []map[string]any, meta Metadata) *Response {
	if products == nil {
		products = []map[string]any{}
	}
	data := map[string]any{
		"products":      products,
		"total_results": len(products),
		"current_page":  1,
		"total_pages":   1,
	}

	return NewResponse(data, meta, ResponseTypeSearch)
}

// NewErrorResponse wraps a failure. Success is false and Err is set.
func NewErrorResponse(message string, code int, details map[string]any) *Response {
	r := NewResponse(nil, Metadata{}, ResponseTypeError)
	r.Success = false
	r.Err = &ErrorInfo{
		Message: message,
		Code:    code,
		Details: details,
		Type:    "api_error",
	}

	return r
}

// ResponseFromError converts a typed provider failure into an envelope.
func ResponseFromError(err *APIError) *Response {
	r := NewErrorResponse(err.Message, err.Code, err.Details)
	r.Err.Type = string(err.Kind)
	r.Meta.Provider = err.Provider

	return r
}

// RawParser populates an envelope from an arbitrary upstream payload.
// Each provider registers its own parser under its key.
type RawParser func(raw []byte, r *Response) error

var (
	parserMu sync.RWMutex
	parsers  = map[string]RawParser{}
)

// RegisterParser installs a provider-specific raw payload parser.
// Registering again for the same key replaces the previous parser.
func RegisterParser(provider string, p RawParser) {
	parserMu.Lock()
	defer parserMu.Unlock()
	parsers[provider] = p
}

// FromRaw builds an envelope from a raw upstream payload, dispatching
// to the provider's registered parser. Without a registered parser the
// payload is decoded generically as a JSON object.
func FromRaw(raw []byte, provider string, typ ResponseType) *Response {
	r := NewResponse(nil, Metadata{Provider: provider}, typ)
	r.Raw = append(json.RawMessage(nil), raw...)

	parserMu.RLock()
	p, ok := parsers[provider]
	parserMu.RUnlock()

	if ok {
		if err := p(raw, r); err != nil {
			r.Success = false
			r.Err = &ErrorInfo{
				Message: err.Error(),
				Type:    string(ErrKindMalformed),
			}
		}

		return r
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		r.Success = false
		r.Err = &ErrorInfo{
			Message: fmt.Sprintf("unparsable payload: %v", err),
			Type:    string(ErrKindMalformed),
		}

		return r
	}
	r.Data = data

	return r
}

// Get returns a data field or the default when absent.
func (r *Response) Get(key string, def any) any {
	if v, ok := r.Data[key]; ok {
		return v
	}

	return def
}

// Set stores a data field.
func (r *Response) Set(key string, value any) *Response {
	r.Data[key] = value

	return r
}

// Has reports whether a data field exists.
func (r *Response) Has(key string) bool {
	_, ok := r.Data[key]

	return ok
}

// IsError reports whether the envelope carries a failure.
func (r *Response) IsError() bool {
	return !r.Success
}

// ErrorMessage returns the failure message, or "" for successes.
func (r *Response) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}

	return r.Err.Message
}

// Products returns the product list regardless of envelope shape:
// search envelopes return their result list, product envelopes return
// a single-element list, everything else returns an empty list.
func (r *Response) Products() []map[string]any {
	switch r.Type {
	case ResponseTypeSearch:
		return r.productList()
	case ResponseTypeProduct:
		if len(r.Data) == 0 {
			return []map[string]any{}
		}

		return []map[string]any{r.Data}
	default:
		return []map[string]any{}
	}
}

// Pagination describes the page window of a search envelope.
type Pagination struct {
	CurrentPage  int  `json:"current_page"`
	TotalPages   int  `json:"total_pages"`
	TotalResults int  `json:"total_results"`
	PerPage      int  `json:"per_page"`
	HasNext      bool `json:"has_next"`
	HasPrevious  bool `json:"has_previous"`
}

// Pagination derives page info from stored counts, defaulting missing
// fields to page 1 of 1.
func (r *Response) Pagination() Pagination {
	current := r.intField("current_page", 1)
	total := r.intField("total_pages", 1)

	return Pagination{
		CurrentPage:  current,
		TotalPages:   total,
		TotalResults: r.intField("total_results", 0),
		PerPage:      r.intField("per_page", 10),
		HasNext:      current < total,
		HasPrevious:  current > 1,
	}
}

// FilterProducts keeps only products matching the predicate.
// Only applies to search envelopes.
func (r *Response) FilterProducts(keep func(map[string]any) bool) *Response {
	if r.Type != ResponseTypeSearch {
		return r
	}

	products := r.productList()
	filtered := make([]map[string]any, 0, len(products))
	for _, p := range products {
		if keep(p) {
			filtered = append(filtered, p)
		}
	}

	r.Data["products"] = filtered
	r.Data["total_results"] = len(filtered)

	return r
}

// MapProducts transforms every product in place.
// Only applies to search envelopes.
func (r *Response) MapProducts(fn func(map[string]any) map[string]any) *Response {
	if r.Type != ResponseTypeSearch {
		return r
	}

	products := r.productList()
	for i, p := range products {
		products[i] = fn(p)
	}
	r.Data["products"] = products

	return r
}

// SortProducts orders products by a field. The sort is stable, so
// products comparing equal keep their insertion order.
// Only applies to search envelopes.
func (r *Response) SortProducts(field string, descending bool) *Response {
	if r.Type != ResponseTypeSearch {
		return r
	}

	products := r.productList()
	sort.SliceStable(products, func(i, j int) bool {
		cmp := compareFields(products[i][field], products[j][field])
		if descending {
			return cmp > 0
		}

		return cmp < 0
	})
	r.Data["products"] = products

	return r
}

// Paginate slices the product list to the requested page window and
// rewrites the pagination counters. Only applies to search envelopes.
func (r *Response) Paginate(page, perPage int) *Response {
	if r.Type != ResponseTypeSearch {
		return r
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}

	products := r.productList()
	total := len(products)
	offset := (page - 1) * perPage

	switch {
	case offset >= total:
		products = []map[string]any{}
	case offset+perPage > total:
		products = products[offset:]
	default:
		products = products[offset : offset+perPage]
	}

	r.Data["products"] = products
	r.Data["current_page"] = page
	r.Data["per_page"] = perPage
	r.Data["total_pages"] = (total + perPage - 1) / perPage
	r.Data["total_results"] = total

	return r
}

// Merge folds another envelope into this one. Two search envelopes
// concatenate product lists and recompute the total; any other pair
// shallow-merges data with the other side winning key conflicts.
// Execution time and credits are always summed.
func (r *Response) Merge(other *Response) *Response {
	if other == nil {
		return r
	}

	if r.Type == ResponseTypeSearch && other.Type == ResponseTypeSearch {
		merged := append(r.productList(), other.productList()...)
		r.Data["products"] = merged
		r.Data["total_results"] = len(merged)
	} else {
		for k, v := range other.Data {
			r.Data[k] = v
		}
	}

	r.Meta.ExecutionTime += other.Meta.ExecutionTime
	r.Meta.CreditsUsed += other.Meta.CreditsUsed

	return r
}

// productList coerces the products field into its concrete shape.
// JSON round-trips through the cache decode lists as []any, so both
// representations are handled.
func (r *Response) productList() []map[string]any {
	switch v := r.Data["products"].(type) {
	case []map[string]any:
		return v
	case []any:
		products := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				products = append(products, m)
			}
		}
		r.Data["products"] = products

		return products
	default:
		return []map[string]any{}
	}
}

func (r *Response) intField(key string, def int) int {
	switch v := r.Data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// compareFields orders two loosely-typed field values. Numbers compare
// numerically, everything else compares as strings.
func compareFields(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	as := fmt.Sprintf("%v", a)
	bs := fmt.Sprintf("%v", b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
