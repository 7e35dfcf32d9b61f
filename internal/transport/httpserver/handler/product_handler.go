// Package handler provides HTTP handlers for the API.
package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"product-data-service/internal/app/service"
	"product-data-service/internal/domain"
	"product-data-service/internal/transport/httpserver/dto"
	"product-data-service/internal/validator"
)

// maxBulkASINs caps one multi-product request.
const maxBulkASINs = 100

// ProductHandler serves product data through the provider manager.
type ProductHandler struct {
	manager   *service.Manager
	validator *validator.Validator
	logger    *zap.Logger
}

// NewProductHandler creates a new ProductHandler.
func NewProductHandler(m *service.Manager, v *validator.Validator, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{
		manager:   m,
		validator: v,
		logger:    logger,
	}
}

// Search handles GET /api/v1/search
func (h *ProductHandler) Search(c *fiber.Ctx) error {
	var req dto.SearchRequest
	if err := c.QueryParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "invalid query parameters",
			Code:  "INVALID_PARAMS",
		})
	}

	if err := h.validator.Validate(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error:   "validation failed",
			Code:    "VALIDATION_ERROR",
			Details: err,
		})
	}

	resp := h.manager.SearchProducts(c.Context(), req.Keyword, req.ToOptions())

	return h.envelope(c, resp)
}

// GetProduct handles GET /api/v1/products/:asin
func (h *ProductHandler) GetProduct(c *fiber.Ctx) error {
	asin := c.Params("asin")
	if asin == "" {
		return missingASIN(c)
	}

	req, ok := h.productRequest(c)
	if !ok {
		return nil
	}

	resp := h.manager.GetProduct(c.Context(), asin, req.ToOptions())

	return h.envelope(c, resp)
}

// GetProducts handles GET /api/v1/products?asins=B01,B02
func (h *ProductHandler) GetProducts(c *fiber.Ctx) error {
	asins := splitASINs(c.Query("asins"))
	if len(asins) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "asins query parameter is required",
			Code:  "MISSING_ASINS",
		})
	}
	if len(asins) > maxBulkASINs {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "too many asins requested",
			Code:  "TOO_MANY_ASINS",
		})
	}

	req, ok := h.productRequest(c)
	if !ok {
		return nil
	}

	result := h.manager.GetMultipleProducts(c.Context(), asins, req.ToOptions())
	if result == nil {
		return providersExhausted(c)
	}

	return c.JSON(result)
}

// GetVariations handles GET /api/v1/products/:asin/variations
func (h *ProductHandler) GetVariations(c *fiber.Ctx) error {
	asin := c.Params("asin")
	if asin == "" {
		return missingASIN(c)
	}

	req, ok := h.productRequest(c)
	if !ok {
		return nil
	}

	resp := h.manager.GetVariations(c.Context(), asin, req.ToOptions())

	return h.envelope(c, resp)
}

// GetOffers handles GET /api/v1/products/:asin/offers
func (h *ProductHandler) GetOffers(c *fiber.Ctx) error {
	asin := c.Params("asin")
	if asin == "" {
		return missingASIN(c)
	}

	req, ok := h.productRequest(c)
	if !ok {
		return nil
	}

	resp := h.manager.GetOffers(c.Context(), asin, req.ToOptions())

	return h.envelope(c, resp)
}

// GetReviews handles GET /api/v1/products/:asin/reviews
func (h *ProductHandler) GetReviews(c *fiber.Ctx) error {
	asin := c.Params("asin")
	if asin == "" {
		return missingASIN(c)
	}

	req, ok := h.productRequest(c)
	if !ok {
		return nil
	}

	resp := h.manager.GetReviewsSummary(c.Context(), asin, req.ToOptions())

	return h.envelope(c, resp)
}

// GetBestsellers handles GET /api/v1/bestsellers/:category
func (h *ProductHandler) GetBestsellers(c *fiber.Ctx) error {
	category := c.Params("category")
	if category == "" {
		return missingCategory(c)
	}

	req, ok := h.productRequest(c)
	if !ok {
		return nil
	}

	resp := h.manager.GetBestsellers(c.Context(), category, req.ToOptions())

	return h.envelope(c, resp)
}

// GetNewReleases handles GET /api/v1/new-releases/:category
func (h *ProductHandler) GetNewReleases(c *fiber.Ctx) error {
	category := c.Params("category")
	if category == "" {
		return missingCategory(c)
	}

	req, ok := h.productRequest(c)
	if !ok {
		return nil
	}

	resp := h.manager.GetNewReleases(c.Context(), category, req.ToOptions())

	return h.envelope(c, resp)
}

// GetCategories handles GET /api/v1/categories
func (h *ProductHandler) GetCategories(c *fiber.Ctx) error {
	req, ok := h.productRequest(c)
	if !ok {
		return nil
	}

	resp := h.manager.GetCategories(c.Context(), req.ToOptions())

	return h.envelope(c, resp)
}

// envelope writes a provider response, mapping failure kinds to HTTP
// statuses. A nil response means every candidate provider failed.
func (h *ProductHandler) envelope(c *fiber.Ctx, resp *domain.Response) error {
	if resp == nil {
		return providersExhausted(c)
	}

	if resp.IsError() {
		status := fiber.StatusBadGateway
		if resp.Err != nil {
			switch domain.ErrorKind(resp.Err.Type) {
			case domain.ErrKindNotFound:
				status = fiber.StatusNotFound
			case domain.ErrKindQuota:
				status = fiber.StatusTooManyRequests
			case domain.ErrKindAuth:
				status = fiber.StatusBadGateway
			}
		}

		return c.Status(status).JSON(resp)
	}

	return c.JSON(resp)
}

// productRequest parses and validates the shared product query
// parameters, writing the error response itself on failure.
func (h *ProductHandler) productRequest(c *fiber.Ctx) (dto.ProductRequest, bool) {
	var req dto.ProductRequest
	if err := c.QueryParser(&req); err != nil {
		_ = c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "invalid query parameters",
			Code:  "INVALID_PARAMS",
		})

		return req, false
	}

	if err := h.validator.Validate(&req); err != nil {
		_ = c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error:   "validation failed",
			Code:    "VALIDATION_ERROR",
			Details: err,
		})

		return req, false
	}

	return req, true
}

func splitASINs(raw string) []string {
	parts := strings.Split(raw, ",")
	asins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			asins = append(asins, p)
		}
	}

	return asins
}

func missingASIN(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error: "asin is required",
		Code:  "MISSING_ASIN",
	})
}

func missingCategory(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
		Error: "category is required",
		Code:  "MISSING_CATEGORY",
	})
}

func providersExhausted(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{
		Error: "no provider could serve the request",
		Code:  "PROVIDERS_EXHAUSTED",
	})
}
