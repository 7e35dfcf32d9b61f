package handler

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"product-data-service/internal/app/service"
	"product-data-service/internal/cache"
	"product-data-service/internal/domain"
	"product-data-service/internal/transport/httpserver/dto"
	"product-data-service/internal/validator"
)

// AdminHandler serves provider, cache and request-log administration.
type AdminHandler struct {
	manager   *service.Manager
	cache     *cache.Cache
	logs      domain.RequestLogRepository
	validator *validator.Validator
	logger    *zap.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(m *service.Manager, ch *cache.Cache, logs domain.RequestLogRepository, v *validator.Validator, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		manager:   m,
		cache:     ch,
		logs:      logs,
		validator: v,
		logger:    logger,
	}
}

// GetProviders handles GET /api/v1/admin/providers
func (h *AdminHandler) GetProviders(c *fiber.Ctx) error {
	stats := h.manager.Stats()

	providers := make([]dto.ProviderResponse, 0)
	for _, key := range h.manager.ProviderKeys() {
		p, ok := h.manager.Provider(key)
		if !ok {
			continue
		}

		resp := dto.ProviderResponse{
			Key:          p.Key(),
			Capabilities: domain.OperationNames(p.Capabilities()),
			BulkLimit:    p.BulkLimit(),
			Marketplaces: p.SupportedMarketplaces(),
		}
		if s, ok := stats[key]; ok {
			resp.Stats = dto.FromProviderStats(s)
		}
		if lastErr := p.LastError(); lastErr != nil {
			resp.LastError = lastErr.Error()
		}

		providers = append(providers, resp)
	}

	return c.JSON(fiber.Map{"providers": providers})
}

// TestProvider handles POST /api/v1/admin/providers/:key/test
func (h *AdminHandler) TestProvider(c *fiber.Ctx) error {
	key := c.Params("key")

	result, ok := h.manager.TestConnection(c.Context(), key)
	if !ok {
		return unknownProvider(c, key)
	}

	return c.JSON(result)
}

// TestProviders handles POST /api/v1/admin/providers/test
func (h *AdminHandler) TestProviders(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"results": h.manager.TestConnections(c.Context())})
}

// GetQuota handles GET /api/v1/admin/providers/:key/quota
func (h *AdminHandler) GetQuota(c *fiber.Ctx) error {
	key := c.Params("key")

	quota, err := h.manager.QuotaInfo(c.Context(), key)
	if err != nil {
		if _, ok := h.manager.Provider(key); !ok {
			return unknownProvider(c, key)
		}
		h.logger.Error("quota lookup failed", zap.String("provider", key), zap.Error(err))

		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{
			Error: "failed to get quota info",
			Code:  "QUOTA_UNAVAILABLE",
		})
	}

	return c.JSON(quota)
}

// SetCredentials handles PUT /api/v1/admin/providers/:key/credentials
func (h *AdminHandler) SetCredentials(c *fiber.Ctx) error {
	key := c.Params("key")

	p, ok := h.manager.Provider(key)
	if !ok {
		return unknownProvider(c, key)
	}

	var req dto.CredentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "invalid request body",
			Code:  "INVALID_BODY",
		})
	}

	if err := h.validator.Validate(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error:   "validation failed",
			Code:    "VALIDATION_ERROR",
			Details: err,
		})
	}

	if err := p.SetCredentials(req.Credentials); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{
			Error: err.Error(),
			Code:  "INVALID_CREDENTIALS",
		})
	}

	h.logger.Info("provider credentials updated", zap.String("provider", key))

	return c.JSON(fiber.Map{"updated": true})
}

// GetCacheStats handles GET /api/v1/admin/cache/stats
func (h *AdminHandler) GetCacheStats(c *fiber.Ctx) error {
	return c.JSON(dto.FromCacheStats(h.cache.Statistics()))
}

// FlushCache handles DELETE /api/v1/admin/cache
func (h *AdminHandler) FlushCache(c *fiber.Ctx) error {
	if err := h.cache.ClearAll(c.Context()); err != nil {
		h.logger.Error("cache flush failed", zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: "failed to flush cache",
			Code:  "INTERNAL_ERROR",
		})
	}

	return c.JSON(fiber.Map{"flushed": true})
}

// ClearCacheTag handles DELETE /api/v1/admin/cache/tags/:tag
func (h *AdminHandler) ClearCacheTag(c *fiber.Ctx) error {
	tag := c.Params("tag")
	if tag == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: "tag is required",
			Code:  "MISSING_TAG",
		})
	}

	deleted := h.cache.DeleteByTag(c.Context(), tag)

	return c.JSON(fiber.Map{
		"tag":     tag,
		"deleted": deleted,
	})
}

// GetRequestLogs handles GET /api/v1/admin/logs
func (h *AdminHandler) GetRequestLogs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	logs, err := h.logs.Recent(c.Context(), limit)
	if err != nil {
		h.logger.Error("request log lookup failed", zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: "failed to get request logs",
			Code:  "INTERNAL_ERROR",
		})
	}

	return c.JSON(fiber.Map{"logs": dto.FromRequestLogs(logs)})
}

func unknownProvider(c *fiber.Ctx, key string) error {
	return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
		Error: "unknown provider: " + key,
		Code:  "UNKNOWN_PROVIDER",
	})
}
