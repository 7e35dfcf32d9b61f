// Package httpserver provides HTTP server and routing.
package httpserver

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"product-data-service/internal/app/service"
	"product-data-service/internal/cache"
	"product-data-service/internal/domain"
	"product-data-service/internal/transport/httpserver/handler"
	"product-data-service/internal/transport/httpserver/middleware"
	"product-data-service/internal/validator"
)

// ServerConfig holds server configuration.
type ServerConfig struct {
	Port      int
	BodyLimit int
	Debug     bool
}

// Server wraps Fiber app with handlers.
type Server struct {
	App    *fiber.App
	Logger *zap.Logger
}

// NewServer creates a new HTTP server with all routes configured.
func NewServer(
	cfg ServerConfig,
	manager *service.Manager,
	queue *service.QueueService,
	responseCache *cache.Cache,
	logs domain.RequestLogRepository,
	db *gorm.DB,
	rdb *redis.Client,
	v *validator.Validator,
	logger *zap.Logger,
) *Server {
	app := fiber.New(fiber.Config{
		AppName:      "product-data-service",
		BodyLimit:    cfg.BodyLimit,
		ErrorHandler: errorHandler(logger),
	})

	// Health check middleware MUST be registered BEFORE other middleware
	// for Kubernetes probes to work even during high load
	app.Use(middleware.NewHealthCheck(db, rdb))

	// Global middleware
	app.Use(requestid.New())
	app.Use(middleware.Recover(logger))
	app.Use(middleware.Logger(logger))
	app.Use(cors.New())
	app.Use(compress.New())

	// Create handlers
	productHandler := handler.NewProductHandler(manager, v, logger)
	queueHandler := handler.NewQueueHandler(queue, v, logger)
	adminHandler := handler.NewAdminHandler(manager, responseCache, logs, v, logger)

	// Register routes
	registerRoutes(app, productHandler, queueHandler, adminHandler)

	return &Server{
		App:    app,
		Logger: logger,
	}
}

// registerRoutes sets up all API routes.
func registerRoutes(
	app *fiber.App,
	productHandler *handler.ProductHandler,
	queueHandler *handler.QueueHandler,
	adminHandler *handler.AdminHandler,
) {
	// Health checks are handled by middleware (/livez, /readyz)

	// API v1 routes
	v1 := app.Group("/api/v1")

	// Product data
	v1.Get("/search", productHandler.Search)
	v1.Get("/categories", productHandler.GetCategories)
	v1.Get("/bestsellers/:category", productHandler.GetBestsellers)
	v1.Get("/new-releases/:category", productHandler.GetNewReleases)

	products := v1.Group("/products")
	products.Get("/", productHandler.GetProducts)
	products.Get("/:asin", productHandler.GetProduct)
	products.Get("/:asin/variations", productHandler.GetVariations)
	products.Get("/:asin/offers", productHandler.GetOffers)
	products.Get("/:asin/reviews", productHandler.GetReviews)

	// Background queue
	jobs := v1.Group("/jobs")
	jobs.Post("/", queueHandler.Enqueue)
	jobs.Post("/bulk", queueHandler.EnqueueBulk)
	jobs.Post("/retry", queueHandler.RetryFailed)
	jobs.Get("/:id", queueHandler.GetJob)
	jobs.Delete("/:id", queueHandler.CancelJob)

	batches := v1.Group("/batches")
	batches.Get("/:id", queueHandler.GetBatch)
	batches.Get("/:id/jobs", queueHandler.GetBatchJobs)
	batches.Delete("/:id", queueHandler.CancelBatch)

	queue := v1.Group("/queue")
	queue.Get("/stats", queueHandler.Stats)
	queue.Post("/process", queueHandler.Process)

	// Admin routes
	admin := v1.Group("/admin")
	admin.Get("/providers", adminHandler.GetProviders)
	admin.Post("/providers/test", adminHandler.TestProviders)
	admin.Post("/providers/:key/test", adminHandler.TestProvider)
	admin.Get("/providers/:key/quota", adminHandler.GetQuota)
	admin.Put("/providers/:key/credentials", adminHandler.SetCredentials)
	admin.Get("/cache/stats", adminHandler.GetCacheStats)
	admin.Delete("/cache", adminHandler.FlushCache)
	admin.Delete("/cache/tags/:tag", adminHandler.ClearCacheTag)
	admin.Get("/logs", adminHandler.GetRequestLogs)
}

// errorHandler returns a custom error handler that logs based on HTTP status code.
// 404s are logged at DEBUG level (expected client behavior), 4xx at WARN, 5xx at ERROR.
func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError

		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		// Log based on status code - 404s are common and not server errors
		switch {
		case code == fiber.StatusNotFound:
			logger.Debug("resource not found",
				zap.String("path", c.Path()),
				zap.String("method", c.Method()),
			)
		case code >= 500:
			logger.Error("server error",
				zap.Error(err),
				zap.Int("status", code),
				zap.String("path", c.Path()),
			)
		case code >= 400:
			logger.Warn("client error",
				zap.Error(err),
				zap.Int("status", code),
				zap.String("path", c.Path()),
			)
		default:
			logger.Error("unhandled error",
				zap.Error(err),
				zap.Int("status", code),
				zap.String("path", c.Path()),
			)
		}

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "UNHANDLED_ERROR",
		})
	}
}

// Start starts the HTTP server.
func (s *Server) Start(port int) error {
	s.Logger.Info("starting HTTP server", zap.Int("port", port))

	return s.App.Listen(fmt.Sprintf(":%d", port))
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.Logger.Info("shutting down HTTP server")

	return s.App.Shutdown()
}
