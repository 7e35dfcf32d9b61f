// Package main is the entry point for the product-data-service API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"product-data-service/internal/app/service"
	"product-data-service/internal/cache"
	"product-data-service/internal/config"
	"product-data-service/internal/infra/postgres"
	"product-data-service/internal/infra/postgres/migrations"
	"product-data-service/internal/infra/provider"
	"product-data-service/internal/infra/provider/registry"
	redisinfra "product-data-service/internal/infra/redis"
	"product-data-service/internal/job"
	"product-data-service/internal/logger"
	"product-data-service/internal/ratelimit"
	"product-data-service/internal/transport/httpserver"
	"product-data-service/internal/validator"
	"product-data-service/pkg/locker"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(
		logger.Config{
			Level:  cfg.Logger.Level,
			Format: cfg.Logger.Format,
			Output: cfg.Logger.Output,
		},
		logger.SentryConfig{
			Enabled:     cfg.Sentry.Enabled,
			DSN:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			SampleRate:  cfg.Sentry.SampleRate,
		},
	)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting product-data-service",
		zap.String("env", cfg.App.Env),
		zap.Int("port", cfg.App.Port),
	)

	// Connect to database
	db, err := postgres.NewConnection(
		postgres.Config{
			Host:         cfg.Database.Host,
			Port:         cfg.Database.Port,
			Name:         cfg.Database.Name,
			User:         cfg.Database.User,
			Password:     cfg.Database.Password,
			SSLMode:      cfg.Database.SSLMode,
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
			MaxLifetime:  cfg.Database.MaxLifetime,
		},
		log.Logger,
	)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer func() { _ = postgres.Close(db) }()

	// Run migrations
	if err := migrations.Run(db); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}
	log.Info("database migrations completed")

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer func() { _ = redisClient.Close() }()
	log.Info("connected to Redis",
		zap.String("host", cfg.Redis.Host),
		zap.Int("port", cfg.Redis.Port),
	)

	// Redis backs the cache entries, the tag registry and the
	// rate-limit counters through one store.
	store := redisinfra.NewStore(redisClient, log.Logger, cfg.Cache.KeyPrefix)

	// Create cache layer
	responseCache := cache.New(store, cache.Config{
		Enabled:    cfg.Cache.Enabled,
		DefaultTTL: cfg.Cache.DefaultTTL,
		TTLs:       cfg.Cache.TTLs,
	}, log.Logger)
	responseCache.LoadStatistics(ctx)

	// Create rate limiter
	limiterRules := make(map[string]ratelimit.Rule, len(cfg.RateLimit.Rules))
	for scope, rule := range cfg.RateLimit.Rules {
		limiterRules[scope] = ratelimit.Rule{Limit: rule.Limit, Window: rule.Window}
	}
	limiter := ratelimit.New(store, ratelimit.Config{
		Default: ratelimit.Rule{Limit: cfg.RateLimit.Default.Limit, Window: cfg.RateLimit.Default.Window},
		Rules:   limiterRules,
	}, log.Logger)

	// Create repositories
	jobRepo := postgres.NewJobRepository(db)
	logRepo := postgres.NewLogRepository(db)
	statsRepo := postgres.NewStatsRepository(db)

	// Create provider clients
	providers := registry.NewProviders(cfg.Provider, provider.Deps{
		Limiter: limiter,
		Cache:   responseCache,
		Logs:    logRepo,
		Logger:  log.Logger,
	})
	if len(providers) == 0 {
		log.Warn("no providers enabled, product endpoints will fail")
	}

	// Create provider manager
	manager := service.NewManager(service.ManagerConfig{
		Policy:          service.Policy(cfg.Manager.Policy),
		Priority:        cfg.Manager.Priority,
		StatsFlushEvery: cfg.Manager.StatsFlushEvery,
	}, statsRepo, log.Logger)
	for _, p := range providers {
		manager.Register(p)
	}
	manager.LoadStats(ctx)

	// Create distributed locker
	distLocker := locker.NewRedisLocker(redisClient, log.Logger)

	// Create queue service with the built-in job handlers
	queue := service.NewQueueService(jobRepo, logRepo, distLocker, service.QueueConfig{
		BatchSize:         cfg.Queue.BatchSize,
		StaleTimeout:      cfg.Queue.StaleTimeout,
		Retention:         cfg.Queue.Retention,
		DefaultMaxRetries: cfg.Queue.MaxRetries,
	}, log.Logger)
	service.RegisterDefaultHandlers(queue, manager)

	// Create validator
	v := validator.New()

	// Create HTTP server
	server := httpserver.NewServer(
		httpserver.ServerConfig{
			Port:      cfg.App.Port,
			BodyLimit: 1024 * 1024, // 1MB
			Debug:     cfg.App.Debug,
		},
		manager,
		queue,
		responseCache,
		logRepo,
		db,
		redisClient,
		v,
		log.Logger,
	)

	// Start the queue scheduler. Sweeps are serialized by the
	// distributed lock, so every instance runs one.
	scheduler := job.NewQueueScheduler(queue, job.QueueSchedulerConfig{
		Interval:        cfg.Queue.Interval,
		Timeout:         cfg.Queue.Timeout,
		CleanupInterval: cfg.Queue.CleanupInterval,
	}, log.Logger)
	scheduler.Start()

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("shutdown signal received")

		// Stop scheduler
		scheduler.Stop()

		// Persist in-memory counters before going down
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		manager.FlushStats(flushCtx)
		responseCache.FlushStatistics(flushCtx)
		flushCancel()

		// Shutdown server with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.App.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error("server shutdown error", zap.Error(err))
		}
	}()

	// Start server
	if err := server.Start(cfg.App.Port); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
