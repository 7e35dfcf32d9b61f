// Package config provides application configuration management using Viper.
// Configuration is loaded from YAML files and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Manager   ManagerConfig   `mapstructure:"manager"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name  string `mapstructure:"name"`
	Env   string `mapstructure:"env"` // development, staging, production
	Port  int    `mapstructure:"port"`
	Debug bool   `mapstructure:"debug"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Name         string        `mapstructure:"name"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	SSLMode      string        `mapstructure:"ssl_mode"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	MaxLifetime  time.Duration `mapstructure:"max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig holds Redis connection settings. Redis backs the cache,
// the rate-limit counters and the distributed queue lock.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig holds response caching settings. TTLs maps a cache type
// (product, search, variations, categories, bestsellers, offers,
// reviews) to its lifetime.
type CacheConfig struct {
	Enabled    bool                     `mapstructure:"enabled"`
	KeyPrefix  string                   `mapstructure:"key_prefix"`
	DefaultTTL time.Duration            `mapstructure:"default_ttl"`
	TTLs       map[string]time.Duration `mapstructure:"ttls"`
}

// RateLimitConfig holds request budgeting settings. Rules maps a
// scope ("provider:operation") to its budget.
type RateLimitConfig struct {
	Default RateLimitRule            `mapstructure:"default"`
	Rules   map[string]RateLimitRule `mapstructure:"rules"`
}

// RateLimitRule is one scope's budget.
type RateLimitRule struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// ProviderConfig holds external provider settings.
type ProviderConfig struct {
	MaxAttempts int              `mapstructure:"max_attempts"`
	PAAPI       PAAPIConfig      `mapstructure:"paapi"`
	Rainforest  RainforestConfig `mapstructure:"rainforest"`
}

// PAAPIConfig holds Product Advertising API credentials and tuning.
type PAAPIConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	AccessKey   string         `mapstructure:"access_key"`
	SecretKey   string         `mapstructure:"secret_key"`
	PartnerTag  string         `mapstructure:"partner_tag"`
	Marketplace string         `mapstructure:"marketplace"`
	Endpoint    EndpointConfig `mapstructure:"endpoint"`
}

// RainforestConfig holds Rainforest API credentials and tuning.
type RainforestConfig struct {
	Enabled     bool           `mapstructure:"enabled"`
	APIKey      string         `mapstructure:"api_key"`
	Marketplace string         `mapstructure:"marketplace"`
	Endpoint    EndpointConfig `mapstructure:"endpoint"`
}

// EndpointConfig holds one provider's transport tuning. BaseURL
// overrides the upstream host, mainly for the bundled mock servers.
type EndpointConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	CB      CBConfig      `mapstructure:"circuit_breaker"`
}

// CBConfig holds circuit breaker settings.
type CBConfig struct {
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
}

// ManagerConfig holds provider orchestration settings.
type ManagerConfig struct {
	Policy          string   `mapstructure:"policy"` // priority, round_robin, least_used, random
	Priority        []string `mapstructure:"priority"`
	StatsFlushEvery int      `mapstructure:"stats_flush_every"`
}

// QueueConfig holds background queue settings.
type QueueConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	Timeout         time.Duration `mapstructure:"timeout"`
	BatchSize       int           `mapstructure:"batch_size"`
	StaleTimeout    time.Duration `mapstructure:"stale_timeout"`
	Retention       time.Duration `mapstructure:"retention"`
	MaxRetries      int           `mapstructure:"max_retries"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
	Output string `mapstructure:"output"` // stdout, stderr, file path
}

// SentryConfig holds Sentry error tracking settings.
type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// Load reads configuration from file and environment variables.
// Priority: env vars > config file > defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found, continue with defaults + env vars
	}

	// Environment variable settings
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "product-data-service")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.debug", true)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "product_data")
	v.SetDefault("database.user", "app")
	v.SetDefault("database.password", "secret")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_lifetime", "5m")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.key_prefix", "product-data")
	v.SetDefault("cache.default_ttl", "1h")
	v.SetDefault("cache.ttls.product", "1h")
	v.SetDefault("cache.ttls.search", "30m")
	v.SetDefault("cache.ttls.variations", "2h")
	v.SetDefault("cache.ttls.categories", "24h")
	v.SetDefault("cache.ttls.bestsellers", "1h")
	v.SetDefault("cache.ttls.offers", "15m")
	v.SetDefault("cache.ttls.reviews", "6h")

	// Rate limit defaults
	v.SetDefault("rate_limit.default.limit", 10)
	v.SetDefault("rate_limit.default.window", "1m")

	// Provider defaults
	v.SetDefault("provider.max_attempts", 3)
	v.SetDefault("provider.paapi.enabled", false)
	v.SetDefault("provider.paapi.marketplace", "US")
	v.SetDefault("provider.paapi.endpoint.timeout", "10s")
	v.SetDefault("provider.paapi.endpoint.circuit_breaker.max_requests", 3)
	v.SetDefault("provider.paapi.endpoint.circuit_breaker.interval", "60s")
	v.SetDefault("provider.paapi.endpoint.circuit_breaker.timeout", "30s")
	v.SetDefault("provider.paapi.endpoint.circuit_breaker.failure_ratio", 0.5)
	v.SetDefault("provider.rainforest.enabled", false)
	v.SetDefault("provider.rainforest.marketplace", "US")
	v.SetDefault("provider.rainforest.endpoint.timeout", "15s")
	v.SetDefault("provider.rainforest.endpoint.circuit_breaker.max_requests", 3)
	v.SetDefault("provider.rainforest.endpoint.circuit_breaker.interval", "60s")
	v.SetDefault("provider.rainforest.endpoint.circuit_breaker.timeout", "30s")
	v.SetDefault("provider.rainforest.endpoint.circuit_breaker.failure_ratio", 0.5)

	// Manager defaults
	v.SetDefault("manager.policy", "priority")
	v.SetDefault("manager.priority", []string{"paapi", "rainforest"})
	v.SetDefault("manager.stats_flush_every", 10)

	// Queue defaults
	v.SetDefault("queue.interval", "1m")
	v.SetDefault("queue.timeout", "5m")
	v.SetDefault("queue.batch_size", 10)
	v.SetDefault("queue.stale_timeout", "5m")
	v.SetDefault("queue.retention", "720h")
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.cleanup_interval", "1h")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.output", "stdout")

	// Sentry defaults
	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "development")
	v.SetDefault("sentry.sample_rate", 1.0)
}
