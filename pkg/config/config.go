package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Redis         RedisConfig
	ExchangeRates ExchangeRatesConfig
	Cache         CacheConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port         string `validate:"required,numeric"`
	Environment  string `validate:"required,oneof=development staging production test"`
	ServiceName  string `validate:"required"`
	ReadTimeout  int    `validate:"gte=1"`
	WriteTimeout int    `validate:"gte=1"`
	CORSOrigins  string // Comma-separated list of allowed origins
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int `validate:"gte=0"`
}

// ExchangeRatesConfig holds the live rate provider and cache settings
type ExchangeRatesConfig struct {
	APIURL                  string `validate:"required,url"`
	TimeoutSeconds          int    `validate:"gte=1"`
	FreshnessMinutes        int    `validate:"gte=1"`
	AdminKey                string
	BreakerFailureThreshold int `validate:"gte=1"`
	BreakerTimeoutSeconds   int `validate:"gte=1"`
}

// CacheConfig holds settings for the durable key/value cache
type CacheConfig struct {
	Namespace        string `validate:"required"`
	SnapshotTTLHours int    `validate:"gte=1"`
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ServiceName:  serviceName,
			ReadTimeout:  getEnvAsInt("READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("WRITE_TIMEOUT", 10),
			CORSOrigins:  getEnv("CORS_ORIGINS", "http://localhost:3000"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		ExchangeRates: ExchangeRatesConfig{
			APIURL:                  getEnv("EXCHANGE_RATES_API_URL", "https://api.exchangerate-api.com/v4/latest/NGN"),
			TimeoutSeconds:          getEnvAsInt("EXCHANGE_RATES_TIMEOUT_SECONDS", 10),
			FreshnessMinutes:        getEnvAsInt("EXCHANGE_RATES_FRESHNESS_MINUTES", 60),
			AdminKey:                getEnv("ADMIN_KEY", ""),
			BreakerFailureThreshold: getEnvAsInt("EXCHANGE_RATES_BREAKER_FAILURES", 5),
			BreakerTimeoutSeconds:   getEnvAsInt("EXCHANGE_RATES_BREAKER_TIMEOUT_SECONDS", 60),
		},
		Cache: CacheConfig{
			Namespace:        getEnv("CACHE_NAMESPACE", "storefront"),
			SnapshotTTLHours: getEnvAsInt("CACHE_SNAPSHOT_TTL_HOURS", 24),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Timeout bounds a single call to the rate provider.
func (c *ExchangeRatesConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// FreshnessWindow is how long a fetched rate table is served before a refetch.
func (c *ExchangeRatesConfig) FreshnessWindow() time.Duration {
	return time.Duration(c.FreshnessMinutes) * time.Minute
}

// SnapshotTTL is how long the last live rate table survives in durable storage.
func (c *CacheConfig) SnapshotTTL() time.Duration {
	return time.Duration(c.SnapshotTTLHours) * time.Hour
}

// AllowedOrigins splits CORSOrigins into a list
func (c *ServerConfig) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
