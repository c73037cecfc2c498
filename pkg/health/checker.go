package health

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Checker is a dependency health probe
type Checker func() error

// CheckerConfig holds probe settings
type CheckerConfig struct {
	Timeout time.Duration
}

// DefaultCheckerConfig returns the default probe settings
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{Timeout: 2 * time.Second}
}

// RedisChecker returns a health check function for Redis
func RedisChecker(client redis.Cmdable) Checker {
	return RedisCheckerWithConfig(client, DefaultCheckerConfig())
}

// RedisCheckerWithConfig returns a Redis health check with a custom timeout
func RedisCheckerWithConfig(client redis.Cmdable, config CheckerConfig) Checker {
	return func() error {
		if client == nil {
			return errors.New("redis client is nil")
		}
		ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
		defer cancel()
		return client.Ping(ctx).Err()
	}
}
