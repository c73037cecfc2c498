package redis

import (
	"errors"
	"testing"

	"github.com/richxcame/storefront/pkg/config"
	"github.com/stretchr/testify/assert"
)

func TestRedisConfig_RedisAddr(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.RedisConfig
		expected string
	}{
		{name: "default localhost", cfg: config.RedisConfig{Host: "localhost", Port: "6379"}, expected: "localhost:6379"},
		{name: "custom host and port", cfg: config.RedisConfig{Host: "cache.internal", Port: "6380"}, expected: "cache.internal:6380"},
		{name: "empty values", cfg: config.RedisConfig{}, expected: ":"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.cfg.RedisAddr())
		})
	}
}

func TestIsOutOfMemory(t *testing.T) {
	assert.False(t, IsOutOfMemory(nil))
	assert.False(t, IsOutOfMemory(errors.New("connection refused")))
	assert.True(t, IsOutOfMemory(errors.New("OOM command not allowed when used memory > 'maxmemory'.")))
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	client, err := NewRedisClient(&config.RedisConfig{Host: "127.0.0.1", Port: "1"})

	assert.Nil(t, client)
	assert.ErrorContains(t, err, "unable to connect to redis")
}
