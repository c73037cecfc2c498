package cachemanager

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by a Storage when the key is absent
	ErrNotFound = errors.New("cache entry not found")
	// ErrQuotaExceeded is returned by a Storage that cannot hold another write
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrCorruptEntry marks a stored value that cannot be decoded as an entry
	ErrCorruptEntry = errors.New("corrupt cache entry")
)

// Storage is the durable key/value backend a Manager writes through.
// Implementations must be safe for concurrent use.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}
