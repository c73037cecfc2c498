package cachemanager

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/richxcame/storefront/pkg/logger"
	"go.uber.org/zap"
)

// Manager is a typed TTL cache over a Storage. Every key it touches lives
// under its namespace, and no operation returns an error: storage failures
// degrade to cache misses or dropped writes.
type Manager struct {
	storage   Storage
	namespace string
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithNow overrides the clock
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger overrides the logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// DefaultNamespace is used when NewManager is given an empty namespace
const DefaultNamespace = "cache"

// NewManager creates a Manager whose keys are prefixed with "namespace:".
// The namespace is never empty, so sweeps and eviction cannot reach keys
// other components keep in the same storage.
func NewManager(storage Storage, namespace string, opts ...Option) *Manager {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	m := &Manager{
		storage:   storage,
		namespace: namespace,
		now:       time.Now,
		logger:    logger.Get(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Storage returns the backend the manager writes through
func (m *Manager) Storage() Storage {
	return m.storage
}

func (m *Manager) prefix() string {
	return m.namespace + ":"
}

func (m *Manager) fullKey(key string) string {
	return m.prefix() + key
}

// Set stores data under key for ttl. Negative ttls are treated as zero.
// On a quota failure the oldest entry in the namespace is evicted and the
// write retried once; if that fails too the write is dropped.
func Set[T any](ctx context.Context, m *Manager, key string, data T, ttl time.Duration) {
	if ttl < 0 {
		ttl = 0
	}
	now := m.now()
	raw, err := json.Marshal(Entry[T]{
		Data:      data,
		StoredAt:  now.UnixMilli(),
		ExpiresAt: now.Add(ttl).UnixMilli(),
	})
	if err != nil {
		m.logger.Warn("cache entry not serializable", zap.String("key", key), zap.Error(err))
		return
	}
	m.write(ctx, m.fullKey(key), raw)
}

// Get returns the cached value if present and unexpired. An expired entry
// is deleted as a side effect.
func Get[T any](ctx context.Context, m *Manager, key string) (T, bool) {
	var zero T
	full := m.fullKey(key)

	entry, ok := read[T](ctx, m, full)
	if !ok {
		return zero, false
	}
	if entry.header().expired(m.now()) {
		m.delete(ctx, full)
		return zero, false
	}
	return entry.Data, true
}

// GetStale returns the cached value regardless of expiry
func GetStale[T any](ctx context.Context, m *Manager, key string) (T, bool) {
	var zero T
	entry, ok := read[T](ctx, m, m.fullKey(key))
	if !ok {
		return zero, false
	}
	return entry.Data, true
}

func read[T any](ctx context.Context, m *Manager, full string) (Entry[T], bool) {
	raw, ok := m.raw(ctx, full)
	if !ok {
		return Entry[T]{}, false
	}
	entry, err := decodeEntry[T](raw)
	if err != nil {
		m.logger.Debug("ignoring cache entry", zap.String("key", full), zap.Error(err))
		return Entry[T]{}, false
	}
	return entry, true
}

func (m *Manager) raw(ctx context.Context, full string) ([]byte, bool) {
	raw, err := m.storage.Get(ctx, full)
	if errors.Is(err, ErrNotFound) {
		return nil, false
	}
	if err != nil {
		m.logger.Warn("cache read failed", zap.String("key", full), zap.Error(err))
		return nil, false
	}
	return raw, true
}

func (m *Manager) header(ctx context.Context, full string) (entryHeader, bool) {
	raw, ok := m.raw(ctx, full)
	if !ok {
		return entryHeader{}, false
	}
	h, err := decodeHeader(raw)
	if err != nil {
		return entryHeader{}, false
	}
	return h, true
}

func (m *Manager) write(ctx context.Context, full string, raw []byte) {
	err := m.storage.Set(ctx, full, raw)
	if err == nil {
		return
	}
	if !errors.Is(err, ErrQuotaExceeded) {
		m.logger.Warn("cache write failed", zap.String("key", full), zap.Error(err))
		return
	}

	if !m.evictOldest(ctx) {
		m.logger.Warn("cache write dropped, nothing to evict", zap.String("key", full))
		return
	}
	if err := m.storage.Set(ctx, full, raw); err != nil {
		m.logger.Warn("cache write dropped after eviction", zap.String("key", full), zap.Error(err))
	}
}

// evictOldest removes the entry with the smallest storedAt in the namespace.
// Corrupt entries sort first.
func (m *Manager) evictOldest(ctx context.Context) bool {
	keys := m.keys(ctx, "")
	if len(keys) == 0 {
		return false
	}

	var (
		oldestKey string
		oldestAt  int64
		found     bool
	)
	for _, key := range keys {
		storedAt := int64(0)
		if h, ok := m.header(ctx, key); ok {
			storedAt = h.StoredAt
		}
		if !found || storedAt < oldestAt {
			oldestKey, oldestAt, found = key, storedAt, true
		}
	}

	if err := m.storage.Delete(ctx, oldestKey); err != nil {
		m.logger.Warn("cache eviction failed", zap.String("key", oldestKey), zap.Error(err))
		return false
	}
	m.logger.Debug("evicted oldest cache entry", zap.String("key", oldestKey))
	return true
}

func (m *Manager) keys(ctx context.Context, prefix string) []string {
	keys, err := m.storage.Keys(ctx, m.prefix()+prefix)
	if err != nil {
		m.logger.Warn("cache key listing failed", zap.String("prefix", prefix), zap.Error(err))
		return nil
	}
	return keys
}

func (m *Manager) delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := m.storage.Delete(ctx, keys...); err != nil {
		m.logger.Warn("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// Remove deletes key
func (m *Manager) Remove(ctx context.Context, key string) {
	m.delete(ctx, m.fullKey(key))
}

// ClearPrefix deletes every key in the namespace starting with prefix.
// An empty prefix clears the whole namespace.
func (m *Manager) ClearPrefix(ctx context.Context, prefix string) {
	m.delete(ctx, m.keys(ctx, prefix)...)
}

// ClearExpired sweeps expired and corrupt entries and returns how many were removed
func (m *Manager) ClearExpired(ctx context.Context) int {
	now := m.now()
	var stale []string
	for _, key := range m.keys(ctx, "") {
		raw, ok := m.raw(ctx, key)
		if !ok {
			continue
		}
		h, err := decodeHeader(raw)
		if err != nil || h.expired(now) {
			stale = append(stale, key)
		}
	}
	m.delete(ctx, stale...)
	return len(stale)
}

// Has reports whether key holds an unexpired entry
func (m *Manager) Has(ctx context.Context, key string) bool {
	h, ok := m.header(ctx, m.fullKey(key))
	return ok && !h.expired(m.now())
}

// Age returns how long ago key was stored
func (m *Manager) Age(ctx context.Context, key string) (time.Duration, bool) {
	h, ok := m.header(ctx, m.fullKey(key))
	if !ok {
		return 0, false
	}
	return time.Duration(m.now().UnixMilli()-h.StoredAt) * time.Millisecond, true
}

// TimeUntilExpiration returns the remaining lifetime of key, zero once expired
func (m *Manager) TimeUntilExpiration(ctx context.Context, key string) (time.Duration, bool) {
	h, ok := m.header(ctx, m.fullKey(key))
	if !ok {
		return 0, false
	}
	remaining := h.ExpiresAt - m.now().UnixMilli()
	if remaining < 0 {
		remaining = 0
	}
	return time.Duration(remaining) * time.Millisecond, true
}

// Namespace returns the key prefix
func (m *Manager) Namespace() string {
	return m.namespace
}
