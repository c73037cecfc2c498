package cachemanager

import (
	"context"
	"strings"
	"sync"
)

// MemoryStorage is an in-process Storage with an optional byte quota.
// Key and value lengths both count against the quota.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string][]byte
	quota int
	used  int
}

// NewMemoryStorage creates a MemoryStorage. A quota <= 0 means unlimited.
func NewMemoryStorage(quota int) *MemoryStorage {
	return &MemoryStorage{
		items: make(map[string][]byte),
		quota: quota,
	}
}

// Get returns a copy of the stored value
func (s *MemoryStorage) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set stores value under key, replacing any previous value
func (s *MemoryStorage) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	used := s.used + len(key) + len(value)
	if old, ok := s.items[key]; ok {
		used -= len(key) + len(old)
	}
	if s.quota > 0 && used > s.quota {
		return ErrQuotaExceeded
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	s.items[key] = stored
	s.used = used
	return nil
}

// Delete removes keys; missing keys are ignored
func (s *MemoryStorage) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		if old, ok := s.items[key]; ok {
			s.used -= len(key) + len(old)
			delete(s.items, key)
		}
	}
	return nil
}

// Keys lists every key starting with prefix
func (s *MemoryStorage) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.items))
	for key := range s.items {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Used reports the bytes currently counted against the quota
func (s *MemoryStorage) Used() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used
}
