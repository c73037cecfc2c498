package cachemanager

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entry is the envelope every cached value is stored in. Timestamps are
// unix milliseconds.
type Entry[T any] struct {
	Data      T     `json:"data"`
	StoredAt  int64 `json:"storedAt"`
	ExpiresAt int64 `json:"expiresAt"`
}

// entryHeader decodes an entry's timestamps without touching its payload
type entryHeader struct {
	StoredAt  int64 `json:"storedAt"`
	ExpiresAt int64 `json:"expiresAt"`
}

func (h entryHeader) valid() bool {
	return h.StoredAt > 0 && h.ExpiresAt >= h.StoredAt
}

// expired reports whether the entry is past its lifetime at now.
// A zero-duration entry is expired as soon as it is read.
func (h entryHeader) expired(now time.Time) bool {
	return now.UnixMilli() >= h.ExpiresAt
}

func (e Entry[T]) header() entryHeader {
	return entryHeader{StoredAt: e.StoredAt, ExpiresAt: e.ExpiresAt}
}

func decodeHeader(raw []byte) (entryHeader, error) {
	var h entryHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return h, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	if !h.valid() {
		return h, fmt.Errorf("%w: bad timestamps %d/%d", ErrCorruptEntry, h.StoredAt, h.ExpiresAt)
	}
	return h, nil
}

func decodeEntry[T any](raw []byte) (Entry[T], error) {
	var e Entry[T]
	if err := json.Unmarshal(raw, &e); err != nil {
		return e, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	if !e.header().valid() {
		return e, fmt.Errorf("%w: bad timestamps %d/%d", ErrCorruptEntry, e.StoredAt, e.ExpiresAt)
	}
	return e, nil
}
