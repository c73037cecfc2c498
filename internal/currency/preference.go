package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/richxcame/storefront/internal/cachemanager"
)

// DefaultPreferenceKey is where the display currency is persisted. It sits
// outside any cache namespace so clearing the rate cache keeps it.
const DefaultPreferenceKey = "preferences:currency"

// ErrNoPreference means no display currency has been saved yet
var ErrNoPreference = errors.New("no currency preference stored")

// PreferenceStore persists the user's display currency
type PreferenceStore interface {
	Load(ctx context.Context) (Code, error)
	Save(ctx context.Context, code Code) error
}

type preferenceRecord struct {
	Code Code `json:"code"`
}

// StoragePreferenceStore keeps the preference in a cache Storage without expiry
type StoragePreferenceStore struct {
	storage cachemanager.Storage
	key     string
}

// NewStoragePreferenceStore creates a store. An empty key uses DefaultPreferenceKey.
func NewStoragePreferenceStore(storage cachemanager.Storage, key string) *StoragePreferenceStore {
	if key == "" {
		key = DefaultPreferenceKey
	}
	return &StoragePreferenceStore{storage: storage, key: key}
}

// Load returns the saved code, ErrNoPreference if none, ErrUnknownCurrency
// if the stored value is not supported
func (s *StoragePreferenceStore) Load(ctx context.Context) (Code, error) {
	raw, err := s.storage.Get(ctx, s.key)
	if errors.Is(err, cachemanager.ErrNotFound) {
		return "", ErrNoPreference
	}
	if err != nil {
		return "", fmt.Errorf("failed to load currency preference: %w", err)
	}

	var rec preferenceRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", fmt.Errorf("%w: %v", cachemanager.ErrCorruptEntry, err)
	}
	code, ok := ParseCode(string(rec.Code))
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, rec.Code)
	}
	return code, nil
}

// Save persists code
func (s *StoragePreferenceStore) Save(ctx context.Context, code Code) error {
	if _, ok := Lookup(code); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	raw, err := json.Marshal(preferenceRecord{Code: code})
	if err != nil {
		return err
	}
	if err := s.storage.Set(ctx, s.key, raw); err != nil {
		return fmt.Errorf("failed to save currency preference: %w", err)
	}
	return nil
}
