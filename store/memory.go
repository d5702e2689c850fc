package store

import (
	"context"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore implements Store using ttlcache. Entries carry no TTL; the
// cache is used for its concurrency-safe map. It backs tests and the silent
// fallback when the durable store is unavailable.
type MemoryStore struct {
	cache *ttlcache.Cache[string, string]
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	return &MemoryStore{cache: cache}
}

// Get implements Store.Get.
func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	item := s.cache.Get(key)
	if item == nil {
		return "", nil
	}
	return item.Value(), nil
}

// Set implements Store.Set.
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.cache.Set(key, value, ttlcache.NoTTL)
	return nil
}

// Delete implements Store.Delete.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}
