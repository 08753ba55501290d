package cache

import (
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"
)

// Memory is an in-memory W-TinyLFU cache backed by otter. Entries expire
// ttl after they were written.
type Memory[V any] struct {
	cache *otter.Cache[string, V]
}

// NewMemory creates a cache holding at most maxSize entries.
func NewMemory[V any](maxSize int, ttl time.Duration) (*Memory[V], error) {
	c, err := otter.New(&otter.Options[string, V]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, V](ttl),
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Memory[V]{cache: c}, nil
}

// Get returns the value for key if present and not expired.
func (m *Memory[V]) Get(key string) (V, bool) {
	return m.cache.GetIfPresent(key)
}

// Set stores val under key.
func (m *Memory[V]) Set(key string, val V) {
	m.cache.Set(key, val)
}

// Delete removes key.
func (m *Memory[V]) Delete(key string) {
	m.cache.Invalidate(key)
}

// Purge removes all values.
func (m *Memory[V]) Purge() {
	m.cache.InvalidateAll()
}

// Len returns the approximate number of cached entries.
func (m *Memory[V]) Len() int {
	return m.cache.EstimatedSize()
}
