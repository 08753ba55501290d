// Package cache provides in-process caching for rolecast. The vector store
// uses it to remember query embeddings.
package cache

// Cache is a bounded key/value cache with a fixed time-to-live.
type Cache[V any] interface {
	// Get retrieves a cached value by key.
	Get(key string) (V, bool)
	// Set stores a value.
	Set(key string, val V)
	// Delete removes a cached value.
	Delete(key string)
	// Purge removes all cached values.
	Purge()
}

// EmbeddingKey is the cache key of text embedded by model.
func EmbeddingKey(model, text string) string {
	return model + "\x00" + text
}
