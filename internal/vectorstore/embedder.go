package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	rolecast "github.com/eugener/rolecast/internal"
	"github.com/eugener/rolecast/internal/cache"
	"github.com/eugener/rolecast/internal/provider"
	"github.com/eugener/rolecast/internal/telemetry"
)

const (
	DefaultEmbeddingModel = "text-embedding-ada-002"
	DefaultEmbedBatch     = 256
)

// KeyPool hands out API keys. *ratelimit.Scheduler implements it.
type KeyPool interface {
	Acquire(ctx context.Context) (string, error)
	Quarantine(key string)
}

// EmbeddingsAPI is the embeddings endpoint. *openai.Client implements it.
type EmbeddingsAPI interface {
	Embeddings(ctx context.Context, key, model string, texts []string) ([][]float32, error)
}

// ProviderEmbedder embeds texts through the provider, one scheduled key per
// batch. Vectors are unit-normalized.
type ProviderEmbedder struct {
	keys  KeyPool
	api   EmbeddingsAPI
	model string
	batch int
}

// NewProviderEmbedder creates a ProviderEmbedder. Empty model and
// non-positive batch take the defaults.
func NewProviderEmbedder(keys KeyPool, api EmbeddingsAPI, model string, batch int) *ProviderEmbedder {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	if batch <= 0 {
		batch = DefaultEmbedBatch
	}
	return &ProviderEmbedder{keys: keys, api: api, model: model, batch: batch}
}

// Model returns the embedding model name.
func (e *ProviderEmbedder) Model() string { return e.model }

// Embed implements rolecast.Embedder.
func (e *ProviderEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batch {
		batch := texts[start:min(start+e.batch, len(texts))]

		key, err := e.keys.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: acquire key: %w", err)
		}
		vecs, err := e.api.Embeddings(ctx, key, e.model, batch)
		if err != nil {
			if provider.IsAuthFailure(err) {
				e.keys.Quarantine(key)
				slog.LogAttrs(ctx, slog.LevelWarn, "api key quarantined",
					slog.String("op", "embeddings"),
				)
			}
			return nil, fmt.Errorf("vectorstore: embed: %w", err)
		}
		for _, v := range vecs {
			out = append(out, Normalize(v))
		}
	}
	return out, nil
}

// Normalize scales v to unit length in place and returns it. A zero vector
// is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i, f := range v {
		v[i] = float32(float64(f) * inv)
	}
	return v
}

// CachedEmbedder remembers embeddings of previously seen texts, which are
// mostly repeated chat queries.
type CachedEmbedder struct {
	next    rolecast.Embedder
	model   string
	cache   cache.Cache[[]float32]
	metrics *telemetry.Metrics
}

// NewCachedEmbedder wraps next. model namespaces the cache keys.
func NewCachedEmbedder(next rolecast.Embedder, model string, c cache.Cache[[]float32], m *telemetry.Metrics) *CachedEmbedder {
	return &CachedEmbedder{next: next, model: model, cache: c, metrics: m}
}

// Embed implements rolecast.Embedder. Only texts missing from the cache are
// sent to the wrapped embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missing []string
		idx     []int
	)
	for i, t := range texts {
		if v, ok := c.cache.Get(cache.EmbeddingKey(c.model, t)); ok {
			out[i] = v
			continue
		}
		missing = append(missing, t)
		idx = append(idx, i)
	}
	if m := c.metrics; m != nil {
		m.EmbedCacheHits.Add(float64(len(texts) - len(missing)))
		m.EmbedCacheMisses.Add(float64(len(missing)))
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.next.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range vecs {
		out[idx[j]] = v
		c.cache.Set(cache.EmbeddingKey(c.model, missing[j]), v)
	}
	return out, nil
}
