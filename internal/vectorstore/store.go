// Package vectorstore indexes book sections as unit-normalized embeddings
// and answers nearest-neighbor queries by brute-force Euclidean distance.
package vectorstore

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	rolecast "github.com/eugener/rolecast/internal"
	"github.com/eugener/rolecast/internal/storage"
	"github.com/eugener/rolecast/internal/telemetry"
)

// Store searches indexes persisted in a storage.VectorStore. Loaded indexes
// are kept in memory until Invalidate is called.
type Store struct {
	vectors  storage.VectorStore
	embedder rolecast.Embedder
	tracer   trace.Tracer

	mu     sync.RWMutex
	loaded map[string][]storage.Vector
}

// New creates a Store.
func New(vectors storage.VectorStore, embedder rolecast.Embedder) *Store {
	return &Store{
		vectors:  vectors,
		embedder: embedder,
		tracer:   telemetry.Tracer("rolecast/vectorstore"),
		loaded:   make(map[string][]storage.Vector),
	}
}

// SimilaritySearch implements rolecast.Searcher. Hits are ordered by
// ascending distance. It fails with rolecast.ErrIndexMissing when index has
// no vectors.
func (s *Store) SimilaritySearch(ctx context.Context, index, query string, k int) (hits []rolecast.ScoredHit, err error) {
	ctx, span := s.tracer.Start(ctx, "vectorstore.SimilaritySearch",
		trace.WithAttributes(attribute.String("index", index), attribute.Int("k", k)))
	defer func() { telemetry.EndSpan(span, err) }()

	vecs, err := s.load(ctx, index)
	if err != nil {
		return nil, err
	}
	q, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: embed query: %w", err)
	}

	hits = make([]rolecast.ScoredHit, len(vecs))
	for i, v := range vecs {
		hits[i] = rolecast.ScoredHit{
			Document: v.Document,
			Distance: Distance(q[0], v.Embedding),
			Meta:     v.Meta,
		}
	}
	slices.SortStableFunc(hits, func(a, b rolecast.ScoredHit) int {
		return cmp.Compare(a.Distance, b.Distance)
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	span.SetAttributes(attribute.Int("hits", len(hits)))
	return hits, nil
}

func (s *Store) load(ctx context.Context, index string) ([]storage.Vector, error) {
	s.mu.RLock()
	vecs, ok := s.loaded[index]
	s.mu.RUnlock()
	if ok {
		return vecs, nil
	}

	vecs, err := s.vectors.ListVectors(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: load %q: %w", index, err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("%w: %q", rolecast.ErrIndexMissing, index)
	}

	s.mu.Lock()
	s.loaded[index] = vecs
	s.mu.Unlock()
	return vecs, nil
}

// Invalidate drops the in-memory copy of index.
func (s *Store) Invalidate(index string) {
	s.mu.Lock()
	delete(s.loaded, index)
	s.mu.Unlock()
}

// Distance is the Euclidean distance between a and b over their common
// length.
func Distance(a, b []float32) float64 {
	var sum float64
	for i := range min(len(a), len(b)) {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
