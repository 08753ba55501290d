package testutil

import (
	"context"
	"sync"

	rolecast "github.com/eugener/rolecast/internal"
)

// FakeSearcher returns canned hits per index. Unknown indexes fail with
// rolecast.ErrIndexMissing.
type FakeSearcher struct {
	Hits map[string][]rolecast.ScoredHit
	Err  error

	mu      sync.Mutex
	queries []string
}

// SimilaritySearch implements rolecast.Searcher.
func (f *FakeSearcher) SimilaritySearch(_ context.Context, index, query string, k int) ([]rolecast.ScoredHit, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	hits, ok := f.Hits[index]
	if !ok {
		return nil, rolecast.ErrIndexMissing
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Queries returns the queries received, in call order.
func (f *FakeSearcher) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

// AuditSink collects audit records in memory.
type AuditSink struct {
	mu      sync.Mutex
	records []rolecast.AuditRecord
}

// Record implements the orchestrator's audit sink.
func (a *AuditSink) Record(r rolecast.AuditRecord) {
	a.mu.Lock()
	a.records = append(a.records, r)
	a.mu.Unlock()
}

// Records returns the collected records.
func (a *AuditSink) Records() []rolecast.AuditRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]rolecast.AuditRecord(nil), a.records...)
}

// FakeEmbedder maps each text to a deterministic vector built by Vector.
type FakeEmbedder struct {
	Vector func(text string) []float32
	Err    error

	mu    sync.Mutex
	calls int
}

// Embed implements rolecast.Embedder.
func (f *FakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.Vector(t)
	}
	return out, nil
}

// Calls returns how many times Embed was called.
func (f *FakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
