// Package rolecast defines domain types and interfaces for the rolecast
// retrieval-grounded role-play chat service.
// This package has no project imports -- it is the dependency root.
package rolecast

import (
	"context"
	"time"
)

// --- Chat messages ---

// Message roles accepted by the chat-completion endpoint.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry of a conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the OpenAI-compatible streaming completion request body.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
	N           int       `json:"n"`
	Stream      bool      `json:"stream"`
	User        string    `json:"user,omitempty"`
}

// StreamChunk is one element of a streamed completion.
// Exactly one of Content, Err or Done is meaningful per chunk.
type StreamChunk struct {
	Content string
	Done    bool
	Err     error
}

// Usage holds token accounting for one completion exchange.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// --- Token counting ---

// TokenCounter counts model tokens in a string. Implementations must be
// deterministic and safe for concurrent use.
type TokenCounter interface {
	Count(text string) int
}

// --- Retrieval ---

// SectionMeta is the metadata stored alongside every indexed document.
type SectionMeta struct {
	SectionID    string `json:"section_id"`
	SectionTitle string `json:"section_title"`
	Summary      string `json:"summary"`
	Text         string `json:"text"`
	ChunkText    string `json:"chunk_text"`
}

// ScoredHit is one nearest-neighbor result returned by the vector store.
// Distance is the raw Euclidean distance between unit-normalized vectors.
type ScoredHit struct {
	Document string
	Distance float64
	Meta     SectionMeta
}

// SectionAggregate is the deduplicated, score-ranked retrieval result for a
// single section of the book.
type SectionAggregate struct {
	SectionID     string   `json:"section_id"`
	Score         float64  `json:"score"`
	SectionTitle  string   `json:"section_title"`
	Summary       string   `json:"summary"`
	Text          string   `json:"text"`
	SearchedTexts []string `json:"searched_texts"`
}

// Searcher is the similarity-search contract the chat path needs from a
// vector store.
type Searcher interface {
	SimilaritySearch(ctx context.Context, index, query string, k int) ([]ScoredHit, error)
}

// Embedder turns texts into unit-normalized embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// --- Books ---

// Book is the chapter JSON produced by the ingestion step.
type Book struct {
	Title    string    `json:"title"`
	Chapters []Chapter `json:"chapter"`
}

// Chapter is a titled part of a book split into plots.
type Chapter struct {
	Title   string `json:"title"`
	Content string `json:"content,omitempty"`
	Summary string `json:"summary,omitempty"`
	Plots   []Plot `json:"plots,omitempty"`
}

// Plot is the unit of indexing: one section of original text plus the
// summary lines extracted for it.
type Plot struct {
	Text       string   `json:"text"`
	Summary    string   `json:"summary,omitempty"`
	Embeddings []string `json:"embeddings,omitempty"`
}

// --- Auditing ---

// AuditRecord captures one answered query for debugging.
type AuditRecord struct {
	ID            string             `json:"id"`
	Query         string             `json:"query"`
	Book          string             `json:"book"`
	Role          string             `json:"role"`
	SearchResults []SectionAggregate `json:"search_results"`
	LLMResponse   string             `json:"llm_res"`
	CreatedAt     time.Time          `json:"created_at"`
}

// --- Context keys ---

type contextKey int

const ctxKeyRequestID contextKey = 0

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}
