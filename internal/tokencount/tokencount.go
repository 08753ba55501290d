// Package tokencount counts model tokens for budgeting prompts and chunks.
// Counter uses the tiktoken BPE vocabulary so budgets match what the
// provider bills. Heuristic is a character-based estimate (~4 bytes per
// token) for environments where the BPE ranks cannot be loaded.
package tokencount

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	rolecast "github.com/eugener/rolecast/internal"
)

// DefaultEncoding is used when no model-specific encoding is known.
const DefaultEncoding = "cl100k_base"

var (
	_ rolecast.TokenCounter = (*Counter)(nil)
	_ rolecast.TokenCounter = Heuristic{}
)

// Counter counts tokens with a tiktoken encoding. Safe for concurrent use.
type Counter struct {
	encoding string
	enc      *tiktoken.Tiktoken
}

// New returns a Counter for modelOrEncoding. The argument is tried as an
// encoding name first, then as a model name. Empty means DefaultEncoding.
func New(modelOrEncoding string) (*Counter, error) {
	if modelOrEncoding == "" {
		modelOrEncoding = DefaultEncoding
	}
	if enc, err := tiktoken.GetEncoding(modelOrEncoding); err == nil {
		return &Counter{encoding: modelOrEncoding, enc: enc}, nil
	}
	enc, err := tiktoken.EncodingForModel(modelOrEncoding)
	if err != nil {
		return nil, fmt.Errorf("tokencount: load encoding %q: %w", modelOrEncoding, err)
	}
	return &Counter{encoding: modelOrEncoding, enc: enc}, nil
}

// Encoding returns the encoding or model name the counter was built for.
func (c *Counter) Encoding() string { return c.encoding }

// Count returns the number of BPE tokens in text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Heuristic estimates ~4 bytes per token. It is deterministic but only an
// approximation of the provider's tokenizer.
type Heuristic struct{}

// Count estimates tokens for text.
func (Heuristic) Count(text string) int {
	return estimateTokens(text)
}

// estimateTokens uses ~4 characters per token heuristic.
func estimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	// ceil division
	return (len(s) + 3) / 4
}

// CountMessages returns the token cost of a conversation: the message
// contents joined by newlines.
func CountMessages(tc rolecast.TokenCounter, messages []rolecast.Message) int {
	if len(messages) == 0 {
		return 0
	}
	parts := make([]string, len(messages))
	for i, m := range messages {
		parts[i] = m.Content
	}
	return tc.Count(strings.Join(parts, "\n"))
}

// NewOrHeuristic returns a tiktoken Counter, or Heuristic when the encoding
// cannot be loaded. The error is returned alongside the fallback so callers
// can log it.
func NewOrHeuristic(modelOrEncoding string) (rolecast.TokenCounter, error) {
	c, err := New(modelOrEncoding)
	if err != nil {
		return Heuristic{}, err
	}
	return c, nil
}
