// Package chunker splits long text into token-bounded chunks, preferring to
// cut at sentence boundaries.
package chunker

import (
	"strings"
	"unicode"

	rolecast "github.com/eugener/rolecast/internal"
)

// DefaultMaxTokens is the chunk budget used when indexing plot text.
const DefaultMaxTokens = 512

// defaultSteps are the extension step sizes, in characters, tried from
// largest to smallest while growing a chunk.
var defaultSteps = []int{400, 200, 100}

// Chunker splits text using a token counter.
type Chunker struct {
	counter rolecast.TokenCounter
	steps   []int
}

// New returns a Chunker that measures text with counter.
func New(counter rolecast.TokenCounter) *Chunker {
	return &Chunker{counter: counter, steps: defaultSteps}
}

// Chunk splits text into chunks of at most maxTokens tokens. Text within the
// budget is returned unchanged as a single chunk; empty text yields no chunks.
//
// Concatenating the result reproduces text exactly. A chunk exceeds the
// budget only when even the smallest step does not fit, in which case the
// smallest step is taken anyway so the loop always makes progress.
func (c *Chunker) Chunk(text string, maxTokens int) []string {
	if text == "" {
		return nil
	}
	if c.counter.Count(text) <= maxTokens {
		return []string{text}
	}

	smallest := c.steps[len(c.steps)-1]
	rest := []rune(text)
	var out []string
	for len(rest) > 0 {
		split := c.fit(rest, maxTokens)
		if split == 0 {
			split = min(smallest, len(rest))
		} else if cut := lastSentenceEnd(rest[:split]); cut > 0 {
			split = cut
		}
		out = append(out, string(rest[:split]))
		rest = rest[split:]
	}
	return out
}

// fit returns the largest prefix length of runes reachable by step-wise
// extension whose token count stays within maxTokens.
func (c *Chunker) fit(runes []rune, maxTokens int) int {
	split := 0
	for split < len(runes) {
		grown := false
		for _, step := range c.steps {
			next := min(step, len(runes)-split)
			if c.counter.Count(string(runes[:split+next])) <= maxTokens {
				split += next
				grown = true
				break
			}
		}
		if !grown {
			break
		}
	}
	return split
}

// lastSentenceEnd returns the position just after the last sentence-ending
// punctuation mark in window, or 0 if there is none. A period only counts
// when followed by whitespace; no mark counts when adjacent to a digit.
func lastSentenceEnd(window []rune) int {
	for p := len(window) - 1; p >= 0; p-- {
		if !isSentenceEnd(window, p) {
			continue
		}
		if p > 0 && unicode.IsDigit(window[p-1]) {
			continue
		}
		if p+1 < len(window) && unicode.IsDigit(window[p+1]) {
			continue
		}
		return p + 1
	}
	return 0
}

func isSentenceEnd(window []rune, p int) bool {
	switch window[p] {
	case '。', '？', '！', '…', '?', '!':
		return true
	case '.':
		return p+1 < len(window) && unicode.IsSpace(window[p+1])
	}
	return false
}

// ChunkParagraphs merges consecutive paragraphs into newline-joined groups of
// at most maxTokens tokens. A paragraph that alone exceeds the budget is
// split with Chunk after the pending group is flushed, so order is kept.
func (c *Chunker) ChunkParagraphs(paragraphs []string, maxTokens int) []string {
	var (
		out   []string
		group []string
	)
	flush := func() {
		if len(group) > 0 {
			out = append(out, strings.Join(group, "\n"))
			group = group[:0]
		}
	}

	for _, p := range paragraphs {
		if c.counter.Count(p) > maxTokens {
			flush()
			out = append(out, c.Chunk(p, maxTokens)...)
			continue
		}
		candidate := append(group[:len(group):len(group)], p)
		if len(group) > 0 && c.counter.Count(strings.Join(candidate, "\n")) > maxTokens {
			flush()
		}
		group = append(group, p)
	}
	flush()
	return out
}
