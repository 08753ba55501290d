// Package retrieval turns vector-store hits into a ranked, token-bounded
// context block for the chat prompt.
package retrieval

import (
	"math"
	"slices"
	"strings"

	rolecast "github.com/eugener/rolecast/internal"
)

// DefaultMaxTokens bounds the assembled context.
const DefaultMaxTokens = 8000

// Similarity converts the Euclidean distance between two unit vectors to
// cosine similarity, floored to two decimals.
func Similarity(distance float64) float64 {
	sim := 1 - distance*distance/2
	// Round away float noise like 0.9999999 before flooring.
	s := math.Floor(math.Round(sim*1e6)/1e4) / 100
	if s == 0 {
		// Drop the sign of -0.
		return 0
	}
	return s
}

// Aggregator groups hits by section and assembles prompt context.
type Aggregator struct {
	counter rolecast.TokenCounter
}

// New creates an Aggregator that measures context with counter.
func New(counter rolecast.TokenCounter) *Aggregator {
	return &Aggregator{counter: counter}
}

// Aggregate groups hits by section id, keeping each section's best
// similarity and its distinct matched chunks, and sorts sections by score
// (ties keep first-seen order). Chunks empty or contained in the section
// summary are dropped. The returned text holds whole sections in ranked
// order until the next one would exceed maxTokens. The returned slice
// always holds every section.
func (a *Aggregator) Aggregate(hits []rolecast.ScoredHit, maxTokens int) (string, []rolecast.SectionAggregate) {
	sections := Group(hits)

	var b strings.Builder
	for i := range sections {
		block := FormatSection(&sections[i])
		if a.counter.Count(b.String()+block) > maxTokens {
			break
		}
		b.WriteString(block)
	}
	return b.String(), sections
}

// Group merges hits into per-section aggregates sorted by descending score.
func Group(hits []rolecast.ScoredHit) []rolecast.SectionAggregate {
	var sections []rolecast.SectionAggregate
	index := make(map[string]int)

	for _, h := range hits {
		score := Similarity(h.Distance)
		chunk := h.Meta.ChunkText
		if strings.Contains(h.Meta.Summary, chunk) {
			chunk = ""
		}

		i, seen := index[h.Meta.SectionID]
		if !seen {
			i = len(sections)
			index[h.Meta.SectionID] = i
			sections = append(sections, rolecast.SectionAggregate{
				SectionID:    h.Meta.SectionID,
				Score:        score,
				SectionTitle: h.Meta.SectionTitle,
				Summary:      h.Meta.Summary,
				Text:         h.Meta.Text,
			})
		}
		s := &sections[i]
		s.Score = max(s.Score, score)
		if chunk != "" && !slices.Contains(s.SearchedTexts, chunk) {
			s.SearchedTexts = append(s.SearchedTexts, chunk)
		}
	}

	slices.SortStableFunc(sections, func(a, b rolecast.SectionAggregate) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	return sections
}

// FormatSection renders one section as prompt context:
//
//	section_title: <title>
//	section summary: 
//	<summary>
//	section text:<chunk 1>
//	<chunk 2>
//	...
//	<blank line>
func FormatSection(s *rolecast.SectionAggregate) string {
	var b strings.Builder
	b.WriteString("section_title: ")
	b.WriteString(s.SectionTitle)
	b.WriteString("\nsection summary: \n")
	b.WriteString(s.Summary)
	b.WriteString("\nsection text:")
	for _, t := range s.SearchedTexts {
		b.WriteString(t)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}
