package prompt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	rolecast "github.com/eugener/rolecast/internal"
	"github.com/eugener/rolecast/internal/completion"
	"github.com/eugener/rolecast/internal/langcheck"
)

// extractUser is sent as the request's user field for pipeline calls.
const extractUser = "rolecast-extract"

// attempt runs fn up to RetryAttempts times with exponential backoff while
// it fails with a retryable error.
func (o *Orchestrator) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(o.cfg.RetryAttempts-1), retry.NewExponential(o.cfg.RetryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// complete runs a single-turn exchange in a throwaway conversation.
func (o *Orchestrator) complete(ctx context.Context, system, content string) (string, error) {
	leave, err := o.enter(ctx)
	if err != nil {
		return "", err
	}
	defer leave()

	id := "extract-" + uuid.NewString()
	convs := o.deps.LLM.Conversations()
	convs.Reset(id, system)
	defer convs.Delete(id)

	ans, err := o.deps.LLM.Ask(ctx, content, extractUser, id, completion.Options{})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(ans.Text), nil
}

// giveUp logs an exhausted pipeline step. It returns ctx's error when the
// failure was a cancellation so callers stop instead of producing empty
// results.
func giveUp(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	slog.LogAttrs(ctx, slog.LevelWarn, "extraction gave up",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return nil
}

// SummarizeChapter returns a structured summary of ch. Chapters longer than
// ChapterTokens are summarized part by part, each call extending the
// summary of the parts before it. When every attempt fails the summary is
// empty.
func (o *Orchestrator) SummarizeChapter(ctx context.Context, ch rolecast.Chapter) (string, error) {
	parts := []string{ch.Content}
	if o.deps.Counter.Count(ch.Content) > o.cfg.ChapterTokens {
		parts = o.chunks.Chunk(ch.Content, o.cfg.ChapterTokens)
	}

	summary := ""
	for i, part := range parts {
		content := ChapterPrompt(ch.Title, part)
		if i > 0 {
			content = ChapterContinuePrompt(ch.Title, part, summary)
		}
		var out string
		err := o.attempt(ctx, func(ctx context.Context) error {
			var err error
			out, err = o.complete(ctx, "", content)
			return err
		})
		if err != nil {
			return "", giveUp(ctx, "summarize_chapter", err)
		}
		summary = out
	}
	return summary, nil
}

// ExtractCharacterMemories asks for the memory bank of the main character
// of text and returns it as a plot: the original text, the raw extraction as
// summary and one embedding line per parsed memory. Extractions shorter
// than MinMemoryTokens are retried; when every attempt fails the plot has no
// summary.
func (o *Orchestrator) ExtractCharacterMemories(ctx context.Context, title, text string) (rolecast.Plot, error) {
	plot := rolecast.Plot{Text: text}
	var out string
	err := o.attempt(ctx, func(ctx context.Context) error {
		var err error
		out, err = o.complete(ctx, MemorySystemPrompt, MemoryPrompt(title, text))
		if err != nil {
			return err
		}
		if n := o.deps.Counter.Count(out); n < o.cfg.MinMemoryTokens {
			return fmt.Errorf("prompt: memories: %w (%d tokens)", rolecast.ErrTooShort, n)
		}
		return nil
	})
	if err != nil {
		return plot, giveUp(ctx, "extract_memories", err)
	}

	plot.Summary = out
	plot.Embeddings = embeddingLines(out)
	return plot, nil
}

// embeddingLines turns an extraction into index lines, one per memory. Text
// that does not parse as memories is indexed line by line.
func embeddingLines(out string) []string {
	var lines []string
	for _, m := range ParseMemories(out) {
		if s := m.EmbeddingText(); s != "" {
			lines = append(lines, s)
		}
	}
	if len(lines) > 0 {
		return lines
	}
	for line := range strings.Lines(out) {
		if s := strings.TrimSpace(line); s != "" {
			lines = append(lines, s)
		}
	}
	return lines
}

// ExtractChapterPlots splits ch into ExtractTokens-sized parts and extracts
// the memories of each concurrently. Plots keep the order of the parts.
func (o *Orchestrator) ExtractChapterPlots(ctx context.Context, ch rolecast.Chapter) ([]rolecast.Plot, error) {
	parts := o.chunks.Chunk(ch.Content, o.cfg.ExtractTokens)
	plots := make([]rolecast.Plot, len(parts))

	g, gctx := errgroup.WithContext(ctx)
	for i, part := range parts {
		g.Go(func() error {
			p, err := o.ExtractCharacterMemories(gctx, ch.Title, part)
			plots[i] = p
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("prompt: extract plots %q: %w", ch.Title, err)
	}
	return plots, nil
}

// Translate renders text in language. Outputs that come back in the wrong
// language are retried; when every attempt fails the result is empty.
func (o *Orchestrator) Translate(ctx context.Context, text, language string) (string, error) {
	var out string
	err := o.attempt(ctx, func(ctx context.Context) error {
		var err error
		out, err = o.complete(ctx, TranslateSystemPrompt, TranslatePrompt(text, language))
		if err != nil {
			return err
		}
		return langcheck.Check(language, out)
	})
	if err != nil {
		return "", giveUp(ctx, "translate", err)
	}
	return out, nil
}

// OptimizeQuery rewrites query in language for vector search. When every
// attempt fails the original query is returned.
func (o *Orchestrator) OptimizeQuery(ctx context.Context, query, language string) (string, error) {
	var out string
	err := o.attempt(ctx, func(ctx context.Context) error {
		var err error
		out, err = o.complete(ctx, "", OptimizeQueryPrompt(query, language))
		return err
	})
	if err != nil {
		return query, giveUp(ctx, "optimize_query", err)
	}
	if out == "" {
		return query, nil
	}
	return out, nil
}
