// Package prompt composes retrieval-grounded role-play prompts, runs them
// through the completion client behind a system-wide admission gate and
// hosts the extraction pipelines used to prepare books for indexing.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	rolecast "github.com/eugener/rolecast/internal"
	"github.com/eugener/rolecast/internal/chunker"
	"github.com/eugener/rolecast/internal/completion"
	"github.com/eugener/rolecast/internal/provider"
	"github.com/eugener/rolecast/internal/retrieval"
	"github.com/eugener/rolecast/internal/telemetry"
)

const (
	DefaultK                = 25
	DefaultMaxContextTokens = retrieval.DefaultMaxTokens
	DefaultConcurrency      = 50
	DefaultRetryAttempts    = 1
	DefaultRetryBase        = time.Second
	DefaultChapterTokens    = 12000
	DefaultExtractTokens    = 8000
	DefaultMinMemoryTokens  = 100
)

// Completer runs chat exchanges. *completion.Client implements it.
type Completer interface {
	Ask(ctx context.Context, prompt, role, convID string, opts completion.Options) (*completion.Answer, error)
	AskStream(ctx context.Context, prompt, role, convID string, opts completion.Options) (<-chan rolecast.StreamChunk, error)
	Conversations() *completion.Store
}

// AuditSink receives one record per answered chat. It must not block.
type AuditSink interface {
	Record(r rolecast.AuditRecord)
}

// Config holds orchestrator settings. Zero fields take the package defaults.
type Config struct {
	K                int // hits requested from the vector store
	MaxContextTokens int // retrieval context budget
	Concurrency      int // admission gate capacity
	RetryAttempts    int // extraction attempts per call
	RetryBase        time.Duration
	ChapterTokens    int // chapters above this are summarized in parts
	ExtractTokens    int // part size for plot extraction
	MinMemoryTokens  int
}

func (c *Config) setDefaults() {
	if c.K <= 0 {
		c.K = DefaultK
	}
	if c.MaxContextTokens <= 0 {
		c.MaxContextTokens = DefaultMaxContextTokens
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.ChapterTokens <= 0 {
		c.ChapterTokens = DefaultChapterTokens
	}
	if c.ExtractTokens <= 0 {
		c.ExtractTokens = DefaultExtractTokens
	}
	if c.MinMemoryTokens <= 0 {
		c.MinMemoryTokens = DefaultMinMemoryTokens
	}
}

// Deps holds the collaborators of an Orchestrator.
type Deps struct {
	LLM     Completer
	Search  rolecast.Searcher
	Counter rolecast.TokenCounter
	Audit   AuditSink          // nil = no audit trail
	Metrics *telemetry.Metrics // nil = no metrics
}

// ChatInput is one role-play question.
type ChatInput struct {
	Book            string
	Index           string // vector index name; defaults to Book
	Role            string
	RoleDescription string
	Query           string

	// ConversationRef keeps history across calls. Empty means a fresh
	// conversation that is discarded after the answer.
	ConversationRef string
	Options         completion.Options
}

// ChatResult is the grounded answer together with the context it used.
type ChatResult struct {
	Answer   string
	Model    string
	Sections []rolecast.SectionAggregate
	rolecast.Usage
}

// Orchestrator turns questions into grounded completions.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	gate   *semaphore.Weighted
	agg    *retrieval.Aggregator
	chunks *chunker.Chunker
	tracer trace.Tracer
	now    func() time.Time
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	cfg.setDefaults()
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		gate:   semaphore.NewWeighted(int64(cfg.Concurrency)),
		agg:    retrieval.New(deps.Counter),
		chunks: chunker.New(deps.Counter),
		tracer: telemetry.Tracer("rolecast/prompt"),
		now:    time.Now,
	}
}

func (in *ChatInput) validate() error {
	if strings.TrimSpace(in.Query) == "" {
		return fmt.Errorf("%w: query is required", rolecast.ErrBadRequest)
	}
	if in.Role == "" || in.Book == "" {
		return fmt.Errorf("%w: book and role are required", rolecast.ErrBadRequest)
	}
	if in.Index == "" {
		in.Index = in.Book
	}
	return nil
}

// enter takes a slot of the admission gate; the returned func frees it.
func (o *Orchestrator) enter(ctx context.Context) (func(), error) {
	if err := o.gate.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("prompt: admission: %w", err)
	}
	if m := o.deps.Metrics; m != nil {
		m.ChatsInFlight.Inc()
	}
	return func() {
		if m := o.deps.Metrics; m != nil {
			m.ChatsInFlight.Dec()
		}
		o.gate.Release(1)
	}, nil
}

// prepare retrieves context for in and builds the persona conversation.
func (o *Orchestrator) prepare(ctx context.Context, in *ChatInput) (convID, content string, sections []rolecast.SectionAggregate, err error) {
	hits, err := o.deps.Search.SimilaritySearch(ctx, in.Index, in.Query, o.cfg.K)
	if err != nil {
		return "", "", nil, fmt.Errorf("prompt: search %q: %w", in.Index, err)
	}
	text, sections := o.agg.Aggregate(hits, o.cfg.MaxContextTokens)

	convs := o.deps.LLM.Conversations()
	convID = in.ConversationRef
	switch {
	case convID == "":
		convID = "chat-" + uuid.NewString()
		convs.Reset(convID, PersonaPrompt(in.Role, in.Book, in.RoleDescription))
	case convs.Messages(convID) == nil:
		convs.Reset(convID, PersonaPrompt(in.Role, in.Book, in.RoleDescription))
	}
	return convID, AnswerPrompt(in.Book, text, in.Query, in.Role), sections, nil
}

// Chat answers in.Query as in.Role using passages retrieved from the book's
// index. It waits for a free admission slot first. Failures propagate to
// the caller.
func (o *Orchestrator) Chat(ctx context.Context, in ChatInput) (res *ChatResult, err error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	ctx, span := o.tracer.Start(ctx, "prompt.Chat",
		trace.WithAttributes(attribute.String("book", in.Book), attribute.String("role", in.Role)))
	defer func() { telemetry.EndSpan(span, err) }()

	leave, err := o.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	convID, content, sections, err := o.prepare(ctx, &in)
	if err != nil {
		return nil, err
	}
	if in.ConversationRef == "" {
		defer o.deps.LLM.Conversations().Delete(convID)
	}
	span.SetAttributes(attribute.Int("retrieval.sections", len(sections)))

	ans, err := o.deps.LLM.Ask(ctx, content, in.Role, convID, in.Options)
	if err != nil {
		return nil, fmt.Errorf("prompt: chat: %w", err)
	}
	o.audit(ctx, &in, sections, ans.Text)

	return &ChatResult{
		Answer:   ans.Text,
		Model:    ans.Model,
		Sections: sections,
		Usage:    ans.Usage,
	}, nil
}

// ChatStream is Chat with the reply streamed as it arrives. The admission
// slot is held until the returned channel is closed. The conversation and
// audit trail are updated only when the stream completes.
func (o *Orchestrator) ChatStream(ctx context.Context, in ChatInput) (<-chan rolecast.StreamChunk, []rolecast.SectionAggregate, error) {
	if err := in.validate(); err != nil {
		return nil, nil, err
	}
	ctx, span := o.tracer.Start(ctx, "prompt.ChatStream",
		trace.WithAttributes(attribute.String("book", in.Book), attribute.String("role", in.Role)))

	leave, err := o.enter(ctx)
	if err != nil {
		telemetry.EndSpan(span, err)
		return nil, nil, err
	}

	convID, content, sections, err := o.prepare(ctx, &in)
	if err != nil {
		leave()
		telemetry.EndSpan(span, err)
		return nil, nil, err
	}
	span.SetAttributes(attribute.Int("retrieval.sections", len(sections)))
	convs := o.deps.LLM.Conversations()
	cleanup := func(err error) {
		if in.ConversationRef == "" {
			convs.Delete(convID)
		}
		leave()
		telemetry.EndSpan(span, err)
	}

	upstream, err := o.deps.LLM.AskStream(ctx, content, in.Role, convID, in.Options)
	if err != nil {
		err = fmt.Errorf("prompt: chat: %w", err)
		cleanup(err)
		return nil, nil, err
	}

	out := make(chan rolecast.StreamChunk, 8)
	go func() {
		var streamErr error
		defer close(out)
		defer func() { cleanup(streamErr) }()

		var b strings.Builder
		done := false
		for chunk := range upstream {
			switch {
			case chunk.Done:
				done = true
				convs.Append(convID, rolecast.RoleAssistant, b.String())
				o.audit(ctx, &in, sections, b.String())
			case chunk.Err != nil:
				streamErr = chunk.Err
			default:
				b.WriteString(chunk.Content)
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				for range upstream {
				}
				streamErr = ctx.Err()
				return
			}
		}
		if !done && streamErr == nil {
			streamErr = ctx.Err()
		}
	}()
	return out, sections, nil
}

func (o *Orchestrator) audit(ctx context.Context, in *ChatInput, sections []rolecast.SectionAggregate, answer string) {
	if o.deps.Audit == nil {
		return
	}
	rec := rolecast.AuditRecord{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Query:         in.Query,
		Book:          in.Book,
		Role:          in.Role,
		SearchResults: sections,
		LLMResponse:   answer,
		CreatedAt:     o.now().UTC(),
	}
	o.deps.Audit.Record(rec)
	slog.LogAttrs(ctx, slog.LevelDebug, "chat answered",
		slog.String("audit_id", rec.ID),
		slog.String("book", in.Book),
		slog.String("role", in.Role),
		slog.Int("sections", len(sections)),
		slog.String("request_id", rolecast.RequestIDFromContext(ctx)),
	)
}

// isRetryable reports whether an extraction failure is worth another
// attempt. A rejected key is quarantined by the completion client, so the
// next attempt runs on another one.
func isRetryable(err error) bool {
	return errors.Is(err, rolecast.ErrTooShort) ||
		errors.Is(err, rolecast.ErrLanguageMismatch) ||
		provider.IsAuthFailure(err) ||
		provider.Retryable(err)
}
