// Package completion runs streaming chat-completion exchanges against an
// OpenAI-compatible API while keeping per-conversation message history
// inside a token budget.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	rolecast "github.com/eugener/rolecast/internal"
	"github.com/eugener/rolecast/internal/provider"
	"github.com/eugener/rolecast/internal/telemetry"
)

const (
	DefaultModel                = "gpt-3.5-turbo-0613"
	DefaultLongContextModel     = "gpt-3.5-turbo-16k-0613"
	DefaultLongContextThreshold = 3000
	DefaultMaxTokens            = 16000
	DefaultSystemPrompt         = "You are a smart AI assistant."

	// MaxSystemPromptTokens bounds every system prompt.
	MaxSystemPromptTokens = 1000
)

// SystemPromptLimit returns the largest system prompt allowed in a
// conversation budget of maxTokens: MaxSystemPromptTokens, and never more
// than half the budget.
func SystemPromptLimit(maxTokens int) int {
	return min(MaxSystemPromptTokens, maxTokens/2)
}

// ErrSystemPromptTooLong is returned by New when the configured system
// prompt exceeds SystemPromptLimit.
var ErrSystemPromptTooLong = errors.New("completion: system prompt too long")

// KeyPool hands out API keys. *ratelimit.Scheduler implements it.
type KeyPool interface {
	Acquire(ctx context.Context) (string, error)
	Quarantine(key string)
}

// Upstream opens streaming chat completions. *openai.Client implements it.
type Upstream interface {
	ChatStream(ctx context.Context, key string, req *rolecast.ChatRequest) (<-chan rolecast.StreamChunk, error)
}

// Config holds completion settings. Zero fields take the package defaults,
// except Temperature which is used as given.
type Config struct {
	Model                string
	LongContextModel     string
	LongContextThreshold int // token cost above which LongContextModel is used
	MaxTokens            int // conversation budget
	Temperature          float64
	TopP                 float64
	N                    int
	SystemPrompt         string
}

func (c *Config) setDefaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.LongContextModel == "" {
		c.LongContextModel = DefaultLongContextModel
	}
	if c.LongContextThreshold <= 0 {
		c.LongContextThreshold = DefaultLongContextThreshold
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.TopP <= 0 {
		c.TopP = 1.0
	}
	if c.N <= 0 {
		c.N = 1
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
}

// Deps holds the collaborators of a Client.
type Deps struct {
	Keys     KeyPool
	Upstream Upstream
	Counter  rolecast.TokenCounter
	Metrics  *telemetry.Metrics // nil = no metrics
}

// Options overrides sampling parameters for one exchange.
type Options struct {
	Temperature *float64
	TopP        *float64
}

// Answer is the result of a completed exchange.
type Answer struct {
	Text  string
	Model string
	rolecast.Usage
}

// Client performs chat-completion exchanges. It is safe for concurrent use
// on distinct conversation ids.
type Client struct {
	cfg    Config
	deps   Deps
	convs  *Store
	tracer trace.Tracer
}

// New creates a Client. It fails with ErrSystemPromptTooLong if the system
// prompt exceeds SystemPromptLimit for the conversation budget.
func New(cfg Config, deps Deps) (*Client, error) {
	cfg.setDefaults()
	n := deps.Counter.Count(cfg.SystemPrompt)
	if n > SystemPromptLimit(cfg.MaxTokens) {
		return nil, fmt.Errorf("%w: %d tokens", ErrSystemPromptTooLong, n)
	}
	return &Client{
		cfg:    cfg,
		deps:   deps,
		convs:  NewStore(deps.Counter, cfg.SystemPrompt, cfg.MaxTokens),
		tracer: telemetry.Tracer("rolecast/completion"),
	}, nil
}

// Conversations returns the conversation store.
func (c *Client) Conversations() *Store { return c.convs }

// SelectModel returns the model for a conversation of the given token cost.
func (c *Client) SelectModel(tokenCost int) string {
	if tokenCost > c.cfg.LongContextThreshold {
		return c.cfg.LongContextModel
	}
	return c.cfg.Model
}

// AskStream appends prompt to the conversation as a user message, fits the
// conversation to the token budget and streams the reply. role is sent as
// the request's user field. The returned channel yields Content chunks and
// ends with one Done or Err chunk; it is closed afterwards. Nothing is added
// to the conversation for the reply; Ask does that. If no Done chunk is
// delivered the user message is removed again.
//
// A 401/403 response quarantines the key. Upstream failures are
// *provider.APIError.
func (c *Client) AskStream(ctx context.Context, prompt, role, convID string, opts Options) (<-chan rolecast.StreamChunk, error) {
	ch, _, err := c.askStream(ctx, prompt, role, convID, opts)
	return ch, err
}

func (c *Client) askStream(ctx context.Context, prompt, role, convID string, opts Options) (<-chan rolecast.StreamChunk, string, error) {
	c.convs.Append(convID, rolecast.RoleUser, prompt)
	c.convs.Truncate(convID)
	model := c.SelectModel(c.convs.TokenCost(convID))

	key, err := c.deps.Keys.Acquire(ctx)
	c.recordAcquire(err)
	if err != nil {
		c.convs.DiscardUser(convID)
		return nil, model, fmt.Errorf("completion: acquire key: %w", err)
	}

	req := &rolecast.ChatRequest{
		Model:       model,
		Messages:    c.convs.Messages(convID),
		Temperature: c.cfg.Temperature,
		TopP:        c.cfg.TopP,
		N:           c.cfg.N,
		Stream:      true,
		User:        role,
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.TopP != nil {
		req.TopP = *opts.TopP
	}

	start := time.Now()
	upstream, err := c.deps.Upstream.ChatStream(ctx, key, req)
	if err != nil {
		c.handleUpstreamError(ctx, key, err)
		c.convs.DiscardUser(convID)
		return nil, model, fmt.Errorf("completion: %w", err)
	}

	out := make(chan rolecast.StreamChunk, 8)
	go c.forward(ctx, convID, model, start, upstream, out)
	return out, model, nil
}

// forward relays upstream chunks and records the stream outcome. A stream
// that ends without Done takes its user message back out of the
// conversation.
func (c *Client) forward(ctx context.Context, convID, model string, start time.Time, in <-chan rolecast.StreamChunk, out chan<- rolecast.StreamChunk) {
	done := false
	defer close(out)
	defer func() {
		if !done {
			c.convs.DiscardUser(convID)
		}
		if m := c.deps.Metrics; m != nil {
			m.UpstreamDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())
		}
	}()

	for chunk := range in {
		if chunk.Err != nil {
			c.handleUpstreamError(ctx, "", chunk.Err)
		}
		select {
		case out <- chunk:
			if chunk.Done {
				done = true
			}
		case <-ctx.Done():
			// Drain so the reader goroutine can exit once the body closes.
			for range in {
			}
			return
		}
	}
}

func (c *Client) handleUpstreamError(ctx context.Context, key string, err error) {
	status := "error"
	var ae *provider.APIError
	if errors.As(err, &ae) {
		status = strconv.Itoa(ae.StatusCode)
	}
	if ctx.Err() != nil {
		status = "canceled"
	}
	if m := c.deps.Metrics; m != nil {
		m.UpstreamErrors.WithLabelValues(status).Inc()
	}
	if status == "canceled" {
		return
	}

	if key != "" && provider.IsAuthFailure(err) {
		c.deps.Keys.Quarantine(key)
		if m := c.deps.Metrics; m != nil {
			m.KeyQuarantines.Inc()
		}
		slog.LogAttrs(ctx, slog.LevelWarn, "api key quarantined",
			slog.String("status", status),
			slog.String("request_id", rolecast.RequestIDFromContext(ctx)),
		)
		return
	}
	slog.LogAttrs(ctx, slog.LevelError, "chat completion failed",
		slog.String("status", status),
		slog.String("error", err.Error()),
		slog.String("request_id", rolecast.RequestIDFromContext(ctx)),
	)
}

func (c *Client) recordAcquire(err error) {
	m := c.deps.Metrics
	if m == nil {
		return
	}
	switch {
	case err == nil:
		m.KeyAcquisitions.WithLabelValues("ok").Inc()
	case errors.Is(err, rolecast.ErrKeyExhausted):
		m.KeyAcquisitions.WithLabelValues("exhausted").Inc()
	default:
		m.KeyAcquisitions.WithLabelValues("canceled").Inc()
	}
}

// Ask runs AskStream to completion, appends the full reply to the
// conversation as an assistant message and returns it with token
// accounting: prompt tokens are the conversation cost as sent, completion
// tokens the cost of the reply. If the stream fails or is cancelled the
// conversation gets no reply.
func (c *Client) Ask(ctx context.Context, prompt, role, convID string, opts Options) (ans *Answer, err error) {
	ctx, span := c.tracer.Start(ctx, "completion.Ask")
	defer func() { telemetry.EndSpan(span, err) }()

	ch, model, err := c.askStream(ctx, prompt, role, convID, opts)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("llm.model", model))

	var b strings.Builder
	var streamErr error
	done := false
	for chunk := range ch {
		switch {
		case chunk.Err != nil:
			streamErr = chunk.Err
		case chunk.Done:
			done = true
		default:
			b.WriteString(chunk.Content)
		}
	}
	if streamErr != nil {
		return nil, fmt.Errorf("completion: stream: %w", streamErr)
	}
	if !done {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("completion: stream ended without completion")
	}

	text := b.String()
	promptTokens := c.convs.TokenCost(convID)
	completionTokens := c.deps.Counter.Count(text)
	c.convs.Append(convID, rolecast.RoleAssistant, text)

	if m := c.deps.Metrics; m != nil {
		m.TokensProcessed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
		m.TokensProcessed.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", promptTokens),
		attribute.Int("llm.completion_tokens", completionTokens),
	)

	return &Answer{
		Text:  text,
		Model: model,
		Usage: rolecast.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}
