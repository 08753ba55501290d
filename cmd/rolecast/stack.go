package main

import (
	"fmt"
	"log/slog"

	"github.com/rs/dnscache"

	rolecast "github.com/eugener/rolecast/internal"
	"github.com/eugener/rolecast/internal/cache"
	"github.com/eugener/rolecast/internal/completion"
	"github.com/eugener/rolecast/internal/config"
	"github.com/eugener/rolecast/internal/prompt"
	"github.com/eugener/rolecast/internal/provider"
	"github.com/eugener/rolecast/internal/provider/openai"
	"github.com/eugener/rolecast/internal/ratelimit"
	"github.com/eugener/rolecast/internal/storage/sqlite"
	"github.com/eugener/rolecast/internal/telemetry"
	"github.com/eugener/rolecast/internal/tokencount"
	"github.com/eugener/rolecast/internal/vectorstore"
)

// stack holds the components shared by the serve and index commands.
type stack struct {
	cfg      *config.Config
	resolver *dnscache.Resolver
	counter  rolecast.TokenCounter
	keys     *ratelimit.Scheduler
	store    *sqlite.Store
	llm      *completion.Client
	embedder *vectorstore.ProviderEmbedder
	search   *vectorstore.Store
	orch     *prompt.Orchestrator
}

// loadConfig reads and validates the config file.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newStack wires the provider, retrieval and orchestration layers on top of
// store. audit and metrics may be nil.
func newStack(cfg *config.Config, store *sqlite.Store, audit prompt.AuditSink, metrics *telemetry.Metrics) (*stack, error) {
	counter, err := tokencount.NewOrHeuristic(cfg.LLM.Encoding)
	if err != nil {
		slog.Warn("tokenizer unavailable, using heuristic counts",
			"encoding", cfg.LLM.Encoding, "error", err)
	}

	resolver := &dnscache.Resolver{}
	api := openai.New(cfg.LLM.BaseURL, provider.NewHTTPClient(resolver))
	keys := ratelimit.NewScheduler(cfg.LLM.APIKeys,
		ratelimit.WithMinInterval(cfg.LLM.MinInterval),
		ratelimit.WithCooldown(cfg.LLM.QuarantineCooldown),
	)

	llm, err := completion.New(completion.Config{
		Model:                cfg.LLM.Model,
		LongContextModel:     cfg.LLM.LongContextModel,
		LongContextThreshold: cfg.LLM.LongContextThreshold,
		MaxTokens:            cfg.LLM.MaxTokens,
		Temperature:          cfg.LLM.Temperature,
		TopP:                 cfg.LLM.TopP,
		SystemPrompt:         cfg.LLM.SystemPrompt,
	}, completion.Deps{
		Keys:     keys,
		Upstream: api,
		Counter:  counter,
		Metrics:  metrics,
	})
	if err != nil {
		return nil, err
	}

	embedder := vectorstore.NewProviderEmbedder(keys, api, cfg.LLM.EmbeddingModel, cfg.LLM.EmbedBatch)
	var queryEmbedder rolecast.Embedder = embedder
	if cfg.Cache.Enabled {
		c, err := cache.NewMemory[[]float32](cfg.Cache.MaxSize, cfg.Cache.TTL)
		if err != nil {
			return nil, err
		}
		queryEmbedder = vectorstore.NewCachedEmbedder(embedder, embedder.Model(), c, metrics)
	}
	search := vectorstore.New(store, queryEmbedder)

	orch := prompt.New(prompt.Config{
		K:                cfg.Retrieval.K,
		MaxContextTokens: cfg.Retrieval.MaxContextTokens,
		Concurrency:      cfg.Chat.Concurrency,
		RetryAttempts:    cfg.Chat.RetryAttempts,
		RetryBase:        cfg.Chat.RetryBase,
	}, prompt.Deps{
		LLM:     llm,
		Search:  search,
		Counter: counter,
		Audit:   audit,
		Metrics: metrics,
	})

	return &stack{
		cfg:      cfg,
		resolver: resolver,
		counter:  counter,
		keys:     keys,
		store:    store,
		llm:      llm,
		embedder: embedder,
		search:   search,
		orch:     orch,
	}, nil
}
