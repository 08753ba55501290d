// Package server implements the HTTP transport layer for rolecast.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	rolecast "github.com/eugener/rolecast/internal"
	"github.com/eugener/rolecast/internal/prompt"
	"github.com/eugener/rolecast/internal/ratelimit"
	"github.com/eugener/rolecast/internal/storage"
	"github.com/eugener/rolecast/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Chatter answers role-play questions. *prompt.Orchestrator implements it.
type Chatter interface {
	Chat(ctx context.Context, in prompt.ChatInput) (*prompt.ChatResult, error)
	ChatStream(ctx context.Context, in prompt.ChatInput) (<-chan rolecast.StreamChunk, []rolecast.SectionAggregate, error)
}

// Catalog maps a book and role to an index and a character description.
// *config.Config implements it.
type Catalog interface {
	Resolve(book, role string) (index, description string, err error)
}

// KeyPool exposes the credential pool state. *ratelimit.Scheduler
// implements it.
type KeyPool interface {
	Snapshot() []ratelimit.KeyState
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Chat           Chatter
	Catalog        Catalog               // nil = every book is its own index
	ReadyCheck     ReadyChecker          // nil = always ready (for tests)
	RateLimiter    *ratelimit.Registry   // nil = no rate limiting
	Limits         ratelimit.Limits      // per-caller limits
	Counter        rolecast.TokenCounter // nil = rate limit requests only
	Audit          storage.AuditStore    // nil = no audit endpoints
	Keys           KeyPool               // nil = no key endpoint
	Metrics        *telemetry.Metrics    // nil = no metrics
	MetricsHandler http.Handler          // nil = no /metrics
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/chat/stream", s.handleChatStream)
		if deps.Audit != nil {
			r.Get("/audit", s.handleListAudit)
			r.Get("/audit/{id}", s.handleGetAudit)
		}
		if deps.Keys != nil {
			r.Get("/keys", s.handleListKeys)
		}
	})

	return r
}

type server struct {
	deps Deps
}
