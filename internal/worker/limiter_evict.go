package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/eugener/rolecast/internal/ratelimit"
)

const (
	evictInterval = 10 * time.Minute
	evictIdle     = time.Hour
)

// LimiterEvictor drops per-caller rate limiters that have been idle for an
// hour, so one-off callers do not accumulate.
type LimiterEvictor struct {
	registry *ratelimit.Registry
	every    time.Duration
	idle     time.Duration
	now      func() time.Time
}

// NewLimiterEvictor creates a LimiterEvictor for registry.
func NewLimiterEvictor(registry *ratelimit.Registry) *LimiterEvictor {
	return &LimiterEvictor{registry: registry, every: evictInterval, idle: evictIdle, now: time.Now}
}

// Name returns the worker identifier.
func (e *LimiterEvictor) Name() string { return "limiter_evictor" }

// Run evicts idle limiters periodically until ctx is cancelled.
func (e *LimiterEvictor) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := e.registry.EvictStale(e.now().Add(-e.idle)); n > 0 {
				slog.LogAttrs(ctx, slog.LevelDebug, "idle rate limiters evicted",
					slog.Int("count", n),
				)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
