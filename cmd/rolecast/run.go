package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rolecast "github.com/eugener/rolecast/internal"
	"github.com/eugener/rolecast/internal/ratelimit"
	"github.com/eugener/rolecast/internal/server"
	"github.com/eugener/rolecast/internal/storage/sqlite"
	"github.com/eugener/rolecast/internal/telemetry"
	"github.com/eugener/rolecast/internal/worker"
)

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting rolecast", "version", version, "addr", cfg.Server.Addr)

	// Telemetry
	var (
		metrics        *telemetry.Metrics
		metricsHandler http.Handler
	)
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(context.Background(), cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				slog.Error("tracing shutdown", "error", err)
			}
		}()
	}

	// Open database
	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	recorder := worker.NewAuditRecorder(store, cfg.Database.LastAuditPath, metrics)
	st, err := newStack(cfg, store, recorder, metrics)
	if err != nil {
		return err
	}

	limiter := ratelimit.NewRegistry()

	// Background workers
	workerCtx, workerCancel := context.WithCancel(context.Background())
	runner := worker.NewRunner(
		recorder,
		worker.NewLimiterEvictor(limiter),
		worker.NewDNSRefresher(st.resolver),
	)
	workerDone := make(chan error, 1)
	go func() { workerDone <- runner.Run(workerCtx) }()

	handler := server.New(server.Deps{
		Chat:           st.orch,
		Catalog:        cfg,
		ReadyCheck:     readyCheck(store, st.keys),
		RateLimiter:    limiter,
		Limits:         ratelimit.Limits{RPM: cfg.RateLimits.RPM, TPM: cfg.RateLimits.TPM},
		Counter:        st.counter,
		Audit:          store,
		Keys:           st.keys,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("rolecast ready", "addr", cfg.Server.Addr, "keys", len(cfg.LLM.APIKeys), "books", len(cfg.Books))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	var serveErr error
	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}

	// Stop workers after the server so queued audit records are drained.
	workerCancel()
	if err := <-workerDone; err != nil {
		slog.Error("worker error", "error", err)
	}

	slog.Info("rolecast stopped")
	return serveErr
}

// readyCheck reports ready when the database answers and at least one key
// can be used now.
func readyCheck(store *sqlite.Store, keys *ratelimit.Scheduler) server.ReadyChecker {
	return func(ctx context.Context) error {
		if err := store.Ping(ctx); err != nil {
			return err
		}
		now := time.Now()
		for _, k := range keys.Snapshot() {
			if !k.Quarantined && !k.EligibleAt.After(now) {
				return nil
			}
		}
		return rolecast.ErrKeyExhausted
	}
}
