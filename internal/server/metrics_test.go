package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/eugener/rolecast/internal/ratelimit"
	"github.com/eugener/rolecast/internal/telemetry"
)

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	h := New(Deps{
		Chat:           &fakeChatter{},
		Catalog:        testCatalog,
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	// Hit a normal endpoint first to generate metrics.
	rec := postJSON(h, "/v1/chat", chatBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: status = %d; body = %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, name := range []string{"rolecast_requests_total", "rolecast_request_duration_seconds"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics should contain %s", name)
		}
	}

	got := promtest.ToFloat64(metrics.RequestsTotal.WithLabelValues(http.MethodPost, "/v1/chat", "200"))
	if got != 1 {
		t.Errorf("requests_total{/v1/chat,200} = %v, want 1", got)
	}
}

func TestMetrics_RateLimitRejects(t *testing.T) {
	t.Parallel()

	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	h := New(Deps{
		Chat:        &fakeChatter{},
		Catalog:     testCatalog,
		RateLimiter: ratelimit.NewRegistry(),
		Limits:      ratelimit.Limits{RPM: 1},
		Metrics:     metrics,
	})

	for range 3 {
		postJSON(h, "/v1/chat", chatBody)
	}
	if got := promtest.ToFloat64(metrics.RateLimitRejects); got != 2 {
		t.Errorf("rate_limit_rejects = %v, want 2", got)
	}
}

func TestMetrics_ProbesNotCounted(t *testing.T) {
	t.Parallel()

	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	h := New(Deps{Chat: &fakeChatter{}, Metrics: metrics})

	for range 3 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	}
	if n := promtest.CollectAndCount(metrics.RequestsTotal); n != 0 {
		t.Errorf("requests_total series = %d, want 0", n)
	}
}

func TestRoutePattern_Unrouted(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	if got := routePattern(req); got != "/nope" {
		t.Errorf("routePattern = %q, want /nope", got)
	}
}
