package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetricsGather(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	m.RequestsTotal.WithLabelValues("POST", "/v1/chat", "200").Inc()
	m.RequestDuration.WithLabelValues("POST", "/v1/chat").Observe(0.25)
	m.UpstreamDuration.WithLabelValues("gpt-3.5-turbo-0613").Observe(1.5)
	m.UpstreamErrors.WithLabelValues("403").Inc()
	m.KeyAcquisitions.WithLabelValues("ok").Inc()
	m.KeyQuarantines.Inc()
	m.TokensProcessed.WithLabelValues("gpt-3.5-turbo-0613", "prompt").Add(120)
	m.EmbedCacheHits.Inc()
	m.ChatsInFlight.Set(3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	want := []string{
		"rolecast_requests_total",
		"rolecast_request_duration_seconds",
		"rolecast_upstream_duration_seconds",
		"rolecast_upstream_errors_total",
		"rolecast_key_acquisitions_total",
		"rolecast_key_quarantines_total",
		"rolecast_tokens_processed_total",
		"rolecast_embedding_cache_hits_total",
		"rolecast_chats_in_flight",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("missing metric %q in gathered families", name)
		}
	}
}

func TestNewMetricsDoubleRegisterPanics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	defer func() {
		if recover() == nil {
			t.Error("registering twice should panic")
		}
	}()
	NewMetrics(reg)
}

// SetupTracing is not unit-tested because it requires a gRPC connection
// to an OTLP collector, which is integration-test territory.

func TestSampler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
	}
	for _, tt := range tests {
		if got := sampler(tt.rate).Description(); got != tt.want {
			t.Errorf("sampler(%v) = %q, want %q", tt.rate, got, tt.want)
		}
	}
	if got := sampler(0.5).Description(); got == "AlwaysOnSampler" || got == "AlwaysOffSampler" {
		t.Errorf("sampler(0.5) = %q, want ratio-based", got)
	}
}
