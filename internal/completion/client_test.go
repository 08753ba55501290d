package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	rolecast "github.com/eugener/rolecast/internal"
	"github.com/eugener/rolecast/internal/provider"
	"github.com/eugener/rolecast/internal/provider/openai"
	"github.com/eugener/rolecast/internal/ratelimit"
	"github.com/eugener/rolecast/internal/telemetry"
	fakes "github.com/eugener/rolecast/internal/testutil"
)

func newClient(t *testing.T, cfg Config, keys []string, up Upstream) (*Client, *ratelimit.Scheduler) {
	t.Helper()
	sched := ratelimit.NewScheduler(keys, ratelimit.WithMinInterval(0))
	c, err := New(cfg, Deps{Keys: sched, Upstream: up, Counter: fakes.RuneCounter{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, sched
}

func TestNew_SystemPromptTooLong(t *testing.T) {
	t.Parallel()

	_, err := New(Config{SystemPrompt: strings.Repeat("x", MaxSystemPromptTokens+1)},
		Deps{Counter: fakes.RuneCounter{}})
	if !errors.Is(err, ErrSystemPromptTooLong) {
		t.Errorf("err = %v, want ErrSystemPromptTooLong", err)
	}

	_, err = New(Config{SystemPrompt: strings.Repeat("x", 50), MaxTokens: 50},
		Deps{Counter: fakes.RuneCounter{}})
	if !errors.Is(err, ErrSystemPromptTooLong) {
		t.Errorf("prompt filling the budget: err = %v, want ErrSystemPromptTooLong", err)
	}

	if _, err := New(Config{SystemPrompt: strings.Repeat("x", MaxSystemPromptTokens)},
		Deps{Counter: fakes.RuneCounter{}}); err != nil {
		t.Errorf("prompt at the limit: %v", err)
	}
}

func TestSelectModel(t *testing.T) {
	t.Parallel()
	c, _ := newClient(t, Config{}, []string{"k"}, &fakes.FakeUpstream{})

	if got := c.SelectModel(DefaultLongContextThreshold); got != DefaultModel {
		t.Errorf("at threshold: %q, want %q", got, DefaultModel)
	}
	if got := c.SelectModel(DefaultLongContextThreshold + 1); got != DefaultLongContextModel {
		t.Errorf("above threshold: %q, want %q", got, DefaultLongContextModel)
	}
}

func TestAsk(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rolecast.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != DefaultModel {
			t.Errorf("model = %q, want %q", req.Model, DefaultModel)
		}
		if req.User != "Ye Wenjie" {
			t.Errorf("user = %q, want role name", req.User)
		}
		if len(req.Messages) != 2 || req.Messages[1].Content != "hello" {
			t.Errorf("messages = %+v", req.Messages)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" world\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
	}))
	defer srv.Close()

	c, _ := newClient(t, Config{SystemPrompt: "sys"}, []string{"sk-1"}, openai.New(srv.URL, nil))

	ans, err := c.Ask(t.Context(), "hello", "Ye Wenjie", "conv", Options{})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Text != "Hello world" {
		t.Errorf("text = %q", ans.Text)
	}
	// "sys\nhello" as sent, "Hello world" back.
	if ans.PromptTokens != 9 || ans.CompletionTokens != 11 || ans.TotalTokens != 20 {
		t.Errorf("usage = %+v, want 9/11/20", ans.Usage)
	}

	msgs := c.Conversations().Messages("conv")
	if len(msgs) != 3 || msgs[2].Role != rolecast.RoleAssistant || msgs[2].Content != "Hello world" {
		t.Errorf("conversation = %+v", msgs)
	}
}

func TestAsk_LongContextModel(t *testing.T) {
	t.Parallel()
	up := &fakes.FakeUpstream{}
	c, _ := newClient(t, Config{LongContextThreshold: 50}, []string{"k"}, up)

	if _, err := c.Ask(t.Context(), "short", "r", "a", Options{}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Ask(t.Context(), strings.Repeat("long ", 20), "r", "b", Options{}); err != nil {
		t.Fatal(err)
	}

	reqs := up.Requests()
	if reqs[0].Model != DefaultModel {
		t.Errorf("short prompt model = %q", reqs[0].Model)
	}
	if reqs[1].Model != DefaultLongContextModel {
		t.Errorf("long prompt model = %q", reqs[1].Model)
	}
}

func TestAsk_Options(t *testing.T) {
	t.Parallel()
	up := &fakes.FakeUpstream{}
	c, _ := newClient(t, Config{Temperature: 0.2, TopP: 0.9}, []string{"k"}, up)

	temp := 1.0
	if _, err := c.Ask(t.Context(), "q", "r", "c", Options{Temperature: &temp}); err != nil {
		t.Fatal(err)
	}
	req := up.Requests()[0]
	if req.Temperature != 1.0 || req.TopP != 0.9 || req.N != 1 || !req.Stream {
		t.Errorf("request = %+v", req)
	}
}

func TestAsk_ForbiddenQuarantinesKey(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") == "Bearer sk-revoked" {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"error":{"message":"revoked"}}`)
			return
		}
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	sched := ratelimit.NewScheduler([]string{"sk-revoked"}, ratelimit.WithMinInterval(0))
	c, err := New(Config{}, Deps{
		Keys:     sched,
		Upstream: openai.New(srv.URL, nil),
		Counter:  fakes.RuneCounter{},
		Metrics:  metrics,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.Ask(t.Context(), "hi", "r", "c", Options{})
	var ae *provider.APIError
	if !errors.As(err, &ae) || ae.StatusCode != http.StatusForbidden {
		t.Fatalf("err = %v, want 403 APIError", err)
	}
	if !errors.Is(err, rolecast.ErrProviderError) {
		t.Error("error should match ErrProviderError")
	}
	if _, q := sched.Len(); q != 1 {
		t.Fatalf("quarantined = %d, want 1", q)
	}
	if got := testutil.ToFloat64(metrics.KeyQuarantines); got != 1 {
		t.Errorf("quarantine metric = %v, want 1", got)
	}

	_, err = c.Ask(t.Context(), "hi again", "r", "c", Options{})
	if !errors.Is(err, rolecast.ErrKeyExhausted) {
		t.Errorf("err = %v, want ErrKeyExhausted", err)
	}
	if calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", calls.Load())
	}
}

func TestAsk_ServerErrorKeepsKey(t *testing.T) {
	t.Parallel()
	up := &fakes.FakeUpstream{Reply: func(*rolecast.ChatRequest) ([]string, error) {
		return nil, &provider.APIError{Provider: "fake", StatusCode: 500}
	}}
	c, sched := newClient(t, Config{}, []string{"k"}, up)

	if _, err := c.Ask(t.Context(), "q", "r", "c", Options{}); !errors.Is(err, rolecast.ErrProviderError) {
		t.Fatalf("err = %v", err)
	}
	if ready, q := sched.Len(); ready != 1 || q != 0 {
		t.Errorf("Len() = %d, %d, want 1, 0", ready, q)
	}
}

func TestAsk_StreamErrorDoesNotCommit(t *testing.T) {
	t.Parallel()
	up := &fakes.FakeUpstream{StreamErr: errors.New("connection reset")}
	c, _ := newClient(t, Config{}, []string{"k"}, up)

	if _, err := c.Ask(t.Context(), "q", "r", "c", Options{}); err == nil {
		t.Fatal("expected error")
	}
	for _, m := range c.Conversations().Messages("c") {
		if m.Role == rolecast.RoleAssistant {
			t.Errorf("partial reply committed: %+v", m)
		}
	}
}

func TestAsk_FailedExchangeLeavesNoUserTurn(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		up   *fakes.FakeUpstream
	}{
		{"open fails", &fakes.FakeUpstream{Reply: func(*rolecast.ChatRequest) ([]string, error) {
			return nil, &provider.APIError{Provider: "fake", StatusCode: 500}
		}}},
		{"stream fails", &fakes.FakeUpstream{StreamErr: errors.New("connection reset")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, _ := newClient(t, Config{}, []string{"k"}, tt.up)
			c.Conversations().Append("c", rolecast.RoleUser, "earlier")
			c.Conversations().Append("c", rolecast.RoleAssistant, "reply")

			if _, err := c.Ask(t.Context(), "lost", "r", "c", Options{}); err == nil {
				t.Fatal("expected error")
			}
			msgs := c.Conversations().Messages("c")
			if len(msgs) != 3 || msgs[2].Role != rolecast.RoleAssistant {
				t.Errorf("messages = %+v, want history ending in the earlier reply", msgs)
			}
		})
	}
}

func TestAsk_KeyExhaustedLeavesNoUserTurn(t *testing.T) {
	t.Parallel()
	c, _ := newClient(t, Config{}, nil, &fakes.FakeUpstream{})

	if _, err := c.Ask(t.Context(), "q", "r", "c", Options{}); !errors.Is(err, rolecast.ErrKeyExhausted) {
		t.Fatalf("err = %v, want ErrKeyExhausted", err)
	}
	if n := len(c.Conversations().Messages("c")); n != 1 {
		t.Errorf("len = %d, want only the system message", n)
	}
}

func TestAsk_Cancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, sched := newClient(t, Config{}, []string{"k"}, openai.New(srv.URL, nil))
	ctx, cancel := context.WithCancel(t.Context())

	ch, err := c.AskStream(ctx, "q", "r", "c", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if first := <-ch; first.Content != "partial" {
		t.Fatalf("first = %+v", first)
	}
	cancel()
	for range ch {
	}

	if ready, _ := sched.Len(); ready != 1 {
		t.Errorf("key lost after cancellation")
	}
	if _, err := sched.Acquire(t.Context()); err != nil {
		t.Errorf("scheduler unusable after cancellation: %v", err)
	}
}

func TestAskStream_Fragments(t *testing.T) {
	t.Parallel()
	up := &fakes.FakeUpstream{Reply: func(*rolecast.ChatRequest) ([]string, error) {
		return []string{"a", "b", "c"}, nil
	}}
	c, _ := newClient(t, Config{}, []string{"k"}, up)

	ch, err := c.AskStream(t.Context(), "q", "r", "c", Options{})
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	var done bool
	for chunk := range ch {
		if chunk.Done {
			done = true
			continue
		}
		got = append(got, chunk.Content)
	}
	if strings.Join(got, "") != "abc" || !done {
		t.Errorf("got %q done=%v", got, done)
	}
	if n := len(c.Conversations().Messages("c")); n != 2 {
		t.Errorf("AskStream should not append the reply; len = %d", n)
	}
}
