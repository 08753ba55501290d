package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	rolecast "github.com/eugener/rolecast/internal"
	"github.com/eugener/rolecast/internal/provider"
)

func TestChatStream(t *testing.T) {
	t.Parallel()

	sseBody := "data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"},\"index\":0}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\" world\"},\"index\":0}]}\n\n" +
		"data: [DONE]\n\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s, want /v1/chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q, want Bearer sk-test", got)
		}
		var req rolecast.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.Stream {
			t.Error("stream should be true")
		}
		if req.User != "Kirito" || req.N != 1 {
			t.Errorf("user = %q, n = %d", req.User, req.N)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody)
	}))
	defer srv.Close()

	client := New(srv.URL+"/v1", nil)
	ch, err := client.ChatStream(t.Context(), "sk-test", &rolecast.ChatRequest{
		Model:    "gpt-3.5-turbo-0613",
		Messages: []rolecast.Message{{Role: rolecast.RoleUser, Content: "hi"}},
		N:        1,
		User:     "Kirito",
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var text string
	var done bool
	for c := range ch {
		if c.Err != nil {
			t.Fatalf("stream error: %v", c.Err)
		}
		text += c.Content
		done = done || c.Done
	}
	if text != "Hello world" {
		t.Errorf("text = %q, want %q", text, "Hello world")
	}
	if !done {
		t.Error("stream should end with Done")
	}
}

func TestChatStreamHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"message":"key revoked"}}`)
	}))
	defer srv.Close()

	client := New(srv.URL, nil)
	_, err := client.ChatStream(t.Context(), "sk-bad", &rolecast.ChatRequest{Model: "m"})
	var ae *provider.APIError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want *provider.APIError", err)
	}
	if ae.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", ae.StatusCode)
	}
	if !provider.IsAuthFailure(err) {
		t.Error("403 should be an auth failure")
	}
}

func TestChatStreamCancel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(t.Context())
	client := New(srv.URL, nil)
	ch, err := client.ChatStream(ctx, "k", &rolecast.ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if c := <-ch; c.Content != "hi" {
		t.Fatalf("first chunk = %+v", c)
	}
	cancel()

	for c := range ch {
		if c.Done {
			t.Error("cancelled stream must not report Done")
		}
	}
}

func TestEmbeddings(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != "text-embedding-ada-002" || len(req.Input) != 2 {
			t.Errorf("req = %+v", req)
		}
		// Out of order on purpose.
		fmt.Fprint(w, `{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`)
	}))
	defer srv.Close()

	client := New(srv.URL, nil)
	vecs, err := client.Embeddings(t.Context(), "k", "text-embedding-ada-002", []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embeddings: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("vecs = %v", vecs)
	}
}

func TestParseEmbeddingsErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"data":`},
		{"missing entry", `{"data":[{"index":0,"embedding":[1]}]}`},
		{"index out of range", `{"data":[{"index":5,"embedding":[1]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := parseEmbeddings([]byte(tt.body), 2); err == nil {
				t.Error("expected error")
			}
		})
	}
}
