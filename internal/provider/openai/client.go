// Package openai is a client for the OpenAI-compatible chat-completion and
// embeddings endpoints. Each call takes the API key to use, so credential
// rotation stays with the caller.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	rolecast "github.com/eugener/rolecast/internal"
	"github.com/eugener/rolecast/internal/provider"
	"github.com/eugener/rolecast/internal/provider/sseutil"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	providerName   = "openai"

	maxEmbeddingResponse = 64 << 20
)

// Client talks to one OpenAI-compatible API base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client. If baseURL is empty, it defaults to
// "https://api.openai.com/v1".
func New(baseURL string, client *http.Client) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
	}
}

// ChatStream opens a streaming chat completion with key and returns a
// channel of content deltas. A non-2xx status is returned as *provider.APIError
// before any chunk is produced. The channel is closed after a Done or Err
// chunk; cancelling ctx closes the connection.
func (c *Client) ChatStream(ctx context.Context, key string, req *rolecast.ChatRequest) (<-chan rolecast.StreamChunk, error) {
	outReq := *req
	outReq.Stream = true

	resp, err := c.post(ctx, key, "/chat/completions", &outReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, provider.ParseAPIError(providerName, resp)
	}

	ch := make(chan rolecast.StreamChunk, 8)
	go sseutil.ReadContentStream(ctx, providerName, resp, ch)
	return ch, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// Embeddings returns one vector per text, in input order.
func (c *Client) Embeddings(ctx context.Context, key, model string, texts []string) ([][]float32, error) {
	resp, err := c.post(ctx, key, "/embeddings", &embeddingRequest{Model: model, Input: texts})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(providerName, resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEmbeddingResponse))
	if err != nil {
		return nil, fmt.Errorf("openai: read embeddings: %w", err)
	}
	return parseEmbeddings(body, len(texts))
}

// parseEmbeddings places each data[i].embedding at its reported index.
func parseEmbeddings(body []byte, n int) ([][]float32, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("openai: decode embeddings: invalid JSON")
	}
	out := make([][]float32, n)
	var perr error
	gjson.GetBytes(body, "data").ForEach(func(_, item gjson.Result) bool {
		idx := int(item.Get("index").Int())
		if idx < 0 || idx >= n {
			perr = fmt.Errorf("openai: embedding index %d out of range", idx)
			return false
		}
		values := item.Get("embedding").Array()
		vec := make([]float32, len(values))
		for i, v := range values {
			vec[i] = float32(v.Float())
		}
		out[idx] = vec
		return true
	})
	if perr != nil {
		return nil, perr
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("openai: missing embedding for input %d", i)
		}
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, key, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	(&oauth2.Token{AccessToken: key, TokenType: "Bearer"}).SetAuthHeader(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: do request: %w", err)
	}
	return resp, nil
}
