package sseutil

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	rolecast "github.com/eugener/rolecast/internal"
)

func TestDataPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line   string
		want   string
		wantOK bool
	}{
		{"data: hello", "hello", true},
		{"data:hello", "hello", true},
		{"data: [DONE]", "[DONE]", true},
		{"event: message", "", false},
		{": keep-alive", "", false},
		{"", "", false},
		{"garbage", "", false},
	}
	for _, tt := range tests {
		got, ok := DataPayload(tt.line)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("DataPayload(%q) = %q, %v, want %q, %v", tt.line, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestDeltaContent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		content string
		finish  string
		wantOK  bool
	}{
		{
			name:    "content delta",
			data:    `{"choices":[{"index":0,"delta":{"content":"你好"},"finish_reason":null}]}`,
			content: "你好",
			wantOK:  true,
		},
		{
			name:   "role only",
			data:   `{"choices":[{"index":0,"delta":{"role":"assistant"}}]}`,
			wantOK: true,
		},
		{
			name:   "stop",
			data:   `{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
			finish: "stop",
			wantOK: true,
		},
		{
			name:   "no choices",
			data:   `{"choices":[],"usage":{"total_tokens":3}}`,
			wantOK: true,
		},
		{
			name: "malformed",
			data: `{"choices":[`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			content, finish, ok := DeltaContent(tt.data)
			if content != tt.content || finish != tt.finish || ok != tt.wantOK {
				t.Errorf("DeltaContent() = %q, %q, %v, want %q, %q, %v",
					content, finish, ok, tt.content, tt.finish, tt.wantOK)
			}
		})
	}
}

func readAll(t *testing.T, ctx context.Context, body string) []rolecast.StreamChunk {
	t.Helper()
	resp := &http.Response{Body: io.NopCloser(strings.NewReader(body))}
	ch := make(chan rolecast.StreamChunk, 8)
	go ReadContentStream(ctx, "test", resp, ch)

	var chunks []rolecast.StreamChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	return chunks
}

func TestReadContentStream(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		want    []string
		wantErr bool
	}{
		{
			name: "done sentinel",
			body: "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"hello\"}}]}\n\n" +
				": keep-alive\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\" world\"}}]}\n\n" +
				"data: [DONE]\n\n",
			want: []string{"hello", " world"},
		},
		{
			name: "finish reason stop",
			body: "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"ignored\"}}]}\n\n",
			want: []string{"a"},
		},
		{
			name: "eof",
			body: "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n",
			want: []string{"x"},
		},
		{
			name:    "malformed event",
			body:    "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\ndata: {oops\n\n",
			want:    []string{"x"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			chunks := readAll(t, t.Context(), tt.body)
			if len(chunks) == 0 {
				t.Fatal("no chunks")
			}

			var got []string
			for _, c := range chunks[:len(chunks)-1] {
				got = append(got, c.Content)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("content = %q, want %q", got, tt.want)
			}

			last := chunks[len(chunks)-1]
			if tt.wantErr {
				if last.Err == nil {
					t.Error("last chunk should carry an error")
				}
				return
			}
			if !last.Done {
				t.Errorf("last chunk = %+v, want Done", last)
			}
		})
	}
}

func TestReadContentStreamCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	body := strings.Repeat("data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n", 100)
	resp := &http.Response{Body: io.NopCloser(strings.NewReader(body))}
	ch := make(chan rolecast.StreamChunk) // unbuffered: every send must race ctx
	go ReadContentStream(ctx, "test", resp, ch)

	n := 0
	for range ch {
		n++
	}
	if n >= 100 {
		t.Errorf("received %d chunks after cancellation", n)
	}
}
