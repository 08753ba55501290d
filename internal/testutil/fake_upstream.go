package testutil

import (
	"context"
	"fmt"
	"sync"
	"unicode/utf8"

	rolecast "github.com/eugener/rolecast/internal"
)

// FakeUpstream is a configurable chat-completion upstream. It records every
// request and streams the fragments returned by Reply.
type FakeUpstream struct {
	// Reply returns the fragments to stream for req, or an error to return
	// before streaming. Nil uses EchoPromptLength.
	Reply func(req *rolecast.ChatRequest) ([]string, error)

	// StreamErr, when set, is sent after the fragments instead of Done.
	StreamErr error

	mu       sync.Mutex
	requests []rolecast.ChatRequest
	keys     []string
}

// EchoPromptLength replies with the rune length of the final message.
func EchoPromptLength(req *rolecast.ChatRequest) ([]string, error) {
	last := req.Messages[len(req.Messages)-1].Content
	return []string{"prompt length: ", fmt.Sprint(utf8.RuneCountInString(last))}, nil
}

// ChatStream implements the completion upstream contract.
func (f *FakeUpstream) ChatStream(ctx context.Context, key string, req *rolecast.ChatRequest) (<-chan rolecast.StreamChunk, error) {
	f.mu.Lock()
	cp := *req
	cp.Messages = append([]rolecast.Message(nil), req.Messages...)
	f.requests = append(f.requests, cp)
	f.keys = append(f.keys, key)
	f.mu.Unlock()

	reply := f.Reply
	if reply == nil {
		reply = EchoPromptLength
	}
	fragments, err := reply(&cp)
	if err != nil {
		return nil, err
	}

	ch := make(chan rolecast.StreamChunk, len(fragments)+1)
	go func() {
		defer close(ch)
		for _, frag := range fragments {
			select {
			case ch <- rolecast.StreamChunk{Content: frag}:
			case <-ctx.Done():
				return
			}
		}
		if f.StreamErr != nil {
			ch <- rolecast.StreamChunk{Err: f.StreamErr}
			return
		}
		ch <- rolecast.StreamChunk{Done: true}
	}()
	return ch, nil
}

// Requests returns copies of all received requests.
func (f *FakeUpstream) Requests() []rolecast.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]rolecast.ChatRequest(nil), f.requests...)
}

// Keys returns the API keys used, in call order.
func (f *FakeUpstream) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.keys...)
}
