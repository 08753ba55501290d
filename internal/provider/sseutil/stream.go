package sseutil

import (
	"context"
	"fmt"
	"net/http"

	rolecast "github.com/eugener/rolecast/internal"
)

// FinishStop is the finish reason of a normally completed generation.
const FinishStop = "stop"

// ReadContentStream reads a chat-completion event stream from resp and sends
// each non-empty content delta on ch. The stream ends with a Done chunk on
// the [DONE] sentinel, a "stop" finish reason, or EOF; or with an Err chunk on
// a read failure, malformed event, or cancellation. ch is closed on return and
// the response body is always closed.
func ReadContentStream(ctx context.Context, providerName string, resp *http.Response, ch chan<- rolecast.StreamChunk) {
	defer close(ch)
	defer resp.Body.Close()

	send := func(c rolecast.StreamChunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := NewScanner(resp.Body)
	for scanner.Scan() {
		data, ok := DataPayload(scanner.Text())
		if !ok {
			continue
		}
		if data == DoneSentinel {
			send(rolecast.StreamChunk{Done: true})
			return
		}

		content, finish, ok := DeltaContent(data)
		if !ok {
			send(rolecast.StreamChunk{Err: fmt.Errorf("%s: malformed stream event: %.100s", providerName, data)})
			return
		}
		if content != "" && !send(rolecast.StreamChunk{Content: content}) {
			return
		}
		if finish == FinishStop {
			send(rolecast.StreamChunk{Done: true})
			return
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		send(rolecast.StreamChunk{Err: fmt.Errorf("%s: read stream: %w", providerName, err)})
		return
	}
	send(rolecast.StreamChunk{Done: true})
}
