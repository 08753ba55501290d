// Package sseutil reads OpenAI-style server-sent event streams.
package sseutil

import (
	"bufio"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	maxLineSize = 64 * 1024 // 64KB per SSE line

	// DoneSentinel is the data payload that ends an OpenAI-style stream.
	DoneSentinel = "[DONE]"
)

// NewScanner returns a bufio.Scanner that yields one SSE line per Scan,
// accepting lines up to 64KB.
func NewScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 4096), maxLineSize)
	return s
}

// DataPayload returns the payload of a "data:" line. Event names, ids,
// comments and blank lines report ok=false.
func DataPayload(line string) (data string, ok bool) {
	if line == "" || line[0] == ':' {
		return "", false
	}
	field, value, found := strings.Cut(line, ":")
	if !found || field != "data" {
		return "", false
	}
	return strings.TrimPrefix(value, " "), true
}

// DeltaContent extracts the first choice's content delta and finish reason
// from one chat-completion chunk. ok is false when data is not valid JSON.
// Chunks without a delta (role-only, usage-only) yield empty content.
func DeltaContent(data string) (content, finish string, ok bool) {
	if !gjson.Valid(data) {
		return "", "", false
	}
	res := gjson.GetMany(data, "choices.0.delta.content", "choices.0.finish_reason")
	return res[0].String(), res[1].String(), true
}
