package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	rolecast "github.com/eugener/rolecast/internal"
	"github.com/eugener/rolecast/internal/completion"
	"github.com/eugener/rolecast/internal/prompt"
)

const keepAliveInterval = 15 * time.Second

type chatRequest struct {
	Book            string   `json:"book"`
	Role            string   `json:"role"`
	Query           string   `json:"query"`
	RoleDescription string   `json:"role_description,omitempty"`
	ConversationRef string   `json:"conversation_ref,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"top_p,omitempty"`
}

type chatResponse struct {
	Answer   string                      `json:"answer"`
	Model    string                      `json:"model"`
	Usage    rolecast.Usage              `json:"usage"`
	Sections []rolecast.SectionAggregate `json:"sections"`
}

type streamDelta struct {
	Content string `json:"content"`
}

// chatInput validates req and resolves the book's index and the role's
// description through the catalog.
func (s *server) chatInput(req *chatRequest) (prompt.ChatInput, error) {
	if strings.TrimSpace(req.Query) == "" {
		return prompt.ChatInput{}, fmt.Errorf("%w: query is required", rolecast.ErrBadRequest)
	}
	if req.Book == "" || req.Role == "" {
		return prompt.ChatInput{}, fmt.Errorf("%w: book and role are required", rolecast.ErrBadRequest)
	}
	in := prompt.ChatInput{
		Book:            req.Book,
		Role:            req.Role,
		RoleDescription: req.RoleDescription,
		Query:           req.Query,
		ConversationRef: req.ConversationRef,
		Options:         completion.Options{Temperature: req.Temperature, TopP: req.TopP},
	}
	if s.deps.Catalog == nil {
		return in, nil
	}
	index, desc, err := s.deps.Catalog.Resolve(req.Book, req.Role)
	if err != nil {
		return prompt.ChatInput{}, err
	}
	in.Index = index
	if in.RoleDescription == "" {
		in.RoleDescription = desc
	}
	return in, nil
}

// decodeChat reads the request body and runs admission. It returns false
// once a response has been written.
func (s *server) decodeChat(w http.ResponseWriter, r *http.Request) (prompt.ChatInput, bool) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return prompt.ChatInput{}, false
	}
	in, err := s.chatInput(&req)
	if err != nil {
		writeError(w, r, err)
		return prompt.ChatInput{}, false
	}
	if !s.admit(w, r, in.Query) {
		return prompt.ChatInput{}, false
	}
	return in, true
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	in, ok := s.decodeChat(w, r)
	if !ok {
		return
	}

	res, err := s.deps.Chat.Chat(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}

	sections := res.Sections
	if sections == nil {
		sections = []rolecast.SectionAggregate{}
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Answer:   res.Answer,
		Model:    res.Model,
		Usage:    res.Usage,
		Sections: sections,
	})
}

// handleChatStream relays answer fragments as SSE data frames. Errors that
// occur after the stream started are sent as an error event.
func (s *server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	in, ok := s.decodeChat(w, r)
	if !ok {
		return
	}

	ch, _, err := s.deps.Chat.ChatStream(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeSSEHeaders(w)
	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("ResponseWriter does not implement http.Flusher")
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case chunk, ok := <-ch:
			if !ok || chunk.Done {
				writeSSEDone(w)
				flusher.Flush()
				return
			}
			if chunk.Err != nil {
				slog.LogAttrs(r.Context(), slog.LevelError, "stream error",
					slog.String("error", chunk.Err.Error()),
					slog.String("request_id", rolecast.RequestIDFromContext(r.Context())),
				)
				writeSSEError(w, chunk.Err.Error())
				flusher.Flush()
				return
			}
			data, err := json.Marshal(streamDelta{Content: chunk.Content})
			if err != nil {
				continue
			}
			writeSSEData(w, data)
			flusher.Flush()

		case <-keepAlive.C:
			writeSSEKeepAlive(w)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
