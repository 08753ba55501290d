package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	rolecast "github.com/eugener/rolecast/internal"
)

const maxRequestBody = 1 << 20

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on error.
// Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body: "+err.Error()))
		return false
	}
	return true
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = "invalid_request_error"
	return e
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, rolecast.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, rolecast.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rolecast.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, rolecast.ErrKeyExhausted), errors.Is(err, rolecast.ErrIndexMissing):
		return http.StatusServiceUnavailable
	case errors.Is(err, rolecast.ErrProviderError):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs server-side failures and writes the error response.
// Internal errors are reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	if status >= 500 {
		slog.LogAttrs(r.Context(), slog.LevelError, "request failed",
			slog.Int("status", status),
			slog.String("error", err.Error()),
			slog.String("request_id", rolecast.RequestIDFromContext(r.Context())),
		)
	}
	writeJSON(w, status, errorResponse(msg))
}

// jsonCT is assigned directly to the header map.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
