// Package provider holds the pieces shared by upstream LLM API clients:
// error classification and HTTP transport setup.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"

	rolecast "github.com/eugener/rolecast/internal"
)

// APIError is a non-2xx response from an upstream LLM API.
// It matches rolecast.ErrProviderError with errors.Is.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

// Error returns a formatted error string including provider, status, and body.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// HTTPStatus returns the upstream status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Unwrap lets errors.Is(err, rolecast.ErrProviderError) succeed.
func (e *APIError) Unwrap() error { return rolecast.ErrProviderError }

// ParseAPIError reads up to 4KB from the response body and returns an APIError.
func ParseAPIError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
}

// IsAuthFailure reports whether err is an upstream rejection of the
// credential itself (401 or 403). Such keys should be quarantined.
func IsAuthFailure(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.StatusCode == http.StatusUnauthorized || ae.StatusCode == http.StatusForbidden
}

// Retryable reports whether a failed upstream call may succeed if repeated:
// rate limiting, 5xx, timeouts and network errors. Other 4xx responses and
// cancellation are final.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode == http.StatusTooManyRequests || ae.StatusCode >= 500
	}
	if errors.Is(err, rolecast.ErrKeyExhausted) {
		return true
	}
	var netErr *net.OpError
	return errors.As(err, &netErr)
}
