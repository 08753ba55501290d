package rolecast

import "errors"

// Sentinel errors for the rolecast domain.
var (
	ErrKeyExhausted     = errors.New("api key exhausted")
	ErrProviderError    = errors.New("provider error")
	ErrIndexMissing     = errors.New("vector index missing")
	ErrLanguageMismatch = errors.New("language mismatch")
	ErrTooShort         = errors.New("generated text too short")
	ErrBadRequest       = errors.New("bad request")
	ErrNotFound         = errors.New("not found")
	ErrRateLimited      = errors.New("rate limit exceeded")
)
