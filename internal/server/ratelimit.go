package server

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"

	rolecast "github.com/eugener/rolecast/internal"
)

// clientRefHeader identifies a caller for rate limiting.
const clientRefHeader = "X-Client-Ref"

// callerOf returns the rate-limit identity of r: the client ref header when
// present, otherwise the remote host.
func callerOf(r *http.Request) string {
	if vals := r.Header[clientRefHeader]; len(vals) > 0 && vals[0] != "" {
		return vals[0]
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// admit charges one request and the query's tokens to the caller. It writes
// a 429 and returns false when a budget is exhausted.
func (s *server) admit(w http.ResponseWriter, r *http.Request, query string) bool {
	if s.deps.RateLimiter == nil {
		return true
	}
	var tokens int64
	if s.deps.Counter != nil {
		tokens = int64(s.deps.Counter.Count(query))
	}

	res := s.deps.RateLimiter.Allow(callerOf(r), s.deps.Limits, tokens)
	if res.Limit > 0 {
		h := w.Header()
		h["X-Ratelimit-Limit"] = []string{strconv.FormatInt(res.Limit, 10)}
		h["X-Ratelimit-Remaining"] = []string{strconv.FormatInt(res.Remaining, 10)}
	}
	if res.Allowed {
		return true
	}

	if m := s.deps.Metrics; m != nil {
		m.RateLimitRejects.Inc()
	}
	retry := int64(math.Ceil(res.RetryAfterSeconds))
	w.Header()["Retry-After"] = []string{strconv.FormatInt(retry, 10)}
	writeError(w, r, fmt.Errorf("%w: retry in %ds", rolecast.ErrRateLimited, retry))
	return false
}
