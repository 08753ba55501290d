package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	rolecast "github.com/eugener/rolecast/internal"
	"github.com/eugener/rolecast/internal/ratelimit"
)

const maxAuditPage = 500

type listResponse[T any] struct {
	Object string `json:"object"`
	Data   []T    `json:"data"`
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", rolecast.ErrBadRequest, name)
	}
	return n, nil
}

func (s *server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit = min(limit, maxAuditPage)

	recs, err := s.deps.Audit.ListAudit(r.Context(), r.URL.Query().Get("book"), offset, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []rolecast.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, listResponse[rolecast.AuditRecord]{Object: "list", Data: recs})
}

func (s *server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Audit.GetAudit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleListKeys reports the credential pool with masked keys.
func (s *server) handleListKeys(w http.ResponseWriter, _ *http.Request) {
	keys := s.deps.Keys.Snapshot()
	if keys == nil {
		keys = []ratelimit.KeyState{}
	}
	writeJSON(w, http.StatusOK, listResponse[ratelimit.KeyState]{Object: "list", Data: keys})
}
