package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/credit-markets/vitalfi-backend/internal/domain/model"
	"github.com/credit-markets/vitalfi-backend/internal/query"
)

// listResponse is the envelope every paginated endpoint returns.
// NextCursor appears only when another page exists.
type listResponse[T any] struct {
	Items      []T    `json:"items"`
	NextCursor *int64 `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
}

func (s *Server) handleVaults(w http.ResponseWriter, r *http.Request) {
	authority := r.URL.Query().Get("authority")
	if authority == "" {
		http.Error(w, `{"error":"authority query param required"}`, http.StatusBadRequest)
		return
	}
	status, ok := parseStatusParam(w, r)
	if !ok {
		return
	}
	cursor, ok := parseCursorParam(w, r)
	if !ok {
		return
	}
	limit, ok := parseLimitParam(w, r)
	if !ok {
		return
	}

	page, err := s.queries.VaultsByAuthority(r.Context(), authority, status, cursor, limit)
	if err != nil {
		s.respondQueryError(w, "list vaults failed", err)
		return
	}

	items := page.Items
	if items == nil {
		items = []*model.Vault{}
	}
	s.writeCachedJSON(w, r, routeVaults, listResponse[*model.Vault]{
		Items:      items,
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		http.Error(w, `{"error":"owner query param required"}`, http.StatusBadRequest)
		return
	}
	status, ok := parseStatusParam(w, r)
	if !ok {
		return
	}
	cursor, ok := parseCursorParam(w, r)
	if !ok {
		return
	}
	limit, ok := parseLimitParam(w, r)
	if !ok {
		return
	}

	page, err := s.queries.PositionsByOwner(r.Context(), owner, status, cursor, limit)
	if err != nil {
		s.respondQueryError(w, "list positions failed", err)
		return
	}

	items := page.Items
	if items == nil {
		items = []*model.Position{}
	}
	s.writeCachedJSON(w, r, routePositions, listResponse[*model.Position]{
		Items:      items,
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	})
}

// handleActivity serves the timeline for exactly one scope: a vault, a
// position, or an owner wallet.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	vault, position, owner := q.Get("vault"), q.Get("position"), q.Get("owner")

	set := 0
	for _, v := range []string{vault, position, owner} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		http.Error(w, `{"error":"exactly one of vault, position, or owner is required"}`, http.StatusBadRequest)
		return
	}

	cursor, ok := parseCursorParam(w, r)
	if !ok {
		return
	}
	limit, ok := parseLimitParam(w, r)
	if !ok {
		return
	}

	scope, key := query.TimelineSubject, vault
	switch {
	case position != "":
		key = position
	case owner != "":
		scope, key = query.TimelineWallet, owner
	}

	page, err := s.queries.Timeline(r.Context(), scope, key, cursor, limit)
	if err != nil {
		s.respondQueryError(w, "list activity failed", err)
		return
	}

	items := page.Items
	if items == nil {
		items = []*model.Activity{}
	}
	s.writeCachedJSON(w, r, routeActivity, listResponse[*model.Activity]{
		Items:      items,
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	})
}

// respondQueryError maps a query service failure to a response. An
// oversize legacy set is a temporary condition: the ordered index
// backfills on the scope's next write, so clients get a 503 with a
// retry hint rather than a hard failure.
func (s *Server) respondQueryError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, query.ErrScanLimitExceeded) {
		w.Header().Set("Retry-After", "60")
		http.Error(w, `{"error":"result set too large to serve unindexed"}`, http.StatusServiceUnavailable)
		return
	}
	s.logger.Error(msg, "error", err)
	http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
}

// parseStatusParam reads the optional status filter. Returns false (and
// writes an error response) on an unknown status value.
func parseStatusParam(w http.ResponseWriter, r *http.Request) (*model.VaultStatus, bool) {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return nil, true
	}
	st, ok := model.ParseStatus(raw)
	if !ok {
		http.Error(w, `{"error":"invalid status value"}`, http.StatusBadRequest)
		return nil, false
	}
	return &st, true
}

// parseCursorParam reads the optional pagination cursor, an opaque int64
// handed out by a previous page.
func parseCursorParam(w http.ResponseWriter, r *http.Request) (*int64, bool) {
	raw := r.URL.Query().Get("cursor")
	if raw == "" {
		return nil, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		http.Error(w, `{"error":"invalid cursor value"}`, http.StatusBadRequest)
		return nil, false
	}
	return &n, true
}

// parseLimitParam reads the optional page size. Zero means "use the
// configured default"; the query service clamps the rest.
func parseLimitParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		http.Error(w, `{"error":"invalid limit value"}`, http.StatusBadRequest)
		return 0, false
	}
	return n, true
}
