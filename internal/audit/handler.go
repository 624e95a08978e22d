package audit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/pixora-labs/pixora/internal/api"
	"github.com/pixora-labs/pixora/internal/auth"
)

// Lister is the read side of the event repository.
type Lister interface {
	ListByUser(ctx context.Context, userID string, params ListParams) ([]Entry, int64, error)
}

// Handler serves the caller's audit trail.
type Handler struct {
	repo Lister
}

// NewHandler creates a new audit Handler.
func NewHandler(repo Lister) *Handler {
	return &Handler{repo: repo}
}

// List returns paginated job and quota events for the authenticated user.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.CurrentUser(r.Context())
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	params := parseListParams(r)

	entries, total, err := h.repo.ListByUser(r.Context(), id.ID, params)
	if err != nil {
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONPaginated(w, http.StatusOK, entries, total, params.Page, params.PageSize)
}

func parseListParams(r *http.Request) ListParams {
	params := DefaultListParams()
	q := r.URL.Query()

	params.EventType = q.Get("event_type")
	params.ResourceType = q.Get("resource_type")
	params.ResourceID = q.Get("resource_id")

	if p := q.Get("page"); p != "" {
		if page, err := strconv.Atoi(p); err == nil && page > 0 {
			params.Page = page
		}
	}
	if ps := q.Get("page_size"); ps != "" {
		if pageSize, err := strconv.Atoi(ps); err == nil && pageSize > 0 && pageSize <= 100 {
			params.PageSize = pageSize
		}
	}
	if from := q.Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			params.From = &t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			params.To = &t
		}
	}

	return params
}
