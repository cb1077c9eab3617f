package http

import (
	"context"
	"errors"
	"net/http"

	apihttp "building-cloud/internal/api/http"
	"building-cloud/internal/audit"
)

// Lister reads a tenant's audit trail.
type Lister interface {
	List(ctx context.Context, tenantID string, q audit.Query) ([]audit.Entry, error)
}

// Handler serves GET /api/v1/audit-logs.
type Handler struct {
	store Lister
}

func NewHandler(store Lister) (*Handler, error) {
	if store == nil {
		return nil, errors.New("audit handler: nil store")
	}
	return &Handler{store: store}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tenantID, ok := apihttp.RequireTenant(w, r)
	if !ok {
		return
	}
	limit, err := apihttp.ParseLimit(r, 100)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	since, err := apihttp.ParseTimeQuery(r, "since")
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	query := r.URL.Query()
	entries, err := h.store.List(r.Context(), tenantID, audit.Query{
		Action:       query.Get("action"),
		ResourceType: query.Get("resource_type"),
		ResourceID:   query.Get("resource_id"),
		Since:        since,
		Limit:        limit,
	})
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	apihttp.WriteJSON(w, http.StatusOK, entries)
}
