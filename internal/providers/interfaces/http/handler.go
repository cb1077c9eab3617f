package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	apihttp "building-cloud/internal/api/http"
	"building-cloud/internal/audit"
	"building-cloud/internal/providers"
)

const (
	providersPrefix = "/api/v1/providers"
	maxSectionBytes = 64 << 10
)

// Handler reads and writes a tenant's provider configuration.
type Handler struct {
	service     *providers.Service
	auditLogger audit.Logger
}

// NewHandler constructs a provider config handler.
func NewHandler(service *providers.Service, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("providers handler: nil service")
	}
	return &Handler{service: service, auditLogger: auditLogger}, nil
}

type configResponse struct {
	TenantID  string                        `json:"tenant_id"`
	Providers map[providers.Provider]any    `json:"providers"`
	Invalid   map[providers.Provider]string `json:"invalid,omitempty"`
	LoadedAt  time.Time                     `json:"loaded_at"`
}

// ServeHTTP handles GET /api/v1/providers and PUT /api/v1/providers/{provider}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := apihttp.RequireTenant(w, r)
	if !ok {
		return
	}
	parts := apihttp.Segments(r.URL.Path, providersPrefix)
	switch len(parts) {
	case 0:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.get(w, r, tenantID)
	case 1:
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		provider, ok := providers.ParseProvider(parts[0])
		if !ok {
			http.NotFound(w, r)
			return
		}
		h.put(w, r, tenantID, provider)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, tenantID string) {
	cfg, err := h.service.Snapshot(r.Context(), tenantID)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, configResponse{
		TenantID:  tenantID,
		Providers: cfg.Redacted(),
		Invalid:   cfg.Invalid,
		LoadedAt:  cfg.LoadedAt,
	})
}

func (h *Handler) put(w http.ResponseWriter, r *http.Request, tenantID string, provider providers.Provider) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSectionBytes))
	if err != nil {
		apihttp.WriteError(w, apihttp.BadRequest("read body error"))
		return
	}
	defer r.Body.Close()

	section, err := providers.DecodeSection(provider, body)
	if err != nil {
		apihttp.WriteError(w, apihttp.BadRequest("invalid %s config: %v", provider, err))
		return
	}
	current, err := h.service.Snapshot(r.Context(), tenantID)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	section = current.KeepSecrets(section)
	if err := h.service.Save(r.Context(), tenantID, section); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.Audit(r, h.auditLogger, "provider_config.update", "provider_config", string(provider), map[string]any{
		"body_digest": audit.DigestJSON(body),
	})

	updated, err := h.service.Snapshot(r.Context(), tenantID)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, configResponse{
		TenantID:  tenantID,
		Providers: updated.Redacted(),
		Invalid:   updated.Invalid,
		LoadedAt:  updated.LoadedAt,
	})
}
