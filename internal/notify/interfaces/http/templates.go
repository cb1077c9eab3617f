package http

import (
	"errors"
	"net/http"

	apihttp "building-cloud/internal/api/http"
	"building-cloud/internal/audit"
	"building-cloud/internal/notify/template"
)

const templatesPrefix = "/api/v1/templates"

// TemplatesHandler administers message templates.
type TemplatesHandler struct {
	service     *template.Service
	auditLogger audit.Logger
}

// NewTemplatesHandler constructs the handler.
func NewTemplatesHandler(service *template.Service, auditLogger audit.Logger) (*TemplatesHandler, error) {
	if service == nil {
		return nil, errors.New("templates handler: nil service")
	}
	return &TemplatesHandler{service: service, auditLogger: auditLogger}, nil
}

type previewRequest struct {
	Variables map[string]any `json:"variables"`
}

type previewResponse struct {
	Template template.Template `json:"template"`
	Rendered template.Rendered `json:"rendered"`
}

// ServeHTTP handles:
//
//	GET    /api/v1/templates
//	POST   /api/v1/templates
//	POST   /api/v1/templates/{name}/preview
//	DELETE /api/v1/templates/{scope}/{name}
func (h *TemplatesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := apihttp.RequireTenant(w, r)
	if !ok {
		return
	}
	parts := apihttp.Segments(r.URL.Path, templatesPrefix)
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		list, err := h.service.List(r.Context(), tenantID)
		if err != nil {
			apihttp.WriteError(w, err)
			return
		}
		apihttp.WriteJSON(w, http.StatusOK, list)
	case len(parts) == 0 && (r.Method == http.MethodPost || r.Method == http.MethodPut):
		h.save(w, r, tenantID)
	case len(parts) == 2 && parts[1] == "preview" && r.Method == http.MethodPost:
		h.preview(w, r, tenantID, parts[0])
	case len(parts) == 2 && r.Method == http.MethodDelete:
		scope := template.Scope(parts[0])
		if err := h.service.Delete(r.Context(), scope, tenantID, parts[1]); err != nil {
			apihttp.WriteError(w, err)
			return
		}
		apihttp.Audit(r, h.auditLogger, "template.delete", "template", parts[1], map[string]any{"scope": string(scope)})
		w.WriteHeader(http.StatusNoContent)
	case len(parts) <= 2:
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		http.NotFound(w, r)
	}
}

func (h *TemplatesHandler) save(w http.ResponseWriter, r *http.Request, tenantID string) {
	var tpl template.Template
	if err := apihttp.DecodeJSON(r, &tpl); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	switch tpl.Scope {
	case "", template.ScopeTenantOverride:
		tpl.Scope = template.ScopeTenantOverride
		tpl.TenantID = tenantID
	case template.ScopeSharedCustom:
		tpl.TenantID = ""
	default:
		apihttp.WriteError(w, template.ErrBuiltInReadOnly)
		return
	}
	saved, err := h.service.Save(r.Context(), tpl)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.Audit(r, h.auditLogger, "template.save", "template", saved.Name, map[string]any{"scope": string(saved.Scope)})
	apihttp.WriteJSON(w, http.StatusOK, saved)
}

func (h *TemplatesHandler) preview(w http.ResponseWriter, r *http.Request, tenantID, name string) {
	var req previewRequest
	if r.ContentLength != 0 {
		if err := apihttp.DecodeJSON(r, &req); err != nil {
			apihttp.WriteError(w, err)
			return
		}
	}
	tpl, rendered, err := h.service.Preview(r.Context(), tenantID, name, template.Stringify(req.Variables))
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, previewResponse{Template: tpl, Rendered: rendered})
}
