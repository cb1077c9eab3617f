package http

import (
	"errors"
	"net/http"

	apihttp "building-cloud/internal/api/http"
	"building-cloud/internal/audit"
	"building-cloud/internal/auth"
	notifyapp "building-cloud/internal/notify/application"
)

const devicesPrefix = "/api/v1/devices"

// DevicesHandler registers and removes push tokens.
type DevicesHandler struct {
	service     *notifyapp.DeviceService
	auditLogger audit.Logger
}

// NewDevicesHandler constructs the handler.
func NewDevicesHandler(service *notifyapp.DeviceService, auditLogger audit.Logger) (*DevicesHandler, error) {
	if service == nil {
		return nil, errors.New("devices handler: nil service")
	}
	return &DevicesHandler{service: service, auditLogger: auditLogger}, nil
}

type unregisterRequest struct {
	Token string `json:"token"`
}

// ServeHTTP handles POST/DELETE /api/v1/devices and POST /api/v1/devices/subscribe-all.
func (h *DevicesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := apihttp.RequireTenant(w, r)
	if !ok {
		return
	}
	parts := apihttp.Segments(r.URL.Path, devicesPrefix)
	if len(parts) == 1 && parts[0] == "subscribe-all" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		result, err := h.service.SubscribeAll(r.Context(), tenantID)
		if err != nil {
			apihttp.WriteError(w, err)
			return
		}
		apihttp.WriteJSON(w, http.StatusOK, result)
		return
	}
	if len(parts) > 1 {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.register(w, r, tenantID)
	case http.MethodDelete:
		token := ""
		if len(parts) == 1 {
			token = parts[0]
		} else {
			var req unregisterRequest
			if err := apihttp.DecodeJSON(r, &req); err != nil {
				apihttp.WriteError(w, err)
				return
			}
			token = req.Token
		}
		removed, err := h.service.Unregister(r.Context(), tenantID, token)
		if err != nil {
			apihttp.WriteError(w, err)
			return
		}
		apihttp.WriteJSON(w, http.StatusOK, map[string]any{"removed": removed})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *DevicesHandler) register(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req notifyapp.RegisterDevice
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	req.TenantID = tenantID
	// Residents register only their own devices.
	if auth.RoleFromContext(r.Context()) == auth.RoleResident {
		if subject := auth.SubjectFromContext(r.Context()); subject != "" {
			req.ResidentID = subject
		}
	}
	registration, err := h.service.Register(r.Context(), req)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.Audit(r, h.auditLogger, "device.register", "push_device", registration.Device.ID, map[string]any{
		"platform": string(registration.Device.Platform),
	})
	apihttp.WriteJSON(w, http.StatusCreated, registration)
}
