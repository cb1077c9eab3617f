package http

import (
	"errors"
	"net/http"

	apihttp "building-cloud/internal/api/http"
	"building-cloud/internal/audit"
	"building-cloud/internal/auth"
	notifyapp "building-cloud/internal/notify/application"
	"building-cloud/internal/notify/fanout"
)

const (
	notificationsPrefix = "/api/v1/notifications"
	defaultMailLogLimit = 50
)

// NotificationsHandler serves fan-out dispatch and the direct messaging endpoints.
type NotificationsHandler struct {
	dispatcher  *fanout.Dispatcher
	messaging   *notifyapp.MessagingService
	auditLogger audit.Logger
}

// NewNotificationsHandler constructs the handler.
func NewNotificationsHandler(dispatcher *fanout.Dispatcher, messaging *notifyapp.MessagingService, auditLogger audit.Logger) (*NotificationsHandler, error) {
	if dispatcher == nil {
		return nil, errors.New("notifications handler: nil dispatcher")
	}
	if messaging == nil {
		return nil, errors.New("notifications handler: nil messaging service")
	}
	return &NotificationsHandler{dispatcher: dispatcher, messaging: messaging, auditLogger: auditLogger}, nil
}

type testEmailRequest struct {
	To string `json:"to"`
}

type testSMSRequest struct {
	Phone string `json:"phone"`
}

// ServeHTTP handles /api/v1/notifications/*.
func (h *NotificationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := apihttp.RequireTenant(w, r)
	if !ok {
		return
	}
	parts := apihttp.Segments(r.URL.Path, notificationsPrefix)
	if len(parts) == 0 {
		http.NotFound(w, r)
		return
	}
	route := parts[0]
	if len(parts) == 2 {
		route = parts[0] + "/" + parts[1]
	}

	switch route {
	case "dispatch":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.dispatch(w, r, tenantID)
	case "email":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.sendEmail(w, r, tenantID)
	case "test-email":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.testEmail(w, r, tenantID)
	case "test-sms":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.testSMS(w, r, tenantID)
	case "sms/balance":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		balance, err := h.messaging.SMSBalance(r.Context(), tenantID)
		if err != nil {
			apihttp.WriteError(w, err)
			return
		}
		apihttp.WriteJSON(w, http.StatusOK, balance)
	case "mail-logs":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		limit, err := apihttp.ParseLimit(r, defaultMailLogLimit)
		if err != nil {
			apihttp.WriteError(w, err)
			return
		}
		entries, err := h.messaging.MailLogs(r.Context(), tenantID, limit)
		if err != nil {
			apihttp.WriteError(w, err)
			return
		}
		apihttp.WriteJSON(w, http.StatusOK, entries)
	default:
		http.NotFound(w, r)
	}
}

func (h *NotificationsHandler) dispatch(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req fanout.Request
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if req.TenantID != "" && req.TenantID != tenantID {
		apihttp.WriteError(w, auth.ErrTenantMismatch)
		return
	}
	req.TenantID = tenantID
	report, err := h.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.Audit(r, h.auditLogger, "notification.dispatch", "template", req.TemplateName, map[string]any{
		"channel":       string(req.Channel),
		"definition_id": req.DefinitionID,
		"sent":          report.SentCount,
		"failed":        report.FailedCount,
		"skipped":       report.SkippedCount,
	})
	apihttp.WriteJSON(w, http.StatusOK, report)
}

func (h *NotificationsHandler) sendEmail(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req notifyapp.DirectEmail
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if err := h.messaging.SendEmail(r.Context(), tenantID, req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.Audit(r, h.auditLogger, "notification.email", "email", req.Subject, map[string]any{
		"recipients": len(req.To),
	})
	apihttp.WriteJSON(w, http.StatusOK, map[string]any{"sent": true, "recipients": len(req.To)})
}

func (h *NotificationsHandler) testEmail(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req testEmailRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if req.To == "" {
		apihttp.WriteError(w, apihttp.BadRequest("to is required"))
		return
	}
	if err := h.messaging.TestEmail(r.Context(), tenantID, req.To); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, map[string]any{"sent": true})
}

func (h *NotificationsHandler) testSMS(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req testSMSRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	jobID, err := h.messaging.TestSMS(r.Context(), tenantID, req.Phone)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, map[string]any{"sent": true, "job_id": jobID})
}
