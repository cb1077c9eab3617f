// Package apihttp holds the helpers every HTTP handler shares: JSON
// encoding, request decoding and the mapping from domain errors to status
// codes.
package apihttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"building-cloud/internal/audit"
	"building-cloud/internal/auth"
	billing "building-cloud/internal/billing/domain"
	"building-cloud/internal/eventing"
	masterdata "building-cloud/internal/masterdata/domain"
	notifyapp "building-cloud/internal/notify/application"
	notify "building-cloud/internal/notify/domain"
	"building-cloud/internal/notify/template"
	payments "building-cloud/internal/payments/domain"
	"building-cloud/internal/providers"
)

const maxBodyBytes = 1 << 20

// ErrBadRequest marks caller input the handler itself rejected.
var ErrBadRequest = errors.New("bad request")

// BadRequest wraps a validation message as ErrBadRequest.
func BadRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// WriteJSON encodes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto a status code and JSON body.
func WriteError(w http.ResponseWriter, err error) {
	status, body := Classify(err)
	WriteJSON(w, status, body)
}

// Classify returns the response status and body for err.
func Classify(err error) (int, ErrorBody) {
	if err == nil {
		return http.StatusOK, ErrorBody{}
	}
	body := ErrorBody{Error: err.Error(), Kind: providers.Kind(err)}
	if rejected, ok := providers.AsRejected(err); ok {
		body.Code = rejected.Code
		body.Message = rejected.Message
		return http.StatusBadGateway, body
	}
	body.Kind = ""
	switch {
	case errors.Is(err, providers.ErrConfigurationMissing):
		body.Kind = "configuration_missing"
		return http.StatusServiceUnavailable, body
	case providers.IsTransient(err):
		body.Kind = "transient_network"
		return http.StatusGatewayTimeout, body
	case errors.Is(err, auth.ErrTenantMismatch):
		return http.StatusForbidden, ErrorBody{Error: "forbidden"}
	case errors.Is(err, billing.ErrConflict),
		errors.Is(err, billing.ErrAlreadySent),
		errors.Is(err, billing.ErrInvalidTransition),
		errors.Is(err, payments.ErrDuplicateOrder),
		errors.Is(err, payments.ErrInvalidTransition):
		return http.StatusConflict, body
	case errors.Is(err, billing.ErrNotFound),
		errors.Is(err, payments.ErrNotFound),
		errors.Is(err, template.ErrTemplateNotFound),
		errors.Is(err, masterdata.ErrTenantNotFound),
		errors.Is(err, masterdata.ErrApartmentNotFound),
		errors.Is(err, auth.ErrNotFound),
		errors.Is(err, eventing.ErrNotFound):
		return http.StatusNotFound, body
	case errors.Is(err, template.ErrBuiltInReadOnly):
		return http.StatusForbidden, body
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, billing.ErrInvalidPeriod),
		errors.Is(err, billing.ErrNoExpenseItems),
		errors.Is(err, billing.ErrNegativeAmount),
		errors.Is(err, billing.ErrEmptyItemName),
		errors.Is(err, billing.ErrNoApartments),
		errors.Is(err, billing.ErrMissingDueDate),
		errors.Is(err, billing.ErrAmountMismatch),
		errors.Is(err, payments.ErrInvalidAmount),
		errors.Is(err, payments.ErrMissingReference),
		errors.Is(err, template.ErrInvalidTemplate),
		errors.Is(err, notify.ErrUnknownChannel),
		errors.Is(err, notify.ErrNoTemplate),
		errors.Is(err, notifyapp.ErrInvalidRequest),
		errors.Is(err, masterdata.ErrInvalidPushToken),
		errors.Is(err, masterdata.ErrInvalidDevice),
		errors.Is(err, providers.ErrInvalidConfig):
		return http.StatusBadRequest, body
	}
	return http.StatusInternalServerError, ErrorBody{Error: "internal error"}
}

// DecodeJSON reads a bounded JSON body into dst.
func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return BadRequest("empty body")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return BadRequest("invalid json: %v", err)
	}
	return nil
}

// RequireTenant returns the caller's tenant or writes 401.
func RequireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return tenantID, true
}

// Segments splits the path after prefix into non-empty parts.
func Segments(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

// ParseTimeQuery parses an optional RFC3339 query parameter.
func ParseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, BadRequest("invalid %s", key)
	}
	return parsed.UTC(), nil
}

// ParseLimit parses an optional positive limit query parameter.
func ParseLimit(r *http.Request, fallback int) (int, error) {
	value := r.URL.Query().Get("limit")
	if value == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(value)
	if err != nil || limit <= 0 {
		return 0, BadRequest("invalid limit")
	}
	return limit, nil
}

// Audit writes an audit entry for the caller, if a logger is configured.
func Audit(r *http.Request, logger audit.Logger, action, resourceType, resourceID string, meta map[string]any) {
	if logger == nil {
		return
	}
	ctx := r.Context()
	tenantID := auth.TenantIDFromContext(ctx)
	if tenantID == "" {
		return
	}
	_ = logger.Log(ctx, audit.FromRequest(r, audit.Entry{
		TenantID:     tenantID,
		Actor:        auth.SubjectFromContext(ctx),
		Role:         string(auth.RoleFromContext(ctx)),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}, meta))
}
