package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	apihttp "building-cloud/internal/api/http"
	"building-cloud/internal/audit"
	"building-cloud/internal/auth"
	billingapp "building-cloud/internal/billing/application"
	billing "building-cloud/internal/billing/domain"
	billingexport "building-cloud/internal/billing/interfaces"
	masterdata "building-cloud/internal/masterdata/domain"
)

const duesPrefix = "/api/v1/dues"

// ApartmentLister lists apartments for ledger labels.
type ApartmentLister interface {
	ListByTenant(ctx context.Context, tenantID string) ([]masterdata.Apartment, error)
}

// TenantReader loads the building shown on exports.
type TenantReader interface {
	Get(ctx context.Context, id string) (*masterdata.Tenant, error)
}

// Handler serves due definitions and their apartment ledger.
type Handler struct {
	definitions *billingapp.DefinitionService
	ledger      *billingapp.LedgerService
	tenants     TenantReader
	apartments  ApartmentLister
	checker     auth.ApartmentTenantChecker
	auditLogger audit.Logger
}

// Option configures the handler.
type Option func(*Handler)

// WithApartmentChecker validates the apartment_id ledger filter.
func WithApartmentChecker(checker auth.ApartmentTenantChecker) Option {
	return func(h *Handler) {
		h.checker = checker
	}
}

// NewHandler constructs a billing handler.
func NewHandler(definitions *billingapp.DefinitionService, ledger *billingapp.LedgerService, tenants TenantReader, apartments ApartmentLister, auditLogger audit.Logger, opts ...Option) (*Handler, error) {
	if definitions == nil {
		return nil, errors.New("billing handler: nil definition service")
	}
	if ledger == nil {
		return nil, errors.New("billing handler: nil ledger service")
	}
	if tenants == nil {
		return nil, errors.New("billing handler: nil tenant reader")
	}
	h := &Handler{
		definitions: definitions,
		ledger:      ledger,
		tenants:     tenants,
		apartments:  apartments,
		auditLogger: auditLogger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type expenseItemRequest struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

type definitionRequest struct {
	Period             string               `json:"period"`
	Items              []expenseItemRequest `json:"expense_items"`
	DueDate            string               `json:"due_date"`
	Currency           string               `json:"currency"`
	PerApartmentAmount *decimal.Decimal     `json:"per_apartment_amount,omitempty"`
}

type settleRequest struct {
	OrderID string `json:"order_id"`
}

// ServeHTTP handles /api/v1/dues and its sub-resources.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := apihttp.RequireTenant(w, r)
	if !ok {
		return
	}
	parts := apihttp.Segments(r.URL.Path, duesPrefix)
	switch len(parts) {
	case 0:
		switch r.Method {
		case http.MethodGet:
			h.list(w, r, tenantID)
		case http.MethodPost:
			h.create(w, r, tenantID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case 1:
		switch r.Method {
		case http.MethodGet:
			h.get(w, r, tenantID, parts[0])
		case http.MethodPut:
			h.update(w, r, tenantID, parts[0])
		case http.MethodDelete:
			h.delete(w, r, tenantID, parts[0])
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case 2:
		h.serveSubresource(w, r, tenantID, parts[0], parts[1])
	case 4:
		if parts[1] != "ledger" || parts[3] != "settle" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.settle(w, r, tenantID, parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) serveSubresource(w http.ResponseWriter, r *http.Request, tenantID, id, action string) {
	switch action {
	case "generate":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.generate(w, r, tenantID, id)
	case "ledger":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.listLedger(w, r, tenantID, id)
	case "summary":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		summary, err := h.ledger.Summary(r.Context(), tenantID, id)
		if err != nil {
			apihttp.WriteError(w, err)
			return
		}
		apihttp.WriteJSON(w, http.StatusOK, summary)
	case "export.pdf":
		h.export(w, r, tenantID, id, billingexport.FormatPDF)
	case "export.xlsx":
		h.export(w, r, tenantID, id, billingexport.FormatXLSX)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, tenantID string) {
	var filter billing.ListFilter
	query := r.URL.Query()
	if value := query.Get("year"); value != "" {
		year, err := strconv.Atoi(value)
		if err != nil || year <= 0 {
			apihttp.WriteError(w, apihttp.BadRequest("invalid year"))
			return
		}
		filter.Year = year
	}
	if value := query.Get("sent"); value != "" {
		sent, err := strconv.ParseBool(value)
		if err != nil {
			apihttp.WriteError(w, apihttp.BadRequest("invalid sent"))
			return
		}
		filter.Sent = &sent
	}
	defs, err := h.definitions.List(r.Context(), tenantID, filter)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if defs == nil {
		defs = []billing.DueDefinition{}
	}
	apihttp.WriteJSON(w, http.StatusOK, defs)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req definitionRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	dueDate, err := parseDueDate(req.DueDate)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	def, err := h.definitions.Create(r.Context(), billingapp.CreateDefinition{
		TenantID:           tenantID,
		Period:             req.Period,
		Items:              toItems(req.Items),
		DueDate:            dueDate,
		Currency:           req.Currency,
		PerApartmentAmount: req.PerApartmentAmount,
	})
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.Audit(r, h.auditLogger, "due_definition.create", "due_definition", def.ID, map[string]any{
		"period": string(def.Period),
		"total":  def.TotalAmount.String(),
	})
	apihttp.WriteJSON(w, http.StatusCreated, def)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, tenantID, id string) {
	def, err := h.definitions.Get(r.Context(), tenantID, id)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, def)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request, tenantID, id string) {
	var req definitionRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	dueDate, err := parseDueDate(req.DueDate)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	def, err := h.definitions.Update(r.Context(), tenantID, id, billingapp.UpdateDefinition{
		Items:              toItems(req.Items),
		DueDate:            dueDate,
		PerApartmentAmount: req.PerApartmentAmount,
	})
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.Audit(r, h.auditLogger, "due_definition.update", "due_definition", def.ID, map[string]any{
		"total": def.TotalAmount.String(),
	})
	apihttp.WriteJSON(w, http.StatusOK, def)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request, tenantID, id string) {
	if err := h.definitions.Delete(r.Context(), tenantID, id); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.Audit(r, h.auditLogger, "due_definition.delete", "due_definition", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request, tenantID, id string) {
	result, err := h.ledger.Generate(r.Context(), tenantID, id)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.Audit(r, h.auditLogger, "apartment_dues.generate", "due_definition", id, map[string]any{
		"created": result.Created,
	})
	apihttp.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request, tenantID, dueID string) {
	var req settleRequest
	if r.ContentLength != 0 {
		if err := apihttp.DecodeJSON(r, &req); err != nil {
			apihttp.WriteError(w, err)
			return
		}
	}
	due, err := h.ledger.Settle(r.Context(), tenantID, dueID, req.OrderID)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.Audit(r, h.auditLogger, "apartment_due.settle", "apartment_due", dueID, map[string]any{
		"order_id": req.OrderID,
	})
	apihttp.WriteJSON(w, http.StatusOK, due)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request, tenantID, id, format string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	def, err := h.definitions.Get(ctx, tenantID, id)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	tenant, err := h.tenants.Get(ctx, tenantID)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	input := billingexport.ExportInput{Definition: def}
	if tenant != nil {
		input.BuildingName = tenant.Name
	}
	dues, err := h.ledger.List(ctx, tenantID, id)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if len(dues) > 0 {
		summary := billing.Summarize(id, dues)
		input.Dues = dues
		input.Summary = &summary
		input.Labels = h.labels(ctx, tenantID)
	}

	body, contentType, err := billingexport.BuildDefinitionExport(format, input)
	if err != nil {
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("dues-%s.%s", def.Period, format)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) labels(ctx context.Context, tenantID string) map[string]string {
	if h.apartments == nil {
		return nil
	}
	apartments, err := h.apartments.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil
	}
	labels := make(map[string]string, len(apartments))
	for _, apt := range apartments {
		labels[apt.ID] = apt.Label()
	}
	return labels
}

func toItems(in []expenseItemRequest) []billing.ExpenseItem {
	items := make([]billing.ExpenseItem, 0, len(in))
	for _, item := range in {
		items = append(items, billing.ExpenseItem{Name: item.Name, Amount: item.Amount})
	}
	return items
}

func parseDueDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed.UTC(), nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, apihttp.BadRequest("invalid due_date")
	}
	return parsed.UTC(), nil
}

func (h *Handler) listLedger(w http.ResponseWriter, r *http.Request, tenantID, id string) {
	apartmentID := r.URL.Query().Get("apartment_id")
	if own := auth.ApartmentIDFromContext(r.Context()); own != "" && auth.RoleFromContext(r.Context()) == auth.RoleResident {
		apartmentID = own
	}
	if apartmentID != "" && h.checker != nil {
		if err := h.checker.EnsureApartmentTenant(r.Context(), tenantID, apartmentID); err != nil {
			apihttp.WriteError(w, err)
			return
		}
	}
	dues, err := h.ledger.List(r.Context(), tenantID, id)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	out := make([]billing.ApartmentDue, 0, len(dues))
	for _, due := range dues {
		if apartmentID != "" && due.ApartmentID != apartmentID {
			continue
		}
		out = append(out, due)
	}
	apihttp.WriteJSON(w, http.StatusOK, out)
}
