package http

import (
	"encoding/csv"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	apihttp "building-cloud/internal/api/http"
	"building-cloud/internal/audit"
	paymentsapp "building-cloud/internal/payments/application"
	payments "building-cloud/internal/payments/domain"
)

const (
	paymentsPrefix   = "/api/v1/payments"
	defaultListLimit = 100
)

// Handler serves payment sessions and transactions.
type Handler struct {
	service     *paymentsapp.Service
	auditLogger audit.Logger
}

// NewHandler constructs a payments handler.
func NewHandler(service *paymentsapp.Service, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("payments handler: nil service")
	}
	return &Handler{service: service, auditLogger: auditLogger}, nil
}

type sessionRequest struct {
	OrderID   string            `json:"order_id"`
	Amount    *decimal.Decimal  `json:"amount,omitempty"`
	Currency  string            `json:"currency"`
	Customer  payments.Customer `json:"customer"`
	ReturnURL string            `json:"return_url"`
	CancelURL string            `json:"cancel_url"`
	DueID     string            `json:"due_id"`
}

type queryRequest struct {
	SessionToken string `json:"session_token"`
}

type refundRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

// ServeHTTP handles /api/v1/payments and its sub-resources.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := apihttp.RequireTenant(w, r)
	if !ok {
		return
	}
	parts := apihttp.Segments(r.URL.Path, paymentsPrefix)
	if len(parts) == 0 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r, tenantID)
		return
	}

	switch parts[0] {
	case "sessions":
		if len(parts) != 1 || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.createSession(w, r, tenantID)
		return
	case "test-connection":
		if r.Method != http.MethodPost && r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.testConnection(w, r, tenantID)
		return
	case "query":
		// Lookup by session token alone.
		if len(parts) == 1 && r.Method == http.MethodPost {
			h.query(w, r, tenantID, "")
			return
		}
	case "export.csv":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.exportCSV(w, r, tenantID)
		return
	}

	orderID := parts[0]
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		tx, err := h.service.Get(r.Context(), tenantID, orderID)
		if err != nil {
			apihttp.WriteError(w, err)
			return
		}
		apihttp.WriteJSON(w, http.StatusOK, tx)
		return
	}
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	switch parts[1] {
	case "query":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.query(w, r, tenantID, orderID)
	case "refund":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.refund(w, r, tenantID, orderID)
	case "history":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		history, err := h.service.History(r.Context(), tenantID, orderID)
		if err != nil {
			apihttp.WriteError(w, err)
			return
		}
		if history == nil {
			history = []payments.StatusChange{}
		}
		apihttp.WriteJSON(w, http.StatusOK, history)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request, tenantID string) {
	var req sessionRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	session, err := h.service.CreateSession(r.Context(), paymentsapp.CreateSession{
		TenantID:  tenantID,
		OrderID:   req.OrderID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Customer:  req.Customer,
		ReturnURL: req.ReturnURL,
		CancelURL: req.CancelURL,
		DueID:     req.DueID,
	})
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.Audit(r, h.auditLogger, "payment.session_create", "payment", session.Transaction.OrderID, map[string]any{
		"amount":   session.Transaction.Amount.String(),
		"currency": session.Transaction.Currency,
		"due_id":   session.Transaction.DueID,
	})
	apihttp.WriteJSON(w, http.StatusCreated, session)
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request, tenantID, orderID string) {
	var req queryRequest
	if r.ContentLength != 0 {
		if err := apihttp.DecodeJSON(r, &req); err != nil {
			apihttp.WriteError(w, err)
			return
		}
	}
	if req.SessionToken == "" {
		req.SessionToken = r.URL.Query().Get("session_token")
	}
	tx, err := h.service.Query(r.Context(), tenantID, orderID, req.SessionToken)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, tx)
}

func (h *Handler) refund(w http.ResponseWriter, r *http.Request, tenantID, orderID string) {
	var req refundRequest
	if r.ContentLength != 0 {
		if err := apihttp.DecodeJSON(r, &req); err != nil {
			apihttp.WriteError(w, err)
			return
		}
	}
	tx, err := h.service.Refund(r.Context(), tenantID, orderID, req.Amount)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.Audit(r, h.auditLogger, "payment.refund", "payment", orderID, map[string]any{
		"refunded": tx.RefundedAmount.String(),
	})
	apihttp.WriteJSON(w, http.StatusOK, tx)
}

func (h *Handler) testConnection(w http.ResponseWriter, r *http.Request, tenantID string) {
	systems, err := h.service.TestConnection(r.Context(), tenantID)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"payment_systems": systems,
	})
}

func (h *Handler) listFilter(r *http.Request) (payments.ListFilter, error) {
	limit, err := apihttp.ParseLimit(r, defaultListLimit)
	if err != nil {
		return payments.ListFilter{}, err
	}
	query := r.URL.Query()
	return payments.ListFilter{
		Status: payments.Status(query.Get("status")),
		DueID:  query.Get("due_id"),
		Limit:  limit,
	}, nil
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, tenantID string) {
	filter, err := h.listFilter(r)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	txs, err := h.service.List(r.Context(), tenantID, filter)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if txs == nil {
		txs = []payments.Transaction{}
	}
	apihttp.WriteJSON(w, http.StatusOK, txs)
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request, tenantID string) {
	filter, err := h.listFilter(r)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	txs, err := h.service.List(r.Context(), tenantID, filter)
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=payments.csv")
	w.WriteHeader(http.StatusOK)
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{"order_id", "status", "amount", "refunded_amount", "currency", "environment", "due_id", "customer", "created_at", "updated_at"})
	for _, tx := range txs {
		_ = writer.Write([]string{
			tx.OrderID,
			string(tx.Status),
			tx.Amount.StringFixed(2),
			tx.RefundedAmount.StringFixed(2),
			tx.Currency,
			string(tx.Environment),
			tx.DueID,
			tx.Customer.Name,
			tx.CreatedAt.Format(time.RFC3339),
			tx.UpdatedAt.Format(time.RFC3339),
		})
	}
	writer.Flush()
}
