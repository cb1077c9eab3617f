package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"building-cloud/internal/audit"
	"building-cloud/internal/auth"
)

type listerStub struct {
	tenantID string
	query    audit.Query
}

func (s *listerStub) List(ctx context.Context, tenantID string, q audit.Query) ([]audit.Entry, error) {
	s.tenantID = tenantID
	s.query = q
	return nil, nil
}

func TestAuditLogsScopedAndFiltered(t *testing.T) {
	stub := &listerStub{}
	h, err := NewHandler(stub)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit-logs?action=payment.refund&since=2026-01-01T00:00:00Z&limit=5", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "tenant-a", auth.RoleAdmin, "admin-1"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if stub.tenantID != "tenant-a" || stub.query.Action != "payment.refund" || stub.query.Limit != 5 {
		t.Fatalf("unexpected call %s %+v", stub.tenantID, stub.query)
	}
	if stub.query.Since.Year() != 2026 {
		t.Fatalf("expected since parsed, got %v", stub.query.Since)
	}
	var entries []audit.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil || entries == nil {
		t.Fatalf("expected empty array, got %s", rec.Body.String())
	}

	bad := httptest.NewRequest(http.MethodGet, "/api/v1/audit-logs?since=yesterday", nil)
	bad = bad.WithContext(auth.WithIdentity(bad.Context(), "tenant-a", auth.RoleAdmin, "admin-1"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, bad)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
