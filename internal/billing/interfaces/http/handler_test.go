package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"building-cloud/internal/auth"
	billingapp "building-cloud/internal/billing/application"
	billing "building-cloud/internal/billing/domain"
	"building-cloud/internal/billing/infrastructure/memory"
	masterdata "building-cloud/internal/masterdata/domain"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type tenantStub struct{ tenant *masterdata.Tenant }

func (s tenantStub) Get(ctx context.Context, id string) (*masterdata.Tenant, error) {
	if s.tenant == nil || s.tenant.ID != id {
		return nil, nil
	}
	return s.tenant, nil
}

type apartmentStub struct{ apartments []masterdata.Apartment }

func (s apartmentStub) ListByTenant(ctx context.Context, tenantID string) ([]masterdata.Apartment, error) {
	return s.apartments, nil
}

func (s apartmentStub) Get(ctx context.Context, tenantID, id string) (*masterdata.Apartment, error) {
	for i := range s.apartments {
		if s.apartments[i].ID == id && s.apartments[i].TenantID == tenantID {
			return &s.apartments[i], nil
		}
	}
	return nil, nil
}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	clock := fixedClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	tenants := tenantStub{tenant: &masterdata.Tenant{ID: "tenant-a", Name: "Lale Apt", ApartmentCount: 2, Currency: "TRY"}}
	apartments := apartmentStub{apartments: []masterdata.Apartment{
		{ID: "apt-1", TenantID: "tenant-a", Block: "A", Number: "1"},
		{ID: "apt-2", TenantID: "tenant-a", Block: "A", Number: "2"},
	}}
	defs := memory.NewDefinitionRepository()
	defService, err := billingapp.NewDefinitionService(defs, tenants, billingapp.WithClock(clock))
	if err != nil {
		t.Fatalf("definition service: %v", err)
	}
	ledger, err := billingapp.NewLedgerService(defs, memory.NewApartmentDueRepository(), apartments, nil, billingapp.WithLedgerClock(clock))
	if err != nil {
		t.Fatalf("ledger service: %v", err)
	}
	handler, err := NewHandler(defService, ledger, tenants, apartments, nil, WithApartmentChecker(auth.NewApartmentChecker(apartments)))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return handler
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req = req.WithContext(auth.WithIdentity(req.Context(), "tenant-a", auth.RoleManager, "manager-1"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createDefinition(t *testing.T, h *Handler) billing.DueDefinition {
	t.Helper()
	rec := serve(h, http.MethodPost, "/api/v1/dues", `{"period":"2024-03","due_date":"2024-03-15","expense_items":[{"name":"Cleaning","amount":"1000"},{"name":"Elevator","amount":"500"}]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var def billing.DueDefinition
	if err := json.Unmarshal(rec.Body.Bytes(), &def); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return def
}

func TestCreateAndGetDefinition(t *testing.T) {
	h := newTestHandler(t)
	def := createDefinition(t, h)
	if def.PerApartmentAmount.String() != "750" {
		t.Fatalf("expected per apartment 750, got %s", def.PerApartmentAmount)
	}

	rec := serve(h, http.MethodGet, "/api/v1/dues/"+def.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = serve(h, http.MethodGet, "/api/v1/dues?year=2024", "")
	var list []billing.DueDefinition
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(list))
	}
}

func TestCreateDefinitionValidation(t *testing.T) {
	h := newTestHandler(t)
	rec := serve(h, http.MethodPost, "/api/v1/dues", `{"period":"  ","due_date":"2024-03-15","expense_items":[{"name":"Cleaning","amount":"1000"}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = serve(h, http.MethodPost, "/api/v1/dues", `{"period":"2024-03","due_date":"15/03/2024","expense_items":[{"name":"Cleaning","amount":"1000"}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for due date, got %d", rec.Code)
	}
}

func TestDuplicatePeriodConflict(t *testing.T) {
	h := newTestHandler(t)
	createDefinition(t, h)
	rec := serve(h, http.MethodPost, "/api/v1/dues", `{"period":"2024-03","due_date":"2024-03-15","expense_items":[{"name":"Cleaning","amount":"1000"}]}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestFreeTextPeriodConflict(t *testing.T) {
	h := newTestHandler(t)
	body := `{"period":"Ocak 2025","due_date":"2025-01-20","expense_items":[{"name":"Cleaning","amount":"1000"}]}`
	rec := serve(h, http.MethodPost, "/api/v1/dues", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = serve(h, http.MethodPost, "/api/v1/dues", body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	rec = serve(h, http.MethodGet, "/api/v1/dues?year=2025", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Ocak 2025") {
		t.Fatalf("expected year filter to match the label, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGenerateLedgerAndSummary(t *testing.T) {
	h := newTestHandler(t)
	def := createDefinition(t, h)

	rec := serve(h, http.MethodPost, "/api/v1/dues/"+def.ID+"/generate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result billingapp.GenerateResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Created != 2 {
		t.Fatalf("expected 2 dues, got %d", result.Created)
	}

	rec = serve(h, http.MethodPost, "/api/v1/dues/"+def.ID+"/ledger/"+result.Dues[0].ID+"/settle", `{"order_id":"YNT-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 settle, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = serve(h, http.MethodGet, "/api/v1/dues/"+def.ID+"/summary", "")
	var summary billing.CollectionSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.PaidCount != 1 {
		t.Fatalf("expected 1 paid, got %d", summary.PaidCount)
	}
}

func TestLedgerApartmentFilter(t *testing.T) {
	h := newTestHandler(t)
	def := createDefinition(t, h)
	serve(h, http.MethodPost, "/api/v1/dues/"+def.ID+"/generate", "")

	rec := serve(h, http.MethodGet, "/api/v1/dues/"+def.ID+"/ledger?apartment_id=apt-2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var dues []billing.ApartmentDue
	if err := json.Unmarshal(rec.Body.Bytes(), &dues); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(dues) != 1 || dues[0].ApartmentID != "apt-2" {
		t.Fatalf("expected only apt-2, got %+v", dues)
	}

	rec = serve(h, http.MethodGet, "/api/v1/dues/"+def.ID+"/ledger?apartment_id=apt-9", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown apartment, got %d", rec.Code)
	}
}

func TestResidentLedgerPinnedToOwnApartment(t *testing.T) {
	h := newTestHandler(t)
	def := createDefinition(t, h)
	serve(h, http.MethodPost, "/api/v1/dues/"+def.ID+"/generate", "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dues/"+def.ID+"/ledger?apartment_id=apt-2", nil)
	req = req.WithContext(auth.ContextWithIdentity(req.Context(), auth.Identity{
		TenantID: "tenant-a", Role: auth.RoleResident, Subject: "res-1", ApartmentID: "apt-1",
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var dues []billing.ApartmentDue
	if err := json.Unmarshal(rec.Body.Bytes(), &dues); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(dues) != 1 || dues[0].ApartmentID != "apt-1" {
		t.Fatalf("expected only apt-1, got %+v", dues)
	}
}

func TestExportFormats(t *testing.T) {
	h := newTestHandler(t)
	def := createDefinition(t, h)
	serve(h, http.MethodPost, "/api/v1/dues/"+def.ID+"/generate", "")

	rec := serve(h, http.MethodGet, "/api/v1/dues/"+def.ID+"/export.pdf", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("expected pdf content type, got %s", ct)
	}
	if !strings.HasPrefix(rec.Body.String(), "%PDF") {
		t.Fatalf("expected pdf body")
	}

	rec = serve(h, http.MethodGet, "/api/v1/dues/"+def.ID+"/export.xlsx", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "dues-2024-03.xlsx") {
		t.Fatalf("unexpected disposition %s", rec.Header().Get("Content-Disposition"))
	}
}

func TestDeleteMissingDefinition(t *testing.T) {
	h := newTestHandler(t)
	rec := serve(h, http.MethodDelete, "/api/v1/dues/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRequiresTenant(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/dues", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
