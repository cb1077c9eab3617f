package apihttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	billing "building-cloud/internal/billing/domain"
	payments "building-cloud/internal/payments/domain"
	"building-cloud/internal/providers"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"missing config", providers.Missing(providers.ProviderSMTP, "not configured"), http.StatusServiceUnavailable},
		{"rejected", &providers.RejectedError{Provider: providers.ProviderGateway, Code: "ERR1", Message: "no"}, http.StatusBadGateway},
		{"transient", providers.Transient(providers.ProviderSMS, errors.New("dial tcp: refused")), http.StatusGatewayTimeout},
		{"conflict", fmt.Errorf("create: %w", billing.ErrConflict), http.StatusConflict},
		{"already sent", billing.ErrAlreadySent, http.StatusConflict},
		{"not found", payments.ErrNotFound, http.StatusNotFound},
		{"validation", billing.ErrInvalidPeriod, http.StatusBadRequest},
		{"bad request", BadRequest("limit"), http.StatusBadRequest},
		{"unknown", errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := Classify(tc.err)
		if status != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, status)
		}
	}
}

func TestWriteErrorRejectedBody(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, &providers.RejectedError{Provider: providers.ProviderGateway, Code: "ERR10010", Message: "Refund not allowed"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	var body ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "ERR10010" || body.Message != "Refund not allowed" || body.Kind != "provider_rejected" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("pq: password authentication failed"))
	var body ErrorBody
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body.Error != "internal error" {
		t.Fatalf("expected generic message, got %q", body.Error)
	}
}

func TestSegments(t *testing.T) {
	got := Segments("/api/v1/dues/def-1/export.pdf", "/api/v1/dues")
	if len(got) != 2 || got[0] != "def-1" || got[1] != "export.pdf" {
		t.Fatalf("unexpected segments %v", got)
	}
	if Segments("/api/v1/dues/", "/api/v1/dues") != nil {
		t.Fatalf("expected nil segments for collection path")
	}
}
