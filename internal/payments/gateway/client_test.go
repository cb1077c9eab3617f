package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"

	payments "building-cloud/internal/payments/domain"
	"building-cloud/internal/providers"
)

var testConfig = providers.GatewayConfig{
	Merchant:         "10000000",
	MerchantUser:     "api@example.com",
	MerchantPassword: "secret",
	Environment:      providers.EnvironmentTest,
	ReturnURL:        "https://app.example.com/return",
	CancelURL:        "https://app.example.com/cancel",
	Active:           true,
}

func newTestServer(t *testing.T, handler func(form url.Values) string) (*httptest.Server, *[]url.Values) {
	t.Helper()
	var seen []url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("expected form content type, got %s", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		seen = append(seen, r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(handler(r.PostForm)))
	}))
	t.Cleanup(server.Close)
	return server, &seen
}

func TestCreateSessionSendsMerchantTriple(t *testing.T) {
	server, seen := newTestServer(t, func(url.Values) string {
		return `{"responseCode":"00","responseMsg":"Approved","sessionToken":"TOK123"}`
	})
	client := NewClient(WithURLs(server.URL+"/paratika/api/v2", ""))
	resp, err := client.CreateSession(context.Background(), testConfig, SessionRequest{
		OrderID:  "YNT-1",
		Amount:   decimal.RequireFromString("367.35"),
		Currency: "TRY",
		Customer: payments.Customer{Name: "Ayse", Email: "ayse@example.com"},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if resp.SessionToken != "TOK123" {
		t.Fatalf("expected TOK123, got %s", resp.SessionToken)
	}
	form := (*seen)[0]
	checks := map[string]string{
		"ACTION":            "SESSIONTOKEN",
		"MERCHANT":          "10000000",
		"MERCHANTUSER":      "api@example.com",
		"MERCHANTPASSWORD":  "secret",
		"SESSIONTYPE":       "PAYMENTSESSION",
		"AMOUNT":            "367.35",
		"MERCHANTPAYMENTID": "YNT-1",
		"RETURNURL":         "https://app.example.com/return",
		"CUSTOMEREMAIL":     "ayse@example.com",
	}
	for key, want := range checks {
		if got := form.Get(key); got != want {
			t.Fatalf("expected %s=%s, got %s", key, want, got)
		}
	}
	if len(resp.Raw) == 0 {
		t.Fatalf("expected raw response kept")
	}
}

func TestRejectedResponseSurfacesCodeAndMessage(t *testing.T) {
	server, _ := newTestServer(t, func(url.Values) string {
		return `{"responseCode":"99","responseMsg":"Declined","errorCode":"ERR10010","errorMsg":"Refund not allowed"}`
	})
	client := NewClient(WithURLs(server.URL, ""))
	_, err := client.Refund(context.Background(), testConfig, "YNT-1", decimal.RequireFromString("10"))
	rejected, ok := providers.AsRejected(err)
	if !ok {
		t.Fatalf("expected rejected error, got %v", err)
	}
	if rejected.Code != "ERR10010" || rejected.Message != "Refund not allowed" {
		t.Fatalf("unexpected rejection: %+v", rejected)
	}
}

func TestQuerySessionPrefersToken(t *testing.T) {
	server, seen := newTestServer(t, func(url.Values) string {
		return `{"responseCode":"00","sessionStatus":"OPEN"}`
	})
	client := NewClient(WithURLs(server.URL, ""))
	resp, err := client.QuerySession(context.Background(), testConfig, "YNT-1", "TOK")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if resp.SessionStatus != "OPEN" {
		t.Fatalf("expected OPEN, got %s", resp.SessionStatus)
	}
	form := (*seen)[0]
	if form.Get("SESSIONTOKEN") != "TOK" || form.Get("MERCHANTPAYMENTID") != "" {
		t.Fatalf("expected token-only query, got %v", form)
	}
}

func TestHTTPErrorIsRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()
	client := NewClient(WithURLs(server.URL, ""))
	_, err := client.PaymentSystems(context.Background(), testConfig)
	rejected, ok := providers.AsRejected(err)
	if !ok || rejected.HTTPStatus != http.StatusBadGateway {
		t.Fatalf("expected 502 rejection, got %v", err)
	}
}

func TestConnectionRefusedIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()
	client := NewClient(WithURLs(addr, ""))
	_, err := client.PaymentSystems(context.Background(), testConfig)
	if !providers.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	var rejected *providers.RejectedError
	if errors.As(err, &rejected) {
		t.Fatalf("transport failure must not be a rejection")
	}
}

func TestPaymentURL(t *testing.T) {
	client := NewClient()
	got := client.PaymentURL(providers.EnvironmentLive, "abc")
	if got != "https://vpos.paratika.com.tr/paratika/payment/abc" {
		t.Fatalf("unexpected live payment url %s", got)
	}
	if client.APIURL(providers.EnvironmentTest) != DefaultTestURL {
		t.Fatalf("expected test url default")
	}
}
