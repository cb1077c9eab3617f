// Package gateway speaks the hosted payment page protocol: form-encoded
// POSTs discriminated by ACTION, authenticated by the merchant triple.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"building-cloud/internal/observability/metrics"
	payments "building-cloud/internal/payments/domain"
	"building-cloud/internal/providers"
)

const (
	DefaultTestURL = "https://test.paratika.com.tr/paratika/api/v2"
	DefaultLiveURL = "https://vpos.paratika.com.tr/paratika/api/v2"

	defaultTimeout = 30 * time.Second
	successCode    = "00"
)

const (
	actionSessionToken   = "SESSIONTOKEN"
	actionQuerySession   = "QUERYSESSION"
	actionRefund         = "REFUND"
	actionPaymentSystems = "QUERYPAYMENTSYSTEMS"
)

// Client calls the gateway. It holds no tenant state; credentials come
// from the config passed to each call.
type Client struct {
	testURL string
	liveURL string
	http    *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithURLs overrides the test and live endpoints.
func WithURLs(testURL, liveURL string) Option {
	return func(c *Client) {
		if testURL != "" {
			c.testURL = strings.TrimRight(testURL, "/")
		}
		if liveURL != "" {
			c.liveURL = strings.TrimRight(liveURL, "/")
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// NewClient constructs a gateway client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		testURL: DefaultTestURL,
		liveURL: DefaultLiveURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIURL returns the endpoint for env.
func (c *Client) APIURL(env providers.Environment) string {
	if env == providers.EnvironmentLive {
		return c.liveURL
	}
	return c.testURL
}

// PaymentURL returns the hosted page a payer is redirected to.
func (c *Client) PaymentURL(env providers.Environment, sessionToken string) string {
	base := strings.TrimSuffix(c.APIURL(env), "/api/v2")
	return base + "/payment/" + url.PathEscape(sessionToken)
}

// SessionRequest opens a payment session.
type SessionRequest struct {
	OrderID   string
	Amount    decimal.Decimal
	Currency  string
	Customer  payments.Customer
	ReturnURL string
	CancelURL string
}

// Response is the decoded gateway answer with its raw body kept for audit.
type Response struct {
	Code           string          `json:"responseCode"`
	Message        string          `json:"responseMsg"`
	ErrorCode      string          `json:"errorCode"`
	ErrorMsg       string          `json:"errorMsg"`
	SessionToken   string          `json:"sessionToken"`
	SessionStatus  string          `json:"sessionStatus"`
	PaymentSystems json.RawMessage `json:"paymentSystems"`
	Raw            json.RawMessage `json:"-"`
}

// CreateSession asks for a session token.
func (c *Client) CreateSession(ctx context.Context, cfg providers.GatewayConfig, req SessionRequest) (Response, error) {
	form := url.Values{}
	form.Set("SESSIONTYPE", "PAYMENTSESSION")
	form.Set("AMOUNT", req.Amount.StringFixed(2))
	form.Set("CURRENCY", req.Currency)
	form.Set("MERCHANTPAYMENTID", req.OrderID)
	form.Set("RETURNURL", firstNonEmpty(req.ReturnURL, cfg.ReturnURL))
	form.Set("CANCELURL", firstNonEmpty(req.CancelURL, cfg.CancelURL))
	form.Set("CUSTOMEREMAIL", req.Customer.Email)
	form.Set("CUSTOMERNAME", req.Customer.Name)
	form.Set("CUSTOMERPHONE", req.Customer.Phone)
	resp, err := c.call(ctx, cfg, actionSessionToken, form)
	if err != nil {
		return resp, err
	}
	if resp.SessionToken == "" {
		return resp, &providers.RejectedError{Provider: providers.ProviderGateway, Message: "session token missing from response"}
	}
	return resp, nil
}

// QuerySession fetches the remote session status by order id or token.
func (c *Client) QuerySession(ctx context.Context, cfg providers.GatewayConfig, orderID, sessionToken string) (Response, error) {
	form := url.Values{}
	if sessionToken != "" {
		form.Set("SESSIONTOKEN", sessionToken)
	} else {
		form.Set("MERCHANTPAYMENTID", orderID)
	}
	return c.call(ctx, cfg, actionQuerySession, form)
}

// Refund refunds amount of a completed order.
func (c *Client) Refund(ctx context.Context, cfg providers.GatewayConfig, orderID string, amount decimal.Decimal) (Response, error) {
	form := url.Values{}
	form.Set("MERCHANTPAYMENTID", orderID)
	form.Set("AMOUNT", amount.StringFixed(2))
	return c.call(ctx, cfg, actionRefund, form)
}

// PaymentSystems lists the merchant's payment systems. Used as a
// connectivity and credential check.
func (c *Client) PaymentSystems(ctx context.Context, cfg providers.GatewayConfig) (Response, error) {
	return c.call(ctx, cfg, actionPaymentSystems, url.Values{})
}

func (c *Client) call(ctx context.Context, cfg providers.GatewayConfig, action string, form url.Values) (resp Response, err error) {
	start := time.Now()
	defer func() {
		result := metrics.ResultSuccess
		if err != nil {
			result = providers.Kind(err)
		}
		metrics.ObserveProviderCall(string(providers.ProviderGateway), result, time.Since(start))
	}()

	form.Set("ACTION", action)
	form.Set("MERCHANT", cfg.Merchant)
	form.Set("MERCHANTUSER", cfg.MerchantUser)
	form.Set("MERCHANTPASSWORD", cfg.MerchantPassword)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL(cfg.Environment), strings.NewReader(form.Encode()))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return Response{}, providers.ClassifyTransport(providers.ProviderGateway, err)
	}
	defer httpResp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return Response{}, providers.ClassifyTransport(providers.ProviderGateway, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return Response{}, &providers.RejectedError{
			Provider:   providers.ProviderGateway,
			HTTPStatus: httpResp.StatusCode,
			Message:    fmt.Sprintf("HTTP %d", httpResp.StatusCode),
		}
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, &providers.RejectedError{Provider: providers.ProviderGateway, HTTPStatus: httpResp.StatusCode, Message: "unreadable gateway response"}
	}
	resp.Raw = json.RawMessage(raw)
	if resp.Code != successCode {
		return resp, &providers.RejectedError{
			Provider:   providers.ProviderGateway,
			Code:       firstNonEmpty(resp.ErrorCode, resp.Code),
			Message:    firstNonEmpty(resp.ErrorMsg, resp.Message),
			HTTPStatus: httpResp.StatusCode,
		}
	}
	return resp, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
