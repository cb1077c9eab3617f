package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	notify "building-cloud/internal/notify/domain"
	"building-cloud/internal/providers"
)

const (
	DefaultSMSURL        = "https://api.netgsm.com.tr/sms/rest/v2/send"
	DefaultSMSBalanceURL = "https://api.netgsm.com.tr/balance"
	smsMaxBatch          = 100
	smsEncoding          = "TR"
	defaultIYSFilter     = "0"
)

var smsSuccessCodes = map[string]struct{}{"00": {}, "01": {}, "02": {}}

// NormalizePhone reduces a Turkish number to its bare national form.
// Separators are dropped, then a +90/0090/90 country code, then a leading trunk 0.
func NormalizePhone(raw string) string {
	var digits strings.Builder
	plus := false
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case unicode.IsDigit(r):
			digits.WriteRune(r)
		case r == '+' && i == 0:
			plus = true
		}
	}
	number := digits.String()
	switch {
	case plus && strings.HasPrefix(number, "90"):
		number = number[2:]
	case strings.HasPrefix(number, "0090"):
		number = number[4:]
	case strings.HasPrefix(number, "90") && len(number) == 12:
		number = number[2:]
	}
	number = strings.TrimPrefix(number, "0")
	return number
}

// SMSSender delivers through the SMS gateway REST API.
type SMSSender struct {
	url        string
	balanceURL string
	client     *http.Client
}

// SMSOption configures the sender.
type SMSOption func(*SMSSender)

// WithSMSURLs overrides the send and balance endpoints.
func WithSMSURLs(sendURL, balanceURL string) SMSOption {
	return func(s *SMSSender) {
		if sendURL != "" {
			s.url = sendURL
		}
		if balanceURL != "" {
			s.balanceURL = balanceURL
		}
	}
}

// WithSMSHTTPClient overrides the HTTP client.
func WithSMSHTTPClient(client *http.Client) SMSOption {
	return func(s *SMSSender) {
		if client != nil {
			s.client = client
		}
	}
}

// NewSMSSender constructs a sender.
func NewSMSSender(opts ...SMSOption) *SMSSender {
	s := &SMSSender{
		url:        DefaultSMSURL,
		balanceURL: DefaultSMSBalanceURL,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SMSSender) Channel() notify.Channel { return notify.ChannelSMS }

func (s *SMSSender) BatchSize() int { return smsMaxBatch }

func (s *SMSSender) Addresses(r Recipient) []string {
	number := NormalizePhone(r.Phone)
	if len(number) < 7 {
		return nil
	}
	return []string{number}
}

func (s *SMSSender) Ready(cfg *providers.TenantConfig) error {
	_, err := cfg.SMSSettings()
	return err
}

type smsEntry struct {
	Msg string `json:"msg"`
	No  string `json:"no"`
}

type smsRequest struct {
	MsgHeader string     `json:"msgheader"`
	Messages  []smsEntry `json:"messages"`
	Encoding  string     `json:"encoding"`
	IYSFilter string     `json:"iysfilter"`
}

type smsResponse struct {
	Code        string `json:"code"`
	JobID       string `json:"jobid"`
	Description string `json:"description"`
}

// Send submits the batch in one request. The gateway accepts or rejects it as a whole.
func (s *SMSSender) Send(ctx context.Context, cfg *providers.TenantConfig, batch []Message) ([]error, error) {
	settings, err := cfg.SMSSettings()
	if err != nil {
		return nil, err
	}
	req := smsRequest{
		MsgHeader: settings.Header,
		Encoding:  smsEncoding,
		IYSFilter: settings.IYSFilter,
	}
	if req.IYSFilter == "" {
		req.IYSFilter = defaultIYSFilter
	}
	for _, msg := range batch {
		text := msg.Plain
		if text == "" {
			text = msg.Subject
		}
		for _, no := range msg.Addresses {
			req.Messages = append(req.Messages, smsEntry{Msg: text, No: no})
		}
	}
	if _, err := s.submit(ctx, settings, req); err != nil {
		return nil, err
	}
	return make([]error, len(batch)), nil
}

// SendText sends one text to numbers outside of a fan-out.
func (s *SMSSender) SendText(ctx context.Context, cfg *providers.TenantConfig, numbers []string, text string) (string, error) {
	settings, err := cfg.SMSSettings()
	if err != nil {
		return "", err
	}
	req := smsRequest{MsgHeader: settings.Header, Encoding: smsEncoding, IYSFilter: settings.IYSFilter}
	if req.IYSFilter == "" {
		req.IYSFilter = defaultIYSFilter
	}
	for _, n := range numbers {
		if no := NormalizePhone(n); no != "" {
			req.Messages = append(req.Messages, smsEntry{Msg: text, No: no})
		}
	}
	if len(req.Messages) == 0 {
		return "", &providers.RejectedError{Provider: providers.ProviderSMS, Code: "invalid_number", Message: "no valid number"}
	}
	resp, err := s.submit(ctx, settings, req)
	if err != nil {
		return "", err
	}
	return resp.JobID, nil
}

func (s *SMSSender) submit(ctx context.Context, settings providers.SMSConfig, payload smsRequest) (resp smsResponse, err error) {
	start := time.Now()
	defer func() { observe(providers.ProviderSMS, start, err) }()

	raw, status, err := s.post(ctx, s.url, payload, settings)
	if err != nil {
		return smsResponse{}, err
	}
	if status >= 300 {
		return smsResponse{}, &providers.RejectedError{Provider: providers.ProviderSMS, HTTPStatus: status, Message: strings.TrimSpace(string(raw))}
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return smsResponse{}, &providers.RejectedError{Provider: providers.ProviderSMS, HTTPStatus: status, Message: "unreadable gateway response"}
	}
	if _, ok := smsSuccessCodes[resp.Code]; !ok {
		return smsResponse{}, &providers.RejectedError{Provider: providers.ProviderSMS, Code: resp.Code, Message: resp.Description, HTTPStatus: status}
	}
	return resp, nil
}

// Balance returns the raw account balance document.
func (s *SMSSender) Balance(ctx context.Context, cfg *providers.TenantConfig) (json.RawMessage, error) {
	settings, err := cfg.SMSSettings()
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"usercode": settings.Username,
		"password": settings.Password,
		"stip":     3,
	}
	start := time.Now()
	raw, status, err := s.post(ctx, s.balanceURL, payload, providers.SMSConfig{})
	observe(providers.ProviderSMS, start, err)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, &providers.RejectedError{Provider: providers.ProviderSMS, HTTPStatus: status, Message: fmt.Sprintf("http %d", status)}
	}
	var decoded struct {
		Balance json.RawMessage `json:"balance"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil || len(decoded.Balance) == 0 {
		return json.RawMessage(raw), nil
	}
	return decoded.Balance, nil
}

func (s *SMSSender) post(ctx context.Context, url string, payload any, auth providers.SMSConfig) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if auth.Username != "" {
		req.SetBasicAuth(auth.Username, auth.Password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, providers.ClassifyTransport(providers.ProviderSMS, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, providers.ClassifyTransport(providers.ProviderSMS, err)
	}
	return raw, resp.StatusCode, nil
}
