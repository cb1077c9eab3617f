package channels

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"

	notify "building-cloud/internal/notify/domain"
	"building-cloud/internal/providers"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"+90 532 123 45 67": "5321234567",
		"0090 532 123 4567": "5321234567",
		"905321234567":      "5321234567",
		"0 (532) 123-45-67": "5321234567",
		"5321234567":        "5321234567",
		"9053":              "9053",
		"":                  "",
	}
	for input, want := range cases {
		if got := NormalizePhone(input); got != want {
			t.Fatalf("NormalizePhone(%q): expected %q, got %q", input, want, got)
		}
	}
}

func TestTopicName(t *testing.T) {
	if got := TopicName("tenant-1.a"); got != "building_tenant_1_a" {
		t.Fatalf("expected building_tenant_1_a, got %s", got)
	}
}

func TestExpoSenderMapsTicketsToRecipients(t *testing.T) {
	var received []expoMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode: %v", err)
		}
		var resp expoResponse
		for _, msg := range received {
			ticket := expoTicket{Status: "ok", ID: "tk"}
			if strings.Contains(msg.To, "dead") {
				ticket.Status = "error"
				ticket.Message = "not registered"
				ticket.Details.Error = "DeviceNotRegistered"
			}
			resp.Data = append(resp.Data, ticket)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	sender := NewExpoSender(WithExpoURL(server.URL))
	cfg := &providers.TenantConfig{Expo: &providers.ExpoConfig{AccessToken: "secret", Active: true}}
	batch := []Message{
		{RecipientID: "r-1", Subject: "Hi", Plain: "body", Addresses: []string{"ExponentPushToken[dead]", "ExponentPushToken[ok]"}},
		{RecipientID: "r-2", Subject: "Hi", Plain: "body", Addresses: []string{"ExponentPushToken[dead2]"}},
	}

	results, err := sender.Send(context.Background(), cfg, batch)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(received) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(received))
	}
	if received[0].ChannelID != DefaultExpoChannelID || received[0].Priority != "high" {
		t.Fatalf("unexpected entry: %+v", received[0])
	}
	if results[0] != nil {
		t.Fatalf("expected r-1 delivered, got %v", results[0])
	}
	rejected, ok := providers.AsRejected(results[1])
	if !ok || rejected.Code != "DeviceNotRegistered" {
		t.Fatalf("expected DeviceNotRegistered, got %v", results[1])
	}
}

func TestExpoSenderAddressesFiltersForeignTokens(t *testing.T) {
	sender := NewExpoSender()
	got := sender.Addresses(Recipient{PushTokens: []string{"fcm-token", " ExponentPushToken[x] "}})
	if len(got) != 1 || got[0] != "ExponentPushToken[x]" {
		t.Fatalf("unexpected addresses: %v", got)
	}
}

func TestExpoSenderTransportFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	sender := NewExpoSender(WithExpoURL(server.URL))
	results, err := sender.Send(context.Background(), &providers.TenantConfig{}, []Message{
		{RecipientID: "r-1", Addresses: []string{"ExponentPushToken[a]"}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !providers.IsTransient(results[0]) {
		t.Fatalf("expected transient error, got %v", results[0])
	}
}

func smsConfig() *providers.TenantConfig {
	return &providers.TenantConfig{SMS: &providers.SMSConfig{
		Username: "user",
		Password: "pass",
		Header:   "BUILDING",
		Active:   true,
	}}
}

func TestSMSSenderSubmitsBatch(t *testing.T) {
	var got smsRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user" || pass != "pass" {
			t.Errorf("unexpected basic auth %q %q", user, pass)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"code":"00","jobid":"job-1"}`))
	}))
	defer server.Close()

	sender := NewSMSSender(WithSMSURLs(server.URL, ""))
	results, err := sender.Send(context.Background(), smsConfig(), []Message{
		{RecipientID: "r-1", Plain: "Dues are ready", Addresses: []string{"5321234567"}},
		{RecipientID: "r-2", Plain: "Dues are ready", Addresses: []string{"5329876543"}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(results) != 2 || results[0] != nil || results[1] != nil {
		t.Fatalf("unexpected results: %v", results)
	}
	if got.MsgHeader != "BUILDING" || got.Encoding != "TR" || got.IYSFilter != "0" {
		t.Fatalf("unexpected request: %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[1].No != "5329876543" {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}
}

func TestSMSSenderRejectsWholeBatchOnErrorCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"30","description":"invalid credentials"}`))
	}))
	defer server.Close()

	sender := NewSMSSender(WithSMSURLs(server.URL, ""))
	_, err := sender.Send(context.Background(), smsConfig(), []Message{{Plain: "x", Addresses: []string{"5321234567"}}})
	rejected, ok := providers.AsRejected(err)
	if !ok {
		t.Fatalf("expected rejection, got %v", err)
	}
	if rejected.Code != "30" || rejected.Message != "invalid credentials" {
		t.Fatalf("unexpected rejection: %+v", rejected)
	}
}

func TestSMSSenderMissingConfig(t *testing.T) {
	sender := NewSMSSender()
	_, err := sender.Send(context.Background(), &providers.TenantConfig{}, nil)
	if !errors.Is(err, providers.ErrConfigurationMissing) {
		t.Fatalf("expected configuration missing, got %v", err)
	}
}

func TestSMSSenderBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["usercode"] != "user" || body["stip"] != float64(3) {
			t.Errorf("unexpected balance body: %v", body)
		}
		_, _ = w.Write([]byte(`{"code":"00","balance":[{"amount":"120"}]}`))
	}))
	defer server.Close()

	sender := NewSMSSender(WithSMSURLs("", server.URL))
	balance, err := sender.Balance(context.Background(), smsConfig())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !strings.Contains(string(balance), "120") {
		t.Fatalf("unexpected balance: %s", balance)
	}
}

type fakeTransport struct {
	mu   sync.Mutex
	sent [][]string
	err  error
}

func (f *fakeTransport) Send(ctx context.Context, cfg providers.SMTPConfig, from string, to []string, msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	return f.err
}

type memoryMailLog struct {
	mu      sync.Mutex
	entries []notify.MailLogEntry
}

func (m *memoryMailLog) Append(ctx context.Context, entry notify.MailLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryMailLog) List(ctx context.Context, tenantID string, limit int) ([]notify.MailLogEntry, error) {
	return m.entries, nil
}

func smtpConfig() *providers.TenantConfig {
	return &providers.TenantConfig{TenantID: "t-1", SMTP: &providers.SMTPConfig{
		Host:        "smtp.example.com",
		Port:        587,
		Username:    "mailer",
		Password:    "secret",
		SenderName:  "Site Office",
		SenderEmail: "office@example.com",
		Active:      true,
	}}
}

func TestEmailSenderLogsEveryAttempt(t *testing.T) {
	transport := &fakeTransport{}
	log := &memoryMailLog{}
	sender := NewEmailSender(transport, WithMailLog(log))

	results, err := sender.Send(context.Background(), smtpConfig(), []Message{
		{TenantID: "t-1", RecipientID: "r-1", Subject: "Dues", Plain: "pay", Addresses: []string{"a@example.com"}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if results[0] != nil {
		t.Fatalf("expected success, got %v", results[0])
	}
	results, _ = sender.Send(context.Background(), smtpConfig(), []Message{
		{TenantID: "t-1", RecipientID: "r-2", Subject: "Dues", Plain: "pay", Addresses: []string{"not an address"}},
	})
	rejected, ok := providers.AsRejected(results[0])
	if !ok || rejected.Code != "invalid_address" {
		t.Fatalf("expected invalid_address, got %v", results[0])
	}
	if len(transport.sent) != 1 {
		t.Fatalf("expected 1 transport call, got %d", len(transport.sent))
	}
	if len(log.entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(log.entries))
	}
	if log.entries[0].Status != notify.MailSent || log.entries[1].Status != notify.MailFailed {
		t.Fatalf("unexpected statuses: %s %s", log.entries[0].Status, log.entries[1].Status)
	}
}

func TestEmailSenderMissingConfig(t *testing.T) {
	sender := NewEmailSender(&fakeTransport{})
	err := sender.SendDirect(context.Background(), &providers.TenantConfig{}, []string{"a@example.com"}, "s", "", "p")
	if !errors.Is(err, providers.ErrConfigurationMissing) {
		t.Fatalf("expected configuration missing, got %v", err)
	}
}

func TestBuildMIME(t *testing.T) {
	date := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	raw, err := BuildMIME("Office <office@example.com>", []string{"a@example.com"}, "Aidat\r\nBcc: x", "plain body", "<p>rich</p>", date)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	body := string(raw)
	if strings.Contains(body, "\r\nBcc:") {
		t.Fatalf("header injection not stripped")
	}
	for _, want := range []string{"multipart/alternative", "text/plain; charset=UTF-8", "text/html; charset=UTF-8", "plain body", "To: a@example.com"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in message", want)
		}
	}
}

type fakeMessenger struct {
	sent       []*messaging.Message
	subscribed []string
	err        error
}

func (f *fakeMessenger) Send(ctx context.Context, message *messaging.Message) (string, error) {
	f.sent = append(f.sent, message)
	return "id", f.err
}

func (f *fakeMessenger) SubscribeToTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error) {
	f.subscribed = append(f.subscribed, tokens...)
	return &messaging.TopicManagementResponse{SuccessCount: len(tokens)}, nil
}

func (f *fakeMessenger) UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error) {
	return &messaging.TopicManagementResponse{SuccessCount: len(tokens)}, nil
}

func fcmConfig() *providers.TenantConfig {
	return &providers.TenantConfig{FCM: &providers.FCMConfig{ProjectID: "p", CredentialsJSON: "{}", Active: true}}
}

func TestFCMSenderPublishesToTenantTopic(t *testing.T) {
	messenger := &fakeMessenger{}
	builds := 0
	sender := NewFCMSender(func(ctx context.Context, cfg providers.FCMConfig) (Messenger, error) {
		builds++
		return messenger, nil
	})

	for i := 0; i < 2; i++ {
		if err := sender.SendTopic(context.Background(), fcmConfig(), "t-1", Message{Subject: "Hi", Plain: "body"}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if builds != 1 {
		t.Fatalf("expected messenger reuse, got %d builds", builds)
	}
	msg := messenger.sent[0]
	if msg.Topic != "building_t_1" || msg.Android.Priority != "high" || msg.Android.Notification.Color != "#7C3AED" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if *msg.APNS.Payload.Aps.Badge != 1 {
		t.Fatalf("expected badge 1")
	}

	result, err := sender.Subscribe(context.Background(), fcmConfig(), "t-1", []string{"tok"})
	if err != nil || result.SuccessCount != 1 {
		t.Fatalf("unexpected subscribe result %+v %v", result, err)
	}
}

func TestFCMSenderRejection(t *testing.T) {
	messenger := &fakeMessenger{err: errors.New("invalid topic")}
	sender := NewFCMSender(func(ctx context.Context, cfg providers.FCMConfig) (Messenger, error) {
		return messenger, nil
	})
	err := sender.SendTopic(context.Background(), fcmConfig(), "t-1", Message{})
	if _, ok := providers.AsRejected(err); !ok {
		t.Fatalf("expected rejection, got %v", err)
	}
}
