package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"building-cloud/internal/auth"
	masterdata "building-cloud/internal/masterdata/domain"
	notifyapp "building-cloud/internal/notify/application"
	"building-cloud/internal/notify/channels"
	notify "building-cloud/internal/notify/domain"
	"building-cloud/internal/notify/fanout"
	"building-cloud/internal/notify/infrastructure/memory"
	"building-cloud/internal/notify/template"
	"building-cloud/internal/providers"
)

type directoryStub struct{ recipients []channels.Recipient }

func (d directoryStub) Recipients(ctx context.Context, tenantID string) ([]channels.Recipient, error) {
	return d.recipients, nil
}

type configStub struct{ cfg *providers.TenantConfig }

func (c configStub) Get(ctx context.Context, tenantID string) (*providers.TenantConfig, error) {
	return c.cfg, nil
}

type tenantStub struct{}

func (tenantStub) Get(ctx context.Context, id string) (*masterdata.Tenant, error) {
	return &masterdata.Tenant{ID: id, Name: "Lale Apartments", ApartmentCount: 2, Currency: "TRY"}, nil
}

type mailSender struct {
	mu    sync.Mutex
	sent  []channels.Message
	fails map[string]bool
}

func (s *mailSender) Channel() notify.Channel { return notify.ChannelEmail }

func (s *mailSender) Addresses(r channels.Recipient) []string {
	if r.Email == "" {
		return nil
	}
	return []string{r.Email}
}

func (s *mailSender) Ready(cfg *providers.TenantConfig) error { return nil }

func (s *mailSender) BatchSize() int { return 10 }

func (s *mailSender) Send(ctx context.Context, cfg *providers.TenantConfig, batch []channels.Message) ([]error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]error, len(batch))
	for i, msg := range batch {
		s.sent = append(s.sent, msg)
		if s.fails[msg.RecipientID] {
			out[i] = &providers.RejectedError{Provider: providers.ProviderSMTP, Code: "550", Message: "mailbox unavailable"}
		}
	}
	return out, nil
}

type deviceStore struct {
	mu      sync.Mutex
	devices map[string]masterdata.PushDevice
}

func (s *deviceStore) Save(ctx context.Context, device *masterdata.PushDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[device.Token] = *device
	return nil
}

func (s *deviceStore) Delete(ctx context.Context, tenantID, token string) (*masterdata.PushDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	device, ok := s.devices[token]
	if !ok || device.TenantID != tenantID {
		return nil, nil
	}
	delete(s.devices, token)
	return &device, nil
}

func (s *deviceStore) ListByTenant(ctx context.Context, tenantID string) ([]masterdata.PushDevice, error) {
	return nil, nil
}

type fixture struct {
	notifications *NotificationsHandler
	templates     *TemplatesHandler
	devices       *DevicesHandler
	sender        *mailSender
	store         *deviceStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	sender := &mailSender{fails: map[string]bool{"r-2": true}}
	configs := configStub{cfg: &providers.TenantConfig{TenantID: "tenant-a"}}
	templates, err := template.NewService(memory.NewTemplateStore())
	if err != nil {
		t.Fatalf("template service: %v", err)
	}
	directory := directoryStub{recipients: []channels.Recipient{
		{ID: "r-1", TenantID: "tenant-a", FullName: "Ayse", Email: "ayse@example.com"},
		{ID: "r-2", TenantID: "tenant-a", FullName: "Mehmet", Email: "mehmet@example.com"},
		{ID: "r-3", TenantID: "tenant-a", FullName: "Zeynep"},
	}}
	dispatcher, err := fanout.NewDispatcher(directory, configs, templates.Resolver(), tenantStub{}, []channels.Sender{sender})
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	messaging, err := notifyapp.NewMessagingService(configs, nil, nil, memory.NewMailLog())
	if err != nil {
		t.Fatalf("messaging: %v", err)
	}
	store := &deviceStore{devices: make(map[string]masterdata.PushDevice)}
	deviceService, err := notifyapp.NewDeviceService(store)
	if err != nil {
		t.Fatalf("device service: %v", err)
	}

	f := fixture{sender: sender, store: store}
	if f.notifications, err = NewNotificationsHandler(dispatcher, messaging, nil); err != nil {
		t.Fatalf("notifications handler: %v", err)
	}
	if f.templates, err = NewTemplatesHandler(templates, nil); err != nil {
		t.Fatalf("templates handler: %v", err)
	}
	if f.devices, err = NewDevicesHandler(deviceService, nil); err != nil {
		t.Fatalf("devices handler: %v", err)
	}
	return f
}

func serve(h http.Handler, role auth.Role, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req = req.WithContext(auth.WithIdentity(req.Context(), "tenant-a", role, "user-1"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDispatchReportsPerRecipientOutcome(t *testing.T) {
	f := newFixture(t)
	rec := serve(f.notifications, auth.RoleManager, http.MethodPost, "/api/v1/notifications/dispatch",
		`{"channel":"email","template_name":"announcement","variables":{"title":"Water cut","message":"Tomorrow 10:00"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report fanout.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if report.SentCount != 1 || report.FailedCount != 1 {
		t.Fatalf("expected 1 sent 1 failed, got %+v", report)
	}
	if report.IneligibleCount != 1 {
		t.Fatalf("expected 1 ineligible, got %d", report.IneligibleCount)
	}
	if len(report.Failures) != 1 || report.Failures[0].RecipientID != "r-2" {
		t.Fatalf("unexpected failures %+v", report.Failures)
	}
}

func TestDispatchAcceptsNonStringVariables(t *testing.T) {
	f := newFixture(t)
	rec := serve(f.notifications, auth.RoleManager, http.MethodPost, "/api/v1/notifications/dispatch",
		`{"channel":"email","template_name":"payment_reminder","variables":{"month":"Ocak 2025","amount":367.35,"currency":"TRY","due_date":20,"urgent":true}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(f.sender.sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(f.sender.sent))
	}
	for _, msg := range f.sender.sent {
		if !strings.Contains(msg.Plain, "are 367.35 TRY, due 20.") {
			t.Fatalf("expected numeric values rendered, got %q", msg.Plain)
		}
	}
}

func TestDispatchTenantMismatch(t *testing.T) {
	f := newFixture(t)
	rec := serve(f.notifications, auth.RoleManager, http.MethodPost, "/api/v1/notifications/dispatch",
		`{"tenant_id":"tenant-b","channel":"email","template_name":"announcement"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if len(f.sender.sent) != 0 {
		t.Fatalf("expected nothing sent")
	}
}

func TestDispatchUnknownTemplate(t *testing.T) {
	f := newFixture(t)
	rec := serve(f.notifications, auth.RoleManager, http.MethodPost, "/api/v1/notifications/dispatch",
		`{"channel":"email","template_name":"missing"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMailLogsEmpty(t *testing.T) {
	f := newFixture(t)
	rec := serve(f.notifications, auth.RoleManager, http.MethodGet, "/api/v1/notifications/mail-logs?limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %s", rec.Body.String())
	}
}

func TestTemplateOverrideAndPreview(t *testing.T) {
	f := newFixture(t)
	rec := serve(f.templates, auth.RoleAdmin, http.MethodPost, "/api/v1/templates",
		`{"name":"announcement","subject":"{{building_name}}: {{title}}","body_html":"<p>{{message}}</p>","is_active":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var saved template.Template
	_ = json.Unmarshal(rec.Body.Bytes(), &saved)
	if saved.Scope != template.ScopeTenantOverride || saved.TenantID != "tenant-a" {
		t.Fatalf("expected tenant override, got %+v", saved)
	}

	rec = serve(f.templates, auth.RoleManager, http.MethodPost, "/api/v1/templates/announcement/preview",
		`{"variables":{"building_name":"Lale","title":"Notice","message":"Hello"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var preview previewResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &preview); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if preview.Rendered.Subject != "Lale: Notice" {
		t.Fatalf("expected override subject, got %q", preview.Rendered.Subject)
	}

	rec = serve(f.templates, auth.RoleAdmin, http.MethodDelete, "/api/v1/templates/built_in_default/announcement", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 deleting built-in, got %d", rec.Code)
	}
	rec = serve(f.templates, auth.RoleAdmin, http.MethodDelete, "/api/v1/templates/tenant_override/announcement", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestDeviceRegisterAndUnregister(t *testing.T) {
	f := newFixture(t)
	rec := serve(f.devices, auth.RoleResident, http.MethodPost, "/api/v1/devices", `{"token":"ExponentPushToken[abc]"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	device := f.store.devices["ExponentPushToken[abc]"]
	if device.Platform != masterdata.PlatformExpo || device.ResidentID != "user-1" {
		t.Fatalf("unexpected device %+v", device)
	}

	rec = serve(f.devices, auth.RoleResident, http.MethodDelete, "/api/v1/devices", `{"token":"ExponentPushToken[abc]"}`)
	if !strings.Contains(rec.Body.String(), `"removed":true`) {
		t.Fatalf("expected removed, got %s", rec.Body.String())
	}
	rec = serve(f.devices, auth.RoleResident, http.MethodDelete, "/api/v1/devices", `{"token":"ExponentPushToken[abc]"}`)
	if !strings.Contains(rec.Body.String(), `"removed":false`) {
		t.Fatalf("expected not removed, got %s", rec.Body.String())
	}
}

func TestDeviceRegisterInvalidToken(t *testing.T) {
	f := newFixture(t)
	rec := serve(f.devices, auth.RoleResident, http.MethodPost, "/api/v1/devices", `{"token":"nope","platform":"expo"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
