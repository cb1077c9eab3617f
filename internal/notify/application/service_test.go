package application

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	masterdata "building-cloud/internal/masterdata/domain"
	"building-cloud/internal/notify/channels"
	"building-cloud/internal/notify/infrastructure/memory"
	"building-cloud/internal/providers"
)

type deviceRepoStub struct {
	devices map[string]masterdata.PushDevice
}

func newDeviceRepoStub() *deviceRepoStub {
	return &deviceRepoStub{devices: make(map[string]masterdata.PushDevice)}
}

func (r *deviceRepoStub) Save(ctx context.Context, device *masterdata.PushDevice) error {
	r.devices[device.Token] = *device
	return nil
}

func (r *deviceRepoStub) Delete(ctx context.Context, tenantID, token string) (*masterdata.PushDevice, error) {
	d, ok := r.devices[token]
	if !ok {
		return nil, nil
	}
	delete(r.devices, token)
	return &d, nil
}

func (r *deviceRepoStub) ListByTenant(ctx context.Context, tenantID string) ([]masterdata.PushDevice, error) {
	var out []masterdata.PushDevice
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out, nil
}

type configStub struct {
	cfg *providers.TenantConfig
}

func (c configStub) Get(ctx context.Context, tenantID string) (*providers.TenantConfig, error) {
	return c.cfg, nil
}

type topicStub struct {
	subscribed   []string
	unsubscribed []string
	err          error
}

func (t *topicStub) Subscribe(ctx context.Context, cfg *providers.TenantConfig, tenantID string, tokens []string) (channels.TopicResult, error) {
	if t.err != nil {
		return channels.TopicResult{}, t.err
	}
	t.subscribed = append(t.subscribed, tokens...)
	return channels.TopicResult{Topic: channels.TopicName(tenantID), SuccessCount: len(tokens)}, nil
}

func (t *topicStub) Unsubscribe(ctx context.Context, cfg *providers.TenantConfig, tenantID string, tokens []string) (channels.TopicResult, error) {
	t.unsubscribed = append(t.unsubscribed, tokens...)
	return channels.TopicResult{SuccessCount: len(tokens)}, nil
}

func TestDeviceServiceRegistersAndSubscribes(t *testing.T) {
	repo := newDeviceRepoStub()
	topics := &topicStub{}
	svc, err := NewDeviceService(repo, WithTopics(configStub{cfg: &providers.TenantConfig{}}, topics))
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	ctx := context.Background()

	reg, err := svc.Register(ctx, RegisterDevice{TenantID: "t-1", ResidentID: "r-1", Token: "ExponentPushToken[abc]"})
	if err != nil {
		t.Fatalf("register expo: %v", err)
	}
	if reg.Device.Platform != masterdata.PlatformExpo || reg.Topic != nil {
		t.Fatalf("unexpected expo registration: %+v", reg)
	}

	reg, err = svc.Register(ctx, RegisterDevice{TenantID: "t-1", ResidentID: "r-1", Token: "fcm-token"})
	if err != nil {
		t.Fatalf("register fcm: %v", err)
	}
	if reg.Topic == nil || reg.Topic.Topic != "building_t_1" || len(topics.subscribed) != 1 {
		t.Fatalf("expected topic subscription, got %+v", reg)
	}

	removed, err := svc.Unregister(ctx, "t-1", "fcm-token")
	if err != nil || !removed {
		t.Fatalf("expected removal, got %v %v", removed, err)
	}
	if len(topics.unsubscribed) != 1 {
		t.Fatalf("expected unsubscribe, got %v", topics.unsubscribed)
	}
	removed, _ = svc.Unregister(ctx, "t-1", "fcm-token")
	if removed {
		t.Fatalf("expected second unregister to report absent")
	}
}

func TestDeviceServiceKeepsRegistrationWhenTopicFails(t *testing.T) {
	repo := newDeviceRepoStub()
	topics := &topicStub{err: providers.Missing(providers.ProviderFCM, "not configured")}
	svc, _ := NewDeviceService(repo, WithTopics(configStub{cfg: &providers.TenantConfig{}}, topics))

	reg, err := svc.Register(context.Background(), RegisterDevice{TenantID: "t-1", ResidentID: "r-1", Token: "fcm-token"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.TopicNote == "" || len(repo.devices) != 1 {
		t.Fatalf("expected stored device with topic note, got %+v", reg)
	}
}

func TestDeviceServiceRejectsMalformedExpoToken(t *testing.T) {
	svc, _ := NewDeviceService(newDeviceRepoStub())
	_, err := svc.Register(context.Background(), RegisterDevice{TenantID: "t-1", ResidentID: "r-1", Token: "abc", Platform: masterdata.PlatformExpo})
	if !errors.Is(err, masterdata.ErrInvalidPushToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

type mailerStub struct {
	to    []string
	plain string
}

func (m *mailerStub) SendDirect(ctx context.Context, cfg *providers.TenantConfig, to []string, subject, rich, plain string) error {
	m.to = to
	m.plain = plain
	return nil
}

type smsStub struct{}

func (smsStub) SendText(ctx context.Context, cfg *providers.TenantConfig, numbers []string, text string) (string, error) {
	return "job-1", nil
}

func (smsStub) Balance(ctx context.Context, cfg *providers.TenantConfig) (json.RawMessage, error) {
	return json.RawMessage(`{"amount":"10"}`), nil
}

func TestMessagingServiceDirectSends(t *testing.T) {
	mailer := &mailerStub{}
	svc, err := NewMessagingService(configStub{cfg: &providers.TenantConfig{}}, mailer, smsStub{}, memory.NewMailLog())
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	ctx := context.Background()

	if err := svc.SendEmail(ctx, "t-1", DirectEmail{To: []string{"a@example.com"}, Subject: "Hi", BodyRich: "<p>Hello</p>"}); err != nil {
		t.Fatalf("send email: %v", err)
	}
	if mailer.plain != "Hello" {
		t.Fatalf("expected derived plain body, got %q", mailer.plain)
	}
	if err := svc.SendEmail(ctx, "t-1", DirectEmail{Subject: "Hi"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
	job, err := svc.TestSMS(ctx, "t-1", "+90 532 123 45 67")
	if err != nil || job != "job-1" {
		t.Fatalf("unexpected sms result %q %v", job, err)
	}
	logs, err := svc.MailLogs(ctx, "t-1", 0)
	if err != nil || logs == nil {
		t.Fatalf("expected empty non-nil logs, got %v %v", logs, err)
	}
}
