package providers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingLoader struct {
	calls atomic.Int32
	delay time.Duration
	cfg   TenantConfig
	err   error
}

func (l *countingLoader) Load(_ context.Context, tenantID string) (TenantConfig, error) {
	l.calls.Add(1)
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
	if l.err != nil {
		return TenantConfig{}, l.err
	}
	cfg := l.cfg
	cfg.TenantID = tenantID
	return cfg, nil
}

type memorySaver struct {
	mu    sync.Mutex
	saved map[string][]Section
}

func (m *memorySaver) Save(_ context.Context, tenantID string, section Section) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[string][]Section)
	}
	m.saved[tenantID] = append(m.saved[tenantID], section)
	return nil
}

type recordingBroadcaster struct {
	tenants []string
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, tenantID string, _ Provider) error {
	r.tenants = append(r.tenants, tenantID)
	return nil
}

func TestCacheServesWithinTTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	loader := &countingLoader{}
	cache, err := NewCache(loader, WithTTL(time.Minute), WithNow(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := cache.Get(context.Background(), "tenant-a"); err != nil {
			t.Fatalf("get: %v", err)
		}
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected 1 load, got %d", loader.calls.Load())
	}

	now = now.Add(2 * time.Minute)
	if _, err := cache.Get(context.Background(), "tenant-a"); err != nil {
		t.Fatalf("get after ttl: %v", err)
	}
	if loader.calls.Load() != 2 {
		t.Fatalf("expected reload after ttl, got %d loads", loader.calls.Load())
	}
}

func TestCacheInvalidateForcesReload(t *testing.T) {
	loader := &countingLoader{}
	cache, _ := NewCache(loader)
	_, _ = cache.Get(context.Background(), "tenant-a")
	cache.Invalidate("tenant-a")
	_, _ = cache.Get(context.Background(), "tenant-a")
	if loader.calls.Load() != 2 {
		t.Fatalf("expected 2 loads, got %d", loader.calls.Load())
	}
}

func TestCacheCoalescesConcurrentMisses(t *testing.T) {
	loader := &countingLoader{delay: 50 * time.Millisecond}
	cache, _ := NewCache(loader)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cache.Get(context.Background(), "tenant-a")
		}()
	}
	wg.Wait()
	if loader.calls.Load() != 1 {
		t.Fatalf("expected a single load, got %d", loader.calls.Load())
	}
}

func TestCacheDoesNotStoreErrors(t *testing.T) {
	loader := &countingLoader{err: errors.New("db down")}
	cache, _ := NewCache(loader)
	if _, err := cache.Get(context.Background(), "tenant-a"); err == nil {
		t.Fatalf("expected error")
	}
	loader.err = nil
	if _, err := cache.Get(context.Background(), "tenant-a"); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
}

func TestTenantConfigSectionAccessors(t *testing.T) {
	var cfg TenantConfig
	cfg.Set(SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "mailer@example.com", Password: "x", Active: true})
	cfg.Set(GatewayConfig{Merchant: "m", MerchantUser: "u", MerchantPassword: "p", Environment: "staging", Active: true})
	cfg.Set(SMSConfig{Username: "u", Password: "p", Header: "HDR", Active: false})

	smtpCfg, err := cfg.SMTPSettings()
	if err != nil {
		t.Fatalf("smtp: %v", err)
	}
	if smtpCfg.FromAddress() != "mailer@example.com" {
		t.Fatalf("expected username as sender, got %s", smtpCfg.FromAddress())
	}

	_, err = cfg.GatewaySettings()
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Reason != "environment must be test or live" {
		t.Fatalf("expected invalid environment reason, got %v", err)
	}
	if _, err := cfg.SMSSettings(); !errors.Is(err, ErrConfigurationMissing) {
		t.Fatalf("expected inactive sms to be missing, got %v", err)
	}
	if _, err := cfg.FCMSettings(); !errors.Is(err, ErrConfigurationMissing) {
		t.Fatalf("expected fcm missing, got %v", err)
	}
	if expo, err := cfg.ExpoSettings(); err != nil || !expo.Active {
		t.Fatalf("expected default expo settings, got %+v %v", expo, err)
	}
}

func TestTenantConfigRedacted(t *testing.T) {
	var cfg TenantConfig
	cfg.Set(SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "mailer@example.com", Password: "hunter2", Active: true})
	cfg.Set(GatewayConfig{Merchant: "m", MerchantUser: "u", MerchantPassword: "p", Environment: EnvironmentLive, Active: true})

	out := cfg.Redacted()
	smtpCfg, ok := out[ProviderSMTP].(SMTPConfig)
	if !ok || smtpCfg.Password != "********" || smtpCfg.Host != "smtp.example.com" {
		t.Fatalf("expected masked smtp password, got %+v", out[ProviderSMTP])
	}
	if cfg.SMTP.Password != "hunter2" {
		t.Fatalf("redaction must not touch the snapshot")
	}
	if _, ok := out[ProviderSMS]; ok {
		t.Fatalf("expected unconfigured sms to be absent")
	}
}

func TestTenantConfigKeepSecrets(t *testing.T) {
	var cfg TenantConfig
	cfg.Set(GatewayConfig{Merchant: "m", MerchantUser: "u", MerchantPassword: "p", Environment: EnvironmentTest, Active: true})

	kept := cfg.KeepSecrets(GatewayConfig{Merchant: "m2", MerchantUser: "u", MerchantPassword: "********", Environment: EnvironmentLive})
	gw := kept.(GatewayConfig)
	if gw.MerchantPassword != "p" || gw.Merchant != "m2" {
		t.Fatalf("expected stored password kept, got %+v", gw)
	}
	replaced := cfg.KeepSecrets(GatewayConfig{MerchantPassword: "new"}).(GatewayConfig)
	if replaced.MerchantPassword != "new" {
		t.Fatalf("expected new password, got %s", replaced.MerchantPassword)
	}
	smtp := cfg.KeepSecrets(SMTPConfig{Password: "********"}).(SMTPConfig)
	if smtp.Password != "********" {
		t.Fatalf("expected mask kept when nothing is stored, got %s", smtp.Password)
	}
}

func TestServiceSaveInvalidatesAndBroadcasts(t *testing.T) {
	loader := &countingLoader{}
	cache, _ := NewCache(loader)
	saver := &memorySaver{}
	broadcaster := &recordingBroadcaster{}
	svc, err := NewService(saver, cache, WithBroadcaster(broadcaster))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	_, _ = svc.Snapshot(context.Background(), "tenant-a")
	err = svc.Save(context.Background(), "tenant-a", SMSConfig{Username: "u", Password: "p", Header: "HDR", Active: true})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	_, _ = svc.Snapshot(context.Background(), "tenant-a")
	if loader.calls.Load() != 2 {
		t.Fatalf("expected reload after save, got %d loads", loader.calls.Load())
	}
	if len(broadcaster.tenants) != 1 || broadcaster.tenants[0] != "tenant-a" {
		t.Fatalf("expected broadcast for tenant-a, got %v", broadcaster.tenants)
	}

	err = svc.Save(context.Background(), "tenant-a", SMTPConfig{Port: 587})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
	if len(saver.saved["tenant-a"]) != 1 {
		t.Fatalf("expected invalid section not stored")
	}
}

func TestLoadFileAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	content := `tenants:
  tenant-a:
    sms:
      username: user
      password: pass
      header: SITE
      active: true
    gateway:
      merchant: "10000000"
      merchant_user: api
      merchant_password: secret
      environment: test
      active: true
  tenant-b:
    smtp:
      port: 587
templates:
  - name: dues_notice
    subject: "{{building_name}} dues"
    body_html: "<p>{{amount}}</p>"
  - tenant_id: tenant-a
    name: dues_notice
    subject: "Lale dues"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	file, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if got := len(file.Tenants["tenant-a"].Sections()); got != 2 {
		t.Fatalf("expected 2 sections, got %d", got)
	}
	if len(file.Templates) != 2 || file.Templates[1].TenantID != "tenant-a" {
		t.Fatalf("unexpected templates %+v", file.Templates)
	}

	cache, _ := NewCache(&countingLoader{})
	saver := &memorySaver{}
	svc, _ := NewService(saver, cache)
	err = file.Apply(context.Background(), svc)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected tenant-b smtp to be rejected, got %v", err)
	}
	if len(saver.saved["tenant-a"]) != 2 {
		t.Fatalf("expected tenant-a sections saved, got %d", len(saver.saved["tenant-a"]))
	}
}
