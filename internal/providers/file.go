package providers

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BootstrapFile seeds provider configuration from YAML. Templates are
// carried through for the notification module to store.
type BootstrapFile struct {
	Tenants   map[string]TenantSections `yaml:"tenants"`
	Templates []TemplateSeed            `yaml:"templates"`
}

// TemplateSeed is a message template declared in the bootstrap file.
// An empty TenantID seeds a shared template.
type TemplateSeed struct {
	TenantID    string   `yaml:"tenant_id"`
	Name        string   `yaml:"name"`
	Subject     string   `yaml:"subject"`
	BodyHTML    string   `yaml:"body_html"`
	BodyText    string   `yaml:"body_text"`
	Variables   []string `yaml:"variables"`
	Description string   `yaml:"description"`
}

// TenantSections lists the sections configured for one tenant.
type TenantSections struct {
	SMTP    *SMTPConfig    `yaml:"smtp"`
	SMS     *SMSConfig     `yaml:"sms"`
	Expo    *ExpoConfig    `yaml:"expo"`
	FCM     *FCMConfig     `yaml:"fcm"`
	Gateway *GatewayConfig `yaml:"gateway"`
}

// Sections returns the non-empty sections.
func (t TenantSections) Sections() []Section {
	var out []Section
	if t.SMTP != nil {
		out = append(out, *t.SMTP)
	}
	if t.SMS != nil {
		out = append(out, *t.SMS)
	}
	if t.Expo != nil {
		out = append(out, *t.Expo)
	}
	if t.FCM != nil {
		out = append(out, *t.FCM)
	}
	if t.Gateway != nil {
		out = append(out, *t.Gateway)
	}
	return out
}

// LoadFile reads a bootstrap file.
func LoadFile(path string) (*BootstrapFile, error) {
	if path == "" {
		return nil, errors.New("providers: empty bootstrap path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file BootstrapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("providers: parse %s: %w", path, err)
	}
	return &file, nil
}

// Apply saves every section through svc. Invalid sections are reported
// together after the valid ones are stored.
func (f *BootstrapFile) Apply(ctx context.Context, svc *Service) error {
	if f == nil || svc == nil {
		return nil
	}
	var errs []error
	for tenantID, sections := range f.Tenants {
		for _, section := range sections.Sections() {
			if err := svc.Save(ctx, tenantID, section); err != nil {
				errs = append(errs, fmt.Errorf("tenant %s: %w", tenantID, err))
			}
		}
	}
	return errors.Join(errs...)
}
