package application

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"building-cloud/internal/notify/channels"
	notify "building-cloud/internal/notify/domain"
	"building-cloud/internal/notify/template"
	"building-cloud/internal/providers"
)

// ErrInvalidRequest reports missing or malformed input.
var ErrInvalidRequest = errors.New("invalid request")

const defaultMailLogLimit = 50

// DirectMailer sends a template-less email.
type DirectMailer interface {
	SendDirect(ctx context.Context, cfg *providers.TenantConfig, to []string, subject, rich, plain string) error
}

// SMSGateway exposes the SMS operations outside of a fan-out.
type SMSGateway interface {
	SendText(ctx context.Context, cfg *providers.TenantConfig, numbers []string, text string) (string, error)
	Balance(ctx context.Context, cfg *providers.TenantConfig) (json.RawMessage, error)
}

// DirectEmail is an ad hoc email.
type DirectEmail struct {
	To        []string `json:"to"`
	Subject   string   `json:"subject"`
	BodyRich  string   `json:"body_html"`
	BodyPlain string   `json:"body_text,omitempty"`
}

// MessagingService covers direct sends and provider diagnostics.
type MessagingService struct {
	configs ConfigSource
	mailer  DirectMailer
	sms     SMSGateway
	mailLog notify.MailLogRepository
}

// NewMessagingService constructs the service. Any collaborator but configs may be nil.
func NewMessagingService(configs ConfigSource, mailer DirectMailer, sms SMSGateway, mailLog notify.MailLogRepository) (*MessagingService, error) {
	if configs == nil {
		return nil, errors.New("messaging service: nil config source")
	}
	return &MessagingService{configs: configs, mailer: mailer, sms: sms, mailLog: mailLog}, nil
}

// SendEmail sends an ad hoc email through the tenant's SMTP account.
func (s *MessagingService) SendEmail(ctx context.Context, tenantID string, msg DirectEmail) error {
	if s.mailer == nil {
		return errors.New("messaging service: email disabled")
	}
	if len(msg.To) == 0 || strings.TrimSpace(msg.Subject) == "" {
		return ErrInvalidRequest
	}
	plain := msg.BodyPlain
	if strings.TrimSpace(plain) == "" {
		plain = template.StripTags(msg.BodyRich)
	}
	cfg, err := s.configs.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	return s.mailer.SendDirect(ctx, cfg, msg.To, msg.Subject, msg.BodyRich, plain)
}

// TestEmail sends a short message to verify the tenant's SMTP settings.
func (s *MessagingService) TestEmail(ctx context.Context, tenantID, to string) error {
	return s.SendEmail(ctx, tenantID, DirectEmail{
		To:       []string{to},
		Subject:  "SMTP configuration test",
		BodyRich: "<p>Your mail settings are working.</p>",
	})
}

// TestSMS sends a test text and returns the gateway job id.
func (s *MessagingService) TestSMS(ctx context.Context, tenantID, number string) (string, error) {
	if s.sms == nil {
		return "", errors.New("messaging service: sms disabled")
	}
	if channels.NormalizePhone(number) == "" {
		return "", ErrInvalidRequest
	}
	cfg, err := s.configs.Get(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return s.sms.SendText(ctx, cfg, []string{number}, "SMS configuration test")
}

// SMSBalance returns the SMS account balance document.
func (s *MessagingService) SMSBalance(ctx context.Context, tenantID string) (json.RawMessage, error) {
	if s.sms == nil {
		return nil, errors.New("messaging service: sms disabled")
	}
	cfg, err := s.configs.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return s.sms.Balance(ctx, cfg)
}

// MailLogs lists recent email attempts.
func (s *MessagingService) MailLogs(ctx context.Context, tenantID string, limit int) ([]notify.MailLogEntry, error) {
	if s.mailLog == nil {
		return []notify.MailLogEntry{}, nil
	}
	if limit <= 0 || limit > 500 {
		limit = defaultMailLogLimit
	}
	entries, err := s.mailLog.List(ctx, tenantID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []notify.MailLogEntry{}
	}
	return entries, nil
}
