package notify

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrUnknownChannel = errors.New("unknown channel")
	ErrNoTemplate     = errors.New("template name is required")
)

// Channel names a delivery channel.
type Channel string

const (
	ChannelPushToken Channel = "push_token"
	ChannelPushTopic Channel = "push_topic"
	ChannelEmail     Channel = "email"
	ChannelSMS       Channel = "sms"
)

// ParseChannel validates a channel name. "push" is accepted for push_token.
func ParseChannel(value string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(value))) {
	case ChannelPushToken, "push", "expo":
		return ChannelPushToken, nil
	case ChannelPushTopic, "fcm", "topic":
		return ChannelPushTopic, nil
	case ChannelEmail, "mail":
		return ChannelEmail, nil
	case ChannelSMS:
		return ChannelSMS, nil
	default:
		return "", ErrUnknownChannel
	}
}

// MailStatus is the outcome of one email attempt.
type MailStatus string

const (
	MailSent   MailStatus = "sent"
	MailFailed MailStatus = "failed"
)

// MailLogEntry records one email attempt regardless of outcome.
type MailLogEntry struct {
	ID           string     `json:"id"`
	TenantID     string     `json:"tenant_id"`
	Recipients   []string   `json:"recipients"`
	Subject      string     `json:"subject"`
	TemplateName string     `json:"template_name,omitempty"`
	Status       MailStatus `json:"status"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// MailLogRepository stores the email delivery log.
type MailLogRepository interface {
	Append(ctx context.Context, entry MailLogEntry) error
	List(ctx context.Context, tenantID string, limit int) ([]MailLogEntry, error)
}

// DeliveryKey identifies a definition-bound delivery on one channel.
type DeliveryKey struct {
	TenantID     string
	DefinitionID string
	Channel      Channel
}

// DeliveryLedger remembers which recipients already received a definition on a channel.
type DeliveryLedger interface {
	Delivered(ctx context.Context, key DeliveryKey) (map[string]struct{}, error)
	Record(ctx context.Context, key DeliveryKey, recipientIDs []string, at time.Time) error
}
