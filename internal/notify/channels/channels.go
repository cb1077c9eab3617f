package channels

import (
	"context"
	"time"

	notify "building-cloud/internal/notify/domain"
	"building-cloud/internal/observability/metrics"
	"building-cloud/internal/providers"
)

// Recipient is a resident reachable on one or more channels.
type Recipient struct {
	ID             string
	TenantID       string
	FullName       string
	ApartmentID    string
	ApartmentLabel string
	Email          string
	Phone          string
	PushTokens     []string
	TopicTokens    []string
}

// Message is a rendered notification for one recipient.
type Message struct {
	TenantID     string
	RecipientID  string
	Addresses    []string
	TemplateName string
	Subject      string
	Rich         string
	Plain        string
	Data         map[string]string
}

// Sender is the part every channel shares.
type Sender interface {
	Channel() notify.Channel
	// Addresses returns the usable addresses of r; none means r is ineligible.
	Addresses(r Recipient) []string
	// Ready reports a configuration error without contacting the provider.
	Ready(cfg *providers.TenantConfig) error
}

// BatchSender delivers per-recipient messages in batches.
type BatchSender interface {
	Sender
	BatchSize() int
	// Send returns one error slot per message. A non-nil second value fails the whole batch.
	Send(ctx context.Context, cfg *providers.TenantConfig, batch []Message) ([]error, error)
}

// TopicSender delivers one message to a tenant-wide topic.
type TopicSender interface {
	Sender
	SendTopic(ctx context.Context, cfg *providers.TenantConfig, tenantID string, msg Message) error
}

func observe(provider providers.Provider, start time.Time, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = providers.Kind(err)
	}
	metrics.ObserveProviderCall(string(provider), result, time.Since(start))
}

func fill(n int, err error) []error {
	out := make([]error, n)
	for i := range out {
		out[i] = err
	}
	return out
}
