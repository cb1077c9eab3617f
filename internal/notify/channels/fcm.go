package channels

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	notify "building-cloud/internal/notify/domain"
	"building-cloud/internal/providers"
)

const (
	topicPrefix           = "building_"
	fcmAccentColor        = "#7C3AED"
	fcmAndroidChannelID   = "building_announcements"
	fcmBadgeCount         = 1
	fcmTopicManagementMax = 1000
)

// TopicName derives the tenant-wide topic. Characters outside [A-Za-z0-9] become '_'.
func TopicName(tenantID string) string {
	var b strings.Builder
	b.WriteString(topicPrefix)
	for _, r := range tenantID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Messenger is the subset of the FCM messaging client used here.
type Messenger interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
	SubscribeToTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
	UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
}

// MessengerFactory builds a messenger from tenant credentials.
type MessengerFactory func(ctx context.Context, cfg providers.FCMConfig) (Messenger, error)

// NewFirebaseMessenger initialises a firebase app for the tenant's service account.
func NewFirebaseMessenger(ctx context.Context, cfg providers.FCMConfig) (Messenger, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}
	return client, nil
}

// FCMSender delivers tenant-topic push notifications.
// Messengers are built once per tenant credential set and reused.
type FCMSender struct {
	factory MessengerFactory

	mu         sync.Mutex
	messengers map[string]Messenger
}

// NewFCMSender constructs a sender. A nil factory uses firebase.
func NewFCMSender(factory MessengerFactory) *FCMSender {
	if factory == nil {
		factory = NewFirebaseMessenger
	}
	return &FCMSender{factory: factory, messengers: make(map[string]Messenger)}
}

func (s *FCMSender) Channel() notify.Channel { return notify.ChannelPushTopic }

// Addresses returns the recipient's FCM device tokens. Any token means the
// device subscribed to the tenant topic at registration.
func (s *FCMSender) Addresses(r Recipient) []string {
	var out []string
	for _, token := range r.TopicTokens {
		if token = strings.TrimSpace(token); token != "" {
			out = append(out, token)
		}
	}
	return out
}

func (s *FCMSender) Ready(cfg *providers.TenantConfig) error {
	_, err := cfg.FCMSettings()
	return err
}

// SendTopic publishes msg once to the tenant topic.
func (s *FCMSender) SendTopic(ctx context.Context, cfg *providers.TenantConfig, tenantID string, msg Message) (err error) {
	messenger, err := s.messenger(ctx, cfg, tenantID)
	if err != nil {
		return err
	}
	start := time.Now()
	defer func() { observe(providers.ProviderFCM, start, err) }()

	badge := fcmBadgeCount
	_, err = messenger.Send(ctx, &messaging.Message{
		Topic: TopicName(tenantID),
		Notification: &messaging.Notification{
			Title: msg.Subject,
			Body:  msg.Plain,
		},
		Data: msg.Data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:     "default",
				Color:     fcmAccentColor,
				ChannelID: fcmAndroidChannelID,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default", Badge: &badge},
			},
		},
	})
	return classifyFCM(err)
}

// TopicResult reports a subscription change.
type TopicResult struct {
	Topic        string   `json:"topic"`
	SuccessCount int      `json:"success_count"`
	FailureCount int      `json:"failure_count"`
	Errors       []string `json:"errors,omitempty"`
}

// Subscribe adds tokens to the tenant topic.
func (s *FCMSender) Subscribe(ctx context.Context, cfg *providers.TenantConfig, tenantID string, tokens []string) (TopicResult, error) {
	return s.manage(ctx, cfg, tenantID, tokens, true)
}

// Unsubscribe removes tokens from the tenant topic.
func (s *FCMSender) Unsubscribe(ctx context.Context, cfg *providers.TenantConfig, tenantID string, tokens []string) (TopicResult, error) {
	return s.manage(ctx, cfg, tenantID, tokens, false)
}

func (s *FCMSender) manage(ctx context.Context, cfg *providers.TenantConfig, tenantID string, tokens []string, subscribe bool) (TopicResult, error) {
	result := TopicResult{Topic: TopicName(tenantID)}
	if len(tokens) == 0 {
		return result, nil
	}
	messenger, err := s.messenger(ctx, cfg, tenantID)
	if err != nil {
		return result, err
	}
	for start := 0; start < len(tokens); start += fcmTopicManagementMax {
		end := start + fcmTopicManagementMax
		if end > len(tokens) {
			end = len(tokens)
		}
		began := time.Now()
		var resp *messaging.TopicManagementResponse
		if subscribe {
			resp, err = messenger.SubscribeToTopic(ctx, tokens[start:end], result.Topic)
		} else {
			resp, err = messenger.UnsubscribeFromTopic(ctx, tokens[start:end], result.Topic)
		}
		err = classifyFCM(err)
		observe(providers.ProviderFCM, began, err)
		if err != nil {
			return result, err
		}
		result.SuccessCount += resp.SuccessCount
		result.FailureCount += resp.FailureCount
		for _, info := range resp.Errors {
			if info != nil {
				result.Errors = append(result.Errors, info.Reason)
			}
		}
	}
	return result, nil
}

func (s *FCMSender) messenger(ctx context.Context, cfg *providers.TenantConfig, tenantID string) (Messenger, error) {
	settings, err := cfg.FCMSettings()
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256([]byte(settings.ProjectID + "\x00" + settings.CredentialsJSON))
	key := tenantID + ":" + hex.EncodeToString(sum[:8])

	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messengers[key]; ok {
		return m, nil
	}
	m, err := s.factory(ctx, settings)
	if err != nil {
		return nil, providers.Missing(providers.ProviderFCM, err.Error())
	}
	s.messengers[key] = m
	return m, nil
}

func classifyFCM(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errorutils.IsUnavailable(err) || errorutils.IsDeadlineExceeded(err) || errorutils.IsInternal(err) {
		return providers.Transient(providers.ProviderFCM, err)
	}
	rejected := &providers.RejectedError{Provider: providers.ProviderFCM, Message: err.Error()}
	if resp := errorutils.HTTPResponse(err); resp != nil {
		rejected.HTTPStatus = resp.StatusCode
	}
	return rejected
}
