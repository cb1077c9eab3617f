package application

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	masterdata "building-cloud/internal/masterdata/domain"
	"building-cloud/internal/notify/channels"
	"building-cloud/internal/observability/logging"
	"building-cloud/internal/providers"
)

// ConfigSource returns the provider configuration snapshot of a tenant.
type ConfigSource interface {
	Get(ctx context.Context, tenantID string) (*providers.TenantConfig, error)
}

// TopicManager maintains tenant topic subscriptions.
type TopicManager interface {
	Subscribe(ctx context.Context, cfg *providers.TenantConfig, tenantID string, tokens []string) (channels.TopicResult, error)
	Unsubscribe(ctx context.Context, cfg *providers.TenantConfig, tenantID string, tokens []string) (channels.TopicResult, error)
}

// RegisterDevice is a push token registration.
type RegisterDevice struct {
	TenantID   string                    `json:"-"`
	ResidentID string                    `json:"resident_id"`
	Token      string                    `json:"token"`
	Platform   masterdata.DevicePlatform `json:"platform,omitempty"`
}

// DeviceRegistration is the stored device plus its topic subscription, if any.
type DeviceRegistration struct {
	Device    masterdata.PushDevice `json:"device"`
	Topic     *channels.TopicResult `json:"topic,omitempty"`
	TopicNote string                `json:"topic_note,omitempty"`
}

// DeviceService registers push devices and keeps FCM tokens on the tenant topic.
type DeviceService struct {
	devices masterdata.DeviceRepository
	configs ConfigSource
	topics  TopicManager
	newID   func() string
	logger  logging.Logger
}

// DeviceOption configures the device service.
type DeviceOption func(*DeviceService)

// WithTopics enables FCM topic maintenance on register and unregister.
func WithTopics(configs ConfigSource, topics TopicManager) DeviceOption {
	return func(s *DeviceService) {
		s.configs = configs
		s.topics = topics
	}
}

// WithDeviceLogger sets the logger.
func WithDeviceLogger(logger logging.Logger) DeviceOption {
	return func(s *DeviceService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewDeviceService constructs the service.
func NewDeviceService(devices masterdata.DeviceRepository, opts ...DeviceOption) (*DeviceService, error) {
	if devices == nil {
		return nil, errors.New("device service: nil repository")
	}
	s := &DeviceService{devices: devices, newID: uuid.NewString, logger: logging.NewDiscard()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register stores the token. An FCM token is also subscribed to the tenant
// topic; a subscription failure is reported but does not undo the registration.
func (s *DeviceService) Register(ctx context.Context, cmd RegisterDevice) (DeviceRegistration, error) {
	token := strings.TrimSpace(cmd.Token)
	platform := cmd.Platform
	if platform == "" {
		platform = masterdata.PlatformFCM
		if masterdata.IsExpoToken(token) {
			platform = masterdata.PlatformExpo
		}
	}
	device := masterdata.PushDevice{
		ID:         s.newID(),
		TenantID:   cmd.TenantID,
		ResidentID: cmd.ResidentID,
		Token:      token,
		Platform:   platform,
	}
	if err := device.Validate(); err != nil {
		return DeviceRegistration{}, err
	}
	if err := s.devices.Save(ctx, &device); err != nil {
		return DeviceRegistration{}, err
	}
	out := DeviceRegistration{Device: device}
	if platform != masterdata.PlatformFCM || s.topics == nil {
		return out, nil
	}
	result, err := s.manageTopic(ctx, cmd.TenantID, token, true)
	if err != nil {
		s.logger.WithError(err).WithField("tenant_id", cmd.TenantID).Warn("topic subscribe failed")
		out.TopicNote = err.Error()
		return out, nil
	}
	out.Topic = &result
	return out, nil
}

// Unregister removes the token and reports whether it existed.
func (s *DeviceService) Unregister(ctx context.Context, tenantID, token string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, masterdata.ErrInvalidPushToken
	}
	device, err := s.devices.Delete(ctx, tenantID, token)
	if err != nil {
		return false, err
	}
	if device == nil {
		return false, nil
	}
	if device.Platform == masterdata.PlatformFCM && s.topics != nil {
		if _, err := s.manageTopic(ctx, tenantID, token, false); err != nil {
			s.logger.WithError(err).WithField("tenant_id", tenantID).Warn("topic unsubscribe failed")
		}
	}
	return true, nil
}

// SubscribeAll puts every registered FCM token of the tenant on its topic.
func (s *DeviceService) SubscribeAll(ctx context.Context, tenantID string) (channels.TopicResult, error) {
	if s.topics == nil {
		return channels.TopicResult{}, providers.Missing(providers.ProviderFCM, "topic management disabled")
	}
	devices, err := s.devices.ListByTenant(ctx, tenantID)
	if err != nil {
		return channels.TopicResult{}, err
	}
	var tokens []string
	for _, d := range devices {
		if d.Platform == masterdata.PlatformFCM {
			tokens = append(tokens, d.Token)
		}
	}
	cfg, err := s.configs.Get(ctx, tenantID)
	if err != nil {
		return channels.TopicResult{}, err
	}
	return s.topics.Subscribe(ctx, cfg, tenantID, tokens)
}

func (s *DeviceService) manageTopic(ctx context.Context, tenantID, token string, subscribe bool) (channels.TopicResult, error) {
	cfg, err := s.configs.Get(ctx, tenantID)
	if err != nil {
		return channels.TopicResult{}, err
	}
	if subscribe {
		return s.topics.Subscribe(ctx, cfg, tenantID, []string{token})
	}
	return s.topics.Unsubscribe(ctx, cfg, tenantID, []string{token})
}
