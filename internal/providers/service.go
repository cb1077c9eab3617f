package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"building-cloud/internal/observability/logging"
)

// ErrInvalidConfig is returned when a submitted section fails validation.
var ErrInvalidConfig = errors.New("providers: invalid configuration")

// Saver persists one provider section for a tenant.
type Saver interface {
	Save(ctx context.Context, tenantID string, section Section) error
}

// Broadcaster announces config changes to other instances.
type Broadcaster interface {
	Broadcast(ctx context.Context, tenantID string, provider Provider) error
}

// Service updates provider configuration and keeps the cache coherent.
type Service struct {
	store       Saver
	cache       *Cache
	broadcaster Broadcaster
	logger      logging.Logger
}

// ServiceOption configures the service.
type ServiceOption func(*Service)

// WithBroadcaster enables cross-instance invalidation.
func WithBroadcaster(b Broadcaster) ServiceOption {
	return func(s *Service) {
		if b != nil {
			s.broadcaster = b
		}
	}
}

// WithServiceLogger sets the logger.
func WithServiceLogger(logger logging.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a provider config service.
func NewService(store Saver, cache *Cache, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("provider service: nil store")
	}
	if cache == nil {
		return nil, errors.New("provider service: nil cache")
	}
	s := &Service{store: store, cache: cache, logger: logging.NewDiscard()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Save validates and stores a section, then invalidates the tenant snapshot.
func (s *Service) Save(ctx context.Context, tenantID string, section Section) error {
	if tenantID == "" {
		return errors.New("provider service: empty tenant id")
	}
	if section == nil {
		return errors.New("provider service: nil section")
	}
	if err := section.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, section.Provider(), err)
	}
	if err := s.store.Save(ctx, tenantID, section); err != nil {
		return err
	}
	s.cache.Invalidate(tenantID)
	if s.broadcaster != nil {
		if err := s.broadcaster.Broadcast(ctx, tenantID, section.Provider()); err != nil {
			s.logger.WithError(err).WithField("tenant_id", tenantID).Warn("config invalidation broadcast failed")
		}
	}
	return nil
}

// Snapshot returns the cached tenant configuration.
func (s *Service) Snapshot(ctx context.Context, tenantID string) (*TenantConfig, error) {
	return s.cache.Get(ctx, tenantID)
}

// DecodeSection parses a JSON section for provider.
func DecodeSection(provider Provider, raw []byte) (Section, error) {
	switch provider {
	case ProviderSMTP:
		var cfg SMTPConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	case ProviderSMS:
		var cfg SMSConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	case ProviderExpo:
		var cfg ExpoConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	case ProviderFCM:
		var cfg FCMConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	case ProviderGateway:
		var cfg GatewayConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	default:
		return nil, fmt.Errorf("providers: unknown provider %q", provider)
	}
}
