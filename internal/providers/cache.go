package providers

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"building-cloud/internal/observability/logging"
	"building-cloud/internal/observability/metrics"
)

// DefaultCacheTTL bounds how stale a cached tenant snapshot may get.
const DefaultCacheTTL = time.Minute

// Loader reads a tenant's provider configuration from storage.
type Loader interface {
	Load(ctx context.Context, tenantID string) (TenantConfig, error)
}

type cacheEntry struct {
	config    *TenantConfig
	expiresAt time.Time
}

// Cache holds per-tenant config snapshots with a TTL.
// Concurrent misses for one tenant share a single load.
type Cache struct {
	loader Loader
	ttl    time.Duration
	now    func() time.Time
	logger logging.Logger

	mu      sync.RWMutex
	entries map[string]cacheEntry
	group   singleflight.Group
}

// CacheOption configures the cache.
type CacheOption func(*Cache)

// WithTTL overrides the snapshot lifetime.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithNow overrides the cache clock.
func WithNow(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCacheLogger sets the logger.
func WithCacheLogger(logger logging.Logger) CacheOption {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCache constructs a config cache.
func NewCache(loader Loader, opts ...CacheOption) (*Cache, error) {
	if loader == nil {
		return nil, errors.New("provider cache: nil loader")
	}
	c := &Cache{
		loader:  loader,
		ttl:     DefaultCacheTTL,
		now:     time.Now,
		logger:  logging.NewDiscard(),
		entries: make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the tenant snapshot. Callers must not mutate it.
func (c *Cache) Get(ctx context.Context, tenantID string) (*TenantConfig, error) {
	if tenantID == "" {
		return nil, errors.New("provider cache: empty tenant id")
	}
	now := c.now()
	c.mu.RLock()
	entry, ok := c.entries[tenantID]
	c.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		metrics.IncConfigCache(metrics.CacheHit)
		return entry.config, nil
	}
	metrics.IncConfigCache(metrics.CacheMiss)

	value, err, _ := c.group.Do(tenantID, func() (any, error) {
		c.mu.RLock()
		entry, ok := c.entries[tenantID]
		c.mu.RUnlock()
		if ok && c.now().Before(entry.expiresAt) {
			return entry.config, nil
		}
		cfg, err := c.loader.Load(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		cfg.TenantID = tenantID
		cfg.LoadedAt = c.now()
		snapshot := &cfg
		c.mu.Lock()
		c.entries[tenantID] = cacheEntry{config: snapshot, expiresAt: cfg.LoadedAt.Add(c.ttl)}
		c.mu.Unlock()
		if len(cfg.Invalid) > 0 {
			c.logger.WithFields(logging.Fields{
				"tenant_id": tenantID,
				"invalid":   cfg.Invalid,
			}).Warn("provider config sections rejected at load")
		}
		return snapshot, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*TenantConfig), nil
}

// Invalidate drops the tenant snapshot so the next Get reloads it.
func (c *Cache) Invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.entries, tenantID)
	c.mu.Unlock()
	c.group.Forget(tenantID)
}
