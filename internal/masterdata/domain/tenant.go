package masterdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTenantNotFound indicates the tenant does not exist.
	ErrTenantNotFound = errors.New("masterdata: tenant not found")
	// ErrApartmentNotFound indicates the apartment does not exist.
	ErrApartmentNotFound = errors.New("masterdata: apartment not found")
	// ErrInvalidPushToken indicates a malformed device token.
	ErrInvalidPushToken = errors.New("masterdata: invalid push token")
	// ErrInvalidDevice indicates a registration missing its owner or platform.
	ErrInvalidDevice = errors.New("masterdata: invalid push device")
)

// Tenant is a building or site with its own residents and billing cycle.
type Tenant struct {
	ID             string
	Name           string
	ApartmentCount int
	Currency       string
	CreatedAt      time.Time
}

// Apartment is a unit inside a tenant.
type Apartment struct {
	ID       string
	TenantID string
	Block    string
	Number   string
	Floor    int
}

// Label renders the apartment for messages, e.g. "A-12".
func (a Apartment) Label() string {
	if a.Block == "" {
		return a.Number
	}
	return a.Block + "-" + a.Number
}

// Resident is a person living in an apartment.
type Resident struct {
	ID          string
	TenantID    string
	ApartmentID string
	FullName    string
	Email       string
	Phone       string
	Active      bool
}

// DevicePlatform identifies the push provider a token belongs to.
type DevicePlatform string

const (
	PlatformExpo DevicePlatform = "expo"
	PlatformFCM  DevicePlatform = "fcm"
)

// PushDevice is a registered push token for a resident.
type PushDevice struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	ResidentID string         `json:"resident_id"`
	Token      string         `json:"token"`
	Platform   DevicePlatform `json:"platform"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Validate checks device invariants.
func (d PushDevice) Validate() error {
	if d.TenantID == "" {
		return fmt.Errorf("%w: empty tenant id", ErrInvalidDevice)
	}
	if d.ResidentID == "" {
		return fmt.Errorf("%w: empty resident id", ErrInvalidDevice)
	}
	if strings.TrimSpace(d.Token) == "" {
		return ErrInvalidPushToken
	}
	switch d.Platform {
	case PlatformExpo:
		if !IsExpoToken(d.Token) {
			return ErrInvalidPushToken
		}
	case PlatformFCM:
	default:
		return fmt.Errorf("%w: unknown platform %q", ErrInvalidDevice, d.Platform)
	}
	return nil
}

// IsExpoToken reports whether token has the expo push token shape.
func IsExpoToken(token string) bool {
	return strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken[")
}

// TenantReader loads tenants.
type TenantReader interface {
	Get(ctx context.Context, id string) (*Tenant, error)
}

// ApartmentReader loads apartments.
type ApartmentReader interface {
	Get(ctx context.Context, tenantID, id string) (*Apartment, error)
	ListByTenant(ctx context.Context, tenantID string) ([]Apartment, error)
}

// ResidentReader lists residents.
type ResidentReader interface {
	ListActive(ctx context.Context, tenantID string) ([]Resident, error)
}

// DeviceRepository manages push device registrations.
type DeviceRepository interface {
	Save(ctx context.Context, device *PushDevice) error
	Delete(ctx context.Context, tenantID, token string) (*PushDevice, error)
	ListByTenant(ctx context.Context, tenantID string) ([]PushDevice, error)
}
