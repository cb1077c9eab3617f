package auth

import (
	"context"

	masterdata "building-cloud/internal/masterdata/domain"
)

// ApartmentTenantChecker validates apartment tenant ownership.
type ApartmentTenantChecker interface {
	EnsureApartmentTenant(ctx context.Context, tenantID, apartmentID string) error
}

// ApartmentChecker checks apartment ownership using masterdata.
type ApartmentChecker struct {
	repo masterdata.ApartmentReader
}

// NewApartmentChecker constructs an ApartmentChecker.
func NewApartmentChecker(repo masterdata.ApartmentReader) *ApartmentChecker {
	if repo == nil {
		return nil
	}
	return &ApartmentChecker{repo: repo}
}

// EnsureApartmentTenant verifies the apartment belongs to tenant.
func (c *ApartmentChecker) EnsureApartmentTenant(ctx context.Context, tenantID, apartmentID string) error {
	if c == nil || c.repo == nil {
		return nil
	}
	if tenantID == "" || apartmentID == "" {
		return nil
	}
	apt, err := c.repo.Get(ctx, tenantID, apartmentID)
	if err != nil {
		return err
	}
	if apt == nil {
		return ErrNotFound
	}
	if apt.TenantID != tenantID {
		return ErrTenantMismatch
	}
	return nil
}
