package auth

import "context"

type identityKey struct{}

// Identity is the caller resolved from a bearer token.
type Identity struct {
	TenantID    string
	Role        Role
	Subject     string
	ApartmentID string
}

// WithIdentity stores the caller in ctx.
func WithIdentity(ctx context.Context, tenantID string, role Role, subject string) context.Context {
	return ContextWithIdentity(ctx, Identity{TenantID: tenantID, Role: role, Subject: subject})
}

// ContextWithIdentity stores a full identity, including the resident's apartment.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the caller and whether one was set.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func TenantIDFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.TenantID
}

func RoleFromContext(ctx context.Context) Role {
	id, _ := IdentityFromContext(ctx)
	return id.Role
}

func SubjectFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.Subject
}

// ApartmentIDFromContext is empty for staff tokens.
func ApartmentIDFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.ApartmentID
}
