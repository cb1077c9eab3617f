package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the tenant and role of a building user. Resident tokens may
// also name the apartment the resident lives in.
type Claims struct {
	TenantID    string `json:"tenant_id"`
	Role        string `json:"role"`
	ApartmentID string `json:"apartment_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenOption tightens token validation.
type TokenOption func(*tokenRules)

type tokenRules struct {
	issuer string
	leeway time.Duration
}

// WithIssuer requires the iss claim to equal issuer.
func WithIssuer(issuer string) TokenOption {
	return func(r *tokenRules) { r.issuer = issuer }
}

// WithLeeway tolerates clock skew between this service and the token issuer.
func WithLeeway(d time.Duration) TokenOption {
	return func(r *tokenRules) { r.leeway = d }
}

// ParseJWT validates an HS256 token and returns its claims. Every failure
// wraps ErrUnauthorized.
func ParseJWT(tokenString string, secret []byte, opts ...TokenOption) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	if len(secret) == 0 {
		return nil, errors.New("auth: empty secret")
	}
	var rules tokenRules
	for _, opt := range opts {
		opt(&rules)
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(rules.leeway),
	}
	if rules.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(rules.issuer))
	}

	claims := &Claims{}
	if _, err := jwt.NewParser(parserOpts...).ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.TenantID == "" {
		return nil, fmt.Errorf("%w: missing tenant_id", ErrUnauthorized)
	}
	if _, ok := NormalizeRole(claims.Role); !ok {
		return nil, fmt.Errorf("%w: unknown role %q", ErrUnauthorized, claims.Role)
	}
	return claims, nil
}
