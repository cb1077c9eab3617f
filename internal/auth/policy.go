package auth

import (
	"net/http"
	"strings"
)

// Policy determines required roles by request.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
}

// NewDefaultPolicy builds a default policy with exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes}
}

// IsExempt returns true when a request should skip auth/RBAC.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole resolves required role for the request.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	path := r.URL.Path
	method := r.Method

	switch {
	case strings.HasPrefix(path, "/api/v1/providers"), strings.HasPrefix(path, "/api/v1/events/dead-letters"),
		path == "/api/v1/audit-logs":
		return RoleAdmin, true
	case path == "/api/v1/templates" || strings.HasPrefix(path, "/api/v1/templates/"):
		if method == http.MethodGet || strings.HasSuffix(path, "/preview") {
			return RoleManager, true
		}
		return RoleAdmin, true
	case strings.HasPrefix(path, "/api/v1/dues/"):
		if method == http.MethodGet && !strings.Contains(path, "/export.") {
			return RoleResident, true
		}
		return RoleManager, true
	case path == "/api/v1/notifications/dispatch":
		return RoleManager, true
	case strings.HasPrefix(path, "/api/v1/notifications/test-"):
		return RoleAdmin, true
	case path == "/api/v1/notifications/sms/balance":
		return RoleAdmin, true
	case path == "/api/v1/notifications/mail-logs":
		return RoleManager, true
	case path == "/api/v1/devices/subscribe-all":
		return RoleManager, true
	case strings.HasPrefix(path, "/api/v1/devices"):
		return RoleResident, true
	case path == "/api/v1/payments/sessions":
		return RoleResident, true
	case path == "/api/v1/payments/test-connection":
		return RoleAdmin, true
	case path == "/api/v1/payments/export.csv":
		return RoleManager, true
	case strings.HasPrefix(path, "/api/v1/payments/"):
		if strings.HasSuffix(path, "/refund") {
			return RoleAdmin, true
		}
		return RoleResident, true
	case path == "/api/v1/payments":
		return RoleManager, true
	}

	if strings.HasPrefix(path, "/api/") {
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			return RoleResident, true
		}
		return RoleManager, true
	}
	return "", false
}
