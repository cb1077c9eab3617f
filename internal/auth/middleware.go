package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"building-cloud/internal/observability/logging"
)

// Middleware authenticates bearer tokens and enforces the route policy.
// Routes the policy does not know pass through untouched.
type Middleware struct {
	secret []byte
	policy Policy
	logger logging.Logger
	token  []TokenOption
}

// MiddlewareOption configures the middleware.
type MiddlewareOption func(*Middleware)

func WithMiddlewareLogger(logger logging.Logger) MiddlewareOption {
	return func(m *Middleware) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTokenOptions applies extra validation to every bearer token.
func WithTokenOptions(opts ...TokenOption) MiddlewareOption {
	return func(m *Middleware) {
		m.token = append(m.token, opts...)
	}
}

func NewMiddleware(secret []byte, policy Policy, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{secret: secret, policy: policy, logger: logging.NewDiscard()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		required, guarded := m.policy.RequiredRole(r)
		if !guarded {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := ParseJWT(bearerToken(r), m.secret, m.token...)
		if err != nil {
			m.logger.WithError(err).WithField("path", r.URL.Path).Debug("jwt rejected")
			w.Header().Set("WWW-Authenticate", `Bearer realm="building-cloud"`)
			deny(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		role, _ := NormalizeRole(claims.Role)
		if !RoleAtLeast(role, required) {
			m.logger.WithFields(logging.Fields{
				"tenant_id": claims.TenantID,
				"subject":   claims.Subject,
				"role":      role,
				"required":  required,
				"path":      r.URL.Path,
			}).Info("role below route requirement")
			deny(w, http.StatusForbidden, "forbidden")
			return
		}
		ctx := ContextWithIdentity(r.Context(), Identity{
			TenantID:    claims.TenantID,
			Role:        role,
			Subject:     claims.Subject,
			ApartmentID: claims.ApartmentID,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func deny(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
