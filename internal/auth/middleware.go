package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cermont/notifier/internal/metrics"
)

type contextKey string

const (
	tenantIDKey contextKey = "tenant_id"
	subjectKey  contextKey = "subject"
	userRoleKey contextKey = "user_role"
)

// TenantFromContext retrieves the authenticated tenant from the request
// context. Returns an empty string if none is set.
func TenantFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(tenantIDKey).(string); ok {
		return id
	}
	return ""
}

// SubjectFromContext retrieves the token subject from the request context.
func SubjectFromContext(ctx context.Context) string {
	if sub, ok := ctx.Value(subjectKey).(string); ok {
		return sub
	}
	return ""
}

// RoleFromContext retrieves the caller role from the request context.
// Returns an empty string if no role is set.
func RoleFromContext(ctx context.Context) string {
	if role, ok := ctx.Value(userRoleKey).(string); ok {
		return role
	}
	return ""
}

// WithClaims stores the token claims in ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	ctx = context.WithValue(ctx, tenantIDKey, c.TenantID)
	ctx = context.WithValue(ctx, subjectKey, c.Subject)
	ctx = context.WithValue(ctx, userRoleKey, c.Role)
	return ctx
}

// JWTAuth returns an HTTP middleware that validates JWT Bearer tokens and
// injects the tenant, subject and role claims into the request context.
func JWTAuth(jwtService *JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "authorization header required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				unauthorized(w, "invalid authorization format, expected Bearer <token>")
				return
			}

			tokenStr := strings.TrimSpace(parts[1])
			if tokenStr == "" {
				unauthorized(w, "empty token")
				return
			}

			claims, err := jwtService.ValidateToken(tokenStr)
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	metrics.APIAuthFailuresTotal.Inc()
	writeError(w, http.StatusUnauthorized, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
