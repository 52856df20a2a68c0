package auth

import (
	"net/http"
)

// RequireRole returns an HTTP middleware that checks the caller's role from
// context against the allowed roles. Returns 403 Forbidden if the role is
// not authorized. Must be used after JWTAuth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := RoleFromContext(r.Context())
			if role == "" {
				unauthorized(w, "authentication required")
				return
			}

			if _, ok := allowed[role]; !ok {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
