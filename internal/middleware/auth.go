// Package middleware provides the HTTP cross-cutting layers: bearer
// token authentication and request rate limiting.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ventro/backend/internal/auth"
)

type contextKey int

const claimsKey contextKey = iota

// ClaimsFromContext returns the verified claims of the request, or nil
// on unauthenticated paths.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

// WithClaims is used by tests to simulate an authenticated request.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// Authenticator verifies access tokens and enforces revocation.
type Authenticator struct {
	tokens   *auth.TokenManager
	denylist *auth.Denylist
}

func NewAuthenticator(tokens *auth.TokenManager, denylist *auth.Denylist) *Authenticator {
	return &Authenticator{tokens: tokens, denylist: denylist}
}

// Middleware rejects requests without a valid, unrevoked bearer token and
// attaches the claims to the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			unauthorized(w, "missing bearer token")
			return
		}

		claims, err := a.tokens.VerifyAccess(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			unauthorized(w, "invalid token")
			return
		}
		if a.denylist.IsDenied(r.Context(), claims.ID) {
			unauthorized(w, "token revoked")
			return
		}
		if claims.IssuedAt != nil && a.denylist.IsUserRevoked(r.Context(), claims.Subject, claims.IssuedAt.Time) {
			unauthorized(w, "session revoked")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// RequirePermission wraps a handler with an RBAC check. It assumes the
// Authenticator ran earlier in the chain.
func RequirePermission(perm auth.Permission, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil {
			unauthorized(w, "missing bearer token")
			return
		}
		if !auth.HasPermission(claims.Role, perm) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{"error": "insufficient permissions"})
			return
		}
		next(w, r)
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
