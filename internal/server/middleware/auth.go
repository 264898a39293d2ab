package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/querylens/querylens/internal/explain"
	"github.com/querylens/querylens/internal/service"
)

type contextKeyAuth string

// AuthPrincipalKey is the context key for the authenticated principal.
const AuthPrincipalKey contextKeyAuth = "auth_principal"

// Authenticate returns an HTTP middleware that validates the request's
// credentials. It supports two methods:
//
//  1. API key via the X-API-Key header
//  2. Bearer token via the Authorization header
//
// On success the principal is attached to the request context and becomes
// the identity that token budgets are accounted against. On failure a 401
// JSON error response is returned.
func Authenticate(authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var principal *service.Principal

			apiKey := r.Header.Get("X-API-Key")
			if apiKey != "" {
				p, err := authSvc.ValidateAPIKey(r.Context(), apiKey)
				if err != nil {
					writeAuthError(w, "Invalid API key")
					return
				}
				principal = p
			}

			if principal == nil {
				authHeader := r.Header.Get("Authorization")
				if strings.HasPrefix(authHeader, "Bearer ") {
					token := strings.TrimPrefix(authHeader, "Bearer ")
					p, err := authSvc.ValidateToken(r.Context(), token)
					if err != nil {
						writeAuthError(w, "Invalid token")
						return
					}
					principal = p
				}
			}

			if principal == nil {
				writeAuthError(w, "Authentication required. Provide X-API-Key header or Bearer token.")
				return
			}

			setLogIdentity(r.Context(), principal.Name)
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			ctx = explain.WithIdentity(ctx, principal.Name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil for unauthenticated requests.
func GetPrincipal(ctx context.Context) *service.Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*service.Principal); ok {
		return p
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	// Manually construct JSON to avoid an import cycle with handler
	w.Write([]byte(`{"error":{"code":401,"message":"` + message + `"}}`))
}
