package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/orgforge/orgforge/internal/service"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// TokenVerifier checks a session token's signature and expiry.
type TokenVerifier interface {
	ParseToken(token string) (*service.Claims, error)
}

// ClaimsFromContext returns the verified token claims, or nil outside an
// authenticated route.
func ClaimsFromContext(ctx context.Context) *service.Claims {
	c, _ := ctx.Value(claimsContextKey).(*service.Claims)
	return c
}

// JWTAuth verifies the bearer token on every request and stores its claims
// in the request context. No claim is trusted without signature verification.
func JWTAuth(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			claims, err := verifier.ParseToken(parts[1])
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
