package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pulsekit/fitvault/internal/config"
)

type contextKey string

const (
	contextKeyTenantID contextKey = "tenant_id"
	contextKeyUserID   contextKey = "user_id"
)

// SecurityHeadersMiddleware adds security headers to all responses
func SecurityHeadersMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

			// HSTS - enable in production
			if cfg.Environment == "production" {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// TenantAuthMiddleware authenticates the tool-dispatch layer via a bearer
// service JWT carrying tenant_id (and optionally user_id) claims. The vault
// does not manage these JWTs; it only verifies the shared-secret signature
// to scope every request to one tenant.
func TenantAuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == "" || tokenString == authHeader {
				http.Error(w, "Missing bearer token", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "Invalid token claims", http.StatusUnauthorized)
				return
			}

			tenantID, _ := claims["tenant_id"].(string)
			if tenantID == "" {
				http.Error(w, "Token missing tenant_id", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyTenantID, tenantID)
			if userID, _ := claims["user_id"].(string); userID != "" {
				ctx = context.WithValue(ctx, contextKeyUserID, userID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// tenantFromContext returns the authenticated tenant id.
func tenantFromContext(ctx context.Context) string {
	tenantID, _ := ctx.Value(contextKeyTenantID).(string)
	return tenantID
}

// userFromRequest prefers the explicit user_id query parameter and falls
// back to the token's user_id claim.
func userFromRequest(r *http.Request) string {
	if userID := r.URL.Query().Get("user_id"); userID != "" {
		return userID
	}
	userID, _ := r.Context().Value(contextKeyUserID).(string)
	return userID
}
