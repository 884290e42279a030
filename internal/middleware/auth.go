package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/ticketgate/server/internal/auth"
	"github.com/ticketgate/server/internal/model"
)

type contextKey string

const (
	claimsKey  contextKey = "device_claims"
	managerKey contextKey = "manager"
)

// BearerToken extracts the raw token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

// DeviceAuth validates the device bearer token (signature, expiry and
// the persisted revocation record) and attaches the claims to context.
func DeviceAuth(authService *auth.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				respondError(w, http.StatusUnauthorized, "missing or malformed authorization header")
				return
			}
			claims, err := authService.ValidateDeviceToken(r.Context(), token)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminAuth validates the manager-scoped token for the device
// management surface.
func AdminAuth(authService *auth.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				respondError(w, http.StatusUnauthorized, "missing or malformed authorization header")
				return
			}
			manager, err := authService.ValidateAdminToken(r.Context(), token)
			if err != nil {
				respondError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), managerKey, &manager)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetDeviceClaims returns the device token claims set by DeviceAuth.
func GetDeviceClaims(ctx context.Context) (*auth.JWTClaims, bool) {
	c, ok := ctx.Value(claimsKey).(*auth.JWTClaims)
	return c, ok
}

// GetManager returns the manager set by AdminAuth.
func GetManager(ctx context.Context) (*model.Manager, bool) {
	m, ok := ctx.Value(managerKey).(*model.Manager)
	return m, ok
}
