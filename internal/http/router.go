package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ticketgate/server/internal/auth"
	"github.com/ticketgate/server/internal/http/handlers"
	"github.com/ticketgate/server/internal/middleware"
)

// NewRouter creates the HTTP router with all routes configured. The scan
// limiter keys on client IP plus the authenticated device id, so it runs
// after token validation.
func NewRouter(
	authHandler *handlers.AuthHandler,
	scanHandler *handlers.ScanHandler,
	deviceHandler *handlers.DeviceHandler,
	authService *auth.AuthService,
	scanLimiter middleware.Limiter,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	r.Route("/devices", func(r chi.Router) {
		r.Post("/authorize", authHandler.HandleAuthorize)
		r.Post("/logout", authHandler.HandleLogout)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.DeviceAuth(authService))
		r.Use(middleware.RateLimit(scanLimiter, scanRateKey))
		r.Post("/tickets/scan-secure", scanHandler.HandleScan)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/login", deviceHandler.HandleAdminLogin)
		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminAuth(authService))
			r.Post("/devices", deviceHandler.HandleCreateDevice)
			r.Get("/devices", deviceHandler.HandleListDevices)
			r.Patch("/devices/{deviceID}", deviceHandler.HandlePatchDevice)
			r.Post("/devices/{deviceID}/rotate-secret", deviceHandler.HandleRotateSecret)
			r.Delete("/devices/{deviceID}", deviceHandler.HandleDeleteDevice)
			r.Get("/scan-logs", deviceHandler.HandleScanLogs)
		})
	})

	return r
}

// scanRateKey derives the scan limiter key from the request: client IP
// plus the device id carried by the validated token.
func scanRateKey(r *http.Request) string {
	key := middleware.ClientIP(r)
	if claims, ok := middleware.GetDeviceClaims(r.Context()); ok {
		key += "|" + claims.Subject
	}
	return key
}
