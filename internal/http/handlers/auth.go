package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ticketgate/server/internal/auth"
	"github.com/ticketgate/server/internal/middleware"
	"github.com/ticketgate/server/internal/model"
)

// AuthHandler serves the device-facing authorization endpoints.
type AuthHandler struct {
	authService *auth.AuthService
	limiter     middleware.Limiter
	lg          *zap.SugaredLogger
}

// NewAuthHandler creates a new auth handler. The limiter guards the
// authorize endpoint before any bcrypt work runs.
func NewAuthHandler(authService *auth.AuthService, limiter middleware.Limiter, lg *zap.SugaredLogger) *AuthHandler {
	return &AuthHandler{authService: authService, limiter: limiter, lg: lg}
}

// authorizeRequest is the request body for POST /devices/authorize.
type authorizeRequest struct {
	DevicePublicID    string `json:"device_public_id"`
	DeviceSecret      string `json:"device_secret"`
	StaffUserEmail    string `json:"staff_user_email"`
	StaffUserPassword string `json:"staff_user_password"`
}

// authorizeResponse is the JSON response for a successful authorization.
type authorizeResponse struct {
	AccessToken      string            `json:"access_token"`
	TokenType        string            `json:"token_type"`
	ExpiresInSeconds int               `json:"expires_in_seconds"`
	Device           deviceResponse    `json:"device"`
	StaffUser        staffUserResponse `json:"staff_user"`
}

// deviceResponse is the device object in API responses. The secret hash
// never leaves the server.
type deviceResponse struct {
	ID             string  `json:"id"`
	DevicePublicID string  `json:"device_public_id"`
	Name           string  `json:"name"`
	OrganizerID    string  `json:"organizer_id"`
	StaffUserID    string  `json:"staff_user_id"`
	EventID        *string `json:"event_id,omitempty"`
	IsActive       bool    `json:"is_active"`
	LastSeenAt     *string `json:"last_seen_at,omitempty"`
}

// staffUserResponse is the resolved principal in API responses.
type staffUserResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Type  string `json:"type"`
}

func toDeviceResponse(d model.Device) deviceResponse {
	resp := deviceResponse{
		ID:             d.ID.String(),
		DevicePublicID: d.DevicePublicID,
		Name:           d.Name,
		OrganizerID:    d.OrganizerID.String(),
		StaffUserID:    d.StaffUserID.String(),
		IsActive:       d.IsActive,
	}
	if d.EventID != nil {
		id := d.EventID.String()
		resp.EventID = &id
	}
	if d.LastSeenAt != nil {
		t := d.LastSeenAt.UTC().Format(time.RFC3339)
		resp.LastSeenAt = &t
	}
	return resp
}

// HandleAuthorize handles POST /devices/authorize.
func (h *AuthHandler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.DevicePublicID = strings.TrimSpace(req.DevicePublicID)
	req.StaffUserEmail = strings.TrimSpace(req.StaffUserEmail)
	if req.DevicePublicID == "" || req.DeviceSecret == "" || req.StaffUserEmail == "" || req.StaffUserPassword == "" {
		respondWithError(w, http.StatusBadRequest, "device_public_id, device_secret, staff_user_email and staff_user_password are required")
		return
	}

	// Throttle before any hashing so the slow bcrypt path cannot be
	// used as a DoS amplifier.
	ip := middleware.ClientIP(r)
	allowed, err := h.limiter.Allow(r.Context(), ip+"|"+req.DevicePublicID)
	if err != nil {
		h.lg.Errorw("authorize rate limit check failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !allowed {
		respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	result, err := h.authService.AuthorizeDevice(r.Context(), req.DevicePublicID, req.DeviceSecret, req.StaffUserEmail, req.StaffUserPassword, ip)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			respondWithError(w, http.StatusUnauthorized, "invalid credentials")
		case errors.Is(err, auth.ErrNotAssigned):
			respondWithError(w, http.StatusForbidden, "device not assigned to this user")
		default:
			h.lg.Errorw("device authorization failed", "device_public_id", req.DevicePublicID, "error", err)
			respondWithError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	respondJSON(w, http.StatusOK, authorizeResponse{
		AccessToken:      result.Token,
		TokenType:        "Bearer",
		ExpiresInSeconds: int(h.authService.DeviceTokenTTL().Seconds()),
		Device:           toDeviceResponse(result.Device),
		StaffUser: staffUserResponse{
			ID:    result.Principal.PrincipalID().String(),
			Name:  result.Principal.DisplayName(),
			Email: result.Principal.Email(),
			Type:  string(result.Principal.Type()),
		},
	})
}

// HandleLogout handles POST /devices/logout. Only the presented token is
// revoked; other sessions of the device stay valid.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "missing or malformed authorization header")
		return
	}
	if err := h.authService.Logout(r.Context(), token); err != nil {
		if errors.Is(err, auth.ErrTokenInvalid) {
			respondWithError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		h.lg.Errorw("logout failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}
