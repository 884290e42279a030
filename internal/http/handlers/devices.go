package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ticketgate/server/internal/auth"
	"github.com/ticketgate/server/internal/device"
	"github.com/ticketgate/server/internal/middleware"
	"github.com/ticketgate/server/internal/model"
	"github.com/ticketgate/server/internal/repo"
)

// DeviceHandler serves the manager-facing device management surface.
type DeviceHandler struct {
	registry    *device.Registry
	authService *auth.AuthService
	scanLogs    repo.ScanLogRepo
	lg          *zap.SugaredLogger
}

// NewDeviceHandler creates a new device management handler.
func NewDeviceHandler(registry *device.Registry, authService *auth.AuthService, scanLogs repo.ScanLogRepo, lg *zap.SugaredLogger) *DeviceHandler {
	return &DeviceHandler{registry: registry, authService: authService, scanLogs: scanLogs, lg: lg}
}

// adminLoginRequest is the request body for POST /admin/login.
type adminLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleAdminLogin handles POST /admin/login.
func (h *DeviceHandler) HandleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	token, manager, err := h.authService.AdminLogin(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			respondWithError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.lg.Errorw("admin login failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": token,
		"token_type":   "Bearer",
		"manager": map[string]string{
			"id":    manager.ID.String(),
			"email": manager.Email,
			"name":  manager.Name,
		},
	})
}

// createDeviceRequest is the request body for POST /admin/devices.
type createDeviceRequest struct {
	Name        string `json:"name"`
	StaffUserID string `json:"staff_user_id,omitempty"`
	EventID     string `json:"event_id,omitempty"`
}

// HandleCreateDevice handles POST /admin/devices. The response carries
// the plaintext secret exactly once.
func (h *DeviceHandler) HandleCreateDevice(w http.ResponseWriter, r *http.Request) {
	manager, ok := middleware.GetManager(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	params := device.CreateParams{
		OrganizerID: manager.ID,
		Name:        strings.TrimSpace(req.Name),
	}
	if req.StaffUserID != "" {
		id, err := uuid.Parse(req.StaffUserID)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid staff_user_id")
			return
		}
		params.StaffUserID = &id
	}
	if req.EventID != "" {
		id, err := uuid.Parse(req.EventID)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid event_id")
			return
		}
		params.EventID = &id
	}

	created, secret, err := h.registry.Create(r.Context(), params)
	if err != nil {
		h.respondRegistryError(w, err, "create device")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"device":        toDeviceResponse(created),
		"device_secret": secret,
	})
}

// HandleListDevices handles GET /admin/devices.
func (h *DeviceHandler) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	manager, ok := middleware.GetManager(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	devices, err := h.registry.ListByOrganizer(r.Context(), manager.ID)
	if err != nil {
		h.lg.Errorw("list devices failed", "organizer_id", manager.ID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, toDeviceResponse(d))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"devices": out})
}

// patchDeviceRequest is the request body for PATCH /admin/devices/{deviceID}.
// An empty event_id string clears the event scope.
type patchDeviceRequest struct {
	IsActive    *bool   `json:"is_active,omitempty"`
	StaffUserID *string `json:"staff_user_id,omitempty"`
	EventID     *string `json:"event_id,omitempty"`
}

// HandlePatchDevice handles PATCH /admin/devices/{deviceID}: activation
// flips and scope re-binding.
func (h *DeviceHandler) HandlePatchDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := h.ownedDevice(w, r)
	if !ok {
		return
	}

	var req patchDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.StaffUserID != nil || req.EventID != nil {
		staffUserID := d.StaffUserID
		if req.StaffUserID != nil {
			id, err := uuid.Parse(*req.StaffUserID)
			if err != nil {
				respondWithError(w, http.StatusBadRequest, "invalid staff_user_id")
				return
			}
			staffUserID = id
		}
		eventID := d.EventID
		if req.EventID != nil {
			if *req.EventID == "" {
				eventID = nil
			} else {
				id, err := uuid.Parse(*req.EventID)
				if err != nil {
					respondWithError(w, http.StatusBadRequest, "invalid event_id")
					return
				}
				eventID = &id
			}
		}
		if err := h.registry.Assign(r.Context(), d.ID, eventID, staffUserID); err != nil {
			h.respondRegistryError(w, err, "assign device")
			return
		}
	}

	if req.IsActive != nil {
		if err := h.registry.SetActive(r.Context(), d.ID, *req.IsActive); err != nil {
			h.respondRegistryError(w, err, "set device active")
			return
		}
	}

	updated, err := h.registry.Get(r.Context(), d.ID)
	if err != nil {
		h.respondRegistryError(w, err, "reload device")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"device": toDeviceResponse(updated)})
}

// HandleRotateSecret handles POST /admin/devices/{deviceID}/rotate-secret.
// All outstanding tokens for the device are revoked as part of the
// rotation.
func (h *DeviceHandler) HandleRotateSecret(w http.ResponseWriter, r *http.Request) {
	d, ok := h.ownedDevice(w, r)
	if !ok {
		return
	}

	secret, err := h.registry.RotateSecret(r.Context(), d.ID)
	if err != nil {
		h.respondRegistryError(w, err, "rotate secret")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"device_secret": secret})
}

// HandleDeleteDevice handles DELETE /admin/devices/{deviceID}.
func (h *DeviceHandler) HandleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := h.ownedDevice(w, r)
	if !ok {
		return
	}

	if err := h.registry.Delete(r.Context(), d.ID); err != nil {
		h.respondRegistryError(w, err, "delete device")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "device deleted"})
}

// HandleScanLogs handles GET /admin/scan-logs?ticket_id=...
func (h *DeviceHandler) HandleScanLogs(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetManager(r.Context()); !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	ticketID, err := uuid.Parse(r.URL.Query().Get("ticket_id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid ticket_id")
		return
	}

	entries, err := h.scanLogs.FindByTicketID(r.Context(), ticketID)
	if err != nil {
		h.lg.Errorw("scan log lookup failed", "ticket_id", ticketID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		entry := map[string]interface{}{
			"id":            e.ID.String(),
			"ticket_code":   e.TicketCode,
			"device_id":     e.DeviceID.String(),
			"staff_user_id": e.StaffUserID.String(),
			"result":        string(e.Result),
			"occurred_at":   e.OccurredAt.UTC().Format(time.RFC3339),
		}
		if e.TicketID != nil {
			entry["ticket_id"] = e.TicketID.String()
		}
		if e.Lat != nil {
			entry["lat"] = *e.Lat
		}
		if e.Lon != nil {
			entry["lon"] = *e.Lon
		}
		out = append(out, entry)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"entries": out})
}

// ownedDevice loads the device in the URL and checks it belongs to the
// authenticated manager. Devices of other organizers answer 404, not
// 403, so ids cannot be probed.
func (h *DeviceHandler) ownedDevice(w http.ResponseWriter, r *http.Request) (model.Device, bool) {
	manager, ok := middleware.GetManager(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return model.Device{}, false
	}
	deviceID, err := uuid.Parse(chi.URLParam(r, "deviceID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid device id")
		return model.Device{}, false
	}
	d, err := h.registry.Get(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "device not found")
			return model.Device{}, false
		}
		h.lg.Errorw("device lookup failed", "device_id", deviceID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal error")
		return model.Device{}, false
	}
	if d.OrganizerID != manager.ID {
		respondWithError(w, http.StatusNotFound, "device not found")
		return model.Device{}, false
	}
	return d, true
}

func (h *DeviceHandler) respondRegistryError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, device.ErrEventNotOwned), errors.Is(err, device.ErrStaffNotOwned):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repo.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "device not found")
	default:
		h.lg.Errorw(op+" failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal error")
	}
}
