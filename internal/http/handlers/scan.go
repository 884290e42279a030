package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ticketgate/server/internal/middleware"
	"github.com/ticketgate/server/internal/model"
	"github.com/ticketgate/server/internal/scan"
)

// ScanHandler serves the ticket redemption endpoint.
type ScanHandler struct {
	engine *scan.Engine
	lg     *zap.SugaredLogger
}

// NewScanHandler creates a new scan handler.
func NewScanHandler(engine *scan.Engine, lg *zap.SugaredLogger) *ScanHandler {
	return &ScanHandler{engine: engine, lg: lg}
}

// scanRequest is the request body for POST /tickets/scan-secure.
type scanRequest struct {
	EventID    string   `json:"event_id"`
	TicketCode string   `json:"ticket_code"`
	Lat        *float64 `json:"lat,omitempty"`
	Lon        *float64 `json:"lon,omitempty"`
	ScannedAt  string   `json:"scanned_at,omitempty"`
}

// scanResponse always answers 200: the domain result lives in the body
// so scanner UIs can render rejections without special-casing transport
// failures.
type scanResponse struct {
	Result    string          `json:"result"`
	Message   string          `json:"message"`
	Ticket    *ticketResponse `json:"ticket,omitempty"`
	ScannedBy scannedBy       `json:"scanned_by"`
	Audit     auditResponse   `json:"audit"`
}

type ticketResponse struct {
	ID          string  `json:"id"`
	EventID     string  `json:"event_id"`
	Code        string  `json:"code"`
	Status      string  `json:"status"`
	HolderName  string  `json:"holder_name"`
	HolderEmail string  `json:"holder_email"`
	ScannedAt   *string `json:"scanned_at,omitempty"`
}

type scannedBy struct {
	DeviceID    string `json:"device_id"`
	StaffUserID string `json:"staff_user_id"`
}

type auditResponse struct {
	Lat *float64 `json:"lat,omitempty"`
	Lon *float64 `json:"lon,omitempty"`
	At  string   `json:"at"`
}

var scanMessages = map[model.ScanResult]string{
	model.ScanResultValid:       "ticket redeemed",
	model.ScanResultAlreadyUsed: "ticket already used",
	model.ScanResultWrongEvent:  "ticket belongs to a different event",
	model.ScanResultNotFound:    "no ticket matches this code",
}

// HandleScan handles POST /tickets/scan-secure. Device identity comes
// from the validated bearer token, not from the body.
func (h *ScanHandler) HandleScan(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetDeviceClaims(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.TicketCode = strings.TrimSpace(req.TicketCode)
	if req.EventID == "" || req.TicketCode == "" {
		respondWithError(w, http.StatusBadRequest, "event_id and ticket_code are required")
		return
	}
	eventID, err := uuid.Parse(req.EventID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid event_id")
		return
	}

	var scannedAt time.Time
	if req.ScannedAt != "" {
		scannedAt, err = time.Parse(time.RFC3339, req.ScannedAt)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid scanned_at, expected RFC3339")
			return
		}
	}

	deviceID, err := claims.SubjectID()
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	outcome, err := h.engine.Scan(r.Context(), scan.Request{
		EventID:     eventID,
		TicketCode:  req.TicketCode,
		DeviceID:    deviceID,
		StaffUserID: claims.StaffUserID,
		Lat:         req.Lat,
		Lon:         req.Lon,
		ScannedAt:   scannedAt,
	})
	if err != nil {
		h.lg.Errorw("scan failed", "ticket_code", req.TicketCode, "device_id", deviceID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := scanResponse{
		Result:  string(outcome.Result),
		Message: scanMessages[outcome.Result],
		ScannedBy: scannedBy{
			DeviceID:    deviceID.String(),
			StaffUserID: claims.StaffUserID.String(),
		},
		Audit: auditResponse{
			Lat: req.Lat,
			Lon: req.Lon,
			At:  outcome.Entry.OccurredAt.UTC().Format(time.RFC3339),
		},
	}
	if outcome.Ticket != nil {
		t := outcome.Ticket
		tr := &ticketResponse{
			ID:          t.ID.String(),
			EventID:     t.EventID.String(),
			Code:        t.Code,
			Status:      t.Status,
			HolderName:  t.HolderName,
			HolderEmail: t.HolderEmail,
		}
		if t.ScanTimestamp != nil {
			s := t.ScanTimestamp.UTC().Format(time.RFC3339)
			tr.ScannedAt = &s
		}
		resp.Ticket = tr
	}
	respondJSON(w, http.StatusOK, resp)
}
