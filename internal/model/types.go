package model

import (
	"time"

	"github.com/google/uuid"
)

// Device represents a physical scanning device enrolled by an organizer.
// The plaintext secret is never stored; only its bcrypt hash.
type Device struct {
	ID               uuid.UUID
	DevicePublicID   string
	DeviceSecretHash string
	Name             string
	OrganizerID      uuid.UUID
	StaffUserID      uuid.UUID
	EventID          *uuid.UUID
	IsActive         bool
	LastSeenAt       *time.Time
	LastIP           *string
	CreatedAt        time.Time
}

// StaffUser is a gate operator account belonging to an organizer.
type StaffUser struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	Name         string
	OrganizerID  *uuid.UUID
	Active       bool
	CreatedAt    time.Time
}

// Manager is an organizer account that may operate a device directly.
type Manager struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	Name         string
	Role         string
	Status       string
	CreatedAt    time.Time
}

// Manager role/status values accepted by the principal resolver.
const (
	ManagerRoleManager  = "manager"
	ManagerStatusActive = "active"
)

// Event is the slice of the events subsystem this service needs for
// organizer-ownership checks during device assignment.
type Event struct {
	ID          uuid.UUID
	OrganizerID uuid.UUID
	Name        string
}

// DeviceToken is the persisted revocation record for an issued bearer
// token. Authenticity comes from the JWT signature; this record exists so
// tokens can be invalidated before expiry.
type DeviceToken struct {
	ID          uuid.UUID
	DeviceID    uuid.UUID
	StaffUserID uuid.UUID
	CreatedAt   time.Time
	ExpiresAt   time.Time
	RevokedAt   *time.Time
}

// Valid reports whether the token record is usable at the given instant.
func (t DeviceToken) Valid(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// Ticket statuses. A ticket moves unused -> used exactly once.
const (
	TicketStatusUnused = "unused"
	TicketStatusUsed   = "used"
)

// Ticket is owned by the ticketing subsystem; this service only reads it
// and performs the single unused -> used transition.
type Ticket struct {
	ID            uuid.UUID
	EventID       uuid.UUID
	Code          string
	Status        string
	HolderName    string
	HolderEmail   string
	ScanTimestamp *time.Time
	CreatedAt     time.Time
}

// ScanResult is a domain outcome of a scan attempt. Outcomes are ordinary
// values, not errors: a rejected scan is still a successful call.
type ScanResult string

const (
	ScanResultValid       ScanResult = "VALID"
	ScanResultAlreadyUsed ScanResult = "ALREADY_USED"
	ScanResultWrongEvent  ScanResult = "WRONG_EVENT"
	ScanResultNotFound    ScanResult = "NOT_FOUND"
)

// ScanLogEntry is one append-only audit record per scan attempt,
// regardless of outcome. TicketID is nil for NOT_FOUND attempts; the raw
// scanned code is kept for anti-fraud review.
type ScanLogEntry struct {
	ID          uuid.UUID
	TicketID    *uuid.UUID
	TicketCode  string
	DeviceID    uuid.UUID
	StaffUserID uuid.UUID
	Result      ScanResult
	Lat         *float64
	Lon         *float64
	OccurredAt  time.Time
}
