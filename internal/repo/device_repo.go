package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ticketgate/server/internal/model"
)

// DeviceRepo defines the interface for device registry storage.
type DeviceRepo interface {
	Create(ctx context.Context, d model.Device) (model.Device, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.Device, error)
	GetByPublicID(ctx context.Context, publicID string) (model.Device, error)
	ListByOrganizer(ctx context.Context, organizerID uuid.UUID) ([]model.Device, error)
	UpdateSecretHash(ctx context.Context, id uuid.UUID, hash string) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Assign(ctx context.Context, id uuid.UUID, eventID *uuid.UUID, staffUserID uuid.UUID) error
	UpdateTelemetry(ctx context.Context, id uuid.UUID, seenAt time.Time, ip string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type deviceRepo struct {
	db *sql.DB
}

// NewDeviceRepo creates a new DeviceRepo instance.
func NewDeviceRepo(db *sql.DB) DeviceRepo {
	return &deviceRepo{db: db}
}

const deviceColumns = `id, device_public_id, device_secret_hash, name, organizer_id, staff_user_id, event_id, is_active, last_seen_at, last_ip, created_at`

func scanDevice(row *sql.Row) (model.Device, error) {
	var d model.Device
	var eventID sql.NullString
	var lastSeen sql.NullTime
	var lastIP sql.NullString
	err := row.Scan(
		&d.ID,
		&d.DevicePublicID,
		&d.DeviceSecretHash,
		&d.Name,
		&d.OrganizerID,
		&d.StaffUserID,
		&eventID,
		&d.IsActive,
		&lastSeen,
		&lastIP,
		&d.CreatedAt,
	)
	if err != nil {
		return model.Device{}, err
	}
	if eventID.Valid {
		ev, err := uuid.Parse(eventID.String)
		if err != nil {
			return model.Device{}, fmt.Errorf("parse event id: %w", err)
		}
		d.EventID = &ev
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		d.LastSeenAt = &t
	}
	if lastIP.Valid {
		ip := lastIP.String
		d.LastIP = &ip
	}
	return d, nil
}

// Create inserts a new device. The caller supplies the hashed secret;
// the plaintext never reaches storage.
func (r *deviceRepo) Create(ctx context.Context, d model.Device) (model.Device, error) {
	var eventID interface{}
	if d.EventID != nil {
		eventID = *d.EventID
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO devices (device_public_id, device_secret_hash, name, organizer_id, staff_user_id, event_id, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, d.DevicePublicID, d.DeviceSecretHash, d.Name, d.OrganizerID, d.StaffUserID, eventID, d.IsActive).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return model.Device{}, fmt.Errorf("insert device: %w", err)
	}
	return d, nil
}

// GetByID returns the device with the given id.
func (r *deviceRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Device{}, ErrNotFound
		}
		return model.Device{}, fmt.Errorf("find device: %w", err)
	}
	return d, nil
}

// GetByPublicID returns the device presenting the given public identifier.
func (r *deviceRepo) GetByPublicID(ctx context.Context, publicID string) (model.Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE device_public_id = $1`, publicID)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Device{}, ErrNotFound
		}
		return model.Device{}, fmt.Errorf("find device by public id: %w", err)
	}
	return d, nil
}

// ListByOrganizer returns all devices enrolled by an organizer.
func (r *deviceRepo) ListByOrganizer(ctx context.Context, organizerID uuid.UUID) ([]model.Device, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+deviceColumns+` FROM devices WHERE organizer_id = $1 ORDER BY created_at
	`, organizerID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []model.Device
	for rows.Next() {
		var d model.Device
		var eventID sql.NullString
		var lastSeen sql.NullTime
		var lastIP sql.NullString
		if err := rows.Scan(
			&d.ID, &d.DevicePublicID, &d.DeviceSecretHash, &d.Name, &d.OrganizerID,
			&d.StaffUserID, &eventID, &d.IsActive, &lastSeen, &lastIP, &d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan device row: %w", err)
		}
		if eventID.Valid {
			ev, err := uuid.Parse(eventID.String)
			if err != nil {
				return nil, fmt.Errorf("parse event id: %w", err)
			}
			d.EventID = &ev
		}
		if lastSeen.Valid {
			t := lastSeen.Time
			d.LastSeenAt = &t
		}
		if lastIP.Valid {
			ip := lastIP.String
			d.LastIP = &ip
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// UpdateSecretHash replaces the stored secret hash.
func (r *deviceRepo) UpdateSecretHash(ctx context.Context, id uuid.UUID, hash string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET device_secret_hash = $2 WHERE id = $1
	`, id, hash)
	if err != nil {
		return fmt.Errorf("update secret hash: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetActive flips the active flag.
func (r *deviceRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET is_active = $2 WHERE id = $1
	`, id, active)
	if err != nil {
		return fmt.Errorf("set device active: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Assign re-binds the device's event scope and operating staff user.
func (r *deviceRepo) Assign(ctx context.Context, id uuid.UUID, eventID *uuid.UUID, staffUserID uuid.UUID) error {
	var ev interface{}
	if eventID != nil {
		ev = *eventID
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET event_id = $2, staff_user_id = $3 WHERE id = $1
	`, id, ev, staffUserID)
	if err != nil {
		return fmt.Errorf("assign device: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTelemetry stamps last-seen data after a successful authorization.
func (r *deviceRepo) UpdateTelemetry(ctx context.Context, id uuid.UUID, seenAt time.Time, ip string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices SET last_seen_at = $2, last_ip = $3 WHERE id = $1
	`, id, seenAt, ip)
	if err != nil {
		return fmt.Errorf("update device telemetry: %w", err)
	}
	return nil
}

// Delete removes the device row. Token records go with it via cascade,
// but callers revoke them first so the cutoff is observable.
func (r *deviceRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
