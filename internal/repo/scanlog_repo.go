package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/ticketgate/server/internal/model"
)

// ScanLogRepo is the append-only audit trail. No update or delete is
// exposed; corrections are new entries.
type ScanLogRepo interface {
	Create(ctx context.Context, e model.ScanLogEntry) (model.ScanLogEntry, error)
	FindByTicketID(ctx context.Context, ticketID uuid.UUID) ([]model.ScanLogEntry, error)
}

type scanLogRepo struct {
	db *sql.DB
}

// NewScanLogRepo creates a new ScanLogRepo instance.
func NewScanLogRepo(db *sql.DB) ScanLogRepo {
	return &scanLogRepo{db: db}
}

// Create appends one audit entry.
func (r *scanLogRepo) Create(ctx context.Context, e model.ScanLogEntry) (model.ScanLogEntry, error) {
	var ticketID interface{}
	if e.TicketID != nil {
		ticketID = *e.TicketID
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO scan_logs (ticket_id, ticket_code, device_id, staff_user_id, result, lat, lon, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, ticketID, e.TicketCode, e.DeviceID, e.StaffUserID, string(e.Result), e.Lat, e.Lon, e.OccurredAt).Scan(&e.ID)
	if err != nil {
		return model.ScanLogEntry{}, fmt.Errorf("insert scan log: %w", err)
	}
	return e, nil
}

// FindByTicketID returns all attempts recorded against a ticket, oldest
// first, for dispute resolution.
func (r *scanLogRepo) FindByTicketID(ctx context.Context, ticketID uuid.UUID) ([]model.ScanLogEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, ticket_id, ticket_code, device_id, staff_user_id, result, lat, lon, occurred_at
		FROM scan_logs
		WHERE ticket_id = $1
		ORDER BY occurred_at
	`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("find scan logs: %w", err)
	}
	defer rows.Close()

	var entries []model.ScanLogEntry
	for rows.Next() {
		var e model.ScanLogEntry
		var tid sql.NullString
		var result string
		if err := rows.Scan(&e.ID, &tid, &e.TicketCode, &e.DeviceID, &e.StaffUserID, &result, &e.Lat, &e.Lon, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan log row: %w", err)
		}
		if tid.Valid {
			id, err := uuid.Parse(tid.String)
			if err != nil {
				return nil, fmt.Errorf("parse ticket id: %w", err)
			}
			e.TicketID = &id
		}
		e.Result = model.ScanResult(result)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
