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

// TicketRepo is the ticketing subsystem's contract as consumed by the
// scan engine: lookup by code and the atomic unused -> used transition.
type TicketRepo interface {
	Create(ctx context.Context, t model.Ticket) (model.Ticket, error)
	GetByCode(ctx context.Context, code string) (model.Ticket, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.Ticket, error)
	// Redeem performs the compare-and-set: it reports true when this
	// call won the transition, false when the ticket was already used.
	Redeem(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

type ticketRepo struct {
	db *sql.DB
}

// NewTicketRepo creates a new TicketRepo instance.
func NewTicketRepo(db *sql.DB) TicketRepo {
	return &ticketRepo{db: db}
}

// Create inserts a ticket (purchase happens in the ticketing subsystem;
// this exists for seeds and tests).
func (r *ticketRepo) Create(ctx context.Context, t model.Ticket) (model.Ticket, error) {
	if t.Status == "" {
		t.Status = model.TicketStatusUnused
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO tickets (event_id, code, status, holder_name, holder_email)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, t.EventID, t.Code, t.Status, t.HolderName, t.HolderEmail).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return model.Ticket{}, fmt.Errorf("insert ticket: %w", err)
	}
	return t, nil
}

// GetByCode returns the ticket matching the scanned code.
func (r *ticketRepo) GetByCode(ctx context.Context, code string) (model.Ticket, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, event_id, code, status, holder_name, holder_email, scan_timestamp, created_at
		FROM tickets
		WHERE code = $1
	`, code)
	return scanTicket(row)
}

// GetByID returns the ticket with the given id.
func (r *ticketRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Ticket, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, event_id, code, status, holder_name, holder_email, scan_timestamp, created_at
		FROM tickets
		WHERE id = $1
	`, id)
	return scanTicket(row)
}

func scanTicket(row *sql.Row) (model.Ticket, error) {
	var t model.Ticket
	err := row.Scan(&t.ID, &t.EventID, &t.Code, &t.Status, &t.HolderName, &t.HolderEmail, &t.ScanTimestamp, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Ticket{}, ErrNotFound
		}
		return model.Ticket{}, fmt.Errorf("find ticket: %w", err)
	}
	return t, nil
}

// Redeem flips status unused -> used in a single statement. The affected
// row count decides the race: under concurrent scans of the same ticket
// exactly one caller sees true.
func (r *ticketRepo) Redeem(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE tickets
		SET status = $2, scan_timestamp = $3
		WHERE id = $1 AND status = $4
	`, id, model.TicketStatusUsed, at, model.TicketStatusUnused)
	if err != nil {
		return false, fmt.Errorf("redeem ticket: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("redeem ticket rows affected: %w", err)
	}
	return n == 1, nil
}
