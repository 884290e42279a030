package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ticketgate/server/internal/model"
)

// EventRepo is the slice of the events subsystem consumed here: ownership
// lookups for device assignment, plus creation for seeds and tests.
type EventRepo interface {
	Create(ctx context.Context, e model.Event) (model.Event, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.Event, error)
}

type eventRepo struct {
	db *sql.DB
}

// NewEventRepo creates a new EventRepo instance.
func NewEventRepo(db *sql.DB) EventRepo {
	return &eventRepo{db: db}
}

// Create inserts an event.
func (r *eventRepo) Create(ctx context.Context, e model.Event) (model.Event, error) {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO events (organizer_id, name) VALUES ($1, $2) RETURNING id
	`, e.OrganizerID, e.Name).Scan(&e.ID)
	if err != nil {
		return model.Event{}, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

// GetByID returns the event with the given id.
func (r *eventRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Event, error) {
	var e model.Event
	err := r.db.QueryRowContext(ctx, `
		SELECT id, organizer_id, name FROM events WHERE id = $1
	`, id).Scan(&e.ID, &e.OrganizerID, &e.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Event{}, ErrNotFound
		}
		return model.Event{}, fmt.Errorf("find event: %w", err)
	}
	return e, nil
}
