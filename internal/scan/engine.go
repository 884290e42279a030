package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ticketgate/server/internal/model"
	"github.com/ticketgate/server/internal/repo"
)

// Request carries one scan attempt. DeviceID and StaffUserID come from
// the validated bearer token, never from the client body.
type Request struct {
	EventID     uuid.UUID
	TicketCode  string
	DeviceID    uuid.UUID
	StaffUserID uuid.UUID
	Lat         *float64
	Lon         *float64
	ScannedAt   time.Time
}

// Outcome is the domain answer of a scan attempt. It is returned for
// every classification; only engine-level faults surface as errors.
type Outcome struct {
	Result model.ScanResult
	Ticket *model.Ticket
	Entry  model.ScanLogEntry
}

// Engine is the ticket redemption state machine. Classification is
// strictly ordered: existence, then event match, then used state, then
// the atomic unused -> used transition.
type Engine struct {
	tickets repo.TicketRepo
	logs    repo.ScanLogRepo
}

// NewEngine creates a new scan engine.
func NewEngine(tickets repo.TicketRepo, logs repo.ScanLogRepo) *Engine {
	return &Engine{tickets: tickets, logs: logs}
}

// Scan looks up the ticket by code and classifies the attempt. The
// unused -> used transition is a storage-level compare-and-set, so two
// devices racing on the same code get exactly one VALID and one
// ALREADY_USED. Every attempt, rejections included, appends one audit
// entry; a failed audit write fails the call, which is safe because a
// retried scan is idempotent.
func (e *Engine) Scan(ctx context.Context, req Request) (Outcome, error) {
	at := req.ScannedAt
	if at.IsZero() {
		at = time.Now()
	}

	ticket, err := e.tickets.GetByCode(ctx, req.TicketCode)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return e.record(ctx, req, model.ScanResultNotFound, nil, at)
		}
		return Outcome{}, fmt.Errorf("ticket lookup: %w", err)
	}

	if ticket.EventID != req.EventID {
		return e.record(ctx, req, model.ScanResultWrongEvent, &ticket, at)
	}

	if ticket.Status == model.TicketStatusUsed {
		return e.record(ctx, req, model.ScanResultAlreadyUsed, &ticket, at)
	}

	won, err := e.tickets.Redeem(ctx, ticket.ID, at)
	if err != nil {
		return Outcome{}, fmt.Errorf("redeem: %w", err)
	}
	if !won {
		// Lost the race: the correct outcome is ALREADY_USED, not an
		// error, and no retry is needed.
		ticket.Status = model.TicketStatusUsed
		return e.record(ctx, req, model.ScanResultAlreadyUsed, &ticket, at)
	}

	ticket.Status = model.TicketStatusUsed
	ticket.ScanTimestamp = &at
	return e.record(ctx, req, model.ScanResultValid, &ticket, at)
}

func (e *Engine) record(ctx context.Context, req Request, result model.ScanResult, ticket *model.Ticket, at time.Time) (Outcome, error) {
	entry := model.ScanLogEntry{
		TicketCode:  req.TicketCode,
		DeviceID:    req.DeviceID,
		StaffUserID: req.StaffUserID,
		Result:      result,
		Lat:         req.Lat,
		Lon:         req.Lon,
		OccurredAt:  at,
	}
	if ticket != nil {
		id := ticket.ID
		entry.TicketID = &id
	}
	created, err := e.logs.Create(ctx, entry)
	if err != nil {
		return Outcome{}, fmt.Errorf("append scan log: %w", err)
	}
	return Outcome{Result: result, Ticket: ticket, Entry: created}, nil
}
