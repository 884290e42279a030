package scan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticketgate/server/internal/model"
	"github.com/ticketgate/server/internal/repo"
)

// fakeTicketRepo implements the compare-and-set contract under a mutex,
// matching the atomicity the SQL UPDATE provides.
type fakeTicketRepo struct {
	mu      sync.Mutex
	tickets map[uuid.UUID]model.Ticket
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{tickets: make(map[uuid.UUID]model.Ticket)}
}

func (r *fakeTicketRepo) Create(_ context.Context, t model.Ticket) (model.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = model.TicketStatusUnused
	}
	r.tickets[t.ID] = t
	return t, nil
}

func (r *fakeTicketRepo) GetByCode(_ context.Context, code string) (model.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tickets {
		if t.Code == code {
			return t, nil
		}
	}
	return model.Ticket{}, repo.ErrNotFound
}

func (r *fakeTicketRepo) GetByID(_ context.Context, id uuid.UUID) (model.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	if !ok {
		return model.Ticket{}, repo.ErrNotFound
	}
	return t, nil
}

func (r *fakeTicketRepo) Redeem(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	if !ok || t.Status != model.TicketStatusUnused {
		return false, nil
	}
	t.Status = model.TicketStatusUsed
	t.ScanTimestamp = &at
	r.tickets[id] = t
	return true, nil
}

// fakeScanLogRepo appends entries in memory; failNext simulates a
// storage fault on the next write.
type fakeScanLogRepo struct {
	mu       sync.Mutex
	entries  []model.ScanLogEntry
	failNext bool
}

func (r *fakeScanLogRepo) Create(_ context.Context, e model.ScanLogEntry) (model.ScanLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext {
		r.failNext = false
		return model.ScanLogEntry{}, errors.New("storage unavailable")
	}
	e.ID = uuid.New()
	r.entries = append(r.entries, e)
	return e, nil
}

func (r *fakeScanLogRepo) FindByTicketID(_ context.Context, ticketID uuid.UUID) ([]model.ScanLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ScanLogEntry
	for _, e := range r.entries {
		if e.TicketID != nil && *e.TicketID == ticketID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeScanLogRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func newTestEngine(t *testing.T) (*Engine, *fakeTicketRepo, *fakeScanLogRepo) {
	t.Helper()
	tickets := newFakeTicketRepo()
	logs := &fakeScanLogRepo{}
	return NewEngine(tickets, logs), tickets, logs
}

func scanReq(eventID uuid.UUID, code string) Request {
	return Request{
		EventID:     eventID,
		TicketCode:  code,
		DeviceID:    uuid.New(),
		StaffUserID: uuid.New(),
	}
}

func TestScan_notFound(t *testing.T) {
	engine, _, logs := newTestEngine(t)

	outcome, err := engine.Scan(context.Background(), scanReq(uuid.New(), "no-such-code"))
	require.NoError(t, err)
	assert.Equal(t, model.ScanResultNotFound, outcome.Result)
	assert.Nil(t, outcome.Ticket)
	assert.Equal(t, 1, logs.count(), "rejections must be audited too")
	assert.Nil(t, logs.entries[0].TicketID)
	assert.Equal(t, "no-such-code", logs.entries[0].TicketCode)
}

func TestScan_wrongEvent(t *testing.T) {
	engine, tickets, logs := newTestEngine(t)
	eventA := uuid.New()
	eventB := uuid.New()
	ticket, _ := tickets.Create(context.Background(), model.Ticket{EventID: eventA, Code: "tkt-2"})

	outcome, err := engine.Scan(context.Background(), scanReq(eventB, "tkt-2"))
	require.NoError(t, err)
	assert.Equal(t, model.ScanResultWrongEvent, outcome.Result)

	// Ticket remains unused.
	stored, _ := tickets.GetByID(context.Background(), ticket.ID)
	assert.Equal(t, model.TicketStatusUnused, stored.Status)
	assert.Equal(t, 1, logs.count())
}

func TestScan_wrongEventBeatsAlreadyUsed(t *testing.T) {
	engine, tickets, _ := newTestEngine(t)
	eventA := uuid.New()
	eventB := uuid.New()
	now := time.Now()
	tickets.Create(context.Background(), model.Ticket{
		EventID:       eventA,
		Code:          "tkt-used-elsewhere",
		Status:        model.TicketStatusUsed,
		ScanTimestamp: &now,
	})

	// Classification order is existence, event match, used state: a
	// ticket for another event reports WRONG_EVENT even when already
	// redeemed at its real event.
	outcome, err := engine.Scan(context.Background(), scanReq(eventB, "tkt-used-elsewhere"))
	require.NoError(t, err)
	assert.Equal(t, model.ScanResultWrongEvent, outcome.Result)
}

func TestScan_validThenAlreadyUsed(t *testing.T) {
	engine, tickets, logs := newTestEngine(t)
	eventID := uuid.New()
	ticket, _ := tickets.Create(context.Background(), model.Ticket{EventID: eventID, Code: "tkt-1"})

	outcome, err := engine.Scan(context.Background(), scanReq(eventID, "tkt-1"))
	require.NoError(t, err)
	assert.Equal(t, model.ScanResultValid, outcome.Result)
	require.NotNil(t, outcome.Ticket)
	assert.Equal(t, model.TicketStatusUsed, outcome.Ticket.Status)
	assert.NotNil(t, outcome.Ticket.ScanTimestamp)

	stored, _ := tickets.GetByID(context.Background(), ticket.ID)
	assert.Equal(t, model.TicketStatusUsed, stored.Status)

	// Identical retry: ALREADY_USED, never an error, never a second
	// mutation.
	firstScan := stored.ScanTimestamp
	retry, err := engine.Scan(context.Background(), scanReq(eventID, "tkt-1"))
	require.NoError(t, err)
	assert.Equal(t, model.ScanResultAlreadyUsed, retry.Result)
	stored, _ = tickets.GetByID(context.Background(), ticket.ID)
	assert.Equal(t, firstScan, stored.ScanTimestamp)

	assert.Equal(t, 2, logs.count())
}

func TestScan_concurrentAtMostOnce(t *testing.T) {
	engine, tickets, logs := newTestEngine(t)
	eventID := uuid.New()
	tickets.Create(context.Background(), model.Ticket{EventID: eventID, Code: "tkt-race"})

	const n = 50
	results := make(chan model.ScanResult, n)
	errs := make(chan error, n)
	var wg sync.WaitGroup
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start.Wait()
			outcome, err := engine.Scan(context.Background(), scanReq(eventID, "tkt-race"))
			if err != nil {
				errs <- err
				return
			}
			results <- outcome.Result
		}()
	}
	start.Done()
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("scan failed: %v", err)
	}
	valid, used := 0, 0
	for r := range results {
		switch r {
		case model.ScanResultValid:
			valid++
		case model.ScanResultAlreadyUsed:
			used++
		default:
			t.Fatalf("unexpected result %s", r)
		}
	}
	assert.Equal(t, 1, valid, "exactly one scanner wins")
	assert.Equal(t, n-1, used)
	assert.Equal(t, n, logs.count(), "every attempt is audited")
}

func TestScan_auditFailureFailsCall(t *testing.T) {
	engine, tickets, logs := newTestEngine(t)
	eventID := uuid.New()
	tickets.Create(context.Background(), model.Ticket{EventID: eventID, Code: "tkt-3"})

	logs.failNext = true
	_, err := engine.Scan(context.Background(), scanReq(eventID, "tkt-3"))
	require.Error(t, err)

	// The retry is safe: the ticket was redeemed before the audit
	// fault, so the next attempt reports ALREADY_USED with its own
	// audit entry.
	outcome, err := engine.Scan(context.Background(), scanReq(eventID, "tkt-3"))
	require.NoError(t, err)
	assert.Equal(t, model.ScanResultAlreadyUsed, outcome.Result)
	assert.Equal(t, 1, logs.count())
}
