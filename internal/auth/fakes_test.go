package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ticketgate/server/internal/model"
	"github.com/ticketgate/server/internal/repo"
)

// In-memory repo fakes shared by the resolver and service tests.

type fakeUserRepo struct {
	staff    map[uuid.UUID]model.StaffUser
	managers map[uuid.UUID]model.Manager
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		staff:    make(map[uuid.UUID]model.StaffUser),
		managers: make(map[uuid.UUID]model.Manager),
	}
}

func (r *fakeUserRepo) CreateStaff(_ context.Context, s model.StaffUser) (model.StaffUser, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.Email = strings.ToLower(s.Email)
	r.staff[s.ID] = s
	return s, nil
}

func (r *fakeUserRepo) GetStaffByEmail(_ context.Context, email string, organizerID uuid.UUID) (model.StaffUser, error) {
	email = strings.ToLower(email)
	var unscoped model.StaffUser
	var haveUnscoped bool
	for _, s := range r.staff {
		if s.Email != email {
			continue
		}
		if s.OrganizerID != nil && *s.OrganizerID == organizerID {
			return s, nil
		}
		if s.OrganizerID == nil {
			unscoped = s
			haveUnscoped = true
		}
	}
	if haveUnscoped {
		return unscoped, nil
	}
	return model.StaffUser{}, repo.ErrNotFound
}

func (r *fakeUserRepo) GetStaffByID(_ context.Context, id uuid.UUID) (model.StaffUser, error) {
	s, ok := r.staff[id]
	if !ok {
		return model.StaffUser{}, repo.ErrNotFound
	}
	return s, nil
}

func (r *fakeUserRepo) CreateManager(_ context.Context, m model.Manager) (model.Manager, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.Email = strings.ToLower(m.Email)
	r.managers[m.ID] = m
	return m, nil
}

func (r *fakeUserRepo) GetManagerByEmail(_ context.Context, email string) (model.Manager, error) {
	for _, m := range r.managers {
		if m.Email == strings.ToLower(email) {
			return m, nil
		}
	}
	return model.Manager{}, repo.ErrNotFound
}

func (r *fakeUserRepo) GetManagerByID(_ context.Context, id uuid.UUID) (model.Manager, error) {
	m, ok := r.managers[id]
	if !ok {
		return model.Manager{}, repo.ErrNotFound
	}
	return m, nil
}

type fakeDeviceRepo struct {
	mu      sync.Mutex
	devices map[uuid.UUID]model.Device
}

func newFakeDeviceRepo() *fakeDeviceRepo {
	return &fakeDeviceRepo{devices: make(map[uuid.UUID]model.Device)}
}

func (r *fakeDeviceRepo) Create(_ context.Context, d model.Device) (model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = time.Now()
	r.devices[d.ID] = d
	return d, nil
}

func (r *fakeDeviceRepo) GetByID(_ context.Context, id uuid.UUID) (model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return model.Device{}, repo.ErrNotFound
	}
	return d, nil
}

func (r *fakeDeviceRepo) GetByPublicID(_ context.Context, publicID string) (model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.DevicePublicID == publicID {
			return d, nil
		}
	}
	return model.Device{}, repo.ErrNotFound
}

func (r *fakeDeviceRepo) ListByOrganizer(_ context.Context, organizerID uuid.UUID) ([]model.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Device
	for _, d := range r.devices {
		if d.OrganizerID == organizerID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *fakeDeviceRepo) UpdateSecretHash(_ context.Context, id uuid.UUID, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return repo.ErrNotFound
	}
	d.DeviceSecretHash = hash
	r.devices[id] = d
	return nil
}

func (r *fakeDeviceRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return repo.ErrNotFound
	}
	d.IsActive = active
	r.devices[id] = d
	return nil
}

func (r *fakeDeviceRepo) Assign(_ context.Context, id uuid.UUID, eventID *uuid.UUID, staffUserID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return repo.ErrNotFound
	}
	d.EventID = eventID
	d.StaffUserID = staffUserID
	r.devices[id] = d
	return nil
}

func (r *fakeDeviceRepo) UpdateTelemetry(_ context.Context, id uuid.UUID, seenAt time.Time, ip string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return repo.ErrNotFound
	}
	d.LastSeenAt = &seenAt
	if ip != "" {
		d.LastIP = &ip
	}
	r.devices[id] = d
	return nil
}

func (r *fakeDeviceRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[id]; !ok {
		return repo.ErrNotFound
	}
	delete(r.devices, id)
	return nil
}

type fakeTokenRepo struct {
	mu     sync.Mutex
	tokens map[uuid.UUID]model.DeviceToken
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[uuid.UUID]model.DeviceToken)}
}

func (r *fakeTokenRepo) Create(_ context.Context, deviceID, staffUserID uuid.UUID, expiresAt time.Time) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.tokens[id] = model.DeviceToken{
		ID:          id,
		DeviceID:    deviceID,
		StaffUserID: staffUserID,
		CreatedAt:   time.Now(),
		ExpiresAt:   expiresAt,
	}
	return id, nil
}

func (r *fakeTokenRepo) GetByID(_ context.Context, id uuid.UUID) (model.DeviceToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok {
		return model.DeviceToken{}, repo.ErrNotFound
	}
	return t, nil
}

func (r *fakeTokenRepo) Revoke(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok || t.RevokedAt != nil {
		return nil
	}
	now := time.Now()
	t.RevokedAt = &now
	r.tokens[id] = t
	return nil
}

func (r *fakeTokenRepo) RevokeAllForDevice(_ context.Context, deviceID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for id, t := range r.tokens {
		if t.DeviceID == deviceID && t.RevokedAt == nil {
			t.RevokedAt = &now
			r.tokens[id] = t
		}
	}
	return nil
}
