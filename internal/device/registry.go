package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/ticketgate/server/internal/auth"
	"github.com/ticketgate/server/internal/model"
	"github.com/ticketgate/server/internal/repo"
)

// Registry validation failures surfaced to the admin API.
var (
	ErrEventNotOwned = errors.New("event does not belong to this organizer")
	ErrStaffNotOwned = errors.New("staff user does not belong to this organizer")
	ErrNotFound      = repo.ErrNotFound
)

// Registry manages the scanning-device lifecycle. Mutations of the same
// device are serialized by a per-device mutex so rotate-secret and
// deactivate cannot race each other, and every trust-changing operation
// revokes outstanding tokens before it returns.
type Registry struct {
	devices repo.DeviceRepo
	tokens  repo.TokenRepo
	events  repo.EventRepo
	users   repo.UserRepo

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewRegistry creates a new device registry.
func NewRegistry(devices repo.DeviceRepo, tokens repo.TokenRepo, events repo.EventRepo, users repo.UserRepo) *Registry {
	return &Registry{
		devices: devices,
		tokens:  tokens,
		events:  events,
		users:   users,
		locks:   make(map[uuid.UUID]*sync.Mutex),
	}
}

func (r *Registry) lock(deviceID uuid.UUID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[deviceID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[deviceID] = l
	}
	return l
}

// CreateParams describes a device enrollment by an organizer.
type CreateParams struct {
	OrganizerID uuid.UUID
	StaffUserID *uuid.UUID // defaults to the organizer scanning personally
	EventID     *uuid.UUID
	Name        string
}

// Create enrolls a new device: random public identifier, random secret
// stored only as a hash. The plaintext secret is returned exactly once
// and never retrievable again.
func (r *Registry) Create(ctx context.Context, p CreateParams) (model.Device, string, error) {
	if p.EventID != nil {
		event, err := r.events.GetByID(ctx, *p.EventID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return model.Device{}, "", ErrEventNotOwned
			}
			return model.Device{}, "", fmt.Errorf("event lookup: %w", err)
		}
		if event.OrganizerID != p.OrganizerID {
			return model.Device{}, "", ErrEventNotOwned
		}
	}

	staffUserID := p.OrganizerID
	if p.StaffUserID != nil {
		if err := r.checkStaffOwnership(ctx, *p.StaffUserID, p.OrganizerID); err != nil {
			return model.Device{}, "", err
		}
		staffUserID = *p.StaffUserID
	}

	publicID, err := auth.GeneratePublicID()
	if err != nil {
		return model.Device{}, "", err
	}
	secret, err := auth.GenerateDeviceSecret()
	if err != nil {
		return model.Device{}, "", err
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		return model.Device{}, "", fmt.Errorf("hash device secret: %w", err)
	}

	created, err := r.devices.Create(ctx, model.Device{
		DevicePublicID:   publicID,
		DeviceSecretHash: hash,
		Name:             p.Name,
		OrganizerID:      p.OrganizerID,
		StaffUserID:      staffUserID,
		EventID:          p.EventID,
		IsActive:         true,
	})
	if err != nil {
		return model.Device{}, "", err
	}
	return created, secret, nil
}

// Get returns a single device.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (model.Device, error) {
	return r.devices.GetByID(ctx, id)
}

// ListByOrganizer returns the organizer's devices.
func (r *Registry) ListByOrganizer(ctx context.Context, organizerID uuid.UUID) ([]model.Device, error) {
	return r.devices.ListByOrganizer(ctx, organizerID)
}

// RotateSecret regenerates the device secret and revokes every
// outstanding token for the device: old tokens were issued under an
// authorization proof that no longer holds. Revocation completes before
// the new plaintext is returned, so no stale token survives the call.
func (r *Registry) RotateSecret(ctx context.Context, deviceID uuid.UUID) (string, error) {
	l := r.lock(deviceID)
	l.Lock()
	defer l.Unlock()

	secret, err := auth.GenerateDeviceSecret()
	if err != nil {
		return "", err
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		return "", fmt.Errorf("hash device secret: %w", err)
	}
	if err := r.devices.UpdateSecretHash(ctx, deviceID, hash); err != nil {
		return "", err
	}
	if err := r.tokens.RevokeAllForDevice(ctx, deviceID); err != nil {
		return "", err
	}
	return secret, nil
}

// SetActive flips the active flag. Deactivation cascades: all
// outstanding tokens are revoked.
func (r *Registry) SetActive(ctx context.Context, deviceID uuid.UUID, active bool) error {
	l := r.lock(deviceID)
	l.Lock()
	defer l.Unlock()

	if err := r.devices.SetActive(ctx, deviceID, active); err != nil {
		return err
	}
	if !active {
		if err := r.tokens.RevokeAllForDevice(ctx, deviceID); err != nil {
			return err
		}
	}
	return nil
}

// Assign re-binds the device's event scope and default operator after
// re-validating organizer ownership of both.
func (r *Registry) Assign(ctx context.Context, deviceID uuid.UUID, eventID *uuid.UUID, staffUserID uuid.UUID) error {
	l := r.lock(deviceID)
	l.Lock()
	defer l.Unlock()

	device, err := r.devices.GetByID(ctx, deviceID)
	if err != nil {
		return err
	}
	if eventID != nil {
		event, err := r.events.GetByID(ctx, *eventID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrEventNotOwned
			}
			return fmt.Errorf("event lookup: %w", err)
		}
		if event.OrganizerID != device.OrganizerID {
			return ErrEventNotOwned
		}
	}
	if err := r.checkStaffOwnership(ctx, staffUserID, device.OrganizerID); err != nil {
		return err
	}
	return r.devices.Assign(ctx, deviceID, eventID, staffUserID)
}

// Delete revokes all tokens, then removes the device.
func (r *Registry) Delete(ctx context.Context, deviceID uuid.UUID) error {
	l := r.lock(deviceID)
	l.Lock()
	defer l.Unlock()

	if err := r.tokens.RevokeAllForDevice(ctx, deviceID); err != nil {
		return err
	}
	if err := r.devices.Delete(ctx, deviceID); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.locks, deviceID)
	r.mu.Unlock()
	return nil
}

// checkStaffOwnership accepts the organizer scanning personally or a
// staff user scoped to the same organizer.
func (r *Registry) checkStaffOwnership(ctx context.Context, staffUserID, organizerID uuid.UUID) error {
	if staffUserID == organizerID {
		return nil
	}
	staff, err := r.users.GetStaffByID(ctx, staffUserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrStaffNotOwned
		}
		return fmt.Errorf("staff lookup: %w", err)
	}
	if staff.OrganizerID == nil || *staff.OrganizerID != organizerID {
		return ErrStaffNotOwned
	}
	return nil
}
