package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/ticketgate/server/internal/model"
	"github.com/ticketgate/server/internal/repo"
)

// Authentication outcomes. Credential failures are deliberately collapsed
// to one generic error so callers cannot probe which check failed.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotAssigned        = errors.New("device not assigned to this user")
	ErrTokenInvalid       = errors.New("invalid or expired token")
)

// PrincipalType tags the resolved variant.
type PrincipalType string

const (
	PrincipalStaff   PrincipalType = "staff"
	PrincipalManager PrincipalType = "manager"
)

// Principal is the authenticated human operating a device. Each variant
// carries its own binding-check logic against the device it authorizes.
type Principal interface {
	PrincipalID() uuid.UUID
	DisplayName() string
	Email() string
	Type() PrincipalType
	checkBinding(d model.Device) error
}

// StaffPrincipal is a staff user operating their bound device.
type StaffPrincipal struct {
	Staff model.StaffUser
}

func (p StaffPrincipal) PrincipalID() uuid.UUID { return p.Staff.ID }
func (p StaffPrincipal) DisplayName() string    { return p.Staff.Name }
func (p StaffPrincipal) Email() string          { return p.Staff.Email }
func (p StaffPrincipal) Type() PrincipalType    { return PrincipalStaff }

// A staff user must belong to the device's organizer (when scoped) and be
// the device's bound operator.
func (p StaffPrincipal) checkBinding(d model.Device) error {
	if p.Staff.OrganizerID != nil && *p.Staff.OrganizerID != d.OrganizerID {
		return ErrNotAssigned
	}
	if d.StaffUserID != p.Staff.ID {
		return ErrNotAssigned
	}
	return nil
}

// ManagerPrincipal is an organizer scanning with their own device.
type ManagerPrincipal struct {
	Manager model.Manager
}

func (p ManagerPrincipal) PrincipalID() uuid.UUID { return p.Manager.ID }
func (p ManagerPrincipal) DisplayName() string    { return p.Manager.Name }
func (p ManagerPrincipal) Email() string          { return p.Manager.Email }
func (p ManagerPrincipal) Type() PrincipalType    { return PrincipalManager }

func (p ManagerPrincipal) checkBinding(d model.Device) error {
	if d.OrganizerID != p.Manager.ID {
		return ErrNotAssigned
	}
	return nil
}

// PrincipalResolver determines whether a human credential belongs to a
// staff user or a manager and authorizes it against a device's bindings.
type PrincipalResolver struct {
	users repo.UserRepo
}

// NewPrincipalResolver creates a new resolver.
func NewPrincipalResolver(users repo.UserRepo) *PrincipalResolver {
	return &PrincipalResolver{users: users}
}

// Resolve tries the staff path first; when no active staff user carries
// the email it falls back to the manager path. A wrong password on an
// existing active staff account does not fall through. The staff lookup
// is scoped to the device's organizer because emails are only unique
// per organizer.
func (r *PrincipalResolver) Resolve(ctx context.Context, email, password string, device model.Device) (Principal, error) {
	staff, err := r.users.GetStaffByEmail(ctx, email, device.OrganizerID)
	switch {
	case err == nil && staff.Active:
		if !VerifySecret(password, staff.PasswordHash) {
			return nil, ErrInvalidCredentials
		}
		p := StaffPrincipal{Staff: staff}
		if err := p.checkBinding(device); err != nil {
			return nil, err
		}
		return p, nil
	case err != nil && !errors.Is(err, repo.ErrNotFound):
		return nil, err
	}

	manager, err := r.users.GetManagerByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if manager.Role != model.ManagerRoleManager || manager.Status != model.ManagerStatusActive {
		return nil, ErrInvalidCredentials
	}
	if !VerifySecret(password, manager.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	p := ManagerPrincipal{Manager: manager}
	if err := p.checkBinding(device); err != nil {
		return nil, err
	}
	return p, nil
}
