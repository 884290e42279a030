package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ticketgate/server/internal/model"
)

// UserRepo defines lookups into the user subsystem's staff and manager
// records. This service never mutates them beyond creation (seed/admin).
type UserRepo interface {
	CreateStaff(ctx context.Context, s model.StaffUser) (model.StaffUser, error)
	GetStaffByEmail(ctx context.Context, email string, organizerID uuid.UUID) (model.StaffUser, error)
	GetStaffByID(ctx context.Context, id uuid.UUID) (model.StaffUser, error)
	CreateManager(ctx context.Context, m model.Manager) (model.Manager, error)
	GetManagerByEmail(ctx context.Context, email string) (model.Manager, error)
	GetManagerByID(ctx context.Context, id uuid.UUID) (model.Manager, error)
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance.
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

// CreateStaff inserts a staff user.
func (r *userRepo) CreateStaff(ctx context.Context, s model.StaffUser) (model.StaffUser, error) {
	var organizerID interface{}
	if s.OrganizerID != nil {
		organizerID = *s.OrganizerID
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO staff_users (email, password_hash, name, organizer_id, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, strings.ToLower(s.Email), s.PasswordHash, s.Name, organizerID, s.Active).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return model.StaffUser{}, fmt.Errorf("insert staff user: %w", err)
	}
	return s, nil
}

// GetStaffByEmail returns the active-or-not staff user for an email,
// scoped to the given organizer. Emails are only unique per organizer,
// so the lookup matches the organizer's own row first and falls back to
// an unscoped row; absence maps to ErrNotFound. The caller decides what
// inactive means.
func (r *userRepo) GetStaffByEmail(ctx context.Context, email string, organizerID uuid.UUID) (model.StaffUser, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, name, organizer_id, active, created_at
		FROM staff_users
		WHERE email = $1 AND (organizer_id = $2 OR organizer_id IS NULL)
		ORDER BY (organizer_id IS NULL)
		LIMIT 1
	`, strings.ToLower(email), organizerID)
	return scanStaff(row)
}

// GetStaffByID returns the staff user with the given id.
func (r *userRepo) GetStaffByID(ctx context.Context, id uuid.UUID) (model.StaffUser, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, name, organizer_id, active, created_at
		FROM staff_users
		WHERE id = $1
	`, id)
	return scanStaff(row)
}

func scanStaff(row *sql.Row) (model.StaffUser, error) {
	var s model.StaffUser
	var organizerID sql.NullString
	err := row.Scan(&s.ID, &s.Email, &s.PasswordHash, &s.Name, &organizerID, &s.Active, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.StaffUser{}, ErrNotFound
		}
		return model.StaffUser{}, fmt.Errorf("find staff user: %w", err)
	}
	if organizerID.Valid {
		org, err := uuid.Parse(organizerID.String)
		if err != nil {
			return model.StaffUser{}, fmt.Errorf("parse organizer id: %w", err)
		}
		s.OrganizerID = &org
	}
	return s, nil
}

// CreateManager inserts a manager account.
func (r *userRepo) CreateManager(ctx context.Context, m model.Manager) (model.Manager, error) {
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO managers (email, password_hash, name, role, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, strings.ToLower(m.Email), m.PasswordHash, m.Name, m.Role, m.Status).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return model.Manager{}, fmt.Errorf("insert manager: %w", err)
	}
	return m, nil
}

// GetManagerByEmail returns the manager account for an email.
func (r *userRepo) GetManagerByEmail(ctx context.Context, email string) (model.Manager, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, name, role, status, created_at
		FROM managers
		WHERE email = $1
	`, strings.ToLower(email))
	return scanManager(row)
}

// GetManagerByID returns the manager with the given id.
func (r *userRepo) GetManagerByID(ctx context.Context, id uuid.UUID) (model.Manager, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, name, role, status, created_at
		FROM managers
		WHERE id = $1
	`, id)
	return scanManager(row)
}

func scanManager(row *sql.Row) (model.Manager, error) {
	var m model.Manager
	err := row.Scan(&m.ID, &m.Email, &m.PasswordHash, &m.Name, &m.Role, &m.Status, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Manager{}, ErrNotFound
		}
		return model.Manager{}, fmt.Errorf("find manager: %w", err)
	}
	return m, nil
}
