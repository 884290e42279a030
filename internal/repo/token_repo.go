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

// TokenRepo defines the interface for device token revocation records.
type TokenRepo interface {
	Create(ctx context.Context, deviceID, staffUserID uuid.UUID, expiresAt time.Time) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.DeviceToken, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeAllForDevice(ctx context.Context, deviceID uuid.UUID) error
}

type tokenRepo struct {
	db *sql.DB
}

// NewTokenRepo creates a new TokenRepo instance.
func NewTokenRepo(db *sql.DB) TokenRepo {
	return &tokenRepo{db: db}
}

// Create inserts a revocation record for a freshly issued token.
func (r *tokenRepo) Create(ctx context.Context, deviceID, staffUserID uuid.UUID, expiresAt time.Time) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO device_tokens (device_id, staff_user_id, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, deviceID, staffUserID, expiresAt).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert device token: %w", err)
	}
	return id, nil
}

// GetByID returns the token record with the given id.
func (r *tokenRepo) GetByID(ctx context.Context, id uuid.UUID) (model.DeviceToken, error) {
	var t model.DeviceToken
	err := r.db.QueryRowContext(ctx, `
		SELECT id, device_id, staff_user_id, created_at, expires_at, revoked_at
		FROM device_tokens
		WHERE id = $1
	`, id).Scan(&t.ID, &t.DeviceID, &t.StaffUserID, &t.CreatedAt, &t.ExpiresAt, &t.RevokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.DeviceToken{}, ErrNotFound
		}
		return model.DeviceToken{}, fmt.Errorf("find device token: %w", err)
	}
	return t, nil
}

// Revoke marks the token revoked. Revoking an already revoked or unknown
// token is a no-op, not an error.
func (r *tokenRepo) Revoke(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE device_tokens SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("revoke device token: %w", err)
	}
	return nil
}

// RevokeAllForDevice revokes every outstanding token for a device
// (secret rotation, deactivation, deletion).
func (r *tokenRepo) RevokeAllForDevice(ctx context.Context, deviceID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE device_tokens SET revoked_at = now() WHERE device_id = $1 AND revoked_at IS NULL
	`, deviceID)
	if err != nil {
		return fmt.Errorf("revoke all device tokens: %w", err)
	}
	return nil
}
