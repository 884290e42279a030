package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ticketgate/server/internal/model"
	"github.com/ticketgate/server/internal/repo"
)

// AuthService orchestrates device authorization, token validation and
// logout. Tokens are hybrid: a signed JWT for the fast path plus a
// persisted record so revocation takes effect before expiry.
type AuthService struct {
	jwtService *JWTService
	resolver   *PrincipalResolver
	devices    repo.DeviceRepo
	tokens     repo.TokenRepo
	users      repo.UserRepo

	deviceTokenTTL time.Duration
	adminTokenTTL  time.Duration
}

// NewAuthService creates a new auth service.
func NewAuthService(
	jwtService *JWTService,
	resolver *PrincipalResolver,
	devices repo.DeviceRepo,
	tokens repo.TokenRepo,
	users repo.UserRepo,
	deviceTokenTTL time.Duration,
	adminTokenTTL time.Duration,
) *AuthService {
	return &AuthService{
		jwtService:     jwtService,
		resolver:       resolver,
		devices:        devices,
		tokens:         tokens,
		users:          users,
		deviceTokenTTL: deviceTokenTTL,
		adminTokenTTL:  adminTokenTTL,
	}
}

// DeviceTokenTTL returns the configured lifetime of issued device tokens.
func (s *AuthService) DeviceTokenTTL() time.Duration {
	return s.deviceTokenTTL
}

// AuthorizeResult is the outcome of a successful device authorization.
type AuthorizeResult struct {
	Token     string
	ExpiresAt time.Time
	Device    model.Device
	Principal Principal
}

// AuthorizeDevice verifies the device secret and the human credential,
// checks bindings, mints a bearer token and records it, and stamps the
// device's last-seen telemetry.
func (s *AuthService) AuthorizeDevice(ctx context.Context, devicePublicID, deviceSecret, staffEmail, staffPassword, ip string) (AuthorizeResult, error) {
	device, err := s.devices.GetByPublicID(ctx, devicePublicID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return AuthorizeResult{}, ErrInvalidCredentials
		}
		return AuthorizeResult{}, fmt.Errorf("device lookup: %w", err)
	}
	if !device.IsActive {
		return AuthorizeResult{}, ErrInvalidCredentials
	}
	if !VerifySecret(deviceSecret, device.DeviceSecretHash) {
		return AuthorizeResult{}, ErrInvalidCredentials
	}

	principal, err := s.resolver.Resolve(ctx, staffEmail, staffPassword, device)
	if err != nil {
		return AuthorizeResult{}, err
	}

	now := time.Now()
	expiresAt := now.Add(s.deviceTokenTTL)
	tokenID, err := s.tokens.Create(ctx, device.ID, principal.PrincipalID(), expiresAt)
	if err != nil {
		return AuthorizeResult{}, fmt.Errorf("persist token record: %w", err)
	}

	// The secret was verified before the record existed, so a rotation
	// or deactivation may have swept outstanding tokens in between and
	// missed this one. Re-read the device; if its trust state moved,
	// withdraw the fresh record and fail the authorization.
	current, err := s.devices.GetByID(ctx, device.ID)
	if err != nil {
		_ = s.tokens.Revoke(ctx, tokenID)
		if errors.Is(err, repo.ErrNotFound) {
			return AuthorizeResult{}, ErrInvalidCredentials
		}
		return AuthorizeResult{}, fmt.Errorf("recheck device: %w", err)
	}
	if current.DeviceSecretHash != device.DeviceSecretHash || !current.IsActive {
		if err := s.tokens.Revoke(ctx, tokenID); err != nil {
			return AuthorizeResult{}, fmt.Errorf("revoke superseded token: %w", err)
		}
		return AuthorizeResult{}, ErrInvalidCredentials
	}

	token, err := s.jwtService.SignDeviceToken(tokenID, device.ID, principal.PrincipalID(), device.DevicePublicID, s.deviceTokenTTL)
	if err != nil {
		return AuthorizeResult{}, fmt.Errorf("sign token: %w", err)
	}

	if err := s.devices.UpdateTelemetry(ctx, device.ID, now, ip); err != nil {
		return AuthorizeResult{}, fmt.Errorf("update telemetry: %w", err)
	}
	device.LastSeenAt = &now
	if ip != "" {
		device.LastIP = &ip
	}

	return AuthorizeResult{
		Token:     token,
		ExpiresAt: expiresAt,
		Device:    device,
		Principal: principal,
	}, nil
}

// ValidateDeviceToken verifies signature and expiry, then checks the
// persisted record is neither revoked nor expired. Both checks are
// required once revocation exists.
func (s *AuthService) ValidateDeviceToken(ctx context.Context, tokenString string) (*JWTClaims, error) {
	claims, err := s.jwtService.VerifyToken(tokenString)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	if claims.Scope != ScopeDevice {
		return nil, ErrTokenInvalid
	}
	tokenID, err := claims.TokenID()
	if err != nil {
		return nil, ErrTokenInvalid
	}
	record, err := s.tokens.GetByID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("token record lookup: %w", err)
	}
	if !record.Valid(time.Now()) {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Logout revokes the presented token only, leaving the device's other
// sessions intact.
func (s *AuthService) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.ValidateDeviceToken(ctx, tokenString)
	if err != nil {
		return err
	}
	tokenID, err := claims.TokenID()
	if err != nil {
		return ErrTokenInvalid
	}
	if err := s.tokens.Revoke(ctx, tokenID); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// AdminLogin authenticates a manager for the device-management surface
// and returns an admin-scoped token.
func (s *AuthService) AdminLogin(ctx context.Context, email, password string) (string, model.Manager, error) {
	manager, err := s.users.GetManagerByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", model.Manager{}, ErrInvalidCredentials
		}
		return "", model.Manager{}, fmt.Errorf("manager lookup: %w", err)
	}
	if manager.Role != model.ManagerRoleManager || manager.Status != model.ManagerStatusActive {
		return "", model.Manager{}, ErrInvalidCredentials
	}
	if !VerifySecret(password, manager.PasswordHash) {
		return "", model.Manager{}, ErrInvalidCredentials
	}
	token, err := s.jwtService.SignAdminToken(manager.ID, s.adminTokenTTL)
	if err != nil {
		return "", model.Manager{}, fmt.Errorf("sign admin token: %w", err)
	}
	return token, manager, nil
}

// ValidateAdminToken verifies an admin-scoped token and loads the
// manager it names.
func (s *AuthService) ValidateAdminToken(ctx context.Context, tokenString string) (model.Manager, error) {
	claims, err := s.jwtService.VerifyToken(tokenString)
	if err != nil {
		return model.Manager{}, ErrTokenInvalid
	}
	if claims.Scope != ScopeAdmin {
		return model.Manager{}, ErrTokenInvalid
	}
	managerID, err := claims.SubjectID()
	if err != nil {
		return model.Manager{}, ErrTokenInvalid
	}
	manager, err := s.users.GetManagerByID(ctx, managerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Manager{}, ErrTokenInvalid
		}
		return model.Manager{}, fmt.Errorf("manager lookup: %w", err)
	}
	if manager.Status != model.ManagerStatusActive {
		return model.Manager{}, ErrTokenInvalid
	}
	return manager, nil
}
