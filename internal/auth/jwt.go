package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token scopes. A device token must never pass the admin middleware and
// vice versa.
const (
	ScopeDevice = "device"
	ScopeAdmin  = "admin"
)

// JWTClaims carries the signed payload of both device and admin tokens.
// For device tokens the jti is the id of the persisted DeviceToken record
// used for revocation checks.
type JWTClaims struct {
	StaffUserID    uuid.UUID `json:"staff_user_id,omitempty"`
	DevicePublicID string    `json:"device_public_id,omitempty"`
	Scope          string    `json:"scope"`
	jwt.RegisteredClaims
}

// SubjectID returns the subject parsed as a uuid: the device id for
// device tokens, the manager id for admin tokens.
func (c *JWTClaims) SubjectID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// TokenID returns the jti parsed as the persisted token record id.
func (c *JWTClaims) TokenID() (uuid.UUID, error) {
	return uuid.Parse(c.ID)
}

// JWTService signs and verifies bearer tokens with a server-held HS256 key.
type JWTService struct {
	secret []byte
}

// NewJWTService creates a new JWT service.
func NewJWTService(secret string) *JWTService {
	return &JWTService{secret: []byte(secret)}
}

// SignDeviceToken creates the bearer token a device presents on scan
// calls. tokenID must reference the persisted DeviceToken record.
func (s *JWTService) SignDeviceToken(tokenID, deviceID, staffUserID uuid.UUID, devicePublicID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &JWTClaims{
		StaffUserID:    staffUserID,
		DevicePublicID: devicePublicID,
		Scope:          ScopeDevice,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID.String(),
			Subject:   deviceID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign device token: %w", err)
	}
	return signed, nil
}

// SignAdminToken creates a manager-scoped token for the admin surface.
// Admin tokens are not persisted; they expire but cannot be revoked early.
func (s *JWTService) SignAdminToken(managerID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &JWTClaims{
		Scope: ScopeAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   managerID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign admin token: %w", err)
	}
	return signed, nil
}

// VerifyToken verifies signature and expiry and returns the claims.
// Callers of device tokens must additionally check the persisted record:
// signature validity alone is insufficient once revocation exists.
func (s *JWTService) VerifyToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
