package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// GeneratePublicID returns a random Base64URL identifier (12 bytes) used
// as a device's public identifier.
func GeneratePublicID() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate public id: %w", err)
	}
	return "dev_" + base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateDeviceSecret returns a random Base64URL secret (32 bytes). The
// caller must hash it before storage; the plaintext is shown exactly once.
func GenerateDeviceSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate device secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
