package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

var randomRead = rand.Read

// GenerateRandomToken generates a random token of the given byte length,
// hex-encoded.
func GenerateRandomToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := randomRead(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// GenerateState generates a 128-bit login state parameter.
func GenerateState() (string, error) {
	return GenerateRandomToken(16)
}

// GenerateCSRFToken generates a 32-byte CSRF token.
func GenerateCSRFToken() (string, error) {
	return GenerateRandomToken(32)
}
