// Package token generates opaque bearer identifiers: session IDs and
// device-flow codes. Tokens are high-entropy random strings; only a one-way
// hash is ever persisted, and only a short prefix is ever logged.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// Prefix identifies dashboard-issued tokens
	Prefix = "dash_"
	// RandomLength is the number of random bytes per token (32 bytes = 256 bits)
	RandomLength = 32
	// displayPrefixLength is how much of the encoded token is safe to log
	displayPrefixLength = 8
)

// Generate creates a new opaque token.
// Format: dash_<base64url(32 random bytes)>
// Returns the full token (handed to the client once and never stored), its
// SHA256 hex hash (the storage key), and a short display prefix for logs.
func Generate() (token string, hash string, displayPrefix string, err error) {
	randomBytes := make([]byte, RandomLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(randomBytes)
	full := Prefix + encoded

	return full, Hash(full), full[:len(Prefix)+displayPrefixLength], nil
}

// Hash computes the SHA256 hex digest of a token for storage and lookup.
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// HashPrefix returns the first 8 characters of a token's hash, the only
// portion that may appear in logs or encryption contexts.
func HashPrefix(token string) string {
	return Hash(token)[:displayPrefixLength]
}

// ValidateFormat checks that a token is well formed before any store lookup.
func ValidateFormat(token string) error {
	if !strings.HasPrefix(token, Prefix) {
		return fmt.Errorf("token must start with %q", Prefix)
	}

	encoded := strings.TrimPrefix(token, Prefix)
	if len(encoded) == 0 {
		return fmt.Errorf("token is too short")
	}
	if _, err := base64.RawURLEncoding.DecodeString(encoded); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}

	return nil
}

// DisplayPrefix extracts the loggable prefix from a full token.
func DisplayPrefix(token string) string {
	if !strings.HasPrefix(token, Prefix) {
		return ""
	}

	encoded := strings.TrimPrefix(token, Prefix)
	if len(encoded) >= displayPrefixLength {
		return Prefix + encoded[:displayPrefixLength]
	}
	return token
}
