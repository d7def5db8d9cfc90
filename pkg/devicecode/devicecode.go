// Package devicecode implements the device authorization flow for CLI
// clients: the CLI obtains a device/user code pair, the user approves the
// user code in an authenticated browser session, and the CLI polls until it
// is handed an opaque token pair.
package devicecode

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a device code.
type Status string

const (
	// StatusPending means the code awaits browser approval.
	StatusPending Status = "pending"
	// StatusApproved means a user approved the code; the next poll issues
	// tokens.
	StatusApproved Status = "approved"
	// StatusConsumed means tokens were already issued for this code.
	StatusConsumed Status = "consumed"
	// StatusExpired means the code aged out before approval or pickup.
	StatusExpired Status = "expired"
)

var (
	// ErrUnknownCode is returned for a code that does not exist or has been
	// purged. Terminal for the polling client.
	ErrUnknownCode = errors.New("unknown device code")

	// ErrAuthorizationPending is returned while the code awaits approval.
	// The client keeps polling.
	ErrAuthorizationPending = errors.New("authorization pending")

	// ErrCodeExpired is returned once the code's lifetime has passed.
	// Terminal; the client must start over.
	ErrCodeExpired = errors.New("device code has expired")

	// ErrCodeConsumed is returned when tokens were already issued for the
	// code. Terminal; codes are one-time use.
	ErrCodeConsumed = errors.New("device code has already been used")
)

// Code is the stored state of one device authorization attempt. The device
// code itself is never stored; only its hash.
type Code struct {
	DeviceCodeHash string    `json:"device_code_hash"`
	UserCode       string    `json:"user_code"`
	Status         Status    `json:"status"`
	ApprovedBy     string    `json:"approved_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// EffectiveStatus folds expiry into the stored status: a pending or approved
// code past its lifetime is expired no matter what the record says.
func (c *Code) EffectiveStatus(now time.Time) Status {
	if c.Status == StatusConsumed {
		return StatusConsumed
	}
	if now.After(c.ExpiresAt) {
		return StatusExpired
	}
	return c.Status
}

// TokenRecord is an issued token at rest. Only hashes are persisted; the
// token itself is handed to the client once.
type TokenRecord struct {
	TokenHash string    `json:"token_hash"`
	Kind      string    `json:"kind"` // access or refresh
	Subject   string    `json:"subject"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// userCodeAlphabet avoids characters users misread over the phone or
// retype wrong: no 0/O, 1/I/L, U/V confusion.
const userCodeAlphabet = "ABCDEFGHJKMNPQRSTVWXYZ23456789"

// newUserCode generates an XXXX-XXXX display code.
func newUserCode() (string, error) {
	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate user code: %w", err)
	}

	code := make([]byte, 9)
	for i, b := range raw {
		pos := i
		if i >= 4 {
			pos++
		}
		code[pos] = userCodeAlphabet[int(b)%len(userCodeAlphabet)]
	}
	code[4] = '-'
	return string(code), nil
}

// newDeviceCode generates the high-entropy code the CLI holds.
func newDeviceCode() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate device code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
