// Package session creates and transports authenticated sessions.
//
// A Session is minted exactly once per successful login and never mutated;
// refresh means minting a new one. Two Transport implementations move
// sessions between browser and edge: a self-contained encrypted cookie, and
// an opaque ID backed by a server-side store record.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/dashborion/pkg/permissions"
)

var (
	// ErrNoSession is returned when a request carries no session cookie.
	ErrNoSession = errors.New("no session presented")

	// ErrInvalid is returned when a presented session cannot be resolved:
	// tampered cookie, unknown or revoked ID, malformed payload. Opaque by
	// design; the precise cause goes to logs only.
	ErrInvalid = errors.New("session is invalid")

	// ErrExpired is returned when a session resolves but its expiry has
	// passed.
	ErrExpired = errors.New("session has expired")
)

// Identity is the attribute set extracted from a validated login assertion.
type Identity struct {
	UserID      string
	Email       string
	DisplayName string
	Groups      []string
	MFAVerified bool
}

// Session is an authenticated user session. Immutable after creation.
type Session struct {
	UserID      string                          `json:"user_id"`
	Email       string                          `json:"email"`
	DisplayName string                          `json:"display_name"`
	Groups      []string                        `json:"groups"`
	Roles       []permissions.Role              `json:"roles"`
	Permissions []permissions.ProjectPermission `json:"permissions"`
	SessionID   string                          `json:"session_id"`
	IssuedAt    time.Time                       `json:"issued_at"`
	ExpiresAt   time.Time                       `json:"expires_at"`
	MFAVerified bool                            `json:"mfa_verified"`
	IPAddress   string                          `json:"ip_address"`
}

// IsValid reports whether the session is still within its lifetime.
func (s *Session) IsValid() bool {
	return time.Now().Before(s.ExpiresAt)
}

// Manager mints sessions from validated identities.
type Manager struct {
	ttl         time.Duration
	groupPrefix string
}

// NewManager creates a session manager. The group prefix scopes permission
// derivation to this system's directory groups.
func NewManager(ttl time.Duration, groupPrefix string) *Manager {
	return &Manager{ttl: ttl, groupPrefix: groupPrefix}
}

// Create mints a new session for a validated identity. Permissions are
// derived from the identity's groups at creation time; the session carries
// them for its whole lifetime.
func (m *Manager) Create(id Identity, clientIP string) *Session {
	now := time.Now().UTC()
	perms := permissions.Derive(id.Groups, m.groupPrefix)

	return &Session{
		UserID:      id.UserID,
		Email:       id.Email,
		DisplayName: id.DisplayName,
		Groups:      id.Groups,
		Roles:       permissions.Roles(perms),
		Permissions: perms,
		SessionID:   uuid.NewString(),
		IssuedAt:    now,
		ExpiresAt:   now.Add(m.ttl),
		MFAVerified: id.MFAVerified,
		IPAddress:   clientIP,
	}
}
