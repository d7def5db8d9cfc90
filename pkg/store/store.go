// Package store persists server-side session records keyed by session hash.
//
// Records hold only sealed payloads: the store never sees session plaintext.
// Three backends are provided. DynamoDB is the production default and uses
// its native TTL expiry; Redis suits single-region deployments; the memory
// backend is for development and tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/dashborion/pkg/envelope"
)

// ErrNotFound is returned when no record exists for a session hash.
var ErrNotFound = errors.New("session record not found")

// Record is a persisted session. The payload is an opaque envelope; client
// IP and user agent are stored hashed for anomaly review, never for
// identity derivation.
type Record struct {
	SessionHash   string             `json:"session_hash" dynamodbav:"-"`
	Payload       *envelope.Envelope `json:"payload" dynamodbav:"payload"`
	CreatedAt     time.Time          `json:"created_at" dynamodbav:"created_at,unixtime"`
	ExpiresAt     time.Time          `json:"expires_at" dynamodbav:"expires_at,unixtime"`
	ClientIPHash  string             `json:"client_ip_hash" dynamodbav:"client_ip_hash"`
	UserAgentHash string             `json:"user_agent_hash" dynamodbav:"user_agent_hash"`
}

// retentionPastExpiry keeps a record readable for audit review after its
// logical expiry before the backend physically removes it.
const retentionPastExpiry = 24 * time.Hour

// Store persists session records. Put is an upsert; sessions are immutable
// so a hash is only ever written once in practice.
type Store interface {
	// Put writes a record keyed by its session hash.
	Put(ctx context.Context, rec *Record) error

	// Get returns the record for a session hash, or ErrNotFound.
	Get(ctx context.Context, sessionHash string) (*Record, error)

	// Delete removes a record. Deleting an absent record is not an error.
	Delete(ctx context.Context, sessionHash string) error

	// Ping verifies backend connectivity for health checks.
	Ping(ctx context.Context) error

	// Name identifies the backend for health and metrics labels.
	Name() string
}
