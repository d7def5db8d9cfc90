package devicecode

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when no record exists for a key.
var ErrNotFound = errors.New("device code record not found")

// retentionPastExpiry keeps an expired code readable briefly so a polling
// client gets a clean "expired" answer instead of "unknown".
const retentionPastExpiry = 10 * time.Minute

// Store persists device codes and issued-token hashes.
type Store interface {
	// SaveCode upserts a code record, indexed by both device-code hash and
	// user code.
	SaveCode(ctx context.Context, code *Code) error

	// GetByDeviceHash returns the record for a device-code hash, or
	// ErrNotFound.
	GetByDeviceHash(ctx context.Context, hash string) (*Code, error)

	// GetByUserCode returns the record for a user code, or ErrNotFound.
	GetByUserCode(ctx context.Context, userCode string) (*Code, error)

	// DeleteCode removes a code record and its user-code index.
	DeleteCode(ctx context.Context, hash string) error

	// SaveToken persists an issued token hash.
	SaveToken(ctx context.Context, rec *TokenRecord) error

	// Ping verifies backend connectivity for health checks.
	Ping(ctx context.Context) error

	// Name identifies the backend for health and metrics labels.
	Name() string
}

// Sweeper is implemented by stores without native TTL expiry; the janitor
// calls it periodically.
type Sweeper interface {
	// SweepExpired removes records past retention and returns how many.
	SweepExpired(ctx context.Context) (int, error)
}
