package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/dashborion/pkg/envelope"
	"github.com/platinummonkey/dashborion/pkg/store"
	"github.com/platinummonkey/dashborion/pkg/token"
)

const (
	// cacheSize bounds the resolution cache; one entry per active session.
	cacheSize = 4096
	// cacheTTL bounds how stale a cached resolution may be. Revocation of a
	// cached session takes effect within this window.
	cacheTTL = time.Minute
)

// StoreTransport puts only an opaque session ID in the cookie and keeps the
// sealed payload in the session store, keyed by the ID's hash. Supports
// server-side revocation; costs a store round trip per validation, bounded
// by a short-lived in-process cache.
type StoreTransport struct {
	sealer  envelope.Sealer
	store   store.Store
	cookie  CookieConfig
	service string
	cache   *expirable.LRU[string, *Session]
}

// NewStoreTransport creates the server-side record transport.
func NewStoreTransport(sealer envelope.Sealer, st store.Store, cookie CookieConfig, serviceName string) *StoreTransport {
	return &StoreTransport{
		sealer:  sealer,
		store:   st,
		cookie:  cookie,
		service: serviceName,
		cache:   expirable.NewLRU[string, *Session](cacheSize, nil, cacheTTL),
	}
}

// Name identifies the transport for metrics labels.
func (t *StoreTransport) Name() string {
	return "store"
}

func (t *StoreTransport) encryptionContext(sessionHash string) map[string]string {
	return map[string]string{
		"service":             t.service,
		"purpose":             "session-record",
		"session_hash_prefix": sessionHash[:8],
	}
}

// Issue seals the session into a store record and sets only the opaque
// session ID as the cookie value.
func (t *StoreTransport) Issue(w http.ResponseWriter, r *http.Request, s *Session) error {
	if s.SessionID == "" {
		return fmt.Errorf("session has no ID")
	}
	hash := token.Hash(s.SessionID)

	plaintext, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	env, err := t.sealer.Seal(r.Context(), plaintext, t.encryptionContext(hash))
	if err != nil {
		return fmt.Errorf("failed to seal session: %w", err)
	}

	rec := &store.Record{
		SessionHash:   hash,
		Payload:       env,
		CreatedAt:     s.IssuedAt,
		ExpiresAt:     s.ExpiresAt,
		ClientIPHash:  token.Hash(s.IPAddress),
		UserAgentHash: token.Hash(r.UserAgent()),
	}
	if err := t.store.Put(r.Context(), rec); err != nil {
		return fmt.Errorf("failed to persist session record: %w", err)
	}

	t.cookie.set(w, s.SessionID)
	return nil
}

// Resolve looks up the record for the presented session ID, opens it, and
// checks expiry. Unknown or revoked IDs collapse to ErrInvalid.
func (t *StoreTransport) Resolve(r *http.Request) (*Session, error) {
	c, err := r.Cookie(t.cookie.Name)
	if err != nil || c.Value == "" {
		return nil, ErrNoSession
	}
	hash := token.Hash(c.Value)

	if s, ok := t.cache.Get(hash); ok {
		if !s.IsValid() {
			t.cache.Remove(hash)
			return nil, ErrExpired
		}
		return s, nil
	}

	rec, err := t.store.Get(r.Context(), hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalid
		}
		return nil, fmt.Errorf("session store lookup failed: %w", err)
	}

	plaintext, err := t.sealer.Open(r.Context(), rec.Payload, t.encryptionContext(hash))
	if err != nil {
		if errors.Is(err, envelope.ErrIntegrity) {
			return nil, ErrInvalid
		}
		return nil, fmt.Errorf("failed to open session record: %w", err)
	}

	var s Session
	if err := json.Unmarshal(plaintext, &s); err != nil {
		return nil, ErrInvalid
	}

	if !s.IsValid() {
		return nil, ErrExpired
	}

	t.cache.Add(hash, &s)
	return &s, nil
}

// Logout clears the cookie and best-effort deletes the store record so the
// session cannot be replayed from a stolen ID.
func (t *StoreTransport) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(t.cookie.Name); err == nil && c.Value != "" {
		hash := token.Hash(c.Value)
		t.cache.Remove(hash)
		// Deletion failures are deliberately swallowed; the record still
		// ages out via its TTL.
		_ = t.store.Delete(r.Context(), hash)
	}
	t.cookie.clear(w)
}

// Revoke deletes a session record by its raw ID, for administrative
// revocation outside a request cycle.
func (t *StoreTransport) Revoke(ctx context.Context, sessionID string) error {
	hash := token.Hash(sessionID)
	t.cache.Remove(hash)
	return t.store.Delete(ctx, hash)
}
