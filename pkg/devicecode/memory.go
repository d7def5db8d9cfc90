package devicecode

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process store for development and tests. It has no
// native expiry; pair it with the Janitor.
type MemoryStore struct {
	mu     sync.RWMutex
	byHash map[string]*Code
	byUser map[string]string // user code -> device hash
	tokens map[string]*TokenRecord
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash: make(map[string]*Code),
		byUser: make(map[string]string),
		tokens: make(map[string]*TokenRecord),
	}
}

// Name identifies the backend for health and metrics labels.
func (s *MemoryStore) Name() string {
	return "memory"
}

// SaveCode upserts a code record.
func (s *MemoryStore) SaveCode(_ context.Context, code *Code) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *code
	s.byHash[code.DeviceCodeHash] = &clone
	s.byUser[code.UserCode] = code.DeviceCodeHash
	return nil
}

// GetByDeviceHash returns the record for a device-code hash.
func (s *MemoryStore) GetByDeviceHash(_ context.Context, hash string) (*Code, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	code, ok := s.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *code
	return &clone, nil
}

// GetByUserCode returns the record for a user code.
func (s *MemoryStore) GetByUserCode(ctx context.Context, userCode string) (*Code, error) {
	s.mu.RLock()
	hash, ok := s.byUser[userCode]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.GetByDeviceHash(ctx, hash)
}

// DeleteCode removes a record and its user-code index.
func (s *MemoryStore) DeleteCode(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code, ok := s.byHash[hash]; ok {
		delete(s.byUser, code.UserCode)
		delete(s.byHash, hash)
	}
	return nil
}

// SaveToken persists an issued token hash.
func (s *MemoryStore) SaveToken(_ context.Context, rec *TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *rec
	s.tokens[rec.TokenHash] = &clone
	return nil
}

// SweepExpired removes code and token records past retention.
func (s *MemoryStore) SweepExpired(_ context.Context) (int, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	swept := 0
	for hash, code := range s.byHash {
		if now.After(code.ExpiresAt.Add(retentionPastExpiry)) {
			delete(s.byUser, code.UserCode)
			delete(s.byHash, hash)
			swept++
		}
	}
	for hash, tok := range s.tokens {
		if now.After(tok.ExpiresAt) {
			delete(s.tokens, hash)
		}
	}
	return swept, nil
}

// Ping always succeeds for the in-process store.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// HasToken reports whether a token hash is on record, used by tests.
func (s *MemoryStore) HasToken(hash string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tokens[hash]
	return ok
}
