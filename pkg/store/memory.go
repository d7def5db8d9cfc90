package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process store for development and tests. Records are
// removed lazily on read once past retention.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Name identifies the backend for health and metrics labels.
func (s *MemoryStore) Name() string {
	return "memory"
}

// Put upserts a record.
func (s *MemoryStore) Put(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *rec
	s.records[rec.SessionHash] = &clone
	return nil
}

// Get returns the record for a session hash, or ErrNotFound. Records past
// retention are dropped as if the backend had expired them.
func (s *MemoryStore) Get(_ context.Context, sessionHash string) (*Record, error) {
	s.mu.RLock()
	rec, ok := s.records[sessionHash]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	if time.Now().After(rec.ExpiresAt.Add(retentionPastExpiry)) {
		s.mu.Lock()
		delete(s.records, sessionHash)
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	clone := *rec
	return &clone, nil
}

// Delete removes a record. Absent records are not an error.
func (s *MemoryStore) Delete(_ context.Context, sessionHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, sessionHash)
	return nil
}

// Ping always succeeds for the in-process store.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Len reports the number of live records, used by tests.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
