package envelope

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// Envelope is the opaque encrypted+authenticated representation of a
// session payload. It is the only form in which session state is ever
// placed in a cookie or a stored record.
type Envelope struct {
	Ciphertext string `json:"ct"`
	Nonce      string `json:"n,omitempty"`
	Tag        string `json:"t,omitempty"`
}

var (
	// ErrIntegrity is returned for any authentication failure on open.
	// It is deliberately opaque: callers must not learn whether the
	// nonce, tag, or ciphertext was wrong.
	ErrIntegrity = errors.New("envelope integrity check failed")

	// ErrUpstream is returned when the remote key-management backend is
	// unreachable or times out. Fatal to the operation; never retried here.
	ErrUpstream = errors.New("encryption backend unavailable")
)

// Sealer seals and opens session payloads. Both backends accept an
// encryption context: a ciphertext sealed under one context never opens
// under another, so an envelope lifted from one session record cannot be
// replayed under a different session.
type Sealer interface {
	Seal(ctx context.Context, plaintext []byte, ectx map[string]string) (*Envelope, error)
	Open(ctx context.Context, env *Envelope, ectx map[string]string) ([]byte, error)

	// Backend identifies the implementation for metrics labels.
	Backend() string
}

// canonicalContext serializes an encryption context deterministically so it
// can be bound as AEAD associated data. Key order must not matter.
func canonicalContext(ectx map[string]string) []byte {
	if len(ectx) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ectx))
	for k := range ectx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(ectx[k])
	}
	return []byte(b.String())
}
