package envelope

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const gcmTagSize = 16

// LocalSealer encrypts session payloads with a fixed symmetric key
// provisioned out of band. AES-256-GCM with a fresh random nonce per call;
// the encryption context is bound as associated data.
type LocalSealer struct {
	aead cipher.AEAD
}

// NewLocalSealer creates a sealer over a 32-byte key.
func NewLocalSealer(key []byte) (*LocalSealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("local sealer requires a 32-byte key, got %d bytes", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}

	return &LocalSealer{aead: aead}, nil
}

// Backend returns the metrics label for this implementation
func (s *LocalSealer) Backend() string {
	return "local"
}

// Seal encrypts plaintext under a fresh random nonce.
func (s *LocalSealer) Seal(_ context.Context, plaintext []byte, ectx map[string]string) (*Envelope, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := s.aead.Seal(nil, nonce, plaintext, canonicalContext(ectx))

	// GCM appends the auth tag to the ciphertext; split it out so the
	// envelope carries {ciphertext, nonce, tag} as separate fields.
	split := len(sealed) - gcmTagSize
	return &Envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[:split]),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Tag:        base64.StdEncoding.EncodeToString(sealed[split:]),
	}, nil
}

// Open decrypts an envelope. Every failure mode (bad encoding, wrong nonce
// size, tag mismatch, context mismatch) collapses to ErrIntegrity; no
// partial plaintext is ever returned.
func (s *LocalSealer) Open(_ context.Context, env *Envelope, ectx map[string]string) ([]byte, error) {
	if env == nil {
		return nil, ErrIntegrity
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, ErrIntegrity
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonce) != s.aead.NonceSize() {
		return nil, ErrIntegrity
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil || len(tag) != gcmTagSize {
		return nil, ErrIntegrity
	}

	plaintext, err := s.aead.Open(nil, nonce, append(ciphertext, tag...), canonicalContext(ectx))
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}
