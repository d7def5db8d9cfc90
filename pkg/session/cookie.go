package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/platinummonkey/dashborion/pkg/envelope"
)

// CookieTransport carries the whole session in an encrypted cookie. No
// store round trip per request, which is what the edge-interceptor hot
// path needs; the trade-off is that revocation waits for expiry.
type CookieTransport struct {
	sealer  envelope.Sealer
	cookie  CookieConfig
	service string
}

// NewCookieTransport creates the self-contained cookie transport.
func NewCookieTransport(sealer envelope.Sealer, cookie CookieConfig, serviceName string) *CookieTransport {
	return &CookieTransport{sealer: sealer, cookie: cookie, service: serviceName}
}

// Name identifies the transport for metrics labels.
func (t *CookieTransport) Name() string {
	return "cookie"
}

func (t *CookieTransport) encryptionContext() map[string]string {
	return map[string]string{
		"service": t.service,
		"purpose": "session-cookie",
	}
}

// Issue seals the session and sets it as the cookie value.
func (t *CookieTransport) Issue(w http.ResponseWriter, r *http.Request, s *Session) error {
	plaintext, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	env, err := t.sealer.Seal(r.Context(), plaintext, t.encryptionContext())
	if err != nil {
		return fmt.Errorf("failed to seal session: %w", err)
	}

	encoded, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	t.cookie.set(w, base64.RawURLEncoding.EncodeToString(encoded))
	return nil
}

// Resolve decrypts the cookie and checks expiry. Every decrypt or decode
// failure collapses to ErrInvalid.
func (t *CookieTransport) Resolve(r *http.Request) (*Session, error) {
	c, err := r.Cookie(t.cookie.Name)
	if err != nil || c.Value == "" {
		return nil, ErrNoSession
	}

	encoded, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return nil, ErrInvalid
	}

	var env envelope.Envelope
	if err := json.Unmarshal(encoded, &env); err != nil {
		return nil, ErrInvalid
	}

	plaintext, err := t.sealer.Open(r.Context(), &env, t.encryptionContext())
	if err != nil {
		return nil, ErrInvalid
	}

	var s Session
	if err := json.Unmarshal(plaintext, &s); err != nil {
		return nil, ErrInvalid
	}

	if !s.IsValid() {
		return nil, ErrExpired
	}
	return &s, nil
}

// Logout clears the cookie. There is no server-side record to revoke.
func (t *CookieTransport) Logout(w http.ResponseWriter, _ *http.Request) {
	t.cookie.clear(w)
}
