package session

import (
	"net/http"
	"time"
)

// Transport moves sessions between the browser and the edge. Implementations
// must reject expired sessions even when the payload decrypts cleanly.
type Transport interface {
	// Issue attaches a freshly minted session to the response.
	Issue(w http.ResponseWriter, r *http.Request, s *Session) error

	// Resolve extracts and validates the session presented by a request.
	// Returns ErrNoSession, ErrInvalid, or ErrExpired on failure.
	Resolve(r *http.Request) (*Session, error)

	// Logout clears the session from the response and, where the transport
	// supports it, revokes the server-side record.
	Logout(w http.ResponseWriter, r *http.Request)

	// Name identifies the transport for metrics labels.
	Name() string
}

// CookieConfig holds the cookie attributes shared by both transports.
type CookieConfig struct {
	Name     string
	Domain   string
	SameSite http.SameSite
	Secure   bool
	TTL      time.Duration
}

func (c CookieConfig) newCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Domain:   c.Domain,
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: c.SameSite,
	}
}

func (c CookieConfig) set(w http.ResponseWriter, value string) {
	http.SetCookie(w, c.newCookie(value, int(c.TTL.Seconds())))
}

func (c CookieConfig) clear(w http.ResponseWriter) {
	http.SetCookie(w, c.newCookie("", -1))
}
