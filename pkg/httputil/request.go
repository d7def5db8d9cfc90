package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxJSONBodyBytes caps JSON request bodies. The device-flow endpoints only
// ever receive a single short code, so 16KB is generous.
const maxJSONBodyBytes = 16 * 1024

// ParseJSON decodes a JSON request body into dst, rejecting oversized bodies
// and unknown fields.
func ParseJSON(r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(nil, r.Body, maxJSONBodyBytes)
	defer io.Copy(io.Discard, body)

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// ParseJSONOrError decodes JSON into dst; on failure it writes a 400 response
// and returns false.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := ParseJSON(r, dst); err != nil {
		WriteBadRequest(w, "invalid request body")
		return false
	}
	return true
}

// ClientIP returns the originating client address, preferring the first
// X-Forwarded-For entry set by the fronting load balancer.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	host := r.RemoteAddr
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == ':' {
			return host[:i]
		}
	}
	return host
}
