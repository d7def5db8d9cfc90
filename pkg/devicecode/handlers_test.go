package devicecode

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/dashborion/pkg/contextkeys"
	"github.com/platinummonkey/dashborion/pkg/observability"
	"github.com/platinummonkey/dashborion/pkg/session"
)

type deviceFixture struct {
	store   *MemoryStore
	service *Service
	router  *mux.Router
}

func newDeviceFixture(t *testing.T) *deviceFixture {
	t.Helper()
	store := NewMemoryStore()
	service := NewService(store, Config{
		CodeTTL:         10 * time.Minute,
		PollInterval:    5 * time.Second,
		TokenTTL:        time.Hour,
		VerificationURL: "/device",
	}, observability.NewLogger(observability.ErrorLevel, io.Discard), observability.NewMetrics(prometheus.NewRegistry()))

	router := mux.NewRouter()
	NewHandlers(service, observability.NewLogger(observability.ErrorLevel, io.Discard)).RegisterRoutes(router)
	return &deviceFixture{store: store, service: service, router: router}
}

func (f *deviceFixture) post(t *testing.T, path string, body interface{}, sess *session.Session) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	r := httptest.NewRequest(http.MethodPost, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	if sess != nil {
		r = r.WithContext(contextkeys.WithSession(r.Context(), sess))
	}

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	return w
}

func decodeGrant(t *testing.T, w *httptest.ResponseRecorder) Grant {
	t.Helper()
	var grant Grant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &grant))
	return grant
}

func oauthError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"]
}

func TestHandleCode(t *testing.T) {
	f := newDeviceFixture(t)

	w := f.post(t, "/auth/device/code", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	grant := decodeGrant(t, w)
	assert.NotEmpty(t, grant.DeviceCode)
	assert.Len(t, grant.UserCode, 9)
	assert.Equal(t, "/device", grant.VerificationURL)
	assert.Equal(t, 600, grant.ExpiresIn)
	assert.Equal(t, 5, grant.Interval)
}

func TestHandleVerifyRequiresSession(t *testing.T) {
	f := newDeviceFixture(t)

	w := f.post(t, "/auth/device/verify", verifyRequest{UserCode: "AAAA-BBBB"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDeviceFlowOverHTTP(t *testing.T) {
	f := newDeviceFixture(t)
	sess := &session.Session{Email: "user@example.com", ExpiresAt: time.Now().Add(time.Hour)}

	grant := decodeGrant(t, f.post(t, "/auth/device/code", nil, nil))

	// CLI polls too early
	w := f.post(t, "/auth/device/token", tokenRequest{DeviceCode: grant.DeviceCode}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "authorization_pending", oauthError(t, w))

	// user approves in the browser, code typed lowercase without hyphen
	w = f.post(t, "/auth/device/verify", verifyRequest{UserCode: normalizeForTest(grant.UserCode)}, sess)
	require.Equal(t, http.StatusOK, w.Code)

	// CLI picks up tokens
	w = f.post(t, "/auth/device/token", tokenRequest{DeviceCode: grant.DeviceCode}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tokens Tokens
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tokens))
	assert.Regexp(t, `^dash_`, tokens.AccessToken)
	assert.Equal(t, "Bearer", tokens.TokenType)

	// replayed poll is terminal
	w = f.post(t, "/auth/device/token", tokenRequest{DeviceCode: grant.DeviceCode}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_grant", oauthError(t, w))
}

// normalizeForTest lowercases and strips the hyphen, mimicking sloppy entry.
func normalizeForTest(userCode string) string {
	out := make([]byte, 0, len(userCode))
	for i := 0; i < len(userCode); i++ {
		c := userCode[i]
		if c == '-' {
			continue
		}
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

func TestHandleVerifyBadCodes(t *testing.T) {
	f := newDeviceFixture(t)
	sess := &session.Session{Email: "user@example.com", ExpiresAt: time.Now().Add(time.Hour)}

	tests := []struct {
		name     string
		userCode string
	}{
		{name: "unknown", userCode: "AAAA-BBBB"},
		{name: "empty", userCode: ""},
		{name: "wrong length", userCode: "AB-CD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.post(t, "/auth/device/verify", verifyRequest{UserCode: tt.userCode}, sess)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestHandleTokenExpiredCode(t *testing.T) {
	f := newDeviceFixture(t)

	grant := decodeGrant(t, f.post(t, "/auth/device/code", nil, nil))

	ctx := context.Background()
	code, err := f.store.GetByUserCode(ctx, grant.UserCode)
	require.NoError(t, err)
	code.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, f.store.SaveCode(ctx, code))

	w := f.post(t, "/auth/device/token", tokenRequest{DeviceCode: grant.DeviceCode}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "expired_token", oauthError(t, w))
}

func TestHandleTokenMissingDeviceCode(t *testing.T) {
	f := newDeviceFixture(t)

	w := f.post(t, "/auth/device/token", tokenRequest{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", oauthError(t, w))
}
