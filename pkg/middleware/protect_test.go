package middleware

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/dashborion/pkg/envelope"
	"github.com/platinummonkey/dashborion/pkg/observability"
	"github.com/platinummonkey/dashborion/pkg/permissions"
	"github.com/platinummonkey/dashborion/pkg/session"
)

type fakeRedirects struct {
	lastRelay string
	err       error
}

func (f *fakeRedirects) BuildLoginRedirect(relayState string) (string, error) {
	f.lastRelay = relayState
	if f.err != nil {
		return "", f.err
	}
	return "https://idp.example.com/sso?RelayState=" + url.QueryEscape(relayState), nil
}

type protectFixture struct {
	protector *Protector
	transport session.Transport
	manager   *session.Manager
	redirects *fakeRedirects
	seen      *http.Request
	handler   http.Handler
}

func newProtectFixture(t *testing.T) *protectFixture {
	t.Helper()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	sealer, err := envelope.NewLocalSealer(key)
	require.NoError(t, err)

	transport := session.NewCookieTransport(sealer, session.CookieConfig{
		Name:     "dashborion_session",
		SameSite: http.SameSiteLaxMode,
		Secure:   true,
		TTL:      time.Hour,
	}, "dashborion-auth")

	f := &protectFixture{
		transport: transport,
		manager:   session.NewManager(time.Hour, "dashborion-"),
		redirects: &fakeRedirects{},
	}

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	f.protector = NewProtector(
		transport,
		f.redirects,
		logger,
		observability.NewMetrics(prometheus.NewRegistry()),
		[]string{"/health", "/saml/acs", "/saml/login", "/saml/metadata"},
		"/auth/logout",
	)

	f.handler = f.protector.Protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.seen = r
		w.WriteHeader(http.StatusOK)
	}))
	return f
}

func (f *protectFixture) authenticatedRequest(t *testing.T, target string) (*http.Request, *session.Session) {
	t.Helper()
	s := f.manager.Create(session.Identity{
		UserID:      "user@example.com",
		Email:       "user@example.com",
		DisplayName: "Example User",
		Groups:      []string{"dashborion-acme-operator", "all-employees"},
		MFAVerified: true,
	}, "10.1.2.3")

	w := httptest.NewRecorder()
	issue := httptest.NewRequest(http.MethodPost, "/saml/acs", nil)
	require.NoError(t, f.transport.Issue(w, issue, s))

	r := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range w.Result().Cookies() {
		r.AddCookie(c)
	}
	return r, s
}

func TestProtectExcludedPathsPassThrough(t *testing.T) {
	f := newProtectFixture(t)

	for _, path := range []string{"/health", "/health/ready", "/saml/acs", "/saml/metadata", "/saml/login"} {
		t.Run(path, func(t *testing.T) {
			f.seen = nil
			w := httptest.NewRecorder()
			f.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

			assert.Equal(t, http.StatusOK, w.Code)
			require.NotNil(t, f.seen, "request should reach the origin without a session")
			assert.Empty(t, f.seen.Header.Get(HeaderUserEmail))
		})
	}
}

func TestProtectExcludedIsNotPrefixMatch(t *testing.T) {
	f := newProtectFixture(t)

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthcheck-lookalike", nil))
	assert.Equal(t, http.StatusFound, w.Code, "/healthcheck-lookalike must not ride the /health exclusion")
}

func TestProtectLogout(t *testing.T) {
	f := newProtectFixture(t)
	r, _ := f.authenticatedRequest(t, "/auth/logout")

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Empty(t, cookies[0].Value)
	assert.Negative(t, cookies[0].MaxAge)
	assert.Nil(t, f.seen)
}

func TestProtectNoSessionRedirectsWithFullOriginalURL(t *testing.T) {
	f := newProtectFixture(t)

	r := httptest.NewRequest(http.MethodGet, "https://dashboard.example.com/projects/acme?env=staging", nil)
	r.Header.Set("X-Forwarded-Proto", "https")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://dashboard.example.com/projects/acme?env=staging", f.redirects.lastRelay)
	assert.Contains(t, w.Header().Get("Location"), "https://idp.example.com/sso")
	assert.Nil(t, f.seen)
}

func TestProtectValidSessionInjectsHeaders(t *testing.T) {
	f := newProtectFixture(t)
	r, s := f.authenticatedRequest(t, "/projects/acme")

	// spoofed inbound identity must be stripped, not forwarded
	r.Header.Set(HeaderUserEmail, "attacker@example.com")
	r.Header.Set(HeaderUserRoles, "admin")

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, f.seen)

	assert.Equal(t, "user@example.com", f.seen.Header.Get(HeaderUserID))
	assert.Equal(t, "user@example.com", f.seen.Header.Get(HeaderUserEmail))
	assert.Equal(t, "dashborion-acme-operator,all-employees", f.seen.Header.Get(HeaderUserGroups))
	assert.Equal(t, "operator", f.seen.Header.Get(HeaderUserRoles))
	assert.Equal(t, s.SessionID, f.seen.Header.Get(HeaderSessionID))
	assert.Equal(t, "true", f.seen.Header.Get(HeaderMFAVerified))

	decoded, err := base64.StdEncoding.DecodeString(f.seen.Header.Get(HeaderPermissions))
	require.NoError(t, err)
	var perms []permissions.ProjectPermission
	require.NoError(t, json.Unmarshal(decoded, &perms))
	require.Len(t, perms, 1)
	assert.Equal(t, "acme", perms[0].Project)
	assert.Equal(t, permissions.RoleOperator, perms[0].Role)

	sess, ok := SessionFromContext(f.seen)
	require.True(t, ok)
	assert.Equal(t, s.SessionID, sess.SessionID)
}

func TestProtectExpiredSessionRedirects(t *testing.T) {
	f := newProtectFixture(t)
	f.manager = session.NewManager(time.Millisecond, "dashborion-")
	r, _ := f.authenticatedRequest(t, "/projects/acme")

	time.Sleep(5 * time.Millisecond)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Nil(t, f.seen)
}

func TestProtectTamperedCookieRedirects(t *testing.T) {
	f := newProtectFixture(t)

	r := httptest.NewRequest(http.MethodGet, "/projects/acme", nil)
	r.AddCookie(&http.Cookie{Name: "dashborion_session", Value: "garbage"})
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Nil(t, f.seen)
}

func TestProtectRedirectBuildFailureFallsBack(t *testing.T) {
	f := newProtectFixture(t)
	f.redirects.err = assert.AnError

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/projects/acme", nil))

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/saml/login", w.Header().Get("Location"))
}
