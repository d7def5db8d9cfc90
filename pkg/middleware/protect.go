// Package middleware contains the edge request interceptor that sits in
// front of the dashboard origin. Every inbound request is either passed
// through (excluded paths), terminated (logout), forwarded with identity
// headers (valid session), or redirected to the identity provider.
package middleware

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/dashborion/pkg/contextkeys"
	"github.com/platinummonkey/dashborion/pkg/observability"
	"github.com/platinummonkey/dashborion/pkg/session"
)

// Forwarded identity headers. Never originated by the browser; any inbound
// copies are stripped before injection so a client cannot spoof identity.
const (
	HeaderUserID      = "X-Auth-User-Id"
	HeaderUserEmail   = "X-Auth-User-Email"
	HeaderUserGroups  = "X-Auth-User-Groups"
	HeaderUserRoles   = "X-Auth-User-Roles"
	HeaderSessionID   = "X-Auth-Session-Id"
	HeaderMFAVerified = "X-Auth-Mfa-Verified"
	HeaderPermissions = "X-Auth-Permissions"
)

var authHeaders = []string{
	HeaderUserID,
	HeaderUserEmail,
	HeaderUserGroups,
	HeaderUserRoles,
	HeaderSessionID,
	HeaderMFAVerified,
	HeaderPermissions,
}

// RedirectBuilder builds the IdP login redirect for unauthenticated
// requests.
type RedirectBuilder interface {
	BuildLoginRedirect(relayState string) (string, error)
}

// Protector is the edge interceptor. It never returns an error to the
// caller: a request either continues toward the origin or is redirected to
// the login flow.
type Protector struct {
	transport     session.Transport
	redirects     RedirectBuilder
	logger        *observability.Logger
	metrics       *observability.Metrics
	excludedPaths []string
	logoutPath    string
}

// NewProtector creates the edge interceptor.
func NewProtector(transport session.Transport, redirects RedirectBuilder, logger *observability.Logger, metrics *observability.Metrics, excludedPaths []string, logoutPath string) *Protector {
	return &Protector{
		transport:     transport,
		redirects:     redirects,
		logger:        logger,
		metrics:       metrics,
		excludedPaths: excludedPaths,
		logoutPath:    logoutPath,
	}
}

// Protect wraps a handler with the per-request auth state machine.
func (p *Protector) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p.isExcluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if r.URL.Path == p.logoutPath {
			p.transport.Logout(w, r)
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}

		start := time.Now()
		sess, err := p.transport.Resolve(r)
		p.metrics.SessionValidationDuration.WithLabelValues(p.transport.Name()).Observe(time.Since(start).Seconds())

		if err != nil {
			outcome := p.classify(err)
			p.metrics.SessionValidationsTotal.WithLabelValues(p.transport.Name(), outcome).Inc()
			p.redirectToLogin(w, r, outcome)
			return
		}
		p.metrics.SessionValidationsTotal.WithLabelValues(p.transport.Name(), "valid").Inc()

		if err := injectHeaders(r, sess); err != nil {
			// Header injection only fails if the permission set cannot be
			// serialized, which means the session payload is unusable.
			p.logger.WithError(err).Error("failed to encode permission headers")
			p.redirectToLogin(w, r, "invalid")
			return
		}

		ctx := contextkeys.WithSession(r.Context(), sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (p *Protector) isExcluded(path string) bool {
	for _, excluded := range p.excludedPaths {
		if path == excluded || strings.HasPrefix(path, excluded+"/") {
			return true
		}
	}
	return false
}

func (p *Protector) classify(err error) string {
	switch {
	case errors.Is(err, session.ErrNoSession):
		return "missing"
	case errors.Is(err, session.ErrExpired):
		return "expired"
	case errors.Is(err, session.ErrInvalid):
		return "invalid"
	default:
		// Store or backend fault. Logged with the cause; the caller still
		// just gets a login redirect.
		p.logger.WithError(err).Error("session resolution failed")
		return "error"
	}
}

// redirectToLogin sends the browser to the IdP with the full original URL
// as RelayState so the user lands back where they started.
func (p *Protector) redirectToLogin(w http.ResponseWriter, r *http.Request, reason string) {
	p.metrics.LoginRedirectsTotal.WithLabelValues(reason).Inc()

	authURL, err := p.redirects.BuildLoginRedirect(originalURL(r))
	if err != nil {
		p.logger.WithError(err).Error("failed to build login redirect")
		http.Redirect(w, r, "/saml/login", http.StatusFound)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// originalURL reconstructs the externally visible URL of a request,
// trusting the proto header set by the TLS-terminating load balancer.
func originalURL(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}

	u := scheme + "://" + r.Host + r.URL.Path
	if r.URL.RawQuery != "" {
		u += "?" + r.URL.RawQuery
	}
	return u
}

// injectHeaders strips any inbound identity headers and sets the
// authenticated ones.
func injectHeaders(r *http.Request, sess *session.Session) error {
	for _, h := range authHeaders {
		r.Header.Del(h)
	}

	permsJSON, err := json.Marshal(sess.Permissions)
	if err != nil {
		return err
	}

	roles := make([]string, len(sess.Roles))
	for i, role := range sess.Roles {
		roles[i] = string(role)
	}

	r.Header.Set(HeaderUserID, sess.UserID)
	r.Header.Set(HeaderUserEmail, sess.Email)
	r.Header.Set(HeaderUserGroups, strings.Join(sess.Groups, ","))
	r.Header.Set(HeaderUserRoles, strings.Join(roles, ","))
	r.Header.Set(HeaderSessionID, sess.SessionID)
	r.Header.Set(HeaderMFAVerified, boolHeader(sess.MFAVerified))
	r.Header.Set(HeaderPermissions, base64.StdEncoding.EncodeToString(permsJSON))
	return nil
}

func boolHeader(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

// SessionFromContext returns the session attached by Protect, if any.
func SessionFromContext(r *http.Request) (*session.Session, bool) {
	sess, ok := r.Context().Value(contextkeys.SessionKey).(*session.Session)
	return sess, ok
}
