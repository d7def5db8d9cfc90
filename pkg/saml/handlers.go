package saml

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/dashborion/pkg/httputil"
	"github.com/platinummonkey/dashborion/pkg/observability"
	"github.com/platinummonkey/dashborion/pkg/session"
)

// maxResponseBytes bounds the ACS request body. Real IdP responses are a
// few tens of kilobytes even with large group lists.
const maxResponseBytes = 1 << 20

// Service is the protocol surface the handlers depend on.
type Service interface {
	BuildLoginRedirect(relayState string) (string, error)
	ValidateResponse(encodedResponse string) (*Attributes, error)
	Metadata() ([]byte, error)
}

// Handlers serves the SAML login endpoints.
type Handlers struct {
	service         Service
	manager         *session.Manager
	transport       session.Transport
	logger          *observability.Logger
	metrics         *observability.Metrics
	defaultRedirect string
}

// NewHandlers creates the SAML HTTP handlers.
func NewHandlers(service Service, manager *session.Manager, transport session.Transport, logger *observability.Logger, metrics *observability.Metrics, defaultRedirect string) *Handlers {
	return &Handlers{
		service:         service,
		manager:         manager,
		transport:       transport,
		logger:          logger,
		metrics:         metrics,
		defaultRedirect: defaultRedirect,
	}
}

// RegisterRoutes registers the SAML routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/saml/login", h.HandleLogin).Methods("GET")
	router.HandleFunc("/saml/acs", h.HandleACS).Methods("POST")
	router.HandleFunc("/saml/metadata", h.HandleMetadata).Methods("GET")
}

// HandleLogin handles GET /saml/login, the explicit login entry point. The
// optional redirect query parameter becomes the RelayState.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	relayState := r.URL.Query().Get("redirect")
	if relayState == "" {
		relayState = h.defaultRedirect
	}

	authURL, err := h.service.BuildLoginRedirect(relayState)
	if err != nil {
		h.logger.WithError(err).Error("failed to build login redirect")
		httputil.WriteGenericServerError(w)
		return
	}

	h.metrics.LoginRedirectsTotal.WithLabelValues("explicit").Inc()
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleACS handles POST /saml/acs, the assertion consumer endpoint. On
// success the session is minted and attached via the active transport, then
// the browser is redirected to the RelayState destination.
func (h *Handlers) HandleACS(w http.ResponseWriter, r *http.Request) {
	form, err := parseACSBody(r)
	if err != nil {
		h.logger.WithError(err).Warn("unreadable assertion consumer request")
		h.metrics.AssertionValidationsTotal.WithLabelValues("unreadable").Inc()
		httputil.WriteGenericBadRequest(w)
		return
	}

	attrs, err := h.service.ValidateResponse(form.Get("SAMLResponse"))
	if err != nil {
		if errors.Is(err, ErrMissingEmail) {
			h.metrics.AssertionValidationsTotal.WithLabelValues("missing_email").Inc()
			httputil.WriteBadRequest(w, "assertion does not include an email attribute")
			return
		}
		// Cause already logged by the engine with precision; the response
		// stays generic regardless of which check failed.
		h.metrics.AssertionValidationsTotal.WithLabelValues("invalid").Inc()
		httputil.WriteGenericBadRequest(w)
		return
	}
	h.metrics.AssertionValidationsTotal.WithLabelValues("ok").Inc()

	sess := h.manager.Create(session.Identity{
		UserID:      attrs.NameID,
		Email:       attrs.Email,
		DisplayName: attrs.DisplayName,
		Groups:      attrs.Groups,
		MFAVerified: attrs.MFAVerified,
	}, httputil.ClientIP(r))

	if err := h.transport.Issue(w, r, sess); err != nil {
		h.logger.WithError(err).Error("failed to issue session")
		httputil.WriteGenericServerError(w)
		return
	}
	h.metrics.SessionsIssuedTotal.WithLabelValues(h.transport.Name()).Inc()

	h.logger.WithFields(map[string]interface{}{
		"email":      attrs.Email,
		"groups":     len(attrs.Groups),
		"session_id": sess.SessionID[:8],
	}).Info("login succeeded")

	redirect := form.Get("RelayState")
	if redirect == "" {
		redirect = h.defaultRedirect
	}
	http.Redirect(w, r, redirect, http.StatusFound)
}

// HandleMetadata handles GET /saml/metadata for IdP registration.
func (h *Handlers) HandleMetadata(w http.ResponseWriter, r *http.Request) {
	metadata, err := h.service.Metadata()
	if err != nil {
		h.logger.WithError(err).Error("failed to render SP metadata")
		httputil.WriteGenericServerError(w)
		return
	}

	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	w.Write(metadata)
}

// parseACSBody reads the callback form. Some front-end proxies forward the
// whole body base64-encoded rather than as form data; detect that case and
// decode before parsing.
func parseACSBody(r *http.Request) (url.Values, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	raw := string(body)
	if !strings.Contains(raw, "SAMLResponse=") {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, err
		}
		raw = string(decoded)
	}

	return url.ParseQuery(raw)
}
