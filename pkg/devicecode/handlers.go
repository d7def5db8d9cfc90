package devicecode

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/dashborion/pkg/httputil"
	"github.com/platinummonkey/dashborion/pkg/middleware"
	"github.com/platinummonkey/dashborion/pkg/observability"
)

// Handlers serves the device authorization endpoints.
type Handlers struct {
	service *Service
	logger  *observability.Logger
}

// NewHandlers creates the device-flow HTTP handlers.
func NewHandlers(service *Service, logger *observability.Logger) *Handlers {
	return &Handlers{service: service, logger: logger}
}

// RegisterRoutes registers the device-flow routes. The code and token
// endpoints serve unauthenticated CLI clients and must be on the
// interceptor's excluded list; verify runs behind it.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/device/code", h.HandleCode).Methods("POST")
	router.HandleFunc("/auth/device/verify", h.HandleVerify).Methods("POST")
	router.HandleFunc("/auth/device/token", h.HandleToken).Methods("POST")
}

// HandleCode handles POST /auth/device/code, starting a flow for a CLI.
func (h *Handlers) HandleCode(w http.ResponseWriter, r *http.Request) {
	grant, err := h.service.Initiate(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("failed to initiate device flow")
		httputil.WriteGenericServerError(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, grant)
}

type verifyRequest struct {
	UserCode string `json:"user_code"`
}

// HandleVerify handles POST /auth/device/verify from the authenticated
// browser session.
func (h *Handlers) HandleVerify(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.SessionFromContext(r)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req verifyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	userCode := normalizeUserCode(req.UserCode)
	if userCode == "" {
		httputil.WriteBadRequest(w, "user_code is required")
		return
	}

	switch err := h.service.Verify(r.Context(), userCode, sess.Email); {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "approved"})
	case errors.Is(err, ErrUnknownCode):
		httputil.WriteBadRequest(w, "unknown or expired code")
	case errors.Is(err, ErrCodeExpired):
		httputil.WriteBadRequest(w, "code has expired, restart the login on your device")
	case errors.Is(err, ErrCodeConsumed):
		httputil.WriteBadRequest(w, "code has already been used")
	default:
		h.logger.WithError(err).Error("device code verification failed")
		httputil.WriteGenericServerError(w)
	}
}

type tokenRequest struct {
	DeviceCode string `json:"device_code"`
}

// HandleToken handles POST /auth/device/token, the CLI polling endpoint.
// Error bodies follow the OAuth device-flow convention so standard clients
// know when to keep polling and when to give up.
func (h *Handlers) HandleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.DeviceCode == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	tokens, err := h.service.Poll(r.Context(), req.DeviceCode)
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, tokens)
	case errors.Is(err, ErrAuthorizationPending):
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "authorization_pending"})
	case errors.Is(err, ErrCodeExpired):
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "expired_token"})
	case errors.Is(err, ErrCodeConsumed), errors.Is(err, ErrUnknownCode):
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
	default:
		h.logger.WithError(err).Error("device token poll failed")
		httputil.WriteGenericServerError(w)
	}
}

// normalizeUserCode uppercases and re-hyphenates whatever the user typed:
// "abcd-efgh", "ABCDEFGH", and "abcd efgh" all become "ABCD-EFGH".
func normalizeUserCode(raw string) string {
	cleaned := strings.ToUpper(strings.NewReplacer("-", "", " ", "").Replace(strings.TrimSpace(raw)))
	if len(cleaned) != 8 {
		return ""
	}
	return cleaned[:4] + "-" + cleaned[4:]
}
