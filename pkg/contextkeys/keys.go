// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//   import "github.com/platinummonkey/dashborion/pkg/contextkeys"
//   ctx = context.WithValue(ctx, contextkeys.SessionKey, sess)
//   sess := ctx.Value(contextkeys.SessionKey).(*session.Session)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SessionKey contains *session.Session for the authenticated request
	// Set by: middleware.Protect after successful session resolution
	// Required by: device-code verify handler, any handler needing identity
	// Type: *session.Session
	SessionKey Key = "session"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, error responses, correlation with upstream logs
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: Observability middleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithSession adds the resolved session to the context
func WithSession(ctx context.Context, sess interface{}) context.Context {
	return context.WithValue(ctx, SessionKey, sess)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
