package httputil

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/platinummonkey/dashborion/pkg/contextkeys"
	"github.com/platinummonkey/dashborion/pkg/observability"
)

// Middleware is a standard HTTP middleware function
type Middleware func(http.Handler) http.Handler

// Chain composes middlewares; the first listed runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// RequestIDMiddleware assigns a UUID request ID, stores it in the context,
// and echoes it on the response for correlation.
func RequestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-Id")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			ctx := contextkeys.WithRequestID(r.Context(), requestID)
			w.Header().Set("X-Request-Id", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerMiddleware stores the logger in the request context so handlers can
// use observability.FromContext.
func LoggerMiddleware(logger *observability.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := observability.WithLogger(r.Context(), logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RecoveryMiddleware converts handler panics into a generic 500 response.
func RecoveryMiddleware(logger *observability.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.WithField("panic", rec).
						WithField("path", r.URL.Path).
						Error("handler panic recovered")
					WriteGenericServerError(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
