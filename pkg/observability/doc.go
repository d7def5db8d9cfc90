// Package observability provides logging, metrics, tracing, health checks,
// and graceful shutdown for the Dashborion auth service.
//
// # Logging
//
// Structured JSON logging via a thin wrapper over log/slog:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("session_prefix", prefix).Info("session issued")
//
// Session identifiers must never be logged in full; callers log the
// 8-character hash prefix produced by the session package.
//
// # Metrics
//
// Prometheus metrics cover the login flow (assertion validation outcomes),
// per-request session validation, envelope seal/open operations, store
// round trips, and the device-code pairing flow:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.AssertionValidationsTotal.WithLabelValues("ok").Inc()
//
// # Tracing
//
// OTLP gRPC trace export; metrics stay on the Prometheus scrape path:
//
//	providers, err := observability.InitOTel(ctx, otelCfg, logger)
//	defer providers.Shutdown(ctx)
//
// # Health Checks
//
// Liveness is unconditional; readiness pings the session store backend:
//
//	checker := observability.NewHealthChecker(redisClient)
//	observability.RegisterHealthRoutes(mux, checker)
package observability
