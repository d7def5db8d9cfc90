// Package middleware implements the authentication interceptor that
// fronts every dashboard route.
//
// # Overview
//
// The Protector resolves the session from the request, injects identity
// headers for the upstream, and redirects unauthenticated browsers to
// the SAML login flow. It never returns an error to the caller; every
// failure mode collapses into either a pass-through (excluded paths) or
// a login redirect.
//
// # Usage
//
//	p := middleware.NewProtector(transport, engine, logger, metrics, excluded, "/logout")
//	srv := &http.Server{Handler: p.Protect(upstream)}
//
// Downstream handlers read the resolved session either from the
// injected X-Auth-* headers or via middleware.SessionFromContext.
//
// # Related Packages
//
//   - pkg/session: session resolution and transports
//   - pkg/saml: login redirect construction
package middleware
