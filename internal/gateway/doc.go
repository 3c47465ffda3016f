// Package gateway provides the request gatekeeper shared by the API
// endpoints.
//
// A Gatekeeper wraps an endpoint handler and runs, in order:
//
//  1. method check (POST only)
//  2. key-value store resolution
//  3. origin policy
//  4. content-type allow-list
//  5. body size limit
//  6. Idempotency-Key parsing
//  7. idempotency begin (replay, in progress, or acquired)
//
// Cheap checks that an attacker can trigger run before any store access. The
// handler receives a *Request carrying the body, the parsed form, the request
// context and a rate limiter bound to the resolved store. Its Response is
// committed as the idempotent result, except for 429 responses which roll the
// lock back so that the key stays usable once the window resets.
//
// # Usage
//
//	gk := gateway.New(resolver, gateway.NewOriginPolicy(siteURL, extras, false),
//	    gateway.WithLogger(logger),
//	)
//	mux.Handle("/api/contact", gk.Handle(route, contactHandler))
package gateway
