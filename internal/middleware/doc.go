// Package middleware provides the net/http middleware wrapped around the
// formgate router: panic recovery, request ids, access logging, CORS,
// response hardening headers and client IP extraction.
//
// Middleware has the form func(http.Handler) http.Handler and is composed
// with Chain:
//
//	handler := middleware.Chain(router,
//	    middleware.Recovery(logger),
//	    middleware.RequestID(),
//	    middleware.AccessLog(logger, extractor),
//	)
package middleware

import "net/http"

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// Chain applies mws to h so that the first middleware is the outermost.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
