package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/vyrodovalexey/formgate/internal/kv"
	"github.com/vyrodovalexey/formgate/internal/observability"
	"github.com/vyrodovalexey/formgate/internal/ratelimit"
)

// HandlerFunc is an endpoint handler run behind the gatekeeper.
type HandlerFunc func(req *Request) Response

// Response is what a handler returns. It becomes the idempotent result of the
// request unless its status is 429.
type Response struct {
	Status int
	Body   []byte
	Header http.Header
}

// Request is the gatekeeper's view of an accepted request.
type Request struct {
	// Context describes the caller.
	Context RequestContext

	// Body is the raw body, at most the route's MaxBodyBytes long.
	Body []byte

	// Header is the inbound header.
	Header http.Header

	// MediaType is the parsed Content-Type without parameters.
	MediaType string

	// Form holds the decoded fields of form-encoded and multipart bodies. It
	// is nil for JSON bodies.
	Form url.Values

	// Store is the key-value store resolved for this request.
	Store kv.Store

	// Limiter checks rate limits against Store.
	Limiter *ratelimit.Limiter

	// Logger carries the route, request id, client IP and fingerprint.
	Logger observability.Logger

	ctx context.Context
}

// Ctx returns the request's context.Context.
func (r *Request) Ctx() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// Log returns the request-scoped logger.
func (r *Request) Log() observability.Logger {
	if r.Logger == nil {
		return observability.NopLogger()
	}
	return r.Logger
}

// IsForm reports whether the body was form-encoded.
func (r *Request) IsForm() bool {
	return r.Form != nil
}

// Respond builds a response with a raw body.
func (r *Request) Respond(status int, body []byte, headers map[string]string) Response {
	resp := Response{
		Status: status,
		Body:   body,
		Header: http.Header{},
	}
	for k, v := range headers {
		resp.Header.Set(k, v)
	}
	if resp.Header.Get(HeaderContentType) == "" {
		resp.Header.Set(HeaderContentType, ContentTypeJSON)
	}
	return resp
}

// JSON builds a JSON response from v.
func (r *Request) JSON(status int, v interface{}) Response {
	body, err := json.Marshal(v)
	if err != nil {
		return r.Error(http.StatusInternalServerError, CodeServerError, "Unexpected server error.")
	}
	return r.Respond(status, body, nil)
}

// Error builds a typed error response.
func (r *Request) Error(status int, code Code, message string) Response {
	return NewAPIError(status, code, message).Response()
}

// RateLimited builds a 429 response from a limited result.
func (r *Request) RateLimited(res ratelimit.Result) Response {
	retryAfter := res.RetryAfterSeconds
	if retryAfter < 1 {
		retryAfter = 1
	}
	return (&APIError{
		Status:     http.StatusTooManyRequests,
		Code:       CodeRateLimited,
		Message:    msgRateLimited,
		RetryAfter: retryAfter,
	}).Response()
}
