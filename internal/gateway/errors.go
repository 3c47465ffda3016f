package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// Code is a machine-readable error code returned to clients.
type Code string

// Error codes.
const (
	CodeInvalidOrigin      Code = "invalid_origin"
	CodeInvalidContentType Code = "invalid_content_type"
	CodePayloadTooLarge    Code = "payload_too_large"
	CodeInvalidRequest     Code = "invalid_request"
	CodeRateLimited        Code = "rate_limited"
	CodeRequestInProgress  Code = "request_in_progress"
	CodeUpstreamError      Code = "upstream_error"
	CodeServerError        Code = "server_error"
	CodeMethodNotAllowed   Code = "method_not_allowed"
)

// Client-facing messages for pipeline rejections.
const (
	msgMethodNotAllowed   = "Method not allowed."
	msgStoreUnavailable   = "Service temporarily unavailable. Please try again later."
	msgInvalidOrigin      = "Requests from this origin are not allowed."
	msgInvalidContentType = "Unsupported content type."
	msgPayloadTooLarge    = "Request body is too large."
	msgInvalidBody        = "Could not read request body."
	msgInvalidKey         = "Invalid Idempotency-Key header."
	msgInProgress         = "A request with this Idempotency-Key is already being processed. Please try again shortly."
	msgRateLimited        = "Too many requests. Please try again later."
)

// APIError is a typed error response.
type APIError struct {
	Status     int
	Code       Code
	Message    string
	RetryAfter int
	Err        error
}

// Error implements error.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%d): %s: %v", e.Code, e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Unwrap returns the underlying cause.
func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError creates an APIError.
func NewAPIError(status int, code Code, message string) *APIError {
	return &APIError{Status: status, Code: code, Message: message}
}

type errorBody struct {
	Success    bool   `json:"success"`
	Code       Code   `json:"code"`
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// Response renders the error as a Response.
func (e *APIError) Response() Response {
	body, _ := json.Marshal(errorBody{
		Success:    false,
		Code:       e.Code,
		Error:      e.Message,
		RetryAfter: e.RetryAfter,
	})
	resp := Response{
		Status: e.Status,
		Body:   body,
		Header: http.Header{},
	}
	resp.Header.Set(HeaderContentType, ContentTypeJSON)
	if e.RetryAfter > 0 {
		resp.Header.Set(HeaderRetryAfter, strconv.Itoa(e.RetryAfter))
	}
	return resp
}
