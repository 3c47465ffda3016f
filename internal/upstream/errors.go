package upstream

import (
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when a sink has no endpoint or credentials.
var ErrNotConfigured = errors.New("upstream sink not configured")

// Kind classifies an upstream failure.
type Kind string

const (
	// KindUnavailable covers transport errors, timeouts, an open breaker and
	// 5xx answers.
	KindUnavailable Kind = "unavailable"

	// KindValidation is a 422 or 400 answer: the sink refused the payload.
	KindValidation Kind = "validation"

	// KindRejected is any other non-success answer.
	KindRejected Kind = "rejected"
)

// Error is a normalized upstream failure. Body holds at most a short excerpt
// of the upstream answer and is meant for logs only.
type Error struct {
	Sink       string
	Op         string
	Kind       Kind
	StatusCode int
	Body       string
	Err        error
}

// Error implements error.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Sink, e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is an upstream validation failure.
func IsValidation(err error) bool {
	var ue *Error
	return errors.As(err, &ue) && ue.Kind == KindValidation
}
