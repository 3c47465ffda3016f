package idempotency

import (
	"errors"
	"net/http"
	"strings"
)

// Header is the request header carrying the idempotency key.
const Header = "Idempotency-Key"

// MaxKeyLength is the longest accepted idempotency key.
const MaxKeyLength = 120

// ErrInvalidKey is returned for a present but unusable idempotency key.
var ErrInvalidKey = errors.New("invalid idempotency key")

// ParseKey reads the idempotency key from h. present is false when the header
// is absent, in which case idempotency is skipped.
func ParseKey(h http.Header) (key string, present bool, err error) {
	values, ok := h[http.CanonicalHeaderKey(Header)]
	if !ok || len(values) == 0 {
		return "", false, nil
	}

	key = strings.TrimSpace(values[0])
	if key == "" {
		return "", true, ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return "", true, ErrInvalidKey
	}
	return key, true, nil
}

// LockKey returns the store key of the lock for (scope, key).
func LockKey(scope, key string) string {
	return "idempotency:lock:" + scope + ":" + key
}

// ResultKey returns the store key of the committed result for (scope, key).
func ResultKey(scope, key string) string {
	return "idempotency:result:" + scope + ":" + key
}
