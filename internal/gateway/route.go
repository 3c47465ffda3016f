package gateway

import (
	"strings"
	"time"

	"github.com/vyrodovalexey/formgate/internal/idempotency"
)

// Header names and media types used by the gatekeeper.
const (
	HeaderContentType      = "Content-Type"
	HeaderRetryAfter       = "Retry-After"
	HeaderOrigin           = "Origin"
	HeaderRequestID        = "X-Request-ID"
	HeaderIdempotentReplay = "X-Idempotent-Replay"
	HeaderAllow            = "Allow"

	ContentTypeJSON      = "application/json"
	ContentTypeForm      = "application/x-www-form-urlencoded"
	ContentTypeMultipart = "multipart/form-data"
)

// DefaultMaxBodyBytes is the body limit when a route sets none.
const DefaultMaxBodyBytes int64 = 16 * 1024

// RouteConfig configures the gatekeeper for one endpoint.
type RouteConfig struct {
	// Name identifies the route in logs, metrics and alerts.
	Name string

	// Scope namespaces the idempotency keys of the route. Defaults to Name.
	Scope string

	// AllowedContentTypes lists accepted media types. Defaults to JSON only.
	AllowedContentTypes []string

	// MaxBodyBytes is the largest accepted body.
	MaxBodyBytes int64

	// LockTTL is the idempotency lock lifetime.
	LockTTL time.Duration

	// ResultTTL is how long a committed result is replayed.
	ResultTTL time.Duration
}

func (c RouteConfig) withDefaults() RouteConfig {
	if c.Scope == "" {
		c.Scope = c.Name
	}
	if len(c.AllowedContentTypes) == 0 {
		c.AllowedContentTypes = []string{ContentTypeJSON}
	}
	normalized := make([]string, 0, len(c.AllowedContentTypes))
	for _, ct := range c.AllowedContentTypes {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(ct)))
	}
	c.AllowedContentTypes = normalized
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.LockTTL <= 0 {
		c.LockTTL = idempotency.DefaultLockTTL
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = idempotency.DefaultResultTTL
	}
	return c
}

func (c RouteConfig) allows(mediaType string) bool {
	for _, ct := range c.AllowedContentTypes {
		if ct == mediaType {
			return true
		}
	}
	return false
}
