package ratelimit

import "strings"

// Rate limit dimensions.
const (
	DimensionIP    = "ip"
	DimensionEmail = "email"
)

// Key builds a counter key of the form <scope>:<dimension>:<identity>.
func Key(scope, dimension, identity string) string {
	if identity == "" {
		identity = "unknown"
	}
	return scope + ":" + dimension + ":" + identity
}

// NormalizeEmail trims and lowercases an email so that case variants share a
// counter.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// scopeLabel extracts "<scope>:<dimension>" from a key for metric labels,
// keeping identities out of label values.
func scopeLabel(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 2 {
		return parts[0]
	}
	return parts[0] + ":" + parts[1]
}
