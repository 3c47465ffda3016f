package gateway

import (
	"crypto/sha256"
	"encoding/hex"
)

// RequestContext describes the caller. It is attached to logs and alerts.
type RequestContext struct {
	Route       string
	RequestID   string
	IP          string
	Fingerprint string
	UserAgent   string
	Origin      string
}

// Fingerprint returns the first 16 hex characters of SHA-256 over
// ip|userAgent|origin.
func Fingerprint(ip, userAgent, origin string) string {
	sum := sha256.Sum256([]byte(ip + "|" + userAgent + "|" + origin))
	return hex.EncodeToString(sum[:])[:16]
}

// Fields returns the context as alert fields.
func (c RequestContext) Fields() map[string]string {
	return map[string]string{
		"ip":          c.IP,
		"fingerprint": c.Fingerprint,
		"userAgent":   c.UserAgent,
		"origin":      c.Origin,
	}
}
