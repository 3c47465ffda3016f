package gateway

import (
	"net"
	"net/url"
	"sort"
	"strings"
)

// DevOrigins are always allowed so the site can be developed locally.
var DevOrigins = []string{
	"http://localhost:3000",
	"http://localhost:4321",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:4321",
}

// OriginPolicy decides which Origin headers are accepted.
type OriginPolicy struct {
	allowed      map[string]struct{}
	allowMissing bool
}

// NewOriginPolicy builds the allow-list from the canonical site URL, its www
// or non-www alias, the dev origins and extras. Unparseable entries are
// skipped.
func NewOriginPolicy(siteURL string, extras []string, allowMissing bool) *OriginPolicy {
	p := &OriginPolicy{
		allowed:      make(map[string]struct{}),
		allowMissing: allowMissing,
	}

	if site, ok := NormalizeOrigin(siteURL); ok {
		p.add(site)
		if alias, ok := wwwAlias(site); ok {
			p.add(alias)
		}
	}
	for _, o := range DevOrigins {
		p.add(o)
	}
	for _, o := range extras {
		if n, ok := NormalizeOrigin(o); ok {
			p.add(n)
		}
	}
	return p
}

func (p *OriginPolicy) add(origin string) {
	p.allowed[origin] = struct{}{}
}

// Allowed reports whether a request with the given Origin header value may
// proceed. An empty value is allowed only when missing origins are.
func (p *OriginPolicy) Allowed(origin string) bool {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return p.allowMissing
	}
	n, ok := NormalizeOrigin(origin)
	if !ok {
		return false
	}
	_, allowed := p.allowed[n]
	return allowed
}

// Origins returns the sorted allow-list.
func (p *OriginPolicy) Origins() []string {
	out := make([]string, 0, len(p.allowed))
	for o := range p.allowed {
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}

// NormalizeOrigin reduces raw to lowercase scheme://host[:port], dropping
// paths, trailing slashes and default ports.
func NormalizeOrigin(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	switch {
	case port != "":
		host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		host = "[" + host + "]"
	}
	return scheme + "://" + host, true
}

// wwwAlias returns the www/non-www counterpart of a normalized origin.
func wwwAlias(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	host := u.Hostname()
	if host == "localhost" || net.ParseIP(host) != nil {
		return "", false
	}

	aliasHost := "www." + host
	if strings.HasPrefix(host, "www.") {
		aliasHost = strings.TrimPrefix(host, "www.")
	}
	if port := u.Port(); port != "" {
		aliasHost = net.JoinHostPort(aliasHost, port)
	}
	return u.Scheme + "://" + aliasHost, true
}
