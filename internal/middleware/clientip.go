package middleware

import (
	"net"
	"net/http"
	"strings"
)

// ClientIPExtractor extracts the real client IP from requests. Forwarding
// headers are only believed when the direct peer is a trusted proxy; with no
// trusted proxies configured only RemoteAddr is used.
type ClientIPExtractor struct {
	trustedCIDRs []*net.IPNet
}

// NewClientIPExtractor creates an extractor trusting the given proxy IPs and
// CIDRs. Invalid entries are skipped.
func NewClientIPExtractor(trustedProxies []string) *ClientIPExtractor {
	cidrs := make([]*net.IPNet, 0, len(trustedProxies))
	for _, proxy := range trustedProxies {
		proxy = strings.TrimSpace(proxy)
		_, cidr, err := net.ParseCIDR(proxy)
		if err != nil {
			ip := net.ParseIP(proxy)
			if ip == nil {
				continue
			}
			cidr = singleIPToCIDR(ip)
		}
		cidrs = append(cidrs, cidr)
	}
	return &ClientIPExtractor{trustedCIDRs: cidrs}
}

// singleIPToCIDR converts a single IP address to a /32 or /128 CIDR.
func singleIPToCIDR(ip net.IP) *net.IPNet {
	bits := 32
	if ip.To4() == nil {
		bits = 128 //nolint:mnd // IPv6 prefix length
	}
	return &net.IPNet{
		IP:   ip,
		Mask: net.CIDRMask(bits, bits),
	}
}

// Extract returns the client IP of r.
//
// When the peer is trusted, X-Forwarded-For is walked right-to-left and the
// first untrusted address wins; X-Real-IP is consulted when X-Forwarded-For
// is absent.
func (e *ClientIPExtractor) Extract(r *http.Request) string {
	remoteIP := stripPort(r.RemoteAddr)

	if len(e.trustedCIDRs) == 0 || !e.isTrusted(remoteIP) {
		return remoteIP
	}

	if xff := r.Header.Get(HeaderXForwardedFor); xff != "" {
		ips := strings.Split(xff, ",")
		for i := len(ips) - 1; i >= 0; i-- {
			ip := strings.TrimSpace(ips[i])
			if ip == "" || net.ParseIP(ip) == nil {
				continue
			}
			if !e.isTrusted(ip) {
				return ip
			}
		}
		return remoteIP
	}

	if realIP := strings.TrimSpace(r.Header.Get(HeaderXRealIP)); net.ParseIP(realIP) != nil {
		return realIP
	}
	return remoteIP
}

// isTrusted checks if the given IP string is within any trusted CIDR.
func (e *ClientIPExtractor) isTrusted(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, cidr := range e.trustedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// stripPort removes the port from an address string.
func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
