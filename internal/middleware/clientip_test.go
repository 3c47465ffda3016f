package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIPExtractor_Extract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		trusted    []string
		remoteAddr string
		xff        string
		realIP     string
		want       string
	}{
		{
			name:       "no trusted proxies ignores headers",
			remoteAddr: "203.0.113.9:4242",
			xff:        "198.51.100.1",
			want:       "203.0.113.9",
		},
		{
			name:       "untrusted peer ignores headers",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "203.0.113.9:4242",
			xff:        "198.51.100.1",
			want:       "203.0.113.9",
		},
		{
			name:       "trusted peer uses rightmost untrusted",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.1.2.3:80",
			xff:        "1.1.1.1, 198.51.100.1, 10.0.0.5",
			want:       "198.51.100.1",
		},
		{
			name:       "single trusted ip",
			trusted:    []string{"127.0.0.1"},
			remoteAddr: "127.0.0.1:5555",
			xff:        "198.51.100.7",
			want:       "198.51.100.7",
		},
		{
			name:       "all trusted falls back to peer",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.1.2.3:80",
			xff:        "10.0.0.1, 10.0.0.2",
			want:       "10.1.2.3",
		},
		{
			name:       "garbage entries skipped",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.1.2.3:80",
			xff:        "198.51.100.1, not-an-ip, ",
			want:       "198.51.100.1",
		},
		{
			name:       "real ip when no xff",
			trusted:    []string{"10.0.0.0/8"},
			remoteAddr: "10.1.2.3:80",
			realIP:     "198.51.100.2",
			want:       "198.51.100.2",
		},
		{
			name:       "ipv6 peer",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
		{
			name:       "no port",
			remoteAddr: "203.0.113.9",
			want:       "203.0.113.9",
		},
		{
			name:       "invalid trusted entries skipped",
			trusted:    []string{"bogus", "::1"},
			remoteAddr: "[::1]:80",
			xff:        "2001:db8::9",
			want:       "2001:db8::9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest(http.MethodPost, "/api/contact", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set(HeaderXForwardedFor, tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set(HeaderXRealIP, tt.realIP)
			}

			assert.Equal(t, tt.want, NewClientIPExtractor(tt.trusted).Extract(r))
		})
	}
}
