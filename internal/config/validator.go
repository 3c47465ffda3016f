package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError is a single configuration problem.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

type validator struct {
	errors ValidationErrors
}

func (v *validator) addError(path, format string, args ...interface{}) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// Validate checks cfg and returns ValidationErrors listing every problem.
func Validate(cfg *Config) error {
	v := &validator{}
	if cfg == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateServer(&cfg.Server)
	v.validateSite(&cfg.Site)
	v.validateRedis(&cfg.Redis)
	v.validateUpstream(&cfg.Upstream)
	v.validateLimit("limits.contact.ip", cfg.Limits.Contact.IP)
	v.validateLimit("limits.contact.email", cfg.Limits.Contact.Email)
	v.validateLimit("limits.newsletter.ip", cfg.Limits.Newsletter.IP)
	v.validateLimit("limits.newsletter.email", cfg.Limits.Newsletter.Email)
	v.validatePositive("idempotency.lockTTL", cfg.Idempotency.LockTTL)
	v.validatePositive("idempotency.resultTTL", cfg.Idempotency.ResultTTL)
	if cfg.Alert.WebhookURL != "" {
		v.validateHTTPURL("alert.webhookUrl", cfg.Alert.WebhookURL)
	}
	v.validateLogging(&cfg.Logging)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *validator) validateServer(s *ServerConfig) {
	if s.ListenAddr == "" {
		v.addError("server.listenAddr", "is required")
	} else if _, _, err := net.SplitHostPort(s.ListenAddr); err != nil {
		v.addError("server.listenAddr", "invalid address %q", s.ListenAddr)
	}
	if !strings.HasPrefix(s.MetricsPath, "/") {
		v.addError("server.metricsPath", "must start with /")
	}
	for i, p := range s.TrustedProxies {
		if net.ParseIP(p) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(p); err != nil {
			v.addError(fmt.Sprintf("server.trustedProxies[%d]", i), "invalid IP or CIDR %q", p)
		}
	}
}

func (v *validator) validateSite(s *SiteConfig) {
	if s.URL != "" {
		v.validateHTTPURL("site.url", s.URL)
	}
	for i, o := range s.AllowedOrigins {
		v.validateHTTPURL(fmt.Sprintf("site.allowedOrigins[%d]", i), o)
	}
}

func (v *validator) validateRedis(r *RedisConfig) {
	if r.URL != "" {
		u, err := url.Parse(r.URL)
		if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") || u.Host == "" {
			v.addError("redis.url", "must be a redis:// or rediss:// URL")
		}
	}
	if r.PoolSize < 0 {
		v.addError("redis.poolSize", "must not be negative")
	}
	if r.ConnectionRetries < 0 {
		v.addError("redis.connectionRetries", "must not be negative")
	}
	v.validatePositive("redis.fallbackSweepInterval", r.FallbackSweepInterval)
}

func (v *validator) validateUpstream(u *UpstreamConfig) {
	v.validatePositive("upstream.timeout", u.Timeout)
	if u.BreakerThreshold < 0 {
		v.addError("upstream.breakerThreshold", "must not be negative")
	}
	if u.Formspree.Endpoint != "" {
		v.validateHTTPURL("upstream.formspree.endpoint", u.Formspree.Endpoint)
	}
	if u.MailerLite.BaseURL != "" {
		v.validateHTTPURL("upstream.mailerlite.baseUrl", u.MailerLite.BaseURL)
	}
}

func (v *validator) validateLimit(path string, l LimitConfig) {
	if l.Limit <= 0 {
		v.addError(path+".limit", "must be positive")
	}
	v.validatePositive(path+".window", l.Window)
}

func (v *validator) validatePositive(path string, d Duration) {
	if d <= 0 {
		v.addError(path, "must be positive")
	}
}

func (v *validator) validateLogging(l *LoggingConfig) {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		v.addError("logging.level", "must be one of debug, info, warn, error")
	}
	switch strings.ToLower(l.Format) {
	case "json", "console":
	default:
		v.addError("logging.format", "must be json or console")
	}
}

func (v *validator) validateHTTPURL(path, raw string) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		v.addError(path, "must be an http or https URL")
	}
}
