package config

import (
	"strconv"
	"strings"
)

// Environment variables recognized by the loader.
const (
	EnvListenAddr                = "LISTEN_ADDR"
	EnvSiteURL                   = "SITE_URL"
	EnvAllowedOrigins            = "ALLOWED_ORIGINS"
	EnvAllowMissingOrigin        = "ALLOW_MISSING_ORIGIN"
	EnvTrustedProxies            = "TRUSTED_PROXIES"
	EnvRedisURL                  = "REDIS_URL"
	EnvRedisToken                = "REDIS_TOKEN"
	EnvRedisKeyPrefix            = "REDIS_KEY_PREFIX"
	EnvRequireRedis              = "REQUIRE_REDIS"
	EnvRequireRedisForRateLimits = "REQUIRE_REDIS_FOR_RATE_LIMITS"
	EnvFormspreeEndpoint         = "FORMSPREE_ENDPOINT"
	EnvMailerLiteAPIKey          = "MAILERLITE_API_KEY"
	EnvMailerLiteGroupID         = "MAILERLITE_GROUP_ID"
	EnvMailerLiteBaseURL         = "MAILERLITE_BASE_URL"
	EnvUpstreamTimeout           = "UPSTREAM_TIMEOUT"
	EnvAlertWebhookURL           = "ALERT_WEBHOOK_URL"
	EnvLogLevel                  = "LOG_LEVEL"
	EnvLogFormat                 = "LOG_FORMAT"
)

// applyEnv overrides cfg with the environment. Set but empty variables are
// ignored.
func applyEnv(cfg *Config, lookup LookupFunc) error {
	var errs ValidationErrors
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	setStr := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}
	setList := func(key string, dst *[]string) {
		if v, ok := get(key); ok {
			*dst = splitList(v)
		}
	}
	parseBool := func(key string) (value, set bool) {
		v, ok := get(key)
		if !ok {
			return false, false
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, ValidationError{Path: key, Message: "must be a boolean"})
			return false, false
		}
		return b, true
	}
	setBool := func(key string, dst *bool) {
		if b, ok := parseBool(key); ok {
			*dst = b
		}
	}

	setStr(EnvListenAddr, &cfg.Server.ListenAddr)
	setList(EnvTrustedProxies, &cfg.Server.TrustedProxies)

	setStr(EnvSiteURL, &cfg.Site.URL)
	setList(EnvAllowedOrigins, &cfg.Site.AllowedOrigins)
	setBool(EnvAllowMissingOrigin, &cfg.Site.AllowMissingOrigin)

	setStr(EnvRedisURL, &cfg.Redis.URL)
	setStr(EnvRedisToken, &cfg.Redis.Token)
	setStr(EnvRedisKeyPrefix, &cfg.Redis.KeyPrefix)
	// Either variable makes the durable store mandatory.
	reqAll, okAll := parseBool(EnvRequireRedis)
	reqLimits, okLimits := parseBool(EnvRequireRedisForRateLimits)
	if okAll || okLimits {
		cfg.Redis.Required = reqAll || reqLimits
	}

	setStr(EnvFormspreeEndpoint, &cfg.Upstream.Formspree.Endpoint)
	setStr(EnvMailerLiteAPIKey, &cfg.Upstream.MailerLite.APIKey)
	setStr(EnvMailerLiteGroupID, &cfg.Upstream.MailerLite.GroupID)
	setStr(EnvMailerLiteBaseURL, &cfg.Upstream.MailerLite.BaseURL)
	if v, ok := get(EnvUpstreamTimeout); ok {
		d, err := ParseDuration(v)
		if err != nil {
			errs = append(errs, ValidationError{Path: EnvUpstreamTimeout, Message: "must be a duration"})
		} else {
			cfg.Upstream.Timeout = d
		}
	}

	setStr(EnvAlertWebhookURL, &cfg.Alert.WebhookURL)
	setStr(EnvLogLevel, &cfg.Logging.Level)
	setStr(EnvLogFormat, &cfg.Logging.Format)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
