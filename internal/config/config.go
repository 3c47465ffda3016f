package config

import "time"

// Config is the complete formgate configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server" json:"server"`
	Site        SiteConfig        `yaml:"site" json:"site"`
	Redis       RedisConfig       `yaml:"redis" json:"redis"`
	Upstream    UpstreamConfig    `yaml:"upstream" json:"upstream"`
	Limits      LimitsConfig      `yaml:"limits" json:"limits"`
	Idempotency IdempotencyConfig `yaml:"idempotency" json:"idempotency"`
	Alert       AlertConfig       `yaml:"alert" json:"alert"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	ListenAddr      string   `yaml:"listenAddr" json:"listenAddr"`
	ReadTimeout     Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout" json:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout" json:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`

	// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-For and
	// X-Real-IP headers are believed.
	TrustedProxies []string `yaml:"trustedProxies" json:"trustedProxies"`

	MetricsPath string `yaml:"metricsPath" json:"metricsPath"`
}

// SiteConfig configures the origin allow-list.
type SiteConfig struct {
	// URL is the canonical site URL. Its www/non-www alias is allowed too.
	URL                string   `yaml:"url" json:"url"`
	AllowedOrigins     []string `yaml:"allowedOrigins" json:"allowedOrigins"`
	AllowMissingOrigin bool     `yaml:"allowMissingOrigin" json:"allowMissingOrigin"`
}

// RedisConfig configures the durable key-value store.
type RedisConfig struct {
	URL               string   `yaml:"url" json:"url"`
	Token             string   `yaml:"token" json:"-"`
	KeyPrefix         string   `yaml:"keyPrefix" json:"keyPrefix"`
	Required          bool     `yaml:"required" json:"required"`
	DialTimeout       Duration `yaml:"dialTimeout" json:"dialTimeout"`
	PoolSize          int      `yaml:"poolSize" json:"poolSize"`
	ConnectionRetries int      `yaml:"connectionRetries" json:"connectionRetries"`

	// FallbackSweepInterval is the minimum time between purges of expired
	// keys in the in-memory fallback store.
	FallbackSweepInterval Duration `yaml:"fallbackSweepInterval" json:"fallbackSweepInterval"`
}

// UpstreamConfig configures the submission sinks.
type UpstreamConfig struct {
	Timeout          Duration         `yaml:"timeout" json:"timeout"`
	BreakerThreshold int              `yaml:"breakerThreshold" json:"breakerThreshold"`
	BreakerTimeout   Duration         `yaml:"breakerTimeout" json:"breakerTimeout"`
	Formspree        FormspreeConfig  `yaml:"formspree" json:"formspree"`
	MailerLite       MailerLiteConfig `yaml:"mailerlite" json:"mailerlite"`
}

// FormspreeConfig configures the contact form relay.
type FormspreeConfig struct {
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// MailerLiteConfig configures the newsletter mailing list.
type MailerLiteConfig struct {
	APIKey  string `yaml:"apiKey" json:"-"`
	GroupID string `yaml:"groupId" json:"groupId"`
	BaseURL string `yaml:"baseUrl" json:"baseUrl"`
}

// LimitConfig is one fixed-window rate limit.
type LimitConfig struct {
	Limit  int      `yaml:"limit" json:"limit"`
	Window Duration `yaml:"window" json:"window"`
}

// EndpointLimits are the per-IP and per-email limits of one endpoint.
type EndpointLimits struct {
	IP    LimitConfig `yaml:"ip" json:"ip"`
	Email LimitConfig `yaml:"email" json:"email"`
}

// LimitsConfig holds the rate limits per endpoint.
type LimitsConfig struct {
	Contact    EndpointLimits `yaml:"contact" json:"contact"`
	Newsletter EndpointLimits `yaml:"newsletter" json:"newsletter"`
}

// IdempotencyConfig configures the idempotency-key protocol.
type IdempotencyConfig struct {
	LockTTL   Duration `yaml:"lockTTL" json:"lockTTL"`
	ResultTTL Duration `yaml:"resultTTL" json:"resultTTL"`
}

// AlertConfig configures the alert webhook. An empty URL disables alerts.
type AlertConfig struct {
	WebhookURL string `yaml:"webhookUrl" json:"-"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default values.
const (
	DefaultListenAddr        = ":8080"
	DefaultMetricsPath       = "/metrics"
	DefaultRedisKeyPrefix    = "formgate:"
	DefaultUpstreamTimeout   = 8 * time.Second
	DefaultBreakerThreshold  = 5
	DefaultBreakerTimeout    = 30 * time.Second
	DefaultLockTTL           = 60 * time.Second
	DefaultResultTTL         = 10 * time.Minute
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultShutdownTimeout   = 15 * time.Second
	DefaultRedisDialTimeout  = 5 * time.Second
	DefaultConnectionRetries = 2
	DefaultSweepInterval     = time.Minute
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
)

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills zero values.
func (c *Config) applyDefaults() {
	setString(&c.Server.ListenAddr, DefaultListenAddr)
	setString(&c.Server.MetricsPath, DefaultMetricsPath)
	setDuration(&c.Server.ReadTimeout, DefaultReadTimeout)
	setDuration(&c.Server.WriteTimeout, DefaultWriteTimeout)
	setDuration(&c.Server.IdleTimeout, DefaultIdleTimeout)
	setDuration(&c.Server.ShutdownTimeout, DefaultShutdownTimeout)

	setString(&c.Redis.KeyPrefix, DefaultRedisKeyPrefix)
	setDuration(&c.Redis.DialTimeout, DefaultRedisDialTimeout)
	setDuration(&c.Redis.FallbackSweepInterval, DefaultSweepInterval)
	if c.Redis.ConnectionRetries == 0 {
		c.Redis.ConnectionRetries = DefaultConnectionRetries
	}

	setDuration(&c.Upstream.Timeout, DefaultUpstreamTimeout)
	setDuration(&c.Upstream.BreakerTimeout, DefaultBreakerTimeout)
	if c.Upstream.BreakerThreshold == 0 {
		c.Upstream.BreakerThreshold = DefaultBreakerThreshold
	}

	setLimit(&c.Limits.Contact.IP, 12, 5*time.Minute)
	setLimit(&c.Limits.Contact.Email, 5, time.Hour)
	setLimit(&c.Limits.Newsletter.IP, 10, 10*time.Minute)
	setLimit(&c.Limits.Newsletter.Email, 3, time.Hour)

	setDuration(&c.Idempotency.LockTTL, DefaultLockTTL)
	setDuration(&c.Idempotency.ResultTTL, DefaultResultTTL)

	setString(&c.Logging.Level, DefaultLogLevel)
	setString(&c.Logging.Format, DefaultLogFormat)
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setDuration(dst *Duration, def time.Duration) {
	if *dst == 0 {
		*dst = Duration(def)
	}
}

func setLimit(dst *LimitConfig, limit int, window time.Duration) {
	if dst.Limit == 0 {
		dst.Limit = limit
	}
	setDuration(&dst.Window, window)
}
