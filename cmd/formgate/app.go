package main

import (
	"context"

	"github.com/vyrodovalexey/formgate/internal/alert"
	"github.com/vyrodovalexey/formgate/internal/api"
	"github.com/vyrodovalexey/formgate/internal/config"
	"github.com/vyrodovalexey/formgate/internal/gateway"
	"github.com/vyrodovalexey/formgate/internal/health"
	"github.com/vyrodovalexey/formgate/internal/kv"
	"github.com/vyrodovalexey/formgate/internal/middleware"
	"github.com/vyrodovalexey/formgate/internal/observability"
	"github.com/vyrodovalexey/formgate/internal/server"
	"github.com/vyrodovalexey/formgate/internal/upstream"
)

// application holds all application components.
type application struct {
	server   *server.Server
	resolver *kv.Resolver
	checker  *health.Checker
	alerter  alert.Alerter
	config   *config.Config
}

// newApplication wires every component from cfg. It connects to Redis when
// configured.
func newApplication(ctx context.Context, cfg *config.Config, logger observability.Logger) *application {
	alerter := alert.New(cfg.Alert.WebhookURL, logger)

	resolver := kv.Open(ctx, kvConfig(cfg), logger, alerter)

	upstreamOpts := upstream.Options{
		Timeout:          cfg.Upstream.Timeout.Duration(),
		Logger:           logger,
		BreakerThreshold: cfg.Upstream.BreakerThreshold,
		BreakerTimeout:   cfg.Upstream.BreakerTimeout.Duration(),
	}
	relay := upstream.NewFormRelay(cfg.Upstream.Formspree.Endpoint, upstreamOpts)
	list := upstream.NewMailingList(upstream.MailingListConfig{
		APIKey:  cfg.Upstream.MailerLite.APIKey,
		GroupID: cfg.Upstream.MailerLite.GroupID,
		BaseURL: cfg.Upstream.MailerLite.BaseURL,
	}, upstreamOpts)

	if !relay.Configured() {
		logger.Warn("FORMSPREE_ENDPOINT not set; contact submissions will fail")
	}
	if !list.Configured() {
		logger.Warn("MAILERLITE_API_KEY not set; newsletter signups will fail")
	}

	extractor := middleware.NewClientIPExtractor(cfg.Server.TrustedProxies)
	origins := gateway.NewOriginPolicy(cfg.Site.URL, cfg.Site.AllowedOrigins, cfg.Site.AllowMissingOrigin)
	logger.Info("origin policy", observability.Strings("allowed", origins.Origins()),
		observability.Bool("allow_missing", cfg.Site.AllowMissingOrigin))

	gk := gateway.New(resolver, origins,
		gateway.WithLogger(logger),
		gateway.WithAlerter(alerter),
		gateway.WithClientIP(extractor.Extract),
	)
	handlers := api.New(apiConfig(cfg), relay, list, api.WithAlerter(alerter))

	checker := health.NewChecker(version)
	checker.RegisterCheck("store", health.StoreCheck(resolver))
	checker.RegisterCheck(upstream.SinkFormRelay, health.SinkCheck(relay))
	checker.RegisterCheck(upstream.SinkMailingList, health.SinkCheck(list))

	srv := server.New(server.Config{
		Addr:           cfg.Server.ListenAddr,
		ReadTimeout:    cfg.Server.ReadTimeout.Duration(),
		WriteTimeout:   cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:    cfg.Server.IdleTimeout.Duration(),
		MaxHeaderBytes: server.DefaultConfig().MaxHeaderBytes,
	}, logger)
	srv.Use(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.AccessLog(logger, extractor),
		middleware.SecureHeaders(),
		middleware.CORS(middleware.DefaultCORSConfig(origins.Allowed)),
	)
	for _, route := range handlers.Routes() {
		srv.Mount(route.Path, gk.Handle(route.Config, route.Handler))
	}
	srv.Get("/healthz", checker.LivenessHandler())
	srv.Get("/readyz", checker.ReadinessHandler())
	srv.MountMetrics(cfg.Server.MetricsPath)

	return &application{
		server:   srv,
		resolver: resolver,
		checker:  checker,
		alerter:  alerter,
		config:   cfg,
	}
}

func kvConfig(cfg *config.Config) kv.Config {
	redisCfg := kv.DefaultRedisConfig()
	redisCfg.URL = cfg.Redis.URL
	redisCfg.Token = cfg.Redis.Token
	redisCfg.Prefix = cfg.Redis.KeyPrefix
	redisCfg.DialTimeout = cfg.Redis.DialTimeout.Duration()
	redisCfg.ConnectionRetries = cfg.Redis.ConnectionRetries
	if cfg.Redis.PoolSize > 0 {
		redisCfg.PoolSize = cfg.Redis.PoolSize
	}

	return kv.Config{
		Redis:         redisCfg,
		Required:      cfg.Redis.Required,
		SweepInterval: cfg.Redis.FallbackSweepInterval.Duration(),
	}
}

func apiConfig(cfg *config.Config) api.Config {
	out := api.DefaultConfig()
	out.ContactIP = limit(cfg.Limits.Contact.IP)
	out.ContactEmail = limit(cfg.Limits.Contact.Email)
	out.NewsletterIP = limit(cfg.Limits.Newsletter.IP)
	out.NewsletterEmail = limit(cfg.Limits.Newsletter.Email)
	out.LockTTL = cfg.Idempotency.LockTTL.Duration()
	out.ResultTTL = cfg.Idempotency.ResultTTL.Duration()
	return out
}

func limit(l config.LimitConfig) api.Limit {
	return api.Limit{Limit: l.Limit, Window: l.Window.Duration()}
}
