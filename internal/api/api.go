// Package api implements the contact and newsletter endpoints.
//
// Handlers run behind the gateway.Gatekeeper, which has already checked the
// origin, content type, body size and idempotency key. Handlers own input
// validation, rate limiting and the upstream call.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vyrodovalexey/formgate/internal/alert"
	"github.com/vyrodovalexey/formgate/internal/gateway"
	"github.com/vyrodovalexey/formgate/internal/observability"
	"github.com/vyrodovalexey/formgate/internal/ratelimit"
	"github.com/vyrodovalexey/formgate/internal/upstream"
)

// Route paths.
const (
	PathContact    = "/api/contact"
	PathNewsletter = "/api/newsletter"
)

// Route names, also used as idempotency and rate limit scopes.
const (
	RouteContact    = "contact"
	RouteNewsletter = "newsletter"
)

const (
	msgServerError     = "Unexpected server error. Please try again later."
	msgNotConfigured   = "This form is not available right now. Please try again later."
	msgUpstreamError   = "We could not deliver your submission. Please try again later."
	msgUpstreamInvalid = "The submission was rejected. Please check your input and try again."
	msgInvalidBody     = "Invalid request body."
)

var submissionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "formgate",
		Subsystem: "api",
		Name:      "submissions_total",
		Help:      "Total number of submissions by route and outcome",
	},
	[]string{"route", "outcome"},
)

// FormRelay forwards contact submissions.
type FormRelay interface {
	Configured() bool
	Submit(ctx context.Context, fields map[string]string) error
}

// MailingList manages newsletter subscribers.
type MailingList interface {
	Configured() bool
	Lookup(ctx context.Context, email string) (bool, error)
	Subscribe(ctx context.Context, email string) (upstream.SubscribeStatus, error)
}

// Limit is one rate limit dimension.
type Limit struct {
	Limit  int
	Window time.Duration
}

func (l Limit) rule(scope, dimension, identity string) ratelimit.Rule {
	return ratelimit.Rule{
		Key:    ratelimit.Key(scope, dimension, identity),
		Limit:  l.Limit,
		Window: l.Window,
	}
}

// Config holds endpoint limits.
type Config struct {
	ContactIP       Limit
	ContactEmail    Limit
	NewsletterIP    Limit
	NewsletterEmail Limit

	ContactMaxBodyBytes    int64
	NewsletterMaxBodyBytes int64

	LockTTL   time.Duration
	ResultTTL time.Duration
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		ContactIP:              Limit{Limit: 12, Window: 5 * time.Minute},
		ContactEmail:           Limit{Limit: 5, Window: time.Hour},
		NewsletterIP:           Limit{Limit: 10, Window: 10 * time.Minute},
		NewsletterEmail:        Limit{Limit: 3, Window: time.Hour},
		ContactMaxBodyBytes:    16 * 1024,
		NewsletterMaxBodyBytes: 4 * 1024,
	}
}

// Handlers serves the submission endpoints.
type Handlers struct {
	cfg     Config
	relay   FormRelay
	list    MailingList
	alerter alert.Alerter
}

// Option configures Handlers.
type Option func(*Handlers)

// WithAlerter sets the alerter used for upstream failures.
func WithAlerter(a alert.Alerter) Option {
	return func(h *Handlers) {
		if a != nil {
			h.alerter = a
		}
	}
}

// New creates the endpoint handlers.
func New(cfg Config, relay FormRelay, list MailingList, opts ...Option) *Handlers {
	h := &Handlers{
		cfg:     cfg,
		relay:   relay,
		list:    list,
		alerter: alert.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Route binds a path to its gatekeeper configuration and handler.
type Route struct {
	Path    string
	Config  gateway.RouteConfig
	Handler gateway.HandlerFunc
}

// Routes returns the submission routes.
func (h *Handlers) Routes() []Route {
	return []Route{
		{
			Path: PathContact,
			Config: gateway.RouteConfig{
				Name:  RouteContact,
				Scope: RouteContact,
				AllowedContentTypes: []string{
					gateway.ContentTypeForm,
					gateway.ContentTypeMultipart,
					gateway.ContentTypeJSON,
				},
				MaxBodyBytes: h.cfg.ContactMaxBodyBytes,
				LockTTL:      h.cfg.LockTTL,
				ResultTTL:    h.cfg.ResultTTL,
			},
			Handler: h.Contact,
		},
		{
			Path: PathNewsletter,
			Config: gateway.RouteConfig{
				Name:                RouteNewsletter,
				Scope:               RouteNewsletter,
				AllowedContentTypes: []string{gateway.ContentTypeJSON},
				MaxBodyBytes:        h.cfg.NewsletterMaxBodyBytes,
				LockTTL:             h.cfg.LockTTL,
				ResultTTL:           h.cfg.ResultTTL,
			},
			Handler: h.Newsletter,
		},
	}
}

type successBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func success(req *gateway.Request, route, message string) gateway.Response {
	submissionsTotal.WithLabelValues(route, "success").Inc()
	return req.JSON(http.StatusOK, successBody{Success: true, Message: message})
}

func reject(req *gateway.Request, route string, status int, code gateway.Code, message string) gateway.Response {
	submissionsTotal.WithLabelValues(route, string(code)).Inc()
	return req.Error(status, code, message)
}

// checkLimits runs the rules in order. A non-nil response ends the request.
func (h *Handlers) checkLimits(req *gateway.Request, route string, rules ...ratelimit.Rule) *gateway.Response {
	res, err := req.Limiter.CheckAll(req.Ctx(), rules...)
	if err != nil {
		req.Log().Error("rate limit check failed", observability.Error(err))
		h.alert(req, alert.LevelError, "rate limit store failure", err)
		resp := reject(req, route, http.StatusServiceUnavailable, gateway.CodeServerError, msgServerError)
		return &resp
	}
	if res.Limited {
		req.Log().Info("rate limited", observability.String("key", res.Key),
			observability.Int("retry_after", res.RetryAfterSeconds))
		submissionsTotal.WithLabelValues(route, string(gateway.CodeRateLimited)).Inc()
		resp := req.RateLimited(res)
		return &resp
	}
	return nil
}

// upstreamFailure maps an upstream error to a response. Upstream bodies are
// logged but never returned.
func (h *Handlers) upstreamFailure(req *gateway.Request, route string, err error) gateway.Response {
	if errors.Is(err, upstream.ErrNotConfigured) {
		req.Log().Error("upstream not configured")
		h.alert(req, alert.LevelError, "upstream not configured", err)
		return reject(req, route, http.StatusInternalServerError, gateway.CodeServerError, msgNotConfigured)
	}

	fields := []observability.Field{observability.Error(err)}
	var ue *upstream.Error
	if errors.As(err, &ue) {
		fields = append(fields,
			observability.String("sink", ue.Sink),
			observability.String("kind", string(ue.Kind)),
			observability.Int("upstream_status", ue.StatusCode),
			observability.String("upstream_body", ue.Body),
		)
	}

	if upstream.IsValidation(err) {
		req.Log().Warn("upstream rejected submission", fields...)
		return reject(req, route, http.StatusBadRequest, gateway.CodeInvalidRequest, msgUpstreamInvalid)
	}

	req.Log().Error("upstream submission failed", fields...)
	h.alert(req, alert.LevelError, "upstream submission failed", err)
	return reject(req, route, http.StatusBadGateway, gateway.CodeUpstreamError, msgUpstreamError)
}

func (h *Handlers) alert(req *gateway.Request, level alert.Level, text string, err error) {
	fields := req.Context.Fields()
	fields["error"] = err.Error()
	h.alerter.Alert(req.Ctx(), alert.Event{
		Level:     level,
		Text:      text,
		Route:     req.Context.Route,
		RequestID: req.Context.RequestID,
		Fields:    fields,
	})
}
