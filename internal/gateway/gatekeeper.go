package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vyrodovalexey/formgate/internal/alert"
	"github.com/vyrodovalexey/formgate/internal/idempotency"
	"github.com/vyrodovalexey/formgate/internal/kv"
	"github.com/vyrodovalexey/formgate/internal/observability"
	"github.com/vyrodovalexey/formgate/internal/ratelimit"
)

// DefaultFinalizeTimeout bounds commit and rollback after the handler
// returned.
const DefaultFinalizeTimeout = 5 * time.Second

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "formgate",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Total number of gated requests by route and status",
		},
		[]string{"route", "status"},
	)

	rejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "formgate",
			Subsystem: "gateway",
			Name:      "rejections_total",
			Help:      "Total number of requests rejected by the gatekeeper by route and code",
		},
		[]string{"route", "code"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "formgate",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Duration of gated requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

// StoreResolver picks the key-value store for a request.
type StoreResolver interface {
	Resolve(ctx context.Context) (kv.Store, error)
}

// Gatekeeper runs the shared request pipeline in front of endpoint handlers.
type Gatekeeper struct {
	resolver        StoreResolver
	origins         *OriginPolicy
	clientIP        func(*http.Request) string
	logger          observability.Logger
	alerter         alert.Alerter
	finalizeTimeout time.Duration
	newRequestID    func() string
}

// Option is a functional option for configuring a Gatekeeper.
type Option func(*Gatekeeper)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gatekeeper) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithAlerter sets the alerter used for store failures.
func WithAlerter(a alert.Alerter) Option {
	return func(g *Gatekeeper) {
		if a != nil {
			g.alerter = a
		}
	}
}

// WithClientIP sets the client IP extractor. The default uses RemoteAddr.
func WithClientIP(fn func(*http.Request) string) Option {
	return func(g *Gatekeeper) {
		if fn != nil {
			g.clientIP = fn
		}
	}
}

// WithFinalizeTimeout bounds commit and rollback.
func WithFinalizeTimeout(d time.Duration) Option {
	return func(g *Gatekeeper) {
		if d > 0 {
			g.finalizeTimeout = d
		}
	}
}

// New creates a Gatekeeper.
func New(resolver StoreResolver, origins *OriginPolicy, opts ...Option) *Gatekeeper {
	if origins == nil {
		origins = NewOriginPolicy("", nil, false)
	}
	g := &Gatekeeper{
		resolver:        resolver,
		origins:         origins,
		clientIP:        remoteIP,
		logger:          observability.NopLogger(),
		alerter:         alert.Nop(),
		finalizeTimeout: DefaultFinalizeTimeout,
		newRequestID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handle wraps h with the pipeline configured by route.
func (g *Gatekeeper) Handle(route RouteConfig, h HandlerFunc) http.Handler {
	route = route.withDefaults()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rc := g.requestContext(route, r)
		ctx := observability.ContextWithRequestID(r.Context(), rc.RequestID)
		r = r.WithContext(ctx)
		logger := g.logger.With(
			observability.String("route", route.Name),
			observability.String("request_id", rc.RequestID),
			observability.String("ip", rc.IP),
			observability.String("fingerprint", rc.Fingerprint),
		)

		resp := g.serve(r, route, h, rc, logger)
		writeResponse(w, rc.RequestID, resp)

		requestsTotal.WithLabelValues(route.Name, strconv.Itoa(resp.Status)).Inc()
		requestDuration.WithLabelValues(route.Name).Observe(time.Since(start).Seconds())
	})
}

func (g *Gatekeeper) serve(
	r *http.Request,
	route RouteConfig,
	h HandlerFunc,
	rc RequestContext,
	logger observability.Logger,
) Response {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		resp := g.reject(route, http.StatusMethodNotAllowed, CodeMethodNotAllowed, msgMethodNotAllowed)
		resp.Header.Set(HeaderAllow, http.MethodPost)
		return resp
	}

	store, err := g.resolver.Resolve(ctx)
	if err != nil {
		g.storeFailure(ctx, rc, logger, "no key-value store available", err)
		return g.reject(route, http.StatusServiceUnavailable, CodeServerError, msgStoreUnavailable)
	}

	if !g.origins.Allowed(rc.Origin) {
		logger.Warn("origin rejected", observability.String("origin", rc.Origin))
		return g.reject(route, http.StatusForbidden, CodeInvalidOrigin, msgInvalidOrigin)
	}

	mediaType, params, ok := parseMediaType(r.Header.Get(HeaderContentType))
	if !ok || !route.allows(mediaType) {
		return g.reject(route, http.StatusUnsupportedMediaType, CodeInvalidContentType, msgInvalidContentType)
	}

	body, apiErr := readBody(r, route.MaxBodyBytes)
	if apiErr != nil {
		return g.reject(route, apiErr.Status, apiErr.Code, apiErr.Message)
	}

	key, present, err := idempotency.ParseKey(r.Header)
	if err != nil {
		return g.reject(route, http.StatusBadRequest, CodeInvalidRequest, msgInvalidKey)
	}

	form, err := parseForm(mediaType, params, body, route.MaxBodyBytes)
	if err != nil {
		logger.Debug("form decode failed", observability.Error(err))
		return g.reject(route, http.StatusBadRequest, CodeInvalidRequest, msgInvalidBody)
	}

	req := &Request{
		Context:   rc,
		Body:      body,
		Header:    r.Header,
		MediaType: mediaType,
		Form:      form,
		Store:     store,
		Limiter:   ratelimit.New(store, logger),
		Logger:    logger,
		ctx:       ctx,
	}

	if !present {
		return normalize(h(req))
	}

	coord := idempotency.New(store, logger)
	out, err := coord.Begin(ctx, route.Scope, key, route.LockTTL, route.ResultTTL)
	if err != nil {
		g.storeFailure(ctx, rc, logger, "idempotency check failed", err)
		return g.reject(route, http.StatusServiceUnavailable, CodeServerError, msgStoreUnavailable)
	}

	switch out.State {
	case idempotency.StateReplay:
		logger.Info("replaying idempotent result", observability.Int("status", out.Envelope.Status))
		return replayResponse(out.Envelope)
	case idempotency.StateInProgress:
		return g.reject(route, http.StatusConflict, CodeRequestInProgress, msgInProgress)
	default:
		return g.invokeLocked(ctx, coord, out.Token, h, req, logger)
	}
}

// invokeLocked runs h while holding the idempotency lock and finalizes the
// token. A panicking handler rolls the lock back before the panic continues.
func (g *Gatekeeper) invokeLocked(
	ctx context.Context,
	coord *idempotency.Coordinator,
	token *idempotency.Token,
	h HandlerFunc,
	req *Request,
	logger observability.Logger,
) Response {
	finalized := false
	defer func() {
		if !finalized {
			g.finalize(ctx, coord, token, nil, logger)
		}
	}()

	resp := normalize(h(req))
	finalized = true
	g.finalize(ctx, coord, token, &resp, logger)
	return resp
}

// finalize commits resp, or rolls back when resp is nil or rate limited.
// Failures are logged and never change the response.
func (g *Gatekeeper) finalize(
	ctx context.Context,
	coord *idempotency.Coordinator,
	token *idempotency.Token,
	resp *Response,
	logger observability.Logger,
) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.finalizeTimeout)
	defer cancel()

	if resp == nil || resp.Status == http.StatusTooManyRequests {
		if err := coord.Rollback(fctx, token); err != nil {
			logger.Error("idempotency rollback failed", observability.Error(err))
		}
		return
	}

	if err := coord.Commit(fctx, token, toEnvelope(*resp)); err != nil {
		logger.Error("idempotency commit failed", observability.Error(err))
	}
}

func (g *Gatekeeper) reject(route RouteConfig, status int, code Code, message string) Response {
	rejectionsTotal.WithLabelValues(route.Name, string(code)).Inc()
	return NewAPIError(status, code, message).Response()
}

func (g *Gatekeeper) storeFailure(
	ctx context.Context,
	rc RequestContext,
	logger observability.Logger,
	text string,
	err error,
) {
	logger.Error(text, observability.Error(err))
	level := alert.LevelError
	if errors.Is(err, kv.ErrStoreUnavailable) {
		level = alert.LevelWarning
	}
	g.alerter.Alert(ctx, alert.Event{
		Level:     level,
		Text:      text + ": " + err.Error(),
		Route:     rc.Route,
		RequestID: rc.RequestID,
		Fields:    rc.Fields(),
	})
}

func (g *Gatekeeper) requestContext(route RouteConfig, r *http.Request) RequestContext {
	requestID := observability.RequestIDFromContext(r.Context())
	if requestID == "" {
		requestID = strings.TrimSpace(r.Header.Get(HeaderRequestID))
	}
	if requestID == "" {
		requestID = g.newRequestID()
	}

	ip := g.clientIP(r)
	ua := r.UserAgent()
	origin := r.Header.Get(HeaderOrigin)
	return RequestContext{
		Route:       route.Name,
		RequestID:   requestID,
		IP:          ip,
		Fingerprint: Fingerprint(ip, ua, origin),
		UserAgent:   ua,
		Origin:      origin,
	}
}

func parseMediaType(contentType string) (string, map[string]string, bool) {
	if strings.TrimSpace(contentType) == "" {
		return "", nil, false
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", nil, false
	}
	return strings.ToLower(mediaType), params, true
}

func readBody(r *http.Request, maxBytes int64) ([]byte, *APIError) {
	if r.ContentLength > maxBytes {
		return nil, NewAPIError(http.StatusRequestEntityTooLarge, CodePayloadTooLarge, msgPayloadTooLarge)
	}
	if r.Body == nil {
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return nil, &APIError{
			Status:  http.StatusBadRequest,
			Code:    CodeInvalidRequest,
			Message: msgInvalidBody,
			Err:     err,
		}
	}
	if int64(len(body)) > maxBytes {
		return nil, NewAPIError(http.StatusRequestEntityTooLarge, CodePayloadTooLarge, msgPayloadTooLarge)
	}
	return body, nil
}

func parseForm(mediaType string, params map[string]string, body []byte, maxBytes int64) (url.Values, error) {
	switch mediaType {
	case ContentTypeForm:
		return url.ParseQuery(string(body))
	case ContentTypeMultipart:
		boundary := params["boundary"]
		if boundary == "" {
			return nil, errors.New("multipart body without boundary")
		}
		form, err := multipart.NewReader(bytes.NewReader(body), boundary).ReadForm(maxBytes)
		if err != nil {
			return nil, err
		}
		defer func() { _ = form.RemoveAll() }()
		return url.Values(form.Value), nil
	default:
		return nil, nil
	}
}

func normalize(resp Response) Response {
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	if resp.Header.Get(HeaderContentType) == "" {
		resp.Header.Set(HeaderContentType, ContentTypeJSON)
	}
	return resp
}

func toEnvelope(resp Response) idempotency.Envelope {
	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) == 0 || http.CanonicalHeaderKey(k) == HeaderRequestID {
			continue
		}
		headers[k] = v[0]
	}
	return idempotency.Envelope{
		Status:  resp.Status,
		Body:    string(resp.Body),
		Headers: headers,
	}
}

func replayResponse(env idempotency.Envelope) Response {
	resp := Response{
		Status: env.Status,
		Body:   []byte(env.Body),
		Header: http.Header{},
	}
	for k, v := range env.Headers {
		resp.Header.Set(k, v)
	}
	resp.Header.Set(HeaderIdempotentReplay, "true")
	return normalize(resp)
}

func writeResponse(w http.ResponseWriter, requestID string, resp Response) {
	h := w.Header()
	for k, v := range resp.Header {
		h[k] = v
	}
	if h.Get(HeaderContentType) == "" {
		h.Set(HeaderContentType, ContentTypeJSON)
	}
	h.Set(HeaderRequestID, requestID)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
