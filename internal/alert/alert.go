// Package alert delivers operational alerts to an external webhook.
//
// Alerts are best-effort: they are posted asynchronously, throttled, and a
// failed delivery is logged but never surfaced to the caller.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/formgate/internal/observability"
)

// Level is the severity of an alert.
type Level string

const (
	// LevelWarning marks degraded but functioning behavior.
	LevelWarning Level = "warning"

	// LevelError marks a failed operation.
	LevelError Level = "error"
)

// Default delivery settings.
const (
	DefaultTimeout = 5 * time.Second
	DefaultRate    = rate.Limit(1)
	DefaultBurst   = 5
)

// Event is a single alert.
type Event struct {
	Level     Level             `json:"level"`
	Text      string            `json:"text"`
	Route     string            `json:"route,omitempty"`
	RequestID string            `json:"requestId,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Time      time.Time         `json:"time"`
}

// Alerter emits alerts.
type Alerter interface {
	Alert(ctx context.Context, ev Event)
}

var (
	alertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "formgate",
			Subsystem: "alert",
			Name:      "events_total",
			Help:      "Total number of alert events by delivery outcome",
		},
		[]string{"outcome"},
	)
)

// nopAlerter drops every event.
type nopAlerter struct{}

func (nopAlerter) Alert(context.Context, Event) {}

// Nop returns an Alerter that drops every event.
func Nop() Alerter {
	return nopAlerter{}
}

// WebhookAlerter posts events as JSON to a webhook URL.
type WebhookAlerter struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	logger  observability.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// Option configures a WebhookAlerter.
type Option func(*WebhookAlerter)

// WithHTTPClient sets the HTTP client used for delivery.
func WithHTTPClient(c *http.Client) Option {
	return func(a *WebhookAlerter) {
		if c != nil {
			a.client = c
		}
	}
}

// WithRate sets the delivery throttle.
func WithRate(r rate.Limit, burst int) Option {
	return func(a *WebhookAlerter) {
		a.limiter = rate.NewLimiter(r, burst)
	}
}

// WithTimeout sets the per-delivery timeout.
func WithTimeout(d time.Duration) Option {
	return func(a *WebhookAlerter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// New returns a webhook alerter, or a no-op alerter when url is empty.
func New(url string, logger observability.Logger, opts ...Option) Alerter {
	if url == "" {
		return Nop()
	}
	return NewWebhookAlerter(url, logger, opts...)
}

// NewWebhookAlerter creates a WebhookAlerter.
func NewWebhookAlerter(url string, logger observability.Logger, opts ...Option) *WebhookAlerter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	a := &WebhookAlerter{
		url:     url,
		client:  &http.Client{},
		limiter: rate.NewLimiter(DefaultRate, DefaultBurst),
		logger:  logger,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Alert queues ev for delivery. Events beyond the throttle are dropped.
func (a *WebhookAlerter) Alert(_ context.Context, ev Event) {
	if !a.limiter.Allow() {
		alertsTotal.WithLabelValues("throttled").Inc()
		a.logger.Debug("alert throttled", observability.String("text", ev.Text))
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	// Delivery outlives the triggering request, so it gets its own context.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		if err := a.deliver(ctx, ev); err != nil {
			alertsTotal.WithLabelValues("failed").Inc()
			a.logger.Warn("alert delivery failed",
				observability.String("text", ev.Text),
				observability.Error(err),
			)
			return
		}
		alertsTotal.WithLabelValues("delivered").Inc()
	}()
}

// Wait blocks until all queued deliveries have finished.
func (a *WebhookAlerter) Wait() {
	a.wg.Wait()
}

func (a *WebhookAlerter) deliver(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}
