// Package upstream contains the clients for the third-party sinks that
// receive submissions: a Formspree-style form relay and a MailerLite-style
// mailing list.
//
// Every call runs under its own timeout, passes through a circuit breaker and
// is traced. Failures are normalized into *Error so handlers never see raw
// upstream bodies.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/formgate/internal/breaker"
	"github.com/vyrodovalexey/formgate/internal/observability"
)

const tracerName = "github.com/vyrodovalexey/formgate/internal/upstream"

// DefaultTimeout bounds each upstream call.
const DefaultTimeout = 8 * time.Second

// maxResponseBytes caps how much of an upstream answer is read.
const maxResponseBytes = 64 * 1024

// excerptBytes caps the body excerpt kept in errors.
const excerptBytes = 256

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "formgate",
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Total number of upstream requests by sink, operation and status",
		},
		[]string{"sink", "operation", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "formgate",
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Duration of upstream requests in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		},
		[]string{"sink", "operation"},
	)
)

// Options configures an upstream client.
type Options struct {
	HTTPClient       *http.Client
	Timeout          time.Duration
	Logger           observability.Logger
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

// result is a completed HTTP exchange.
type result struct {
	status int
	body   []byte
}

// errServerStatus marks a 5xx answer so the breaker counts it as a failure.
var errServerStatus = errors.New("server error status")

type client struct {
	sink    string
	http    *http.Client
	timeout time.Duration
	logger  observability.Logger
	breaker *breaker.Breaker
}

func newClient(sink string, opts Options) *client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	logger = logger.With(observability.String("sink", sink))

	return &client{
		sink:    sink,
		http:    httpClient,
		timeout: timeout,
		logger:  logger,
		breaker: breaker.New("upstream-"+sink, opts.BreakerThreshold, opts.BreakerTimeout,
			breaker.WithLogger(logger),
			breaker.WithSuccessFunc(breaker.IsAbandoned),
		),
	}
}

// breakerState returns the state of the sink's circuit breaker.
func (c *client) breakerState() string {
	return c.breaker.State()
}

// do sends one request. payload, when non-nil, is sent as JSON. Transport
// errors, timeouts and 5xx answers are returned as KindUnavailable; other
// statuses are returned to the caller for interpretation.
func (c *client) do(
	ctx context.Context,
	op, method, url string,
	payload interface{},
	header http.Header,
) (result, error) {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "upstream."+c.sink+"."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("upstream.sink", c.sink),
			attribute.String("http.request.method", method),
		),
	)
	defer span.End()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return result{}, fmt.Errorf("marshal %s payload: %w", c.sink, err)
		}
		body = bytes.NewReader(b)
	}

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, err
		}
		for k, v := range header {
			req.Header[k] = v
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			// Only the caller leaving is excused; our own timeout still counts.
			return nil, breaker.Abandoned(parent, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		res := result{status: resp.StatusCode, body: data}
		if resp.StatusCode >= http.StatusInternalServerError {
			return res, errServerStatus
		}
		return res, nil
	})
	requestDuration.WithLabelValues(c.sink, op).Observe(time.Since(start).Seconds())

	res, _ := out.(result)
	if err != nil {
		status := statusLabel(res.status)
		if errors.Is(err, breaker.ErrOpen) {
			status = "circuit_open"
		}
		requestsTotal.WithLabelValues(c.sink, op, status).Inc()
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)

		ue := &Error{Sink: c.sink, Op: op, Kind: KindUnavailable, StatusCode: res.status, Body: excerpt(res.body)}
		if !errors.Is(err, errServerStatus) {
			ue.Err = err
		}
		return res, ue
	}

	requestsTotal.WithLabelValues(c.sink, op, statusLabel(res.status)).Inc()
	span.SetAttributes(attribute.Int("http.response.status_code", res.status))
	return res, nil
}

// classify turns a non-success status into an *Error.
func (c *client) classify(op string, res result) *Error {
	kind := KindRejected
	if res.status == http.StatusUnprocessableEntity || res.status == http.StatusBadRequest {
		kind = KindValidation
	}
	return &Error{
		Sink:       c.sink,
		Op:         op,
		Kind:       kind,
		StatusCode: res.status,
		Body:       excerpt(res.body),
	}
}

func statusLabel(status int) string {
	if status == 0 {
		return "error"
	}
	return strconv.Itoa(status)
}

func excerpt(body []byte) string {
	if len(body) > excerptBytes {
		return string(body[:excerptBytes])
	}
	return string(body)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
