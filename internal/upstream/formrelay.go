package upstream

import (
	"context"
	"net/http"
	"strings"
)

// SinkFormRelay is the sink name of the form relay.
const SinkFormRelay = "formspree"

// FormRelay forwards contact submissions to a Formspree-style endpoint.
type FormRelay struct {
	endpoint string
	client   *client
}

// NewFormRelay creates a form relay posting to endpoint. An empty endpoint
// yields an unconfigured relay.
func NewFormRelay(endpoint string, opts Options) *FormRelay {
	return &FormRelay{
		endpoint: strings.TrimSpace(endpoint),
		client:   newClient(SinkFormRelay, opts),
	}
}

// Configured reports whether the relay has an endpoint.
func (f *FormRelay) Configured() bool {
	return f != nil && f.endpoint != ""
}

// BreakerState returns the state of the relay's circuit breaker.
func (f *FormRelay) BreakerState() string {
	return f.client.breakerState()
}

// Submit posts fields as a JSON object.
func (f *FormRelay) Submit(ctx context.Context, fields map[string]string) error {
	if !f.Configured() {
		return ErrNotConfigured
	}

	res, err := f.client.do(ctx, "submit", http.MethodPost, f.endpoint, fields, nil)
	if err != nil {
		return err
	}
	if !isSuccess(res.status) {
		return f.client.classify("submit", res)
	}
	return nil
}
