package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/formgate/internal/alert"
	"github.com/vyrodovalexey/formgate/internal/gateway"
	"github.com/vyrodovalexey/formgate/internal/kv"
	"github.com/vyrodovalexey/formgate/internal/upstream"
)

const testOrigin = "https://example.com"

type fakeRelay struct {
	mu         sync.Mutex
	configured bool
	err        error
	calls      []map[string]string
}

func (f *fakeRelay) Configured() bool { return f.configured }

func (f *fakeRelay) Submit(_ context.Context, fields map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.configured {
		return upstream.ErrNotConfigured
	}
	f.calls = append(f.calls, fields)
	return f.err
}

func (f *fakeRelay) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeList struct {
	mu           sync.Mutex
	existing     map[string]bool
	lookupErr    error
	subscribeErr error
	status       upstream.SubscribeStatus
	lookups      []string
	subscribes   []string
}

func (f *fakeList) Configured() bool { return true }

func (f *fakeList) Lookup(_ context.Context, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, email)
	if f.lookupErr != nil {
		return false, f.lookupErr
	}
	return f.existing[email], nil
}

func (f *fakeList) Subscribe(_ context.Context, email string) (upstream.SubscribeStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes = append(f.subscribes, email)
	return f.status, f.subscribeErr
}

type recordingAlerter struct {
	mu     sync.Mutex
	events []alert.Event
}

func (r *recordingAlerter) Alert(_ context.Context, ev alert.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingAlerter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fixture struct {
	relay   *fakeRelay
	list    *fakeList
	alerter *recordingAlerter
	mux     *http.ServeMux
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		relay:   &fakeRelay{configured: true},
		list:    &fakeList{existing: map[string]bool{}},
		alerter: &recordingAlerter{},
		mux:     http.NewServeMux(),
	}

	resolver := kv.NewResolver(nil, kv.NewMemoryStore(), false)
	gk := gateway.New(resolver, gateway.NewOriginPolicy(testOrigin, nil, false))
	h := New(DefaultConfig(), f.relay, f.list, WithAlerter(f.alerter))
	for _, route := range h.Routes() {
		f.mux.Handle(route.Path, gk.Handle(route.Config, route.Handler))
	}
	return f
}

func (f *fixture) post(path, contentType, body string, headers ...string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", contentType)
	r.Header.Set("Origin", testOrigin)
	for i := 0; i+1 < len(headers); i += 2 {
		r.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, r)
	return rec
}

func (f *fixture) contact(values url.Values, headers ...string) *httptest.ResponseRecorder {
	return f.post(PathContact, gateway.ContentTypeForm, values.Encode(), headers...)
}

func (f *fixture) newsletter(email string, headers ...string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(map[string]string{"email": email})
	return f.post(PathNewsletter, gateway.ContentTypeJSON, string(body), headers...)
}

type responseBody struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Code       string `json:"code"`
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) responseBody {
	t.Helper()
	var body responseBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func validContact(email string) url.Values {
	return url.Values{
		"name":    {"Ada Lovelace"},
		"email":   {email},
		"message": {"Hello there"},
	}
}
