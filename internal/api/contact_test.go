package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/formgate/internal/gateway"
	"github.com/vyrodovalexey/formgate/internal/upstream"
)

func TestContact_Success(t *testing.T) {
	f := newFixture(t)

	rec := f.contact(validContact("Ada@Example.com"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.True(t, body.Success)
	assert.Contains(t, body.Message, "Message sent")
	require.Equal(t, 1, f.relay.callCount())

	fields := f.relay.calls[0]
	assert.Equal(t, "contact", fields["form_type"])
	assert.Equal(t, "Ada Lovelace", fields["name"])
	assert.Equal(t, "Ada@Example.com", fields["email"])
	assert.Equal(t, "Hello there", fields["message"])
	assert.Equal(t, subjectContact, fields["_subject"])
	assert.NotContains(t, fields, "company")
	assert.NotContains(t, fields, "budget")
}

func TestContact_JSONBody(t *testing.T) {
	f := newFixture(t)

	rec := f.post(PathContact, gateway.ContentTypeJSON,
		`{"form_type":"speaking","name":"Ada","email":"ada@example.com","event_type":"keynote","audience_size":250}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, f.relay.callCount())
	assert.Equal(t, "250", f.relay.calls[0]["audience_size"])
	assert.Equal(t, subjectSpeaking, f.relay.calls[0]["_subject"])
}

func TestContact_Validation(t *testing.T) {
	tests := []struct {
		name        string
		values      url.Values
		wantMessage string
	}{
		{
			name:        "empty name",
			values:      url.Values{"name": {"  "}, "email": {"a@b.co"}, "message": {"hi"}},
			wantMessage: "Name is required.",
		},
		{
			name:        "missing email",
			values:      url.Values{"name": {"Ada"}, "message": {"hi"}},
			wantMessage: "Email is required.",
		},
		{
			name:        "bad email",
			values:      url.Values{"name": {"Ada"}, "email": {"not-an-email"}, "message": {"hi"}},
			wantMessage: "Please enter a valid email address.",
		},
		{
			name:        "contact without message",
			values:      url.Values{"name": {"Ada"}, "email": {"a@b.co"}},
			wantMessage: "Message is required.",
		},
		{
			name: "speaking without event type",
			values: url.Values{
				"form_type": {"speaking"}, "name": {"Ada"}, "email": {"a@b.co"}, "audience_size": {"100"},
			},
			wantMessage: "Event type is required.",
		},
		{
			name: "speaking without audience size",
			values: url.Values{
				"form_type": {"speaking"}, "name": {"Ada"}, "email": {"a@b.co"}, "event_type": {"talk"},
			},
			wantMessage: "Audience size is required.",
		},
		{
			name:        "unknown form type",
			values:      url.Values{"form_type": {"sales"}, "name": {"Ada"}, "email": {"a@b.co"}, "message": {"hi"}},
			wantMessage: "Form type is not a valid option.",
		},
		{
			name: "name too long",
			values: url.Values{
				"name": {strings.Repeat("a", 121)}, "email": {"a@b.co"}, "message": {"hi"},
			},
			wantMessage: "Name is too long.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			rec := f.contact(tt.values)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, string(gateway.CodeInvalidRequest), body.Code)
			assert.Equal(t, tt.wantMessage, body.Error)
			assert.Zero(t, f.relay.callCount(), "sink must not be called")
		})
	}
}

func TestContact_SpeakingDoesNotRequireMessage(t *testing.T) {
	f := newFixture(t)

	rec := f.contact(url.Values{
		"form_type":     {"speaking"},
		"name":          {"Ada"},
		"email":         {"a@b.co"},
		"event_type":    {"workshop"},
		"audience_size": {"50-100"},
		"location":      {"Berlin"},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Berlin", f.relay.calls[0]["location"])
}

func TestContact_MalformedJSON(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{
		`{"name":`,
		`null`,
		`{"name":{"first":"Ada"}}`,
		`[1,2]`,
		`{"name":"Ada","email":"a@b.co","message":"hi"} trailing`,
		`{"name":"Ada","email":"a@b.co","message":"hi"}{"name":"Eve"}`,
	} {
		rec := f.post(PathContact, gateway.ContentTypeJSON, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, msgInvalidBody, decodeBody(t, rec).Error)
	}
	assert.Zero(t, f.relay.callCount())
}

func TestContact_JSONTrailingWhitespace(t *testing.T) {
	f := newFixture(t)

	rec := f.post(PathContact, gateway.ContentTypeJSON, `{"name":"Ada","email":"a@b.co","message":"hi"}`+"\n\t ")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, f.relay.callCount())
}

func TestContact_Honeypot(t *testing.T) {
	f := newFixture(t)
	values := validContact("bot@spam.example")
	values.Set("company", "Totally Real Inc")

	rec := f.contact(values)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.True(t, body.Success)
	assert.Contains(t, body.Message, "Message sent")
	assert.Zero(t, f.relay.callCount(), "honeypot submissions are not forwarded")
}

func TestContact_RateLimitByIP(t *testing.T) {
	f := newFixture(t)

	for i := 1; i <= 12; i++ {
		rec := f.contact(validContact("user" + strconv.Itoa(i) + "@example.com"))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}

	rec := f.contact(validContact("user13@example.com"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, string(gateway.CodeRateLimited), body.Code)
	assert.GreaterOrEqual(t, body.RetryAfter, 1)

	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 1)
	assert.Equal(t, 12, f.relay.callCount())
}

func TestContact_RateLimitByEmail(t *testing.T) {
	f := newFixture(t)

	for i := 1; i <= 5; i++ {
		require.Equal(t, http.StatusOK, f.contact(validContact("same@example.com")).Code)
	}

	rec := f.contact(validContact("  SAME@example.com "))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 5, f.relay.callCount())
}

func TestContact_RateLimitedRequestRollsBackKey(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 5; i++ {
		require.Equal(t, http.StatusOK, f.contact(validContact("same@example.com")).Code)
	}

	rec := f.contact(validContact("same@example.com"), "Idempotency-Key", "retry-me")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Rolled back, so the key is not replayed.
	rec = f.contact(validContact("same@example.com"), "Idempotency-Key", "retry-me")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Empty(t, rec.Header().Get(gateway.HeaderIdempotentReplay))
}

func TestContact_IdempotentReplay(t *testing.T) {
	f := newFixture(t)

	first := f.contact(validContact("a@b.co"), "Idempotency-Key", "k-1")
	second := f.contact(validContact("a@b.co"), "Idempotency-Key", "k-1")

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(gateway.HeaderIdempotentReplay))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, f.relay.callCount())
}

func TestContact_UpstreamFailures(t *testing.T) {
	tests := []struct {
		name       string
		configured bool
		err        error
		wantStatus int
		wantCode   gateway.Code
		wantAlert  bool
	}{
		{
			name:       "not configured",
			configured: false,
			wantStatus: http.StatusInternalServerError,
			wantCode:   gateway.CodeServerError,
			wantAlert:  true,
		},
		{
			name:       "unavailable",
			configured: true,
			err: &upstream.Error{
				Sink: upstream.SinkFormRelay, Op: "submit", Kind: upstream.KindUnavailable,
				StatusCode: 503, Body: "secret upstream detail",
			},
			wantStatus: http.StatusBadGateway,
			wantCode:   gateway.CodeUpstreamError,
			wantAlert:  true,
		},
		{
			name:       "timeout",
			configured: true,
			err: &upstream.Error{
				Sink: upstream.SinkFormRelay, Op: "submit", Kind: upstream.KindUnavailable,
				Err: errors.New("context deadline exceeded"),
			},
			wantStatus: http.StatusBadGateway,
			wantCode:   gateway.CodeUpstreamError,
			wantAlert:  true,
		},
		{
			name:       "validation",
			configured: true,
			err: &upstream.Error{
				Sink: upstream.SinkFormRelay, Op: "submit", Kind: upstream.KindValidation, StatusCode: 422,
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   gateway.CodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.relay.configured = tt.configured
			f.relay.err = tt.err

			rec := f.contact(validContact("a@b.co"))

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, string(tt.wantCode), body.Code)
			assert.NotContains(t, rec.Body.String(), "secret")
			if tt.wantAlert {
				assert.Equal(t, 1, f.alerter.count())
				f.alerter.mu.Lock()
				ev := f.alerter.events[0]
				f.alerter.mu.Unlock()
				assert.Equal(t, RouteContact, ev.Route)
				assert.NotEmpty(t, ev.RequestID)
				assert.NotEmpty(t, ev.Fields["fingerprint"])
			} else {
				assert.Zero(t, f.alerter.count())
			}
		})
	}
}

func TestContact_MultipartBody(t *testing.T) {
	f := newFixture(t)
	body := "--b\r\nContent-Disposition: form-data; name=\"name\"\r\n\r\nAda\r\n" +
		"--b\r\nContent-Disposition: form-data; name=\"email\"\r\n\r\na@b.co\r\n" +
		"--b\r\nContent-Disposition: form-data; name=\"message\"\r\n\r\nhi\r\n--b--\r\n"

	rec := f.post(PathContact, "multipart/form-data; boundary=b", body)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Ada", f.relay.calls[0]["name"])
}
