package upstream

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
)

// SinkMailingList is the sink name of the mailing list.
const SinkMailingList = "mailerlite"

// DefaultMailingListBaseURL is the MailerLite API base URL.
const DefaultMailingListBaseURL = "https://connect.mailerlite.com"

// SubscribeStatus is the outcome of a successful Subscribe.
type SubscribeStatus int

const (
	// Subscribed means a new subscriber was created.
	Subscribed SubscribeStatus = iota

	// AlreadySubscribed means the address was on the list already.
	AlreadySubscribed
)

// MailingListConfig configures a MailingList.
type MailingListConfig struct {
	APIKey  string
	GroupID string
	BaseURL string
}

// MailingList manages subscribers through a MailerLite-style API.
type MailingList struct {
	apiKey  string
	groupID string
	baseURL string
	client  *client
}

// NewMailingList creates a mailing list client.
func NewMailingList(cfg MailingListConfig, opts Options) *MailingList {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultMailingListBaseURL
	}
	return &MailingList{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		groupID: strings.TrimSpace(cfg.GroupID),
		baseURL: baseURL,
		client:  newClient(SinkMailingList, opts),
	}
}

// Configured reports whether an API key is set.
func (m *MailingList) Configured() bool {
	return m != nil && m.apiKey != ""
}

// BreakerState returns the state of the provider's circuit breaker.
func (m *MailingList) BreakerState() string {
	return m.client.breakerState()
}

// Lookup reports whether email is already a subscriber. 200 means found and
// 404 means not found; anything else is an error.
func (m *MailingList) Lookup(ctx context.Context, email string) (bool, error) {
	if !m.Configured() {
		return false, ErrNotConfigured
	}

	res, err := m.client.do(ctx, "lookup", http.MethodGet,
		m.baseURL+"/api/subscribers/"+url.PathEscape(email), nil, m.header())
	if err != nil {
		return false, err
	}
	switch res.status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, m.client.classify("lookup", res)
	}
}

type subscribeRequest struct {
	Email  string   `json:"email"`
	Groups []string `json:"groups,omitempty"`
}

// Subscribe creates a subscriber. A 422 answer saying the address already
// exists counts as AlreadySubscribed.
func (m *MailingList) Subscribe(ctx context.Context, email string) (SubscribeStatus, error) {
	if !m.Configured() {
		return 0, ErrNotConfigured
	}

	payload := subscribeRequest{Email: email}
	if m.groupID != "" {
		payload.Groups = []string{m.groupID}
	}

	res, err := m.client.do(ctx, "subscribe", http.MethodPost,
		m.baseURL+"/api/subscribers", payload, m.header())
	if err != nil {
		return 0, err
	}
	if isSuccess(res.status) {
		return Subscribed, nil
	}
	if res.status == http.StatusUnprocessableEntity && bytes.Contains(bytes.ToLower(res.body), []byte("already")) {
		return AlreadySubscribed, nil
	}
	return 0, m.client.classify("subscribe", res)
}

func (m *MailingList) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+m.apiKey)
	return h
}
