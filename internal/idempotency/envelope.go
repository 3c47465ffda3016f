package idempotency

import (
	"encoding/json"
	"fmt"
)

// Envelope is a stored response.
type Envelope struct {
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers,omitempty"`
}

func (e Envelope) encode() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(b), nil
}

func decodeEnvelope(raw string) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Status < 100 || e.Status > 599 {
		return Envelope{}, fmt.Errorf("decode envelope: invalid status %d", e.Status)
	}
	return e, nil
}
