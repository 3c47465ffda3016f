package health

import (
	"context"
	"strconv"
)

// Store is the view of the key-value store used by StoreCheck.
type Store interface {
	Ping(ctx context.Context) error
	Backend() string
	Durable() bool
}

// StoreCheck reports unhealthy when the selected store fails to answer and
// degraded when only the in-process store is in use.
func StoreCheck(store Store) CheckFunc {
	return func(ctx context.Context) Check {
		details := map[string]string{
			"backend": store.Backend(),
			"durable": strconv.FormatBool(store.Durable()),
		}
		if state := breakerState(store); state != "" {
			details["breaker"] = state
		}
		if err := store.Ping(ctx); err != nil {
			return Check{Status: StatusUnhealthy, Message: err.Error(), Details: details}
		}
		if !store.Durable() {
			return Check{
				Status:  StatusDegraded,
				Message: "in-memory store; limits are per instance",
				Details: details,
			}
		}
		return Check{Status: StatusHealthy, Details: details}
	}
}

// Configurable is a sink that may lack configuration.
type Configurable interface {
	Configured() bool
}

// SinkCheck reports degraded when sink is not configured or its circuit
// breaker is open.
func SinkCheck(sink Configurable) CheckFunc {
	return func(context.Context) Check {
		if !sink.Configured() {
			return Check{Status: StatusDegraded, Message: "not configured"}
		}
		state := breakerState(sink)
		if state == "" {
			return Check{Status: StatusHealthy}
		}
		details := map[string]string{"breaker": state}
		if state == breakerOpen {
			return Check{Status: StatusDegraded, Message: "circuit breaker open", Details: details}
		}
		return Check{Status: StatusHealthy, Details: details}
	}
}

const breakerOpen = "open"

// breakerState returns the circuit breaker state of v, or "" when v has no
// breaker.
func breakerState(v interface{}) string {
	if b, ok := v.(interface{ BreakerState() string }); ok {
		return b.BreakerState()
	}
	return ""
}
