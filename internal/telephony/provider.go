package telephony

import (
	"context"
	"time"
)

// Dialer places outbound calls at the telephony provider boundary.
//
// Rules:
// - No provider API calls outside telephony adapters.
// - Keep request/response types provider-agnostic; provider raw payloads can
//   go into Raw for debugging.
type Dialer interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// Place requests one outbound call. It returns the provider call
	// identifier used to correlate the later status callback and media
	// stream, or an error classified via Retryable.
	Place(ctx context.Context, req CallRequest) (CallResult, error)

	// Hangup terminates an in-progress call.
	Hangup(ctx context.Context, providerCallID string) error
}

// CallRequest describes one outbound call attempt.
type CallRequest struct {
	// From and To are E.164 numbers.
	From string `json:"from"`
	To   string `json:"to"`

	// StreamURL is the wss:// media stream endpoint the provider connects
	// back to once the call is answered.
	StreamURL string `json:"stream_url"`

	// StatusCallbackURL receives asynchronous call lifecycle events.
	StatusCallbackURL string `json:"status_callback_url"`

	// TimeoutSeconds bounds ringing before the provider gives up.
	TimeoutSeconds int `json:"timeout_seconds"`

	// Params are forwarded as custom parameters on the media stream start
	// frame (campaign id, lead id, agent id).
	Params map[string]string `json:"params,omitempty"`
}

// CallResult is the provider response for a placed call.
type CallResult struct {
	ProviderCallID string     `json:"provider_call_id"`
	Status         CallStatus `json:"status"`

	Raw string `json:"raw,omitempty"`
}

type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusBusy       CallStatus = "busy"
	CallStatusNoAnswer   CallStatus = "no_answer"
	CallStatusFailed     CallStatus = "failed"
	CallStatusCanceled   CallStatus = "canceled"
)

// Terminal reports whether a status ends the call's lifecycle.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusBusy, CallStatusNoAnswer, CallStatusFailed, CallStatusCanceled:
		return true
	default:
		return false
	}
}

// Answered reports whether the callee actually picked up.
func (s CallStatus) Answered() bool {
	return s == CallStatusInProgress || s == CallStatusCompleted
}

// ParseCallStatus maps a provider callback status string to the internal
// enum. Unknown values map to failed so a bad callback never wedges a slot.
func ParseCallStatus(raw string) CallStatus {
	switch raw {
	case "queued":
		return CallStatusQueued
	case "initiated":
		return CallStatusInitiated
	case "ringing":
		return CallStatusRinging
	case "in-progress", "answered":
		return CallStatusInProgress
	case "completed":
		return CallStatusCompleted
	case "busy":
		return CallStatusBusy
	case "no-answer":
		return CallStatusNoAnswer
	case "canceled":
		return CallStatusCanceled
	default:
		return CallStatusFailed
	}
}

// DialError is a classified dispatch failure.
//
// Retryable failures (network errors, provider 5xx, rate limiting) are
// re-queued by the dialer engine up to the campaign retry budget; permanent
// failures (bad number, auth) burn the attempt and mark the lead failed.
type DialError struct {
	Err       error
	Retryable bool
}

func (e *DialError) Error() string { return e.Err.Error() }
func (e *DialError) Unwrap() error { return e.Err }

// IsRetryable reports whether a Place error is worth another attempt.
// Unclassified errors count as retryable; a transient network blip should
// not consume a lead's whole retry budget.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if de, ok := err.(*DialError); ok {
		return de.Retryable
	}
	return true
}

// StatusEvent is the normalized asynchronous status callback.
type StatusEvent struct {
	ProviderCallID string
	Status         CallStatus
	Duration       time.Duration
	From           string
	To             string
}
