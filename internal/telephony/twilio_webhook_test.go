package telephony

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestParseTwilioStatusCallback(t *testing.T) {
	body := strings.NewReader("CallSid=CA123&CallStatus=completed&CallDuration=42&From=%2B15551230000&To=%2B15559870000")
	r := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	form, err := ParseTwilioStatusCallback(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	ev := form.ToStatusEvent()
	if ev.ProviderCallID != "CA123" {
		t.Fatalf("unexpected call sid %q", ev.ProviderCallID)
	}
	if ev.Status != CallStatusCompleted {
		t.Fatalf("unexpected status %q", ev.Status)
	}
	if ev.Duration != 42*time.Second {
		t.Fatalf("unexpected duration %v", ev.Duration)
	}
	if ev.From != "+15551230000" || ev.To != "+15559870000" {
		t.Fatalf("unexpected from/to: %q %q", ev.From, ev.To)
	}
}

func TestParseCallStatusMapping(t *testing.T) {
	cases := map[string]CallStatus{
		"initiated":   CallStatusInitiated,
		"ringing":     CallStatusRinging,
		"in-progress": CallStatusInProgress,
		"completed":   CallStatusCompleted,
		"busy":        CallStatusBusy,
		"no-answer":   CallStatusNoAnswer,
		"canceled":    CallStatusCanceled,
		"garbage":     CallStatusFailed,
		"":            CallStatusFailed,
	}
	for raw, want := range cases {
		if got := ParseCallStatus(raw); got != want {
			t.Fatalf("ParseCallStatus(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestCallStatusTerminal(t *testing.T) {
	for _, s := range []CallStatus{CallStatusCompleted, CallStatusBusy, CallStatusNoAnswer, CallStatusFailed, CallStatusCanceled} {
		if !s.Terminal() {
			t.Fatalf("%q should be terminal", s)
		}
	}
	for _, s := range []CallStatus{CallStatusQueued, CallStatusInitiated, CallStatusRinging, CallStatusInProgress} {
		if s.Terminal() {
			t.Fatalf("%q should not be terminal", s)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Fatal("nil error is not retryable")
	}
	if !IsRetryable(&DialError{Err: http.ErrHandlerTimeout, Retryable: true}) {
		t.Fatal("expected retryable")
	}
	if IsRetryable(&DialError{Err: http.ErrHandlerTimeout, Retryable: false}) {
		t.Fatal("expected permanent")
	}
}
