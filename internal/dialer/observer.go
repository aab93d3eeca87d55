package dialer

import (
	"callcenter-platform/internal/telephony"
)

// EventType enumerates everything an engine reports. The set is fixed;
// consumers switch on it rather than registering ad hoc listeners.
type EventType string

const (
	EventStarted        EventType = "started"
	EventPaused         EventType = "paused"
	EventResumed        EventType = "resumed"
	EventStopped        EventType = "stopped"
	EventCompleted      EventType = "completed"
	EventCallComplete   EventType = "call_complete"
	EventDispatchFailed EventType = "dispatch_failed"
)

// Event is one engine lifecycle or per-call notification.
type Event struct {
	Type       EventType
	CampaignID string

	// Per-call fields, set for EventCallComplete and EventDispatchFailed.
	LeadID  string
	CallSID string
	Status  telephony.CallStatus
	Err     error
}

// Observer receives engine events. Implementations must not block: events
// fire with the engine lock held released but on the dispatch goroutine.
type Observer interface {
	DialerEvent(Event)
}

// nopObserver is the default when no observer is wired.
type nopObserver struct{}

func (nopObserver) DialerEvent(Event) {}
