package calllog

import "time"

// Event is an immutable, append-only record of something that happened
// during a call: lifecycle transitions, transcript lines, function calls.
//
// Invariants:
// - Events are never updated or deleted.
// - call_sid is required; every event belongs to exactly one call.
// - Logging is best-effort; callers must never block call handling on it.
type Event struct {
	ID      string `json:"id" db:"id"`
	CallSID string `json:"call_sid" db:"call_sid"`

	// Type indicates the category of the record.
	Type EventType `json:"type" db:"type"`

	// Optional correlation identifiers, depending on the event type.
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`
	LeadID     string `json:"lead_id,omitempty" db:"lead_id"`
	AgentID    string `json:"agent_id,omitempty" db:"agent_id"`

	// Text carries transcript content or a short description.
	Text string `json:"text,omitempty" db:"text"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallStarted    EventType = "call_started"
	EventTypeCallEnded      EventType = "call_ended"
	EventTypeTranscriptIn   EventType = "transcript_in"
	EventTypeTranscriptOut  EventType = "transcript_out"
	EventTypeFunctionCall   EventType = "function_call"
	EventTypeSessionError   EventType = "session_error"
)
