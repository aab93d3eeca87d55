package campaigns

import "time"

// Campaign is an outbound calling campaign.
//
// Lifecycle invariant: Status transitions only through the dialer engine's
// Start/Pause/Resume/Stop operations (and the engine's own completion when
// the lead queue drains). The CRUD layer creates campaigns as draft and never
// mutates status directly.

type Campaign struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`

	Status Status `json:"status" db:"status"`

	// MaxConcurrentCalls bounds the in-flight dispatch slots (>= 1).
	MaxConcurrentCalls int `json:"max_concurrent_calls" db:"max_concurrent_calls"`

	// CallTimeoutSeconds bounds one outbound call before the watchdog
	// reclaims its slot.
	CallTimeoutSeconds int `json:"call_timeout_seconds" db:"call_timeout_seconds"`

	RetryAttempts     int `json:"retry_attempts" db:"retry_attempts"`
	RetryDelayMinutes int `json:"retry_delay_minutes" db:"retry_delay_minutes"`

	// CallerID is the E.164 number outbound calls originate from.
	CallerID string `json:"caller_id" db:"caller_id"`

	// AgentID selects the conversational agent for this campaign's calls.
	AgentID string `json:"agent_id" db:"agent_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
)

// Normalize applies construction-time defaults so the engine never sees a
// zero concurrency cap or timeout, regardless of what the CRUD layer stored.
func (c Campaign) Normalize() Campaign {
	out := c
	if out.MaxConcurrentCalls < 1 {
		out.MaxConcurrentCalls = 1
	}
	if out.CallTimeoutSeconds <= 0 {
		out.CallTimeoutSeconds = 60
	}
	if out.RetryAttempts < 1 {
		out.RetryAttempts = 1
	}
	if out.RetryDelayMinutes < 0 {
		out.RetryDelayMinutes = 0
	}
	return out
}

// Stats are the persisted per-campaign call totals backing status snapshots.
type Stats struct {
	CampaignID     string `json:"campaign_id" db:"campaign_id"`
	CompletedCalls int    `json:"completed_calls" db:"completed_calls"`
	FailedCalls    int    `json:"failed_calls" db:"failed_calls"`
}
