package leads

import "time"

// Lead is one phone number plus contact metadata targeted by a campaign.
//
// Invariants:
// - CallAttempts increments exactly once per dispatch attempt (enforced by
//   Store.MarkCalling, the only mutation that touches it).
// - Status "calling" means the lead currently occupies one of its campaign's
//   concurrency slots; the dialer never dispatches a lead already calling.
// - "dnc" is terminal and excludes the lead from all future dispatch.

type Lead struct {
	ID         string `json:"id" db:"id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`

	PhoneNumber string `json:"phone_number" db:"phone_number"`

	FirstName string `json:"first_name" db:"first_name"`
	LastName  string `json:"last_name" db:"last_name"`
	Email     string `json:"email" db:"email"`
	Address   string `json:"address" db:"address"`

	// ServiceRequested carries the lead's stated interest; surfaces in agent
	// instruction personalization.
	ServiceRequested string `json:"service_requested" db:"service_requested"`

	// CustomFields are free-form import columns, stored as JSON.
	CustomFields map[string]string `json:"custom_fields" db:"custom_fields"`

	Status       Status     `json:"status" db:"status"`
	CallAttempts int        `json:"call_attempts" db:"call_attempts"`
	LastCallAt   *time.Time `json:"last_call_at" db:"last_call_at"`
	Outcome      string     `json:"outcome" db:"outcome"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCalling   Status = "calling"
	StatusCalled    Status = "called"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDNC       Status = "dnc"
)

// Dispatchable reports whether a lead may enter the dial queue at all.
func (l Lead) Dispatchable(maxAttempts int) bool {
	switch l.Status {
	case StatusPending, StatusFailed:
		return l.CallAttempts < maxAttempts
	default:
		return false
	}
}
