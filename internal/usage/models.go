package usage

import "time"

// Account is a user's calling-minute account.
// Invariant: the remaining balance must be derived from immutable usage
// entries. No code mutates a balance without writing a matching entry.
type Account struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Status    Status    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Entry is an immutable append-only usage record. Each row is a signed
// minute amount posted to the account: credits positive, call debits
// negative.
//
// Idempotency invariant: call debits carry the call sid as the
// idempotency key, so the same call settling twice (webhook retry,
// bridge teardown racing the watchdog) posts exactly one entry.
type Entry struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	Type EntryType `json:"type" db:"type"`

	// Minutes is the signed amount. Call debits bill duration rounded
	// up to whole minutes.
	Minutes int64 `json:"minutes" db:"minutes"`

	// CallSID links call debits back to the call; empty for credits.
	CallSID string `json:"call_sid,omitempty" db:"call_sid"`

	// IdempotencyKey makes posting safe to retry.
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EntryType string

const (
	EntryTypeCredit EntryType = "credit" // plan top-up or manual grant
	EntryTypeDebit  EntryType = "debit"  // call minutes consumed
)

// Balance is the remaining-minutes projection, updated atomically
// alongside entry inserts.
type Balance struct {
	UserID           string    `json:"user_id"`
	MinutesRemaining int64     `json:"minutes_remaining"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// BillableMinutes converts a call duration to billed minutes, rounding
// up so a 61 second call bills 2.
func BillableMinutes(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	mins := secs / 60
	if secs%60 != 0 {
		mins++
	}
	return mins
}
