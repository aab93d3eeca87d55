package reporting

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"callcenter-platform/internal/leads"
	"callcenter-platform/internal/usage"
)

// SQLRepo reads report inputs from Postgres: the leads table for pool
// breakdowns, call_events for settled outcomes, usage_entries for the
// minute ledger.
type SQLRepo struct {
	db *sql.DB
}

func NewSQLRepo(db *sql.DB) *SQLRepo { return &SQLRepo{db: db} }

func (r *SQLRepo) LeadCounts(ctx context.Context, campaignID string) (map[leads.Status]int, error) {
	const q = `
SELECT status, COUNT(*)
FROM leads
WHERE campaign_id = $1
GROUP BY status
`
	rows, err := r.db.QueryContext(ctx, q, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[leads.Status]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[leads.Status(status)] = n
	}
	return out, rows.Err()
}

func (r *SQLRepo) CallOutcomes(ctx context.Context, campaignID string, from, to time.Time) ([]CallOutcome, error) {
	const q = `
SELECT call_sid, text, metadata, created_at
FROM call_events
WHERE type = 'call_ended' AND campaign_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, campaignID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallOutcome
	for rows.Next() {
		var o CallOutcome
		var metadata string
		if err := rows.Scan(&o.CallSID, &o.Status, &metadata, &o.EndedAt); err != nil {
			return nil, err
		}
		// Malformed or missing metadata counts the call with zero
		// duration rather than failing the whole report.
		var meta struct {
			DurationSeconds int `json:"duration_seconds"`
		}
		if metadata != "" {
			_ = json.Unmarshal([]byte(metadata), &meta)
		}
		o.DurationSeconds = meta.DurationSeconds
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *SQLRepo) UsageEntries(ctx context.Context, userID string, from, to time.Time) ([]usage.Entry, error) {
	const q = `
SELECT id, user_id, type, minutes, call_sid, idempotency_key, created_at
FROM usage_entries
WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []usage.Entry
	for rows.Next() {
		var e usage.Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.Minutes, &e.CallSID, &e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
