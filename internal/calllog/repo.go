package calllog

import (
	"context"
	"database/sql"
	"sync"
)

// SQLRepo persists call events in Postgres.
//
// Table call_events with an INSERT-only policy; partition by time for
// retention if volume demands it.
type SQLRepo struct {
	db *sql.DB
}

func NewSQLRepo(db *sql.DB) *SQLRepo {
	return &SQLRepo{db: db}
}

func (r *SQLRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO call_events (id, call_sid, type, campaign_id, lead_id, agent_id, text, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.CallSID, e.Type, e.CampaignID, e.LeadID, e.AgentID, e.Text, e.Metadata, e.CreatedAt,
	)
	return err
}

func (r *SQLRepo) ByCall(ctx context.Context, callSID string) ([]Event, error) {
	const q = `
SELECT id, call_sid, type, campaign_id, lead_id, agent_id, text, metadata, created_at
FROM call_events
WHERE call_sid = $1
ORDER BY created_at ASC, id ASC
`
	rows, err := r.db.QueryContext(ctx, q, callSID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID, &e.CallSID, &e.Type, &e.CampaignID, &e.LeadID, &e.AgentID, &e.Text, &e.Metadata, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MemoryRepo is a simple in-memory append-only repository useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *MemoryRepo) ByCall(ctx context.Context, callSID string) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.CallSID == callSID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
