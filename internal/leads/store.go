package leads

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound       = errors.New("leads: not found")
	ErrAlreadyCalling = errors.New("leads: lead is already calling")
)

// Store is the lead persistence contract consumed by the dialer engine and
// the session bridge.
type Store interface {
	Get(ctx context.Context, id string) (Lead, error)

	// LoadEligible returns pending/failed leads with call_attempts below
	// maxAttempts, ordered by creation time.
	LoadEligible(ctx context.Context, campaignID string, maxAttempts int) ([]Lead, error)

	// MarkCalling is the dispatch gate: it transitions the lead to calling,
	// increments call_attempts and stamps last_call_at in one statement.
	// Returns ErrAlreadyCalling if the lead already holds a slot.
	MarkCalling(ctx context.Context, id string) (Lead, error)

	// UpdateOutcome records the terminal result of one dispatch attempt.
	UpdateOutcome(ctx context.Context, id string, status Status, outcome string) error

	// Requeue returns a failed lead to pending without touching attempts.
	Requeue(ctx context.Context, id string) error

	// ReleaseStuckCalling reconciles leads left in calling by a crashed
	// process: rows older than olderThan go back to pending, attempts
	// untouched. Returns the number of rows released.
	ReleaseStuckCalling(ctx context.Context, campaignID string, olderThan time.Duration) (int, error)
}

// SQLStore persists leads in Postgres.
type SQLStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, clock: time.Now}
}

const leadColumns = `
id, campaign_id, phone_number, first_name, last_name, email, address,
service_requested, custom_fields, status, call_attempts, last_call_at,
outcome, created_at, updated_at
`

func scanLead(row interface{ Scan(...any) error }) (Lead, error) {
	var l Lead
	var custom []byte
	var lastCall sql.NullTime
	var outcome sql.NullString
	if err := row.Scan(
		&l.ID,
		&l.CampaignID,
		&l.PhoneNumber,
		&l.FirstName,
		&l.LastName,
		&l.Email,
		&l.Address,
		&l.ServiceRequested,
		&custom,
		&l.Status,
		&l.CallAttempts,
		&lastCall,
		&outcome,
		&l.CreatedAt,
		&l.UpdatedAt,
	); err != nil {
		return Lead{}, err
	}
	if lastCall.Valid {
		t := lastCall.Time
		l.LastCallAt = &t
	}
	l.Outcome = outcome.String
	if len(custom) > 0 {
		// Malformed custom fields should not poison dispatch.
		_ = json.Unmarshal(custom, &l.CustomFields)
	}
	return l, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (Lead, error) {
	q := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`
	l, err := scanLead(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	return l, err
}

func (s *SQLStore) LoadEligible(ctx context.Context, campaignID string, maxAttempts int) ([]Lead, error) {
	q := `
SELECT ` + leadColumns + `
FROM leads
WHERE campaign_id = $1
  AND status IN ('pending', 'failed')
  AND call_attempts < $2
ORDER BY created_at ASC
`
	rows, err := s.db.QueryContext(ctx, q, campaignID, maxAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListByCampaign pages through a campaign's lead pool, newest first.
// Not part of Store: only the control API lists leads.
func (s *SQLStore) ListByCampaign(ctx context.Context, campaignID string, limit, offset int) ([]Lead, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	q := `
SELECT ` + leadColumns + `
FROM leads
WHERE campaign_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`
	rows, err := s.db.QueryContext(ctx, q, campaignID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLStore) MarkCalling(ctx context.Context, id string) (Lead, error) {
	// Single-statement gate: the status predicate is the mutual exclusion
	// that keeps one lead out of two dispatch slots.
	q := `
UPDATE leads
SET status = 'calling',
    call_attempts = call_attempts + 1,
    last_call_at = $2,
    updated_at = $2
WHERE id = $1 AND status <> 'calling' AND status <> 'dnc'
RETURNING ` + leadColumns
	now := s.clock().UTC()
	l, err := scanLead(s.db.QueryRowContext(ctx, q, id, now))
	if errors.Is(err, sql.ErrNoRows) {
		return Lead{}, ErrAlreadyCalling
	}
	return l, err
}

func (s *SQLStore) UpdateOutcome(ctx context.Context, id string, status Status, outcome string) error {
	const q = `
UPDATE leads SET status = $2, outcome = $3, updated_at = $4 WHERE id = $1
`
	res, err := s.db.ExecContext(ctx, q, id, status, outcome, s.clock().UTC())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Requeue(ctx context.Context, id string) error {
	const q = `
UPDATE leads SET status = 'pending', updated_at = $2 WHERE id = $1 AND status <> 'dnc'
`
	_, err := s.db.ExecContext(ctx, q, id, s.clock().UTC())
	return err
}

func (s *SQLStore) ReleaseStuckCalling(ctx context.Context, campaignID string, olderThan time.Duration) (int, error) {
	const q = `
UPDATE leads
SET status = 'pending', updated_at = $3
WHERE campaign_id = $1 AND status = 'calling' AND last_call_at < $2
`
	now := s.clock().UTC()
	res, err := s.db.ExecContext(ctx, q, campaignID, now.Add(-olderThan), now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu    sync.Mutex
	leads map[string]Lead
	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{leads: make(map[string]Lead), clock: time.Now}
}

// SetClock injects a deterministic clock.
func (m *MemoryStore) SetClock(clock func() time.Time) { m.clock = clock }

func (m *MemoryStore) Put(l Lead) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leads[l.ID] = l
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return Lead{}, ErrNotFound
	}
	return l, nil
}

func (m *MemoryStore) LoadEligible(ctx context.Context, campaignID string, maxAttempts int) ([]Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Lead
	for _, l := range m.leads {
		if l.CampaignID == campaignID && l.Dispatchable(maxAttempts) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListByCampaign(ctx context.Context, campaignID string, limit, offset int) ([]Lead, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Lead
	for _, l := range m.leads {
		if l.CampaignID == campaignID {
			all = append(all, l)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryStore) MarkCalling(ctx context.Context, id string) (Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return Lead{}, ErrNotFound
	}
	if l.Status == StatusCalling || l.Status == StatusDNC {
		return Lead{}, ErrAlreadyCalling
	}
	now := m.clock().UTC()
	l.Status = StatusCalling
	l.CallAttempts++
	l.LastCallAt = &now
	l.UpdatedAt = now
	m.leads[id] = l
	return l, nil
}

func (m *MemoryStore) UpdateOutcome(ctx context.Context, id string, status Status, outcome string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return ErrNotFound
	}
	l.Status = status
	l.Outcome = outcome
	l.UpdatedAt = m.clock().UTC()
	m.leads[id] = l
	return nil
}

func (m *MemoryStore) Requeue(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return ErrNotFound
	}
	if l.Status != StatusDNC {
		l.Status = StatusPending
		m.leads[id] = l
	}
	return nil
}

func (m *MemoryStore) ReleaseStuckCalling(ctx context.Context, campaignID string, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.clock().UTC().Add(-olderThan)
	released := 0
	for id, l := range m.leads {
		if l.CampaignID == campaignID && l.Status == StatusCalling && l.LastCallAt != nil && l.LastCallAt.Before(cutoff) {
			l.Status = StatusPending
			m.leads[id] = l
			released++
		}
	}
	return released, nil
}
