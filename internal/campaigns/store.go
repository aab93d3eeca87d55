package campaigns

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("campaigns: not found")

// Store is the persistence contract the dialer engine consumes.
type Store interface {
	Get(ctx context.Context, id string) (Campaign, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	Stats(ctx context.Context, id string) (Stats, error)
	IncrementStats(ctx context.Context, id string, completed, failed int) error
}

// SQLStore persists campaigns in Postgres.
//
// Assumed tables: campaigns, campaign_stats (one row per campaign, upserted).
type SQLStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, clock: time.Now}
}

func (s *SQLStore) Get(ctx context.Context, id string) (Campaign, error) {
	const q = `
SELECT id, name, status, max_concurrent_calls, call_timeout_seconds,
       retry_attempts, retry_delay_minutes, caller_id, agent_id,
       created_at, updated_at
FROM campaigns
WHERE id = $1
`
	var c Campaign
	if err := s.db.QueryRowContext(ctx, q, id).Scan(
		&c.ID,
		&c.Name,
		&c.Status,
		&c.MaxConcurrentCalls,
		&c.CallTimeoutSeconds,
		&c.RetryAttempts,
		&c.RetryDelayMinutes,
		&c.CallerID,
		&c.AgentID,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, err
	}
	return c.Normalize(), nil
}

func (s *SQLStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	const q = `
UPDATE campaigns SET status = $2, updated_at = $3 WHERE id = $1
`
	res, err := s.db.ExecContext(ctx, q, id, status, s.clock().UTC())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Stats(ctx context.Context, id string) (Stats, error) {
	const q = `
SELECT campaign_id, completed_calls, failed_calls
FROM campaign_stats
WHERE campaign_id = $1
`
	var st Stats
	if err := s.db.QueryRowContext(ctx, q, id).Scan(&st.CampaignID, &st.CompletedCalls, &st.FailedCalls); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Stats{CampaignID: id}, nil
		}
		return Stats{}, err
	}
	return st, nil
}

func (s *SQLStore) IncrementStats(ctx context.Context, id string, completed, failed int) error {
	const q = `
INSERT INTO campaign_stats (campaign_id, completed_calls, failed_calls)
VALUES ($1, $2, $3)
ON CONFLICT (campaign_id) DO UPDATE
SET completed_calls = campaign_stats.completed_calls + EXCLUDED.completed_calls,
    failed_calls    = campaign_stats.failed_calls + EXCLUDED.failed_calls
`
	_, err := s.db.ExecContext(ctx, q, id, completed, failed)
	return err
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu        sync.Mutex
	campaigns map[string]Campaign
	stats     map[string]Stats
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns: make(map[string]Campaign),
		stats:     make(map[string]Stats),
	}
}

func (m *MemoryStore) Put(c Campaign) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[c.ID] = c.Normalize()
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	m.campaigns[id] = c
	return nil
}

func (m *MemoryStore) Stats(ctx context.Context, id string) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stats[id]
	st.CampaignID = id
	return st, nil
}

func (m *MemoryStore) IncrementStats(ctx context.Context, id string, completed, failed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stats[id]
	st.CampaignID = id
	st.CompletedCalls += completed
	st.FailedCalls += failed
	m.stats[id] = st
	return nil
}
