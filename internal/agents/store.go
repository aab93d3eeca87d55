package agents

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

var ErrNotFound = errors.New("agents: not found")

// Store is the persistence contract for agent profiles.
type Store interface {
	Get(ctx context.Context, id string) (Agent, error)
	Default(ctx context.Context, userID string) (Agent, error)
}

// SQLStore persists agents in Postgres.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const agentColumns = `
id, user_id, name, voice, language, instructions, greeting, model,
is_default, created_at, updated_at
`

func scanAgent(row *sql.Row) (Agent, error) {
	var a Agent
	if err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.Name,
		&a.Voice,
		&a.Language,
		&a.Instructions,
		&a.Greeting,
		&a.Model,
		&a.IsDefault,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Agent{}, ErrNotFound
		}
		return Agent{}, err
	}
	return a.Normalize(), nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (Agent, error) {
	q := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`
	return scanAgent(s.db.QueryRowContext(ctx, q, id))
}

// Default returns the user's designated default agent, or the oldest
// agent they own when none is flagged.
func (s *SQLStore) Default(ctx context.Context, userID string) (Agent, error) {
	q := `
SELECT ` + agentColumns + `
FROM agents
WHERE user_id = $1
ORDER BY is_default DESC, created_at ASC
LIMIT 1
`
	return scanAgent(s.db.QueryRowContext(ctx, q, userID))
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu     sync.Mutex
	agents map[string]Agent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agents: make(map[string]Agent)}
}

func (m *MemoryStore) Put(a Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.ID] = a.Normalize()
}

func (m *MemoryStore) Get(ctx context.Context, id string) (Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return Agent{}, ErrNotFound
	}
	return a, nil
}

func (m *MemoryStore) Default(ctx context.Context, userID string) (Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest *Agent
	for id := range m.agents {
		a := m.agents[id]
		if userID != "" && a.UserID != userID {
			continue
		}
		if a.IsDefault {
			return a, nil
		}
		if oldest == nil || a.CreatedAt.Before(oldest.CreatedAt) {
			oldest = &a
		}
	}
	if oldest == nil {
		return Agent{}, ErrNotFound
	}
	return *oldest, nil
}
