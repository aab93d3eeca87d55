package agents

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Associations maps a telephony call id to the agent expected to answer
// it. Inbound routing writes the mapping before the media stream opens;
// the stream's agent resolution reads it back.
type Associations interface {
	Associate(ctx context.Context, callID, agentID string, ttl time.Duration) error
	AgentForCall(ctx context.Context, callID string) (string, error)
}

var ErrNoAssociation = errors.New("agents: no association for call")

// RedisAssociations keeps call-to-agent mappings in redis with a TTL so
// abandoned calls never leak keys.
type RedisAssociations struct {
	rdb *redis.Client
}

func NewRedisAssociations(rdb *redis.Client) *RedisAssociations {
	return &RedisAssociations{rdb: rdb}
}

func associationKey(callID string) string { return "call:agent:" + callID }

func (r *RedisAssociations) Associate(ctx context.Context, callID, agentID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return r.rdb.Set(ctx, associationKey(callID), agentID, ttl).Err()
}

func (r *RedisAssociations) AgentForCall(ctx context.Context, callID string) (string, error) {
	id, err := r.rdb.Get(ctx, associationKey(callID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoAssociation
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// MemoryAssociations is an in-memory Associations for tests.
type MemoryAssociations struct {
	mu sync.Mutex
	m  map[string]string
}

func NewMemoryAssociations() *MemoryAssociations {
	return &MemoryAssociations{m: make(map[string]string)}
}

func (a *MemoryAssociations) Associate(ctx context.Context, callID, agentID string, ttl time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.m[callID] = agentID
	return nil
}

func (a *MemoryAssociations) AgentForCall(ctx context.Context, callID string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.m[callID]
	if !ok {
		return "", ErrNoAssociation
	}
	return id, nil
}

// Resolver picks the agent for a live call. The chain is, in priority
// order: an explicit agent id in the stream's connection parameters,
// an agent previously associated with the call id, the default agent.
// Resolution never blocks a call; every failure falls through to the
// next step and finally to the built-in fallback profile.
type Resolver struct {
	Store        Store
	Associations Associations
	DefaultUser  string
	Logger       *slog.Logger
}

func (r *Resolver) Resolve(ctx context.Context, params map[string]string, callID string) Agent {
	log := r.logger()

	if id := params["agentId"]; id != "" {
		if a, err := r.Store.Get(ctx, id); err == nil {
			return a
		} else {
			log.Warn("agent from params not found, falling back", "agent_id", id, "err", err)
		}
	}

	if r.Associations != nil && callID != "" {
		id, err := r.Associations.AgentForCall(ctx, callID)
		switch {
		case err == nil:
			if a, gerr := r.Store.Get(ctx, id); gerr == nil {
				return a
			} else {
				log.Warn("associated agent not found, falling back", "agent_id", id, "err", gerr)
			}
		case !errors.Is(err, ErrNoAssociation):
			log.Warn("association lookup failed, falling back", "call_id", callID, "err", err)
		}
	}

	if a, err := r.Store.Default(ctx, r.DefaultUser); err == nil {
		return a
	} else if !errors.Is(err, ErrNotFound) {
		log.Warn("default agent lookup failed, using built-in fallback", "err", err)
	}
	return Fallback()
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
