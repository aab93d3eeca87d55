package dialer

import (
	"context"
	"sync"
	"time"

	"callcenter-platform/internal/telephony"
)

// Registry holds at most one Engine per campaign id: get-or-create-singleton
// semantics so two API calls can never spin up rival schedulers for the same
// campaign. It also routes asynchronous status callbacks and bridge outcome
// reports to the owning engine.
type Registry struct {
	cfg  Config
	deps Deps

	mu      sync.Mutex
	engines map[string]*Engine
}

func NewRegistry(cfg Config, deps Deps) *Registry {
	return &Registry{
		cfg:     cfg,
		deps:    deps,
		engines: make(map[string]*Engine),
	}
}

// Engine returns the singleton engine for a campaign, creating it on first
// use.
func (r *Registry) Engine(campaignID string) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[campaignID]; ok {
		return e
	}
	e := NewEngine(campaignID, r.cfg, r.deps)
	r.engines[campaignID] = e
	return e
}

// Lookup returns an existing engine without creating one.
func (r *Registry) Lookup(campaignID string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[campaignID]
	return e, ok
}

func (r *Registry) snapshot() []*Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		out = append(out, e)
	}
	return out
}

// HandleStatus fans a provider status callback out to the engine owning the
// call. Callbacks for calls no engine knows (inbound calls, restarts) are
// dropped; their bookkeeping happens elsewhere or not at all.
func (r *Registry) HandleStatus(ctx context.Context, ev telephony.StatusEvent) {
	for _, e := range r.snapshot() {
		if e.HandleStatus(ctx, ev) {
			return
		}
	}
}

// ReportOutcome lands a bridge teardown report on the owning engine, if any.
// Inbound calls have no owning campaign and are ignored here.
func (r *Registry) ReportOutcome(ctx context.Context, campaignID, callSID string, status telephony.CallStatus, duration time.Duration) {
	if campaignID == "" {
		return
	}
	if e, ok := r.Lookup(campaignID); ok {
		e.ReportOutcome(ctx, callSID, status, duration)
	}
}

// StopAll stops every engine; used on process shutdown.
func (r *Registry) StopAll(ctx context.Context) {
	for _, e := range r.snapshot() {
		_ = e.Stop(ctx)
	}
}
