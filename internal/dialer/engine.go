package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"callcenter-platform/internal/campaigns"
	"callcenter-platform/internal/leads"
	"callcenter-platform/internal/telephony"
)

// Engine is the per-campaign auto-dialer: it owns the dispatch loop, the
// in-memory lead queue and the active-slot set for exactly one campaign.
//
// Concurrency model: the dispatch loop, the watchdog, the webhook completion
// path and the bridge's outcome report all serialize on mu. Cross-campaign
// state is never shared; the registry guarantees one Engine per campaign.

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateStopping  State = "stopping"
	StateCompleted State = "completed"
)

var (
	ErrAlreadyRunning = errors.New("dialer: campaign already running")
	ErrNotRunning     = errors.New("dialer: campaign not running")
	ErrNotPaused      = errors.New("dialer: campaign not paused")
)

// GlobalCap is an optional account-wide concurrent-call ceiling layered on
// top of the per-campaign slot bound. Backed by the redis Lua scripts in
// pkg/utils.
type GlobalCap interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Config tunes engine timing. Zero values get defaults.
type Config struct {
	TickInterval  time.Duration // dispatch loop tick, default 5s
	DrainTimeout  time.Duration // Stop() bounded wait, default 60s
	WatchdogGrace time.Duration // added to call timeout for slot deadlines, default 30s
}

func (c Config) withDefaults() Config {
	out := c
	if out.TickInterval <= 0 {
		out.TickInterval = 5 * time.Second
	}
	if out.DrainTimeout <= 0 {
		out.DrainTimeout = 60 * time.Second
	}
	if out.WatchdogGrace <= 0 {
		out.WatchdogGrace = 30 * time.Second
	}
	return out
}

// Deps are the collaborators one engine consumes.
type Deps struct {
	Leads     leads.Store
	Campaigns campaigns.Store
	Dialer    telephony.Dialer

	// StreamURL and StatusCallbackURL are the public endpoints handed to
	// the telephony provider on every placed call.
	StreamURL         string
	StatusCallbackURL string

	Observer  Observer
	GlobalCap GlobalCap
	Logger    *slog.Logger
	Clock     func() time.Time
}

// slot is one in-flight outbound call counted against the concurrency cap.
type slot struct {
	leadID   string
	deadline time.Time
}

type Engine struct {
	campaignID string
	cfg        Config
	deps       Deps
	log        *slog.Logger
	clock      func() time.Time

	mu       sync.Mutex
	state    State
	campaign campaigns.Campaign
	queue    []leads.Lead
	slots    map[string]slot     // keyed by provider call SID
	handled  map[string]struct{} // completion tombstones, also keyed by call SID

	completed int
	failed    int

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

func NewEngine(campaignID string, cfg Config, deps Deps) *Engine {
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Engine{
		campaignID: campaignID,
		cfg:        cfg.withDefaults(),
		deps:       deps,
		log:        deps.Logger.With("component", "dialer", "campaign_id", campaignID),
		clock:      deps.Clock,
		state:      StateIdle,
		slots:      make(map[string]slot),
		handled:    make(map[string]struct{}),
	}
}

func (e *Engine) CampaignID() string { return e.campaignID }

// Start loads the eligible lead queue and begins dispatching.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateRunning || e.state == StateStopping {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.mu.Unlock()

	campaign, err := e.deps.Campaigns.Get(ctx, e.campaignID)
	if err != nil {
		return fmt.Errorf("dialer: load campaign: %w", err)
	}

	// Reconcile leads stranded in calling by a previous process: anything
	// older than a full call timeout plus grace cannot still be live.
	stuckAfter := time.Duration(campaign.CallTimeoutSeconds)*time.Second + e.cfg.WatchdogGrace
	if n, err := e.deps.Leads.ReleaseStuckCalling(ctx, e.campaignID, stuckAfter); err != nil {
		e.log.Warn("stuck lead reconciliation failed", "err", err)
	} else if n > 0 {
		e.log.Info("released stuck calling leads", "count", n)
	}

	eligible, err := e.deps.Leads.LoadEligible(ctx, e.campaignID, campaign.RetryAttempts)
	if err != nil {
		return fmt.Errorf("dialer: load leads: %w", err)
	}

	e.mu.Lock()
	e.campaign = campaign
	e.queue = eligible
	e.state = StateRunning
	e.startLoopLocked()
	e.mu.Unlock()

	if err := e.deps.Campaigns.UpdateStatus(ctx, e.campaignID, campaigns.StatusActive); err != nil {
		e.log.Warn("campaign status update failed", "status", campaigns.StatusActive, "err", err)
	}
	e.log.Info("campaign started", "queued", len(eligible), "max_concurrent", campaign.MaxConcurrentCalls)
	e.deps.Observer.DialerEvent(Event{Type: EventStarted, CampaignID: e.campaignID})
	return nil
}

// Pause stops new dispatches; in-flight calls run to their own completion.
func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.stopLoopLocked()
	e.state = StatePaused
	e.mu.Unlock()

	if err := e.deps.Campaigns.UpdateStatus(ctx, e.campaignID, campaigns.StatusPaused); err != nil {
		e.log.Warn("campaign status update failed", "status", campaigns.StatusPaused, "err", err)
	}
	e.log.Info("campaign paused")
	e.deps.Observer.DialerEvent(Event{Type: EventPaused, CampaignID: e.campaignID})
	return nil
}

// Resume restarts the dispatch loop without reloading the queue.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StatePaused {
		e.mu.Unlock()
		return ErrNotPaused
	}
	e.state = StateRunning
	e.startLoopLocked()
	e.mu.Unlock()

	if err := e.deps.Campaigns.UpdateStatus(ctx, e.campaignID, campaigns.StatusActive); err != nil {
		e.log.Warn("campaign status update failed", "status", campaigns.StatusActive, "err", err)
	}
	e.log.Info("campaign resumed")
	e.deps.Observer.DialerEvent(Event{Type: EventResumed, CampaignID: e.campaignID})
	return nil
}

// Stop halts dispatch, waits up to the drain timeout for in-flight calls,
// then force-clears whatever remains. Idempotent: stopping an idle engine is
// a no-op ending in idle.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateIdle || e.state == StateCompleted {
		e.state = StateIdle
		e.mu.Unlock()
		return nil
	}
	e.stopLoopLocked()
	e.state = StateStopping
	e.mu.Unlock()

	// Cooperative drain: calls already in flight are not aborted, we just
	// wait for their completions (webhook or watchdog land them; here we
	// poll the slot set on wall time).
	drainCtx, cancel := context.WithTimeout(ctx, e.cfg.DrainTimeout)
	defer cancel()
	for {
		e.mu.Lock()
		remaining := len(e.slots)
		e.mu.Unlock()
		if remaining == 0 || drainCtx.Err() != nil {
			break
		}
		select {
		case <-drainCtx.Done():
		case <-time.After(250 * time.Millisecond):
		}
	}

	// Force-clear stragglers. Late real completions become tombstone no-ops.
	e.mu.Lock()
	var leftover []string
	for sid := range e.slots {
		leftover = append(leftover, sid)
	}
	e.mu.Unlock()
	for _, sid := range leftover {
		e.completeCall(ctx, sid, telephony.CallStatusCanceled, 0, "stop_drain")
	}

	e.mu.Lock()
	e.state = StateIdle
	e.mu.Unlock()

	if err := e.deps.Campaigns.UpdateStatus(ctx, e.campaignID, campaigns.StatusStopped); err != nil {
		e.log.Warn("campaign status update failed", "status", campaigns.StatusStopped, "err", err)
	}
	e.log.Info("campaign stopped", "force_cleared", len(leftover))
	e.deps.Observer.DialerEvent(Event{Type: EventStopped, CampaignID: e.campaignID})
	return nil
}

// Status is a non-blocking snapshot.
type Status struct {
	Status         State `json:"status"`
	ActiveCalls    int   `json:"active_calls"`
	CallsInQueue   int   `json:"calls_in_queue"`
	CompletedCalls int   `json:"completed_calls"`
	FailedCalls    int   `json:"failed_calls"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Status:         e.state,
		ActiveCalls:    len(e.slots),
		CallsInQueue:   len(e.queue),
		CompletedCalls: e.completed,
		FailedCalls:    e.failed,
	}
}

// startLoopLocked spawns the dispatch goroutine. Caller holds mu.
func (e *Engine) startLoopLocked() {
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.loopCancel = cancel
	e.loopDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(e.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				e.tick(loopCtx)
			}
		}
	}()
}

// stopLoopLocked cancels the dispatch goroutine. Caller holds mu.
func (e *Engine) stopLoopLocked() {
	if e.loopCancel != nil {
		e.loopCancel()
		e.loopCancel = nil
	}
}

// Tick runs one dispatch cycle immediately. The production loop calls it on
// the ticker; tests call it directly for determinism.
func (e *Engine) Tick(ctx context.Context) { e.tick(ctx) }

func (e *Engine) tick(ctx context.Context) {
	e.reapExpiredSlots(ctx)

	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return
	}

	// Completion condition: nothing queued, nothing in flight.
	if len(e.queue) == 0 {
		if len(e.slots) == 0 {
			e.state = StateCompleted
			e.stopLoopLocked()
			completed, failed := e.completed, e.failed
			e.mu.Unlock()
			if err := e.deps.Campaigns.UpdateStatus(ctx, e.campaignID, campaigns.StatusCompleted); err != nil {
				e.log.Warn("campaign status update failed", "status", campaigns.StatusCompleted, "err", err)
			}
			e.log.Info("campaign completed", "completed", completed, "failed", failed)
			e.deps.Observer.DialerEvent(Event{Type: EventCompleted, CampaignID: e.campaignID})
			return
		}
		e.mu.Unlock()
		return
	}

	// Concurrency bound: occupied slots never exceed the campaign cap.
	if len(e.slots) >= e.campaign.MaxConcurrentCalls {
		e.mu.Unlock()
		return
	}

	lead := e.queue[0]
	e.queue = e.queue[1:]

	// Retry-delay gate, re-checked at pop time: a recently-attempted lead
	// recycles to the tail instead of burning an attempt.
	retryDelay := time.Duration(e.campaign.RetryDelayMinutes) * time.Minute
	if lead.LastCallAt != nil && retryDelay > 0 && e.clock().Sub(*lead.LastCallAt) < retryDelay {
		e.queue = append(e.queue, lead)
		e.mu.Unlock()
		return
	}
	campaign := e.campaign
	e.mu.Unlock()

	e.dispatch(ctx, campaign, lead)
}

func (e *Engine) dispatch(ctx context.Context, campaign campaigns.Campaign, lead leads.Lead) {
	if e.deps.GlobalCap != nil {
		ok, err := e.deps.GlobalCap.Acquire(ctx)
		if err != nil {
			// The global ceiling is advisory; redis trouble must not halt
			// the campaign.
			e.log.Warn("global cap acquire failed", "err", err)
		} else if !ok {
			e.mu.Lock()
			e.queue = append(e.queue, lead)
			e.mu.Unlock()
			return
		}
	}

	marked, err := e.deps.Leads.MarkCalling(ctx, lead.ID)
	if err != nil {
		e.releaseGlobalCap(ctx)
		if errors.Is(err, leads.ErrAlreadyCalling) {
			// Another slot already owns this lead; drop it from the queue.
			e.log.Warn("lead already calling, skipping", "lead_id", lead.ID)
			return
		}
		e.log.Error("mark calling failed", "lead_id", lead.ID, "err", err)
		e.mu.Lock()
		e.queue = append(e.queue, lead)
		e.mu.Unlock()
		return
	}

	res, err := e.deps.Dialer.Place(ctx, telephony.CallRequest{
		From:              campaign.CallerID,
		To:                marked.PhoneNumber,
		StreamURL:         e.deps.StreamURL,
		StatusCallbackURL: e.deps.StatusCallbackURL,
		TimeoutSeconds:    campaign.CallTimeoutSeconds,
		Params: map[string]string{
			"callType":   "campaign",
			"campaignId": campaign.ID,
			"leadId":     marked.ID,
			"agentId":    campaign.AgentID,
		},
	})
	if err != nil {
		e.releaseGlobalCap(ctx)
		e.handleDispatchFailure(ctx, campaign, marked, err)
		return
	}

	deadline := e.clock().Add(time.Duration(campaign.CallTimeoutSeconds)*time.Second + e.cfg.WatchdogGrace)
	e.mu.Lock()
	e.slots[res.ProviderCallID] = slot{leadID: marked.ID, deadline: deadline}
	e.mu.Unlock()
	e.log.Info("call dispatched", "lead_id", marked.ID, "call_sid", res.ProviderCallID, "attempt", marked.CallAttempts)
}

func (e *Engine) handleDispatchFailure(ctx context.Context, campaign campaigns.Campaign, lead leads.Lead, err error) {
	e.log.Warn("dispatch failed", "lead_id", lead.ID, "retryable", telephony.IsRetryable(err), "err", err)

	if err := e.deps.Leads.UpdateOutcome(ctx, lead.ID, leads.StatusFailed, "dispatch_failed"); err != nil {
		e.log.Error("lead outcome update failed", "lead_id", lead.ID, "err", err)
	}

	e.mu.Lock()
	e.failed++
	// Transient failures keep retrying through the normal re-queue until the
	// attempt budget runs out.
	if telephony.IsRetryable(err) && lead.CallAttempts < campaign.RetryAttempts {
		lead.Status = leads.StatusFailed
		e.queue = append(e.queue, lead)
	}
	e.mu.Unlock()

	if err := e.deps.Campaigns.IncrementStats(ctx, e.campaignID, 0, 1); err != nil {
		e.log.Warn("stats update failed", "err", err)
	}
	e.deps.Observer.DialerEvent(Event{Type: EventDispatchFailed, CampaignID: e.campaignID, LeadID: lead.ID, Err: err})
}

// reapExpiredSlots is the watchdog: slots past their deadline with no
// completion signal are optimistically reclaimed. A late real completion
// afterwards hits the tombstone and is a no-op.
func (e *Engine) reapExpiredSlots(ctx context.Context) {
	now := e.clock()
	e.mu.Lock()
	var expired []string
	for sid, s := range e.slots {
		if now.After(s.deadline) {
			expired = append(expired, sid)
		}
	}
	e.mu.Unlock()

	for _, sid := range expired {
		e.log.Warn("watchdog reclaiming slot", "call_sid", sid)
		e.completeCall(ctx, sid, telephony.CallStatusNoAnswer, 0, "watchdog")
	}
}

// HandleStatus applies a provider status callback. Returns true if the call
// belongs to this engine (live slot or tombstone).
func (e *Engine) HandleStatus(ctx context.Context, ev telephony.StatusEvent) bool {
	e.mu.Lock()
	_, live := e.slots[ev.ProviderCallID]
	_, done := e.handled[ev.ProviderCallID]
	e.mu.Unlock()
	if !live && !done {
		return false
	}
	if !ev.Status.Terminal() {
		return true
	}
	e.completeCall(ctx, ev.ProviderCallID, ev.Status, ev.Duration, "webhook")
	return true
}

// ReportOutcome lets the session bridge land a call result at teardown.
// Idempotent with the webhook and watchdog paths.
func (e *Engine) ReportOutcome(ctx context.Context, callSID string, status telephony.CallStatus, duration time.Duration) {
	e.completeCall(ctx, callSID, status, duration, "bridge")
}

// completeCall is the single idempotent completion path shared by the
// webhook, the watchdog, the bridge report and stop-drain. First caller for
// a call SID wins; everyone else is a logged no-op.
func (e *Engine) completeCall(ctx context.Context, callSID string, status telephony.CallStatus, duration time.Duration, source string) {
	e.mu.Lock()
	if _, done := e.handled[callSID]; done {
		e.mu.Unlock()
		e.log.Debug("duplicate completion ignored", "call_sid", callSID, "source", source)
		return
	}
	s, ok := e.slots[callSID]
	if !ok {
		e.mu.Unlock()
		return
	}
	e.handled[callSID] = struct{}{}
	delete(e.slots, callSID)
	campaign := e.campaign
	e.mu.Unlock()

	e.releaseGlobalCap(ctx)

	lead, err := e.deps.Leads.Get(ctx, s.leadID)
	if err != nil {
		e.log.Error("lead load failed on completion", "lead_id", s.leadID, "err", err)
		return
	}

	var completedDelta, failedDelta int
	if status.Answered() {
		if err := e.deps.Leads.UpdateOutcome(ctx, lead.ID, leads.StatusCompleted, string(status)); err != nil {
			e.log.Error("lead outcome update failed", "lead_id", lead.ID, "err", err)
		}
		completedDelta = 1
	} else {
		if err := e.deps.Leads.UpdateOutcome(ctx, lead.ID, leads.StatusFailed, string(status)); err != nil {
			e.log.Error("lead outcome update failed", "lead_id", lead.ID, "err", err)
		}
		failedDelta = 1
		// Attempts remaining: back into the queue for another pass.
		if lead.CallAttempts < campaign.RetryAttempts && status != telephony.CallStatusCanceled {
			if err := e.deps.Leads.Requeue(ctx, lead.ID); err != nil {
				e.log.Warn("lead requeue failed", "lead_id", lead.ID, "err", err)
			} else {
				lead.Status = leads.StatusFailed
				e.mu.Lock()
				e.queue = append(e.queue, lead)
				e.mu.Unlock()
			}
		}
	}

	e.mu.Lock()
	e.completed += completedDelta
	e.failed += failedDelta
	e.mu.Unlock()

	if err := e.deps.Campaigns.IncrementStats(ctx, e.campaignID, completedDelta, failedDelta); err != nil {
		e.log.Warn("stats update failed", "err", err)
	}

	e.log.Info("call completed", "call_sid", callSID, "lead_id", lead.ID, "status", status, "duration", duration, "source", source)
	e.deps.Observer.DialerEvent(Event{
		Type:       EventCallComplete,
		CampaignID: e.campaignID,
		LeadID:     lead.ID,
		CallSID:    callSID,
		Status:     status,
	})
}

func (e *Engine) releaseGlobalCap(ctx context.Context) {
	if e.deps.GlobalCap == nil {
		return
	}
	if err := e.deps.GlobalCap.Release(ctx); err != nil {
		e.log.Warn("global cap release failed", "err", err)
	}
}
