package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"callcenter-platform/internal/agents"
	"callcenter-platform/internal/aisession"
	"callcenter-platform/internal/audio"
	"callcenter-platform/internal/calllog"
	"callcenter-platform/internal/functions"
	"callcenter-platform/internal/leads"
	"callcenter-platform/internal/telephony"
)

// State is the per-connection lifecycle of a call session.
type State string

const (
	StateConnecting    State = "connecting"
	StateAwaitingStart State = "awaiting_start"
	StateActive        State = "active"
	StateClosed        State = "closed"
)

const (
	// outQueueSize bounds locally queued outbound audio. Overflow drops
	// the oldest chunk, matching the drop-not-block transport policy.
	outQueueSize = 100

	toolCallTimeout = 15 * time.Second

	apologyMessage = "We are sorry, we are unable to connect your call right now. Please try again later. Goodbye."
)

// CallReporter receives the final outcome of a call so lead bookkeeping
// can proceed. The dialer registry implements it for campaign calls.
type CallReporter interface {
	ReportOutcome(ctx context.Context, campaignID, callSID string, status telephony.CallStatus, duration time.Duration)
}

// UsageRecorder deducts call minutes from the owning account.
type UsageRecorder interface {
	RecordCall(ctx context.Context, userID, callSID string, duration time.Duration) error
}

// CallEnder lets the bridge end a live call with a spoken message when
// the AI session cannot be established.
type CallEnder interface {
	PlayMessageAndHangup(ctx context.Context, providerCallID, message string) error
}

// Deps wires a session's collaborators. Optional fields may be nil; the
// session degrades rather than failing the call.
type Deps struct {
	Connector aisession.Connector
	Resolver  *agents.Resolver

	// Leads is consulted for instruction personalization on campaign
	// calls. Nil skips personalization.
	Leads leads.Store

	// Functions executes AI-requested function calls. Nil still
	// acknowledges every call with an error payload.
	Functions functions.Dispatcher

	Reporter CallReporter
	Usage    UsageRecorder
	CallLog  calllog.Recorder
	Ender    CallEnder

	// Tools are the function declarations advertised to the AI session.
	Tools []aisession.ToolDeclaration

	Logger *slog.Logger
	Clock  func() time.Time
}

// frameWriter is the outbound half of the media stream connection.
type frameWriter interface {
	WriteJSON(v any) error
}

// Session bridges one live telephony media stream to one AI session.
//
// Inbound caller audio is transcoded and forwarded to the AI; AI audio
// is transcoded back and queued onto the stream. Audio arriving before
// the AI session is ready is dropped, not buffered: it is stale by the
// time the session exists and buffering grows without bound under a
// slow connect. Only the caller-direction track is ever forwarded; the
// agent-voice track echoed on the same transport is discarded to avoid
// a self-conversation loop.
type Session struct {
	deps  Deps
	w     frameWriter
	log   *slog.Logger
	clock func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	streamSID  string
	callSID    string
	params     map[string]string
	agent      agents.Agent
	answeredAt time.Time
	ai         aisession.Session
	dropped    int

	aiReady atomic.Bool

	out    chan []byte
	closed chan struct{}

	closeOnce sync.Once
}

// NewSession builds a session for one accepted stream connection.
// baseParams carries identifiers from the stream URL's query string;
// the start frame's custom parameters are merged over them.
func NewSession(w frameWriter, baseParams map[string]string, deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	params := make(map[string]string, len(baseParams))
	for k, v := range baseParams {
		params[k] = v
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		deps:   deps,
		w:      w,
		log:    deps.Logger,
		clock:  deps.Clock,
		ctx:    ctx,
		cancel: cancel,
		state:  StateConnecting,
		params: params,
		out:    make(chan []byte, outQueueSize),
		closed: make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CallSID returns the telephony call id, once known.
func (s *Session) CallSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callSID
}

// handleFrame processes one inbound transport frame.
func (s *Session) handleFrame(data []byte) {
	frame, err := parseStreamFrame(data)
	if err != nil {
		s.log.Warn("dropping malformed frame", "err", err)
		return
	}

	switch frame.Event {
	case eventConnected:
		s.mu.Lock()
		if s.state == StateConnecting {
			s.state = StateAwaitingStart
		}
		s.mu.Unlock()

	case eventStart:
		if frame.Start != nil {
			s.handleStart(*frame.Start)
		}

	case eventMedia:
		if frame.Media != nil {
			s.handleMedia(*frame.Media)
		}

	case eventStop:
		s.Teardown(telephony.CallStatusCompleted)

	case eventMark:
		// Playback checkpoint; nothing to synchronize against here.
	}
}

func (s *Session) handleStart(start startFrame) {
	s.mu.Lock()
	if s.state == StateActive || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateActive
	s.streamSID = start.StreamSID
	s.callSID = start.CallSID
	for k, v := range start.CustomParameters {
		s.params[k] = v
	}
	s.answeredAt = s.clock()
	params := s.params
	callSID := s.callSID
	s.mu.Unlock()

	agent := s.deps.Resolver.Resolve(s.ctx, params, callSID)
	instructions := agent.Instructions
	if leadID := params["leadId"]; leadID != "" && s.deps.Leads != nil {
		if lead, err := s.deps.Leads.Get(s.ctx, leadID); err == nil {
			instructions = agents.RenderInstructions(instructions, leadVars(lead))
		} else {
			s.log.Warn("lead lookup for personalization failed", "lead_id", leadID, "err", err)
			instructions = agents.RenderInstructions(instructions, nil)
		}
	} else {
		instructions = agents.RenderInstructions(instructions, nil)
	}

	s.mu.Lock()
	s.agent = agent
	s.mu.Unlock()

	s.record(calllog.Event{
		CallSID:    callSID,
		Type:       calllog.EventTypeCallStarted,
		CampaignID: params["campaignId"],
		LeadID:     params["leadId"],
		AgentID:    agent.ID,
	})
	s.log.Info("call session started",
		"call_sid", callSID,
		"stream_sid", start.StreamSID,
		"agent_id", agent.ID,
		"call_type", params["callType"],
	)

	cfg := aisession.Config{
		Model:             agent.Model,
		Voice:             agent.Voice,
		Language:          agent.Language,
		SystemInstruction: instructions,
		Greeting:          agent.Greeting,
		Tools:             s.deps.Tools,
	}
	go s.connectAI(cfg)
}

// connectAI opens the AI session off the frame-handling path. Until it
// returns, the readiness gate keeps inbound audio out.
func (s *Session) connectAI(cfg aisession.Config) {
	sess, err := s.deps.Connector.Connect(s.ctx, cfg)
	if err != nil {
		s.log.Error("ai session connect failed", "call_sid", s.CallSID(), "err", err)
		s.record(calllog.Event{
			CallSID: s.CallSID(),
			Type:    calllog.EventTypeSessionError,
			Text:    err.Error(),
		})
		s.apologizeAndEnd()
		return
	}

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		_ = sess.Close()
		return
	}
	s.ai = sess
	s.mu.Unlock()

	s.aiReady.Store(true)
	go s.consumeAI(sess)
}

// apologizeAndEnd speaks a short message and hangs up instead of leaving
// the caller in silence.
func (s *Session) apologizeAndEnd() {
	callSID := s.CallSID()
	if s.deps.Ender != nil && callSID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.deps.Ender.PlayMessageAndHangup(ctx, callSID, apologyMessage); err != nil {
			s.log.Warn("apology hangup failed", "call_sid", callSID, "err", err)
		}
	}
	s.Teardown(telephony.CallStatusFailed)
}

func (s *Session) handleMedia(m mediaFrame) {
	s.mu.Lock()
	active := s.state == StateActive
	s.mu.Unlock()
	if !active {
		return
	}
	if m.Track != trackInbound {
		return
	}
	if !s.aiReady.Load() {
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		return
	}

	raw, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		s.log.Warn("undecodable media payload", "call_sid", s.CallSID(), "err", err)
		return
	}

	// Conversion failure forwards the original bytes rather than
	// dropping the chunk; degraded audio beats a dropped call.
	pcm, err := audio.UpsampleTelephonyToAI(raw)
	if err != nil {
		s.log.Warn("inbound transcode failed, forwarding raw", "call_sid", s.CallSID(), "err", err)
		pcm = raw
	}

	ai := s.aiSession()
	if ai == nil {
		return
	}
	if err := ai.SendAudio(pcm); err != nil {
		s.log.Warn("ai audio send failed", "call_sid", s.CallSID(), "err", err)
	}
}

func (s *Session) aiSession() aisession.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ai
}

// consumeAI drains the AI session's event stream until it closes.
func (s *Session) consumeAI(sess aisession.Session) {
	for ev := range sess.Events() {
		s.handleAIEvent(ev)
	}
}

func (s *Session) handleAIEvent(ev aisession.Event) {
	switch ev.Type {
	case aisession.EventAudio:
		mulaw, err := audio.DownsampleAIToTelephony(ev.Audio)
		if err != nil {
			s.log.Warn("outbound transcode failed, forwarding raw", "call_sid", s.CallSID(), "err", err)
			mulaw = ev.Audio
		}
		s.enqueueOutbound(mulaw)

	case aisession.EventInterrupted:
		s.flushOutbound()

	case aisession.EventToolCall:
		for _, call := range ev.ToolCalls {
			go s.handleToolCall(call)
		}

	case aisession.EventInputTranscript:
		s.record(calllog.Event{CallSID: s.CallSID(), Type: calllog.EventTypeTranscriptIn, Text: ev.Text})

	case aisession.EventOutputTranscript:
		s.record(calllog.Event{CallSID: s.CallSID(), Type: calllog.EventTypeTranscriptOut, Text: ev.Text})

	case aisession.EventClosed:
		s.mu.Lock()
		active := s.state == StateActive
		s.mu.Unlock()
		if active {
			// The AI side dropped mid-call.
			s.log.Warn("ai session closed mid-call", "call_sid", s.CallSID())
			s.apologizeAndEnd()
		}
	}
}

// enqueueOutbound queues a mu-law chunk for transmission, dropping the
// oldest chunk when the queue is full.
func (s *Session) enqueueOutbound(mulaw []byte) {
	select {
	case s.out <- mulaw:
	default:
		select {
		case <-s.out:
		default:
		}
		select {
		case s.out <- mulaw:
		default:
		}
	}
}

// flushOutbound discards locally queued audio and tells the transport to
// drop whatever it has buffered. Called when the AI reports its own turn
// was interrupted so stale speech is never played after the fact.
func (s *Session) flushOutbound() {
	for {
		select {
		case <-s.out:
		default:
			s.mu.Lock()
			streamSID := s.streamSID
			s.mu.Unlock()
			if err := s.w.WriteJSON(clearFrame{Event: eventClear, StreamSID: streamSID}); err != nil {
				s.log.Warn("clear frame write failed", "call_sid", s.CallSID(), "err", err)
			}
			return
		}
	}
}

// writePump transmits queued outbound audio until the session closes.
func (s *Session) writePump() {
	for {
		select {
		case <-s.closed:
			return
		case mulaw := <-s.out:
			s.mu.Lock()
			streamSID := s.streamSID
			s.mu.Unlock()
			frame := outboundMedia{
				Event:     eventMedia,
				StreamSID: streamSID,
				Media:     outboundPayload{Payload: base64.StdEncoding.EncodeToString(mulaw)},
			}
			if err := s.w.WriteJSON(frame); err != nil {
				s.log.Warn("outbound media write failed", "call_sid", s.CallSID(), "err", err)
				return
			}
		}
	}
}

func (s *Session) handleToolCall(call aisession.ToolCall) {
	var payload json.RawMessage
	if s.deps.Functions == nil {
		payload = functions.ErrorPayload(errors.New("no function dispatcher configured"))
	} else {
		s.mu.Lock()
		agent := s.agent
		callSID := s.callSID
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(s.ctx, toolCallTimeout)
		res, err := s.deps.Functions.Dispatch(ctx, functions.Call{
			Name:          call.Name,
			Args:          call.Args,
			CallID:        callSID,
			AgentID:       agent.ID,
			SessionUserID: agent.UserID,
		})
		cancel()
		if err != nil {
			s.log.Warn("function dispatch failed", "function", call.Name, "call_sid", callSID, "err", err)
			payload = functions.ErrorPayload(err)
		} else {
			payload = res
		}
	}

	// The AI's turn must never be left hanging on a missing or failed
	// function; an error payload is still an acknowledgement.
	if ai := s.aiSession(); ai != nil {
		if err := ai.SendToolResponse(call.ID, call.Name, payload); err != nil {
			s.log.Warn("tool response send failed", "function", call.Name, "err", err)
		}
	}
	s.record(calllog.Event{
		CallSID:  s.CallSID(),
		Type:     calllog.EventTypeFunctionCall,
		Text:     call.Name,
		Metadata: string(payload),
	})
}

// Teardown ends the session exactly once: closes the AI session, stops
// the pumps, and reports duration and outcome for lead bookkeeping and
// minute accounting. Safe to call from any goroutine, any number of
// times.
func (s *Session) Teardown(status telephony.CallStatus) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		callSID := s.callSID
		params := s.params
		agent := s.agent
		answeredAt := s.answeredAt
		ai := s.ai
		dropped := s.dropped
		s.mu.Unlock()

		s.aiReady.Store(false)
		s.cancel()
		close(s.closed)

		if ai != nil {
			_ = ai.Close()
		}

		var duration time.Duration
		if !answeredAt.IsZero() {
			duration = s.clock().Sub(answeredAt)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if callSID != "" {
			meta, _ := json.Marshal(map[string]any{
				"duration_seconds": int(duration / time.Second),
			})
			s.record(calllog.Event{
				CallSID:    callSID,
				Type:       calllog.EventTypeCallEnded,
				CampaignID: params["campaignId"],
				AgentID:    agent.ID,
				Text:       string(status),
				Metadata:   string(meta),
			})
			if s.deps.Reporter != nil {
				s.deps.Reporter.ReportOutcome(ctx, params["campaignId"], callSID, status, duration)
			}
			if s.deps.Usage != nil && agent.UserID != "" {
				if err := s.deps.Usage.RecordCall(ctx, agent.UserID, callSID, duration); err != nil {
					s.log.Warn("usage recording failed", "call_sid", callSID, "err", err)
				}
			}
		}

		s.log.Info("call session closed",
			"call_sid", callSID,
			"status", string(status),
			"duration", duration,
			"frames_dropped_pre_ready", dropped,
		)
	})
}

// record is best-effort; teardown logging must still land after the
// session context is cancelled, so it never uses s.ctx.
func (s *Session) record(e calllog.Event) {
	if s.deps.CallLog == nil || e.CallSID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.CallLog.Record(ctx, e); err != nil {
		s.log.Warn("call log append failed", "call_sid", e.CallSID, "err", err)
	}
}

func leadVars(l leads.Lead) map[string]string {
	vars := map[string]string{
		"firstName":        l.FirstName,
		"lastName":         l.LastName,
		"phone":            l.PhoneNumber,
		"email":            l.Email,
		"address":          l.Address,
		"serviceRequested": l.ServiceRequested,
	}
	for k, v := range l.CustomFields {
		if _, ok := vars[k]; !ok {
			vars[k] = v
		}
	}
	return vars
}
