package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"callcenter-platform/internal/agents"
	"callcenter-platform/internal/aisession"
	"callcenter-platform/internal/calllog"
	"callcenter-platform/internal/functions"
	"callcenter-platform/internal/leads"
	"callcenter-platform/internal/telephony"
)

// recordingWriter captures frames written to the media stream.
type recordingWriter struct {
	mu     sync.Mutex
	frames []map[string]any
}

func (w *recordingWriter) WriteJSON(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, m)
	return nil
}

func (w *recordingWriter) events() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, f := range w.frames {
		ev, _ := f["event"].(string)
		out = append(out, ev)
	}
	return out
}

// gateConnector blocks Connect until released, so tests control exactly
// when the AI session becomes ready.
type gateConnector struct {
	sess aisession.Session
	gate chan struct{}
	err  error

	mu  sync.Mutex
	cfg aisession.Config
}

func newGateConnector(sess aisession.Session) *gateConnector {
	return &gateConnector{sess: sess, gate: make(chan struct{})}
}

func (c *gateConnector) Connect(ctx context.Context, cfg aisession.Config) (aisession.Session, error) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	select {
	case <-c.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.sess, nil
}

func (c *gateConnector) config() aisession.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

type outcomeReport struct {
	CampaignID string
	CallSID    string
	Status     telephony.CallStatus
	Duration   time.Duration
}

type stubReporter struct {
	mu      sync.Mutex
	reports []outcomeReport
}

func (r *stubReporter) ReportOutcome(ctx context.Context, campaignID, callSID string, status telephony.CallStatus, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, outcomeReport{campaignID, callSID, status, duration})
}

func (r *stubReporter) all() []outcomeReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]outcomeReport(nil), r.reports...)
}

type usageEntry struct {
	UserID   string
	CallSID  string
	Duration time.Duration
}

type stubUsage struct {
	mu      sync.Mutex
	entries []usageEntry
}

func (u *stubUsage) RecordCall(ctx context.Context, userID, callSID string, duration time.Duration) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.entries = append(u.entries, usageEntry{userID, callSID, duration})
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	sess     *Session
	writer   *recordingWriter
	ai       *aisession.FakeSession
	conn     *gateConnector
	reporter *stubReporter
	usage    *stubUsage
	clock    *fakeClock
	agents   *agents.MemoryStore
	leads    *leads.MemoryStore
	logRepo  *calllog.MemoryRepo
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()

	ai := aisession.NewFakeSession()
	conn := newGateConnector(ai)
	writer := &recordingWriter{}
	reporter := &stubReporter{}
	usage := &stubUsage{}
	clock := newFakeClock()
	agentStore := agents.NewMemoryStore()
	leadStore := leads.NewMemoryStore()
	logRepo := calllog.NewMemoryRepo()

	agentStore.Put(agents.Agent{
		ID:           "agent-1",
		UserID:       "user-1",
		Name:         "Scheduler",
		Greeting:     "Hi there!",
		Instructions: "Help {{firstName}} with {{serviceRequested}}.",
	})

	deps := Deps{
		Connector: conn,
		Resolver:  &agents.Resolver{Store: agentStore},
		Leads:     leadStore,
		Reporter:  reporter,
		Usage:     usage,
		CallLog:   calllog.NewService(logRepo),
		Clock:     clock.Now,
	}
	if mutate != nil {
		mutate(&deps)
	}

	return &testEnv{
		sess:     NewSession(writer, nil, deps),
		writer:   writer,
		ai:       ai,
		conn:     conn,
		reporter: reporter,
		usage:    usage,
		clock:    clock,
		agents:   agentStore,
		leads:    leadStore,
		logRepo:  logRepo,
	}
}

func (e *testEnv) startCall(t *testing.T, params map[string]string) {
	t.Helper()
	e.sess.handleFrame([]byte(`{"event":"connected"}`))
	start := map[string]any{
		"event": "start",
		"start": map[string]any{
			"streamSid":        "MZ1",
			"callSid":          "CA1",
			"customParameters": params,
		},
	}
	raw, err := json.Marshal(start)
	if err != nil {
		t.Fatalf("marshal start: %v", err)
	}
	e.sess.handleFrame(raw)
}

func (e *testEnv) releaseAI(t *testing.T) {
	t.Helper()
	close(e.conn.gate)
	waitFor(t, func() bool { return e.sess.aiReady.Load() })
}

func (e *testEnv) mediaFrame(track string, payload []byte) []byte {
	frame := map[string]any{
		"event": "media",
		"media": map[string]any{
			"track":   track,
			"payload": base64.StdEncoding.EncodeToString(payload),
		},
	}
	raw, _ := json.Marshal(frame)
	return raw
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestReadinessGateDropsEarlyAudio(t *testing.T) {
	env := newTestEnv(t, nil)
	env.startCall(t, map[string]string{"agentId": "agent-1"})

	// AI not connected yet: every frame must be dropped, not buffered.
	for i := 0; i < 5; i++ {
		env.sess.handleFrame(env.mediaFrame(trackInbound, []byte{0xFF, 0x7F}))
	}
	if got := len(env.ai.AudioChunks()); got != 0 {
		t.Fatalf("%d chunks forwarded before readiness, want 0", got)
	}

	env.releaseAI(t)

	for i := 0; i < 3; i++ {
		env.sess.handleFrame(env.mediaFrame(trackInbound, []byte{0xFF, 0x7F}))
	}
	if got := len(env.ai.AudioChunks()); got != 3 {
		t.Fatalf("%d chunks forwarded after readiness, want 3", got)
	}
}

func TestOutboundTrackNeverForwarded(t *testing.T) {
	env := newTestEnv(t, nil)
	env.startCall(t, map[string]string{"agentId": "agent-1"})
	env.releaseAI(t)

	env.sess.handleFrame(env.mediaFrame(trackOutbound, []byte{0x01, 0x02}))
	env.sess.handleFrame(env.mediaFrame("", []byte{0x01, 0x02}))
	if got := len(env.ai.AudioChunks()); got != 0 {
		t.Fatalf("%d outbound-track chunks forwarded, want 0", got)
	}

	env.sess.handleFrame(env.mediaFrame(trackInbound, []byte{0x01, 0x02}))
	if got := len(env.ai.AudioChunks()); got != 1 {
		t.Fatalf("inbound chunk not forwarded, got %d", got)
	}
}

func TestInboundAudioIsUpsampled(t *testing.T) {
	env := newTestEnv(t, nil)
	env.startCall(t, map[string]string{"agentId": "agent-1"})
	env.releaseAI(t)

	env.sess.handleFrame(env.mediaFrame(trackInbound, []byte{0xFF, 0x00}))
	chunks := env.ai.AudioChunks()
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d", len(chunks))
	}
	// 2 mu-law samples -> 4 16-bit samples (each duplicated) -> 8 bytes.
	if len(chunks[0]) != 8 {
		t.Fatalf("forwarded %d bytes, want 8", len(chunks[0]))
	}
}

func TestInterruptionFlushesPendingAudio(t *testing.T) {
	env := newTestEnv(t, nil)
	env.startCall(t, map[string]string{"agentId": "agent-1"})
	env.releaseAI(t)

	// Queue audio without a running write pump so it stays pending.
	pcm := make([]byte, 6) // 3 samples -> 1 mu-law byte
	env.sess.handleAIEvent(aisession.Event{Type: aisession.EventAudio, Audio: pcm})
	env.sess.handleAIEvent(aisession.Event{Type: aisession.EventAudio, Audio: pcm})
	if len(env.sess.out) != 2 {
		t.Fatalf("queued = %d, want 2", len(env.sess.out))
	}

	env.sess.handleAIEvent(aisession.Event{Type: aisession.EventInterrupted})

	if len(env.sess.out) != 0 {
		t.Fatalf("queue not flushed, %d chunks remain", len(env.sess.out))
	}
	evs := env.writer.events()
	if len(evs) == 0 || evs[len(evs)-1] != eventClear {
		t.Fatalf("no clear frame sent, events = %v", evs)
	}
}

func TestMissingDispatcherStillAcknowledgesToolCall(t *testing.T) {
	env := newTestEnv(t, nil)
	env.startCall(t, map[string]string{"agentId": "agent-1"})
	env.releaseAI(t)

	env.sess.handleAIEvent(aisession.Event{
		Type:      aisession.EventToolCall,
		ToolCalls: []aisession.ToolCall{{ID: "fc1", Name: "lookup_customer", Args: json.RawMessage(`{}`)}},
	})

	waitFor(t, func() bool { return len(env.ai.ToolResponses()) == 1 })
	resp := env.ai.ToolResponses()[0]
	if resp.ID != "fc1" || resp.Name != "lookup_customer" {
		t.Fatalf("response = %+v", resp)
	}
	var payload map[string]string
	if err := json.Unmarshal(resp.Response, &payload); err != nil || payload["error"] == "" {
		t.Fatalf("expected error payload, got %s", resp.Response)
	}
}

func TestDispatcherResultFedBack(t *testing.T) {
	reg := functions.NewRegistry(nil)
	reg.Register("lookup_customer", func(ctx context.Context, call functions.Call) (json.RawMessage, error) {
		if call.CallID != "CA1" || call.AgentID != "agent-1" || call.SessionUserID != "user-1" {
			return nil, errors.New("missing call context")
		}
		return json.RawMessage(`{"name":"Ada"}`), nil
	})

	env := newTestEnv(t, func(d *Deps) { d.Functions = reg })
	env.startCall(t, map[string]string{"agentId": "agent-1"})
	env.releaseAI(t)

	env.sess.handleAIEvent(aisession.Event{
		Type:      aisession.EventToolCall,
		ToolCalls: []aisession.ToolCall{{ID: "fc1", Name: "lookup_customer", Args: json.RawMessage(`{}`)}},
	})

	waitFor(t, func() bool { return len(env.ai.ToolResponses()) == 1 })
	if got := string(env.ai.ToolResponses()[0].Response); got != `{"name":"Ada"}` {
		t.Fatalf("response = %s", got)
	}
}

func TestPersonalizationSubstitutesLeadFields(t *testing.T) {
	env := newTestEnv(t, nil)
	env.leads.Put(leads.Lead{
		ID:               "lead-1",
		CampaignID:       "camp-1",
		PhoneNumber:      "+15550001111",
		FirstName:        "Ada",
		ServiceRequested: "roof repair",
		Status:           leads.StatusCalling,
	})

	env.startCall(t, map[string]string{
		"callType":   "campaign",
		"campaignId": "camp-1",
		"leadId":     "lead-1",
		"agentId":    "agent-1",
	})
	env.releaseAI(t)

	got := env.conn.config().SystemInstruction
	if got != "Help Ada with roof repair." {
		t.Fatalf("instructions = %q", got)
	}
}

func TestTeardownReportsOutcomeAndUsage(t *testing.T) {
	env := newTestEnv(t, nil)
	env.startCall(t, map[string]string{
		"callType":   "campaign",
		"campaignId": "camp-1",
		"agentId":    "agent-1",
	})
	env.releaseAI(t)

	env.clock.Advance(90 * time.Second)
	env.sess.handleFrame([]byte(`{"event":"stop","stop":{"callSid":"CA1"}}`))

	if env.sess.State() != StateClosed {
		t.Fatalf("state = %s", env.sess.State())
	}
	if !env.ai.Closed() {
		t.Fatal("ai session not closed")
	}

	reports := env.reporter.all()
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	r := reports[0]
	if r.CampaignID != "camp-1" || r.CallSID != "CA1" || r.Status != telephony.CallStatusCompleted {
		t.Fatalf("report = %+v", r)
	}
	if r.Duration != 90*time.Second {
		t.Fatalf("duration = %v", r.Duration)
	}

	env.usage.mu.Lock()
	entries := append([]usageEntry(nil), env.usage.entries...)
	env.usage.mu.Unlock()
	if len(entries) != 1 || entries[0].UserID != "user-1" || entries[0].Duration != 90*time.Second {
		t.Fatalf("usage = %+v", entries)
	}
}

func TestTeardownIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	env.startCall(t, map[string]string{"agentId": "agent-1"})
	env.releaseAI(t)

	env.sess.Teardown(telephony.CallStatusCompleted)
	env.sess.Teardown(telephony.CallStatusFailed)
	env.sess.Teardown(telephony.CallStatusCompleted)

	if got := len(env.reporter.all()); got != 1 {
		t.Fatalf("outcome reported %d times, want 1", got)
	}
}

func TestConnectFailureEndsCallWithApology(t *testing.T) {
	type hangup struct {
		CallSID string
		Message string
	}
	var (
		mu      sync.Mutex
		hangups []hangup
	)
	ender := callEnderFunc(func(ctx context.Context, callSID, message string) error {
		mu.Lock()
		defer mu.Unlock()
		hangups = append(hangups, hangup{callSID, message})
		return nil
	})

	env := newTestEnv(t, func(d *Deps) { d.Ender = ender })
	env.conn.err = errors.New("ai unreachable")
	env.startCall(t, map[string]string{"agentId": "agent-1"})
	close(env.conn.gate)

	waitFor(t, func() bool { return env.sess.State() == StateClosed })

	mu.Lock()
	defer mu.Unlock()
	if len(hangups) != 1 || hangups[0].CallSID != "CA1" {
		t.Fatalf("hangups = %+v", hangups)
	}
	if !strings.Contains(hangups[0].Message, "sorry") {
		t.Fatalf("message = %q", hangups[0].Message)
	}

	reports := env.reporter.all()
	if len(reports) != 1 || reports[0].Status != telephony.CallStatusFailed {
		t.Fatalf("reports = %+v", reports)
	}
}

func TestCallEventsLogged(t *testing.T) {
	env := newTestEnv(t, nil)
	env.startCall(t, map[string]string{"agentId": "agent-1"})
	env.releaseAI(t)

	env.sess.handleAIEvent(aisession.Event{Type: aisession.EventInputTranscript, Text: "hello"})
	env.sess.handleAIEvent(aisession.Event{Type: aisession.EventOutputTranscript, Text: "hi, how can I help"})
	env.sess.handleFrame([]byte(`{"event":"stop"}`))

	evs, err := calllog.NewService(env.logRepo).ByCall(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("by call: %v", err)
	}
	var types []calllog.EventType
	for _, e := range evs {
		types = append(types, e.Type)
	}
	want := []calllog.EventType{
		calllog.EventTypeCallStarted,
		calllog.EventTypeTranscriptIn,
		calllog.EventTypeTranscriptOut,
		calllog.EventTypeCallEnded,
	}
	if len(types) != len(want) {
		t.Fatalf("types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("types = %v, want %v", types, want)
		}
	}
}

type callEnderFunc func(ctx context.Context, callSID, message string) error

func (f callEnderFunc) PlayMessageAndHangup(ctx context.Context, callSID, message string) error {
	return f(ctx, callSID, message)
}
