// Package aisession drives a realtime conversational AI session over a
// bidirectional websocket. Input audio is 16-bit PCM at 16kHz; output audio
// arrives as 16-bit PCM at 24kHz. The session also surfaces transcription,
// interruption and tool-call events.
package aisession

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
)

// Config is the resolved per-call session configuration. Defaults are
// applied by the connector, not merged at runtime.
type Config struct {
	Model             string
	Voice             string
	Language          string
	SystemInstruction string

	// Greeting, when set, is injected as the opening user turn so the agent
	// speaks first on answered calls.
	Greeting string

	Tools []ToolDeclaration
}

// ToolDeclaration describes one callable function exposed to the model.
type ToolDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type EventType string

const (
	// EventReady fires once, when the session has accepted setup and will
	// consume audio. Anything sent before it is wasted.
	EventReady EventType = "ready"

	// EventAudio carries one chunk of 24kHz 16-bit PCM agent speech.
	EventAudio EventType = "audio"

	// EventInterrupted means the model's current generation was cut off by
	// caller speech; buffered agent audio is stale and must be discarded.
	EventInterrupted EventType = "interrupted"

	// EventToolCall requests execution of one or more named functions.
	EventToolCall EventType = "tool_call"

	EventInputTranscript  EventType = "input_transcript"
	EventOutputTranscript EventType = "output_transcript"
	EventTurnComplete     EventType = "turn_complete"

	// EventClosed is the final event; Err carries the cause when abnormal.
	EventClosed EventType = "closed"
)

type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

type Event struct {
	Type      EventType
	Audio     []byte
	Text      string
	ToolCalls []ToolCall
	Err       error
}

// Session is one live conversation. Implementations must make Close
// idempotent; the bridge closes on every teardown path and double-close
// must not panic or error.
type Session interface {
	// Events yields session events until EventClosed, after which the
	// channel is closed.
	Events() <-chan Event

	// SendAudio forwards one chunk of 16kHz 16-bit little-endian PCM.
	SendAudio(pcm []byte) error

	// SendText injects a text turn (greetings, system nudges).
	SendText(text string) error

	// SendToolResponse feeds a function result (or structured error) back
	// so the model's turn is never left hanging.
	SendToolResponse(id, name string, result json.RawMessage) error

	Close() error
}

// Connector opens sessions. The production connector dials the realtime API;
// tests substitute fakes.
type Connector interface {
	Connect(ctx context.Context, cfg Config) (Session, error)
}

// wire frames, client -> server

type setupFrame struct {
	Setup setupBody `json:"setup"`
}

type setupBody struct {
	Model                    string         `json:"model"`
	GenerationConfig         genConfig      `json:"generationConfig"`
	SystemInstruction        *content       `json:"systemInstruction,omitempty"`
	Tools                    []toolGroup    `json:"tools,omitempty"`
	InputAudioTranscription  *emptyStruct   `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *emptyStruct   `json:"outputAudioTranscription,omitempty"`
}

type emptyStruct struct{}

type genConfig struct {
	ResponseModalities []string     `json:"responseModalities"`
	SpeechConfig       *speechCfg   `json:"speechConfig,omitempty"`
}

type speechCfg struct {
	VoiceConfig  voiceCfg `json:"voiceConfig"`
	LanguageCode string   `json:"languageCode,omitempty"`
}

type voiceCfg struct {
	PrebuiltVoiceConfig prebuiltVoice `json:"prebuiltVoiceConfig"`
}

type prebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Parts []part `json:"parts"`
	Role  string `json:"role,omitempty"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type toolGroup struct {
	FunctionDeclarations []ToolDeclaration `json:"functionDeclarations"`
}

type realtimeInputFrame struct {
	RealtimeInput realtimeInputBody `json:"realtimeInput"`
}

type realtimeInputBody struct {
	MediaChunks []blob `json:"mediaChunks"`
}

type clientContentFrame struct {
	ClientContent clientContentBody `json:"clientContent"`
}

type clientContentBody struct {
	Turns        []content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

type toolResponseFrame struct {
	ToolResponse toolResponseBody `json:"toolResponse"`
}

type toolResponseBody struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

// wire frames, server -> client

type serverFrame struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	ToolCall      *serverToolCall  `json:"toolCall,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type serverToolCall struct {
	FunctionCalls []serverFunctionCall `json:"functionCalls"`
}

type serverFunctionCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// parseServerFrame turns one websocket message into zero or more events.
// Shared by the live session's read loop and its tests.
func parseServerFrame(data []byte) ([]Event, error) {
	var frame serverFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("aisession: malformed server frame: %w", err)
	}

	var events []Event
	if frame.SetupComplete != nil {
		events = append(events, Event{Type: EventReady})
	}
	if sc := frame.ServerContent; sc != nil {
		if sc.Interrupted {
			events = append(events, Event{Type: EventInterrupted})
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData == nil || p.InlineData.Data == "" {
					continue
				}
				audio, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil {
					return events, fmt.Errorf("aisession: bad audio payload: %w", err)
				}
				events = append(events, Event{Type: EventAudio, Audio: audio})
			}
		}
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			events = append(events, Event{Type: EventInputTranscript, Text: sc.InputTranscription.Text})
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			events = append(events, Event{Type: EventOutputTranscript, Text: sc.OutputTranscription.Text})
		}
		if sc.TurnComplete {
			events = append(events, Event{Type: EventTurnComplete})
		}
	}
	if tc := frame.ToolCall; tc != nil && len(tc.FunctionCalls) > 0 {
		calls := make([]ToolCall, 0, len(tc.FunctionCalls))
		for _, fc := range tc.FunctionCalls {
			calls = append(calls, ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		events = append(events, Event{Type: EventToolCall, ToolCalls: calls})
	}
	return events, nil
}

// FakeSession is an in-memory Session for bridge tests.
type FakeSession struct {
	mu        sync.Mutex
	events    chan Event
	audio     [][]byte
	texts     []string
	responses []functionResponse
	closed    bool
}

func NewFakeSession() *FakeSession {
	return &FakeSession{events: make(chan Event, 64)}
}

func (f *FakeSession) Events() <-chan Event { return f.events }

// Emit pushes an event to the bridge under test.
func (f *FakeSession) Emit(ev Event) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if !closed {
		f.events <- ev
	}
}

func (f *FakeSession) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	f.audio = append(f.audio, buf)
	return nil
}

func (f *FakeSession) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *FakeSession) SendToolResponse(id, name string, result json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, functionResponse{ID: id, Name: name, Response: result})
	return nil
}

func (f *FakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *FakeSession) AudioChunks() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.audio))
	copy(out, f.audio)
	return out
}

func (f *FakeSession) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.texts))
	copy(out, f.texts)
	return out
}

// ToolResponses returns (id, name, raw response) triples recorded so far.
func (f *FakeSession) ToolResponses() []struct {
	ID, Name string
	Response json.RawMessage
} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]struct {
		ID, Name string
		Response json.RawMessage
	}, 0, len(f.responses))
	for _, r := range f.responses {
		out = append(out, struct {
			ID, Name string
			Response json.RawMessage
		}{r.ID, r.Name, r.Response})
	}
	return out
}

func (f *FakeSession) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
