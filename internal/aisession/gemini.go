package aisession

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// GeminiConnector dials the Gemini Live API.
type GeminiConnector struct {
	APIKey string

	// Endpoint overrides the API URL in tests.
	Endpoint string

	// DefaultModel and DefaultVoice apply when the agent config leaves them
	// empty.
	DefaultModel string
	DefaultVoice string

	// SetupTimeout bounds the wait for setupComplete. Default 10s.
	SetupTimeout time.Duration

	Logger *slog.Logger
}

// Connect opens a live session. One reconnection attempt is made on dial or
// setup failure; repeated failure is surfaced to the caller, which plays the
// spoken apology and hangs up.
func (c *GeminiConnector) Connect(ctx context.Context, cfg Config) (Session, error) {
	s, err := c.connectOnce(ctx, cfg)
	if err == nil {
		return s, nil
	}
	c.logger().Warn("ai session connect failed, retrying once", "err", err)

	s, retryErr := c.connectOnce(ctx, cfg)
	if retryErr != nil {
		return nil, fmt.Errorf("aisession: connect failed after retry: %w", retryErr)
	}
	return s, nil
}

func (c *GeminiConnector) connectOnce(ctx context.Context, cfg Config) (*liveSession, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("aisession: api key is required")
	}
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("aisession: bad endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", c.APIKey)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("aisession: dial: %w", err)
	}

	s := &liveSession{
		conn:   conn,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		log:    c.logger(),
	}

	if err := s.writeJSON(c.setupFrame(cfg)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("aisession: setup: %w", err)
	}

	go s.readLoop()

	// Block until the session is usable; audio sent before setupComplete
	// is discarded server-side anyway.
	timeout := c.SetupTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case <-ctx.Done():
		_ = s.Close()
		return nil, ctx.Err()
	case <-time.After(timeout):
		_ = s.Close()
		return nil, fmt.Errorf("aisession: setup timed out")
	case ev, ok := <-s.events:
		if !ok {
			return nil, fmt.Errorf("aisession: closed during setup")
		}
		if ev.Type != EventReady {
			_ = s.Close()
			return nil, fmt.Errorf("aisession: unexpected pre-setup event %q", ev.Type)
		}
	}

	// Connect returning is the readiness signal; open with the greeting so
	// the agent speaks first on answered calls.
	if cfg.Greeting != "" {
		if err := s.SendText(cfg.Greeting); err != nil {
			s.log.Warn("greeting send failed", "err", err)
		}
	}
	return s, nil
}

func (c *GeminiConnector) setupFrame(cfg Config) setupFrame {
	model := cfg.Model
	if model == "" {
		model = c.DefaultModel
	}
	voice := cfg.Voice
	if voice == "" {
		voice = c.DefaultVoice
	}

	body := setupBody{
		Model: "models/" + model,
		GenerationConfig: genConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &speechCfg{
				VoiceConfig:  voiceCfg{PrebuiltVoiceConfig: prebuiltVoice{VoiceName: voice}},
				LanguageCode: cfg.Language,
			},
		},
		InputAudioTranscription:  &emptyStruct{},
		OutputAudioTranscription: &emptyStruct{},
	}
	if cfg.SystemInstruction != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: cfg.SystemInstruction}}}
	}
	if len(cfg.Tools) > 0 {
		body.Tools = []toolGroup{{FunctionDeclarations: cfg.Tools}}
	}
	return setupFrame{Setup: body}
}

func (c *GeminiConnector) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// liveSession is the production Session over a websocket.
type liveSession struct {
	conn   *websocket.Conn
	events chan Event
	done   chan struct{}
	log    *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *liveSession) Events() <-chan Event { return s.events }

func (s *liveSession) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return fmt.Errorf("aisession: session closed")
	default:
	}
	return s.conn.WriteJSON(v)
}

func (s *liveSession) SendAudio(pcm []byte) error {
	return s.writeJSON(realtimeInputFrame{RealtimeInput: realtimeInputBody{
		MediaChunks: []blob{{
			MimeType: "audio/pcm;rate=16000",
			Data:     base64.StdEncoding.EncodeToString(pcm),
		}},
	}})
}

func (s *liveSession) SendText(text string) error {
	return s.writeJSON(clientContentFrame{ClientContent: clientContentBody{
		Turns:        []content{{Role: "user", Parts: []part{{Text: text}}}},
		TurnComplete: true,
	}})
}

func (s *liveSession) SendToolResponse(id, name string, result json.RawMessage) error {
	return s.writeJSON(toolResponseFrame{ToolResponse: toolResponseBody{
		FunctionResponses: []functionResponse{{ID: id, Name: name, Response: result}},
	}})
}

// readLoop is the only writer and the only closer of the events channel.
func (s *liveSession) readLoop() {
	var cause error
	defer func() {
		s.signalClose()
		// Best-effort final event; skip rather than block if the consumer
		// already walked away.
		select {
		case s.events <- Event{Type: EventClosed, Err: cause}:
		default:
		}
		close(s.events)
	}()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				// Closed locally; not an error.
			default:
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					cause = err
				}
			}
			return
		}
		events, err := parseServerFrame(data)
		if err != nil {
			s.log.Warn("server frame parse failed", "err", err)
		}
		for _, ev := range events {
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}

// signalClose shuts the transport once; later calls are no-ops. Closing the
// underlying conn unblocks the read loop, which then finalizes the channel.
func (s *liveSession) signalClose() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *liveSession) Close() error {
	s.signalClose()
	return nil
}
