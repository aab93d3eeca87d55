package aisession

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseServerFrameSetupComplete(t *testing.T) {
	events, err := parseServerFrame([]byte(`{"setupComplete":{}}`))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(events) != 1 || events[0].Type != EventReady {
		t.Fatalf("expected ready event, got %+v", events)
	}
}

func TestParseServerFrameAudio(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	frame := `{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"` +
		base64.StdEncoding.EncodeToString(pcm) + `"}}]}}}`

	events, err := parseServerFrame([]byte(frame))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(events) != 1 || events[0].Type != EventAudio {
		t.Fatalf("expected one audio event, got %+v", events)
	}
	if string(events[0].Audio) != string(pcm) {
		t.Fatalf("audio payload mismatch")
	}
}

func TestParseServerFrameInterruptedBeforeAudio(t *testing.T) {
	frame := `{"serverContent":{"interrupted":true,"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm","data":"AAAA"}}]}}}`
	events, err := parseServerFrame([]byte(frame))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	// Interruption must surface before the (stale) audio so the consumer
	// can flush first.
	if events[0].Type != EventInterrupted || events[1].Type != EventAudio {
		t.Fatalf("unexpected order: %v %v", events[0].Type, events[1].Type)
	}
}

func TestParseServerFrameToolCall(t *testing.T) {
	frame := `{"toolCall":{"functionCalls":[{"id":"fc1","name":"lookup_customer","args":{"phone":"+1555"}}]}}`
	events, err := parseServerFrame([]byte(frame))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(events) != 1 || events[0].Type != EventToolCall {
		t.Fatalf("expected tool call event, got %+v", events)
	}
	calls := events[0].ToolCalls
	if len(calls) != 1 || calls[0].ID != "fc1" || calls[0].Name != "lookup_customer" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
	var args map[string]string
	if err := json.Unmarshal(calls[0].Args, &args); err != nil || args["phone"] != "+1555" {
		t.Fatalf("args not preserved: %s", calls[0].Args)
	}
}

func TestParseServerFrameTranscriptsAndTurn(t *testing.T) {
	frame := `{"serverContent":{"inputTranscription":{"text":"hello"},"outputTranscription":{"text":"hi there"},"turnComplete":true}}`
	events, err := parseServerFrame([]byte(frame))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	var types []EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []EventType{EventInputTranscript, EventOutputTranscript, EventTurnComplete}
	if len(types) != len(want) {
		t.Fatalf("types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("types = %v, want %v", types, want)
		}
	}
}

func TestParseServerFrameMalformed(t *testing.T) {
	if _, err := parseServerFrame([]byte(`{not json`)); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSetupFrameShape(t *testing.T) {
	c := &GeminiConnector{DefaultModel: "gemini-2.0-flash-live-001", DefaultVoice: "Aoede"}
	frame := c.setupFrame(Config{
		Language:          "en-US",
		SystemInstruction: "You are a scheduling assistant.",
		Tools:             []ToolDeclaration{{Name: "lookup_customer"}},
	})

	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := string(raw)
	for _, want := range []string{
		`"model":"models/gemini-2.0-flash-live-001"`,
		`"voiceName":"Aoede"`,
		`"languageCode":"en-US"`,
		`"responseModalities":["AUDIO"]`,
		`"functionDeclarations"`,
		`"inputAudioTranscription"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("setup frame missing %s:\n%s", want, body)
		}
	}
}

func TestFakeSessionCloseIdempotent(t *testing.T) {
	f := NewFakeSession()
	if err := f.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	// Emitting after close must not panic.
	f.Emit(Event{Type: EventAudio})
}
