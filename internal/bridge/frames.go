package bridge

import (
	"encoding/json"
	"fmt"
)

// Media stream frame shapes. The transport speaks JSON text frames with
// an "event" discriminator; audio payloads are base64 mu-law.

const (
	eventConnected = "connected"
	eventStart     = "start"
	eventMedia     = "media"
	eventMark      = "mark"
	eventStop      = "stop"
	eventClear     = "clear"

	trackInbound  = "inbound"
	trackOutbound = "outbound"
)

type streamFrame struct {
	Event     string      `json:"event"`
	StreamSID string      `json:"streamSid,omitempty"`
	Start     *startFrame `json:"start,omitempty"`
	Media     *mediaFrame `json:"media,omitempty"`
	Stop      *stopFrame  `json:"stop,omitempty"`
}

type startFrame struct {
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
}

type mediaFrame struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

type stopFrame struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

func parseStreamFrame(data []byte) (streamFrame, error) {
	var f streamFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return streamFrame{}, fmt.Errorf("bridge: malformed stream frame: %w", err)
	}
	return f, nil
}

// outboundMedia carries one mu-law chunk back over the stream.
type outboundMedia struct {
	Event     string          `json:"event"`
	StreamSID string          `json:"streamSid"`
	Media     outboundPayload `json:"media"`
}

type outboundPayload struct {
	Payload string `json:"payload"`
}

// clearFrame tells the transport to discard any audio it has buffered
// but not yet played. Sent on AI interruption to preserve turn-taking.
type clearFrame struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}
