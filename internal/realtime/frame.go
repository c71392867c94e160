package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gosuda/boardsync/internal/domain"
)

// Control frame types exchanged in both directions.
const (
	FrameTypePing = "ping"
	FrameTypePong = "pong"
)

// EventConnected is the event name of the frame sent right after handshake.
const EventConnected = "connected"

//nolint:gochecknoglobals // immutable wire constants
var (
	pingFrame = []byte(`{"type":"ping"}`)
	pongFrame = []byte(`{"type":"pong"}`)
)

// PingFrame returns the encoded ping control frame.
func PingFrame() []byte { return pingFrame }

// PongFrame returns the encoded pong control frame.
func PongFrame() []byte { return pongFrame }

// ControlFrame is an inbound or outbound heartbeat frame.
type ControlFrame struct {
	Type string `json:"type"`
}

// ChangeFrame is the outbound representation of a domain.ChangeEvent.
type ChangeFrame struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	BoardID   int64           `json:"board_id"`
	EntityID  int64           `json:"entity_id"`
	Actor     string          `json:"actor"`
	Timestamp string          `json:"timestamp"`
}

// ConnectedData is the payload of the initial "connected" frame.
type ConnectedData struct {
	ConnectionID string `json:"connection_id"`
	DisplayName  string `json:"display_name"`
	BoardID      *int64 `json:"board_id"`
}

type connectedFrame struct {
	Event string        `json:"event"`
	Data  ConnectedData `json:"data"`
}

// EncodeChange serializes ev into its outbound wire form.
func EncodeChange(ev domain.ChangeEvent) ([]byte, error) {
	data := json.RawMessage("null")
	if ev.Payload != nil {
		raw, err := json.Marshal(ev.Payload)
		if err != nil {
			return nil, fmt.Errorf("realtime.EncodeChange: payload: %w", err)
		}
		data = raw
	}

	out, err := json.Marshal(ChangeFrame{
		Event:     string(ev.Kind),
		Data:      data,
		BoardID:   ev.BoardID,
		EntityID:  ev.EntityID,
		Actor:     ev.Actor,
		Timestamp: ev.OccurredAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("realtime.EncodeChange: %w", err)
	}
	return out, nil
}

// EncodeConnected serializes the handshake acknowledgement.
func EncodeConnected(d ConnectedData) ([]byte, error) {
	out, err := json.Marshal(connectedFrame{Event: EventConnected, Data: d})
	if err != nil {
		return nil, fmt.Errorf("realtime.EncodeConnected: %w", err)
	}
	return out, nil
}

// ParseControl decodes a ping/pong frame. ok is false for anything else.
func ParseControl(data []byte) (ControlFrame, bool) {
	var f ControlFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return ControlFrame{}, false
	}
	if f.Type != FrameTypePing && f.Type != FrameTypePong {
		return ControlFrame{}, false
	}
	return f, true
}
