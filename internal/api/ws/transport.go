package ws

import (
	"context"
	"fmt"

	"github.com/coder/websocket"

	"github.com/gosuda/boardsync/internal/realtime"
)

// transport adapts a coder/websocket connection to realtime.Transport.
type transport struct {
	conn *websocket.Conn
}

func (t *transport) Write(ctx context.Context, frame []byte) error {
	if err := t.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("ws.transport.Write: %w", err)
	}
	return nil
}

func (t *transport) Close(reason string) error {
	if err := t.conn.Close(closeStatus(reason), reason); err != nil {
		return fmt.Errorf("ws.transport.Close: %w", err)
	}
	return nil
}

func closeStatus(reason string) websocket.StatusCode {
	switch reason {
	case realtime.ReasonShutdown:
		return websocket.StatusGoingAway
	case realtime.ReasonHeartbeat, realtime.ReasonBufferFull:
		return websocket.StatusPolicyViolation
	case realtime.ReasonWriteFailed, realtime.ReasonReadFailed:
		return websocket.StatusInternalError
	default:
		return websocket.StatusNormalClosure
	}
}
