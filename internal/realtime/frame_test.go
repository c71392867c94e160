package realtime_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/boardsync/internal/realtime"
)

func TestParseControl(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{name: "ping", input: `{"type":"ping"}`, want: realtime.FrameTypePing, wantOK: true},
		{name: "pong", input: `{"type":"pong"}`, want: realtime.FrameTypePong, wantOK: true},
		{name: "unknown type", input: `{"type":"subscribe"}`},
		{name: "missing type", input: `{}`},
		{name: "not json", input: `ping`},
		{name: "empty", input: ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := realtime.ParseControl([]byte(tt.input))
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got.Type)
		})
	}
}

func TestEncodeConnected(t *testing.T) {
	t.Parallel()

	t.Run("with board", func(t *testing.T) {
		t.Parallel()

		board := int64(3)
		out, err := realtime.EncodeConnected(realtime.ConnectedData{
			ConnectionID: "abc",
			DisplayName:  "Alice",
			BoardID:      &board,
		})
		require.NoError(t, err)
		assert.JSONEq(t, `{"event":"connected","data":{"connection_id":"abc","display_name":"Alice","board_id":3}}`, string(out))
	})

	t.Run("without board", func(t *testing.T) {
		t.Parallel()

		out, err := realtime.EncodeConnected(realtime.ConnectedData{ConnectionID: "abc", DisplayName: "Guest-0001"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"event":"connected","data":{"connection_id":"abc","display_name":"Guest-0001","board_id":null}}`, string(out))
	})
}
