package supabase

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/chatsync/realtime"
	"github.com/creastat/chatsync/store"
)

func TestDecodeChange(t *testing.T) {
	t.Run("insert carries the new row", func(t *testing.T) {
		payload := json.RawMessage(`{
			"record": {
				"id": "msg-1",
				"session_id": "sess-1",
				"role": "assistant",
				"content": "The setback is 5m.",
				"status": "completed",
				"metadata": {"model": "gpt-4o"},
				"created_at": "2026-08-26T10:00:00.123456+00:00"
			}
		}`)
		ev, ok := decodeChange("INSERT", payload)
		require.True(t, ok)
		assert.Equal(t, realtime.EventInsert, ev.Type)
		assert.Equal(t, "msg-1", ev.Message.ID)
		assert.Equal(t, store.RoleAssistant, ev.Message.Role)
		assert.Equal(t, store.StatusCompleted, ev.Message.Status)
		assert.Equal(t, "gpt-4o", ev.Message.Metadata["model"])
		assert.Equal(t, 2026, ev.Message.CreatedAt.Year())
	})

	t.Run("delete carries the old row", func(t *testing.T) {
		payload := json.RawMessage(`{
			"record": {},
			"old_record": {"id": "msg-2", "session_id": "sess-1", "role": "user", "content": "x"}
		}`)
		ev, ok := decodeChange("DELETE", payload)
		require.True(t, ok)
		assert.Equal(t, realtime.EventDelete, ev.Type)
		assert.Equal(t, "msg-2", ev.Message.ID)
	})

	t.Run("malformed payloads are rejected not fatal", func(t *testing.T) {
		for _, raw := range []string{
			`not json`,
			`{}`,
			`{"record": {}}`,
			`{"record": {"session_id": "s"}}`,
		} {
			_, ok := decodeChange("INSERT", json.RawMessage(raw))
			assert.False(t, ok, "payload %q should be rejected", raw)
		}
	})
}

func TestParseTimestamp(t *testing.T) {
	t.Run("rfc3339 with offset", func(t *testing.T) {
		ts := parseTimestamp("2026-08-26T10:00:00.123456+00:00")
		assert.Equal(t, time.August, ts.Month())
	})

	t.Run("zone-less commit timestamp", func(t *testing.T) {
		ts := parseTimestamp("2026-08-26T10:00:00.123456")
		assert.False(t, ts.IsZero())
	})

	t.Run("garbage is zero not panic", func(t *testing.T) {
		assert.True(t, parseTimestamp("yesterday").IsZero())
	})
}

func TestWebsocketURL(t *testing.T) {
	got, err := websocketURL("https://demo.supabase.co", "anon-key")
	require.NoError(t, err)
	assert.Equal(t, "wss://demo.supabase.co/realtime/v1/websocket?apikey=anon-key&vsn=1.0.0", got)

	got, err = websocketURL("http://localhost:54321", "anon-key")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:54321/realtime/v1/websocket?apikey=anon-key&vsn=1.0.0", got)
}
