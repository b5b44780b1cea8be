package workflow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/chatsync"
)

func triggerClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{URL: srv.URL, AuthHeader: "Bearer secret"})
	require.NoError(t, err)
	return c
}

func TestTrigger(t *testing.T) {
	req := Request{SessionID: "sess-1", Message: "hello", UserID: "user-1", NotebookID: "nb-1"}

	t.Run("posts the payload and accepts a text reply", func(t *testing.T) {
		var got Request
		c := triggerClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_, _ = w.Write([]byte(`{"output":"Working on it"}`))
		})

		require.NoError(t, c.Trigger(context.Background(), req))
		assert.Equal(t, "sess-1", got.SessionID)
		assert.Equal(t, "hello", got.Message)
	})

	t.Run("error-shaped body fails the trigger even on 200", func(t *testing.T) {
		c := triggerClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"error":"workflow is paused"}`))
		})

		err := c.Trigger(context.Background(), req)
		require.ErrorIs(t, err, chatsync.ErrWorkflowTrigger)
		assert.Contains(t, err.Error(), "workflow is paused")
	})

	t.Run("non-2xx status fails the trigger", func(t *testing.T) {
		c := triggerClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		})

		err := c.Trigger(context.Background(), req)
		assert.ErrorIs(t, err, chatsync.ErrWorkflowTrigger)
	})

	t.Run("empty acknowledgment is a success", func(t *testing.T) {
		c := triggerClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		})
		assert.NoError(t, c.Trigger(context.Background(), req))
	})
}
