package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/chatsync"
	"github.com/creastat/chatsync/realtime"
	rtmem "github.com/creastat/chatsync/realtime/memory"
	"github.com/creastat/chatsync/snapshot"
	"github.com/creastat/chatsync/store"
	storemem "github.com/creastat/chatsync/store/memory"
	"github.com/creastat/chatsync/workflow"
)

const (
	testNotebook = "nb-1"
	testUser     = "user-1"
)

type stubTrigger struct {
	mu   sync.Mutex
	reqs []workflow.Request
	err  error
}

func (s *stubTrigger) Trigger(ctx context.Context, req workflow.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return s.err
}

func (s *stubTrigger) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

type fixture struct {
	client  *Client
	store   *storemem.Store
	broker  *rtmem.Broker
	trigger *stubTrigger
	snaps   snapshot.Store
}

func newFixture(t *testing.T, opts ...chatsync.Option) *fixture {
	t.Helper()

	base := []chatsync.Option{
		chatsync.WithLoadTimeout(2*time.Second, 1),
		chatsync.WithResubscribe(50*time.Millisecond, 3),
	}
	cfg := chatsync.NewConfig(append(base, opts...)...)

	snaps, err := snapshot.NewStore(snapshot.StoreTypeMemory)
	require.NoError(t, err)

	f := &fixture{
		store:   storemem.New(),
		broker:  rtmem.NewBroker(),
		trigger: &stubTrigger{},
		snaps:   snaps,
	}
	f.client, err = New(cfg, f.store, f.broker, f.trigger, snaps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.client.Close() })
	return f
}

func (f *fixture) open(t *testing.T) RecoveryResult {
	t.Helper()
	result, err := f.client.Open(context.Background(), testNotebook, testUser)
	require.NoError(t, err)
	return result
}

// deliverAssistantReply persists an assistant row and pushes its
// insert notification, as the workflow engine eventually would.
func (f *fixture) deliverAssistantReply(t *testing.T, sessionID, content string) *store.Message {
	t.Helper()
	saved, err := f.store.InsertMessage(context.Background(), &store.Message{
		SessionID: sessionID,
		Role:      store.RoleAssistant,
		Content:   content,
		Status:    store.StatusCompleted,
	})
	require.NoError(t, err)
	f.broker.Publish(realtime.Event{Type: realtime.EventInsert, Message: *saved})
	return saved
}

func TestOpen(t *testing.T) {
	t.Run("creates a fresh session for an empty notebook", func(t *testing.T) {
		f := newFixture(t)
		result := f.open(t)

		assert.True(t, result.Recovered)
		assert.NotEmpty(t, result.SessionID)
		assert.Equal(t, result.SessionID, f.client.SessionID())
		assert.False(t, f.client.Loading())
		assert.Equal(t, 1, f.broker.OpenSubscriptions(result.SessionID))
	})

	t.Run("requires a principal", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.client.Open(context.Background(), testNotebook, "")
		assert.ErrorIs(t, err, chatsync.ErrUnauthorized)
	})

	t.Run("close tears down the subscription", func(t *testing.T) {
		f := newFixture(t)
		result := f.open(t)
		require.NoError(t, f.client.Close())
		assert.Equal(t, 0, f.broker.OpenSubscriptions(result.SessionID))
	})
}

func TestSend(t *testing.T) {
	t.Run("full turn reaches two completed messages in order", func(t *testing.T) {
		f := newFixture(t)
		result := f.open(t)

		saved, err := f.client.Send(context.Background(), "What are the setback requirements?")
		require.NoError(t, err)
		require.NotNil(t, saved)

		// After the store ack: one completed user message plus one
		// processing assistant placeholder.
		history := f.client.History()
		require.Len(t, history, 2)
		assert.Equal(t, store.RoleUser, history[0].Role)
		assert.Equal(t, store.StatusCompleted, history[0].Status)
		assert.Equal(t, store.RoleAssistant, history[1].Role)
		assert.Equal(t, store.StatusProcessing, history[1].Status)

		f.deliverAssistantReply(t, result.SessionID, "Setbacks are 5 metres.")

		require.Eventually(t, func() bool {
			history := f.client.History()
			if len(history) != 2 {
				return false
			}
			return history[0].Status == store.StatusCompleted &&
				history[1].Status == store.StatusCompleted
		}, 3*time.Second, 10*time.Millisecond)

		history = f.client.History()
		assert.Equal(t, store.RoleUser, history[0].Role)
		assert.Equal(t, "Setbacks are 5 metres.", history[1].Content)
		assert.Equal(t, 1, f.trigger.calls())
	})

	t.Run("validation failures are local and immediate", func(t *testing.T) {
		f := newFixture(t)
		f.open(t)

		_, err := f.client.Send(context.Background(), "   ")
		assert.ErrorIs(t, err, chatsync.ErrValidation)
		assert.Empty(t, f.client.History())
		assert.Zero(t, f.trigger.calls())
	})

	t.Run("store failure removes the optimistic entry", func(t *testing.T) {
		f := newFixture(t)
		f.open(t)

		f.store.Fail("insert_message", fmt.Errorf("%w: connection reset", chatsync.ErrStoreUnavailable))
		_, err := f.client.Send(context.Background(), "hello")
		assert.ErrorIs(t, err, chatsync.ErrStoreUnavailable)

		// No dangling "sending" entry, no trigger, no placeholder.
		assert.Empty(t, f.client.History())
		assert.Zero(t, f.trigger.calls())
	})

	t.Run("trigger failure never rolls back the message", func(t *testing.T) {
		f := newFixture(t, chatsync.WithReplyTimeout(time.Second))
		result := f.open(t)
		f.trigger.err = errors.New("workflow returned 500")

		saved, err := f.client.Send(context.Background(), "hello")
		require.NoError(t, err)

		stored, err := f.store.ListMessages(context.Background(), result.SessionID)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, saved.ID, stored[0].ID)

		// The placeholder must not linger: the reply timeout marks it
		// as errored while the user message stays completed.
		require.Eventually(t, func() bool {
			history := f.client.History()
			return len(history) == 2 && history[1].Status == store.StatusError
		}, 5*time.Second, 50*time.Millisecond)

		history := f.client.History()
		assert.Equal(t, store.StatusCompleted, history[0].Status)
	})

	t.Run("duplicate notification delivery is idempotent", func(t *testing.T) {
		f := newFixture(t)
		result := f.open(t)

		_, err := f.client.Send(context.Background(), "question")
		require.NoError(t, err)

		reply := f.deliverAssistantReply(t, result.SessionID, "answer")
		// At-least-once delivery: the same insert arrives again.
		f.broker.Publish(realtime.Event{Type: realtime.EventInsert, Message: *reply})

		require.Eventually(t, func() bool {
			return len(f.client.History()) == 2
		}, 3*time.Second, 10*time.Millisecond)

		time.Sleep(100 * time.Millisecond)
		assert.Len(t, f.client.History(), 2)
	})
}

func TestSwitchSession(t *testing.T) {
	t.Run("switch loads the target history", func(t *testing.T) {
		f := newFixture(t)
		f.open(t)
		ctx := context.Background()

		other, err := f.store.CreateSession(ctx, testNotebook, testUser, "Other chat")
		require.NoError(t, err)
		_, err = f.store.InsertMessage(ctx, &store.Message{
			SessionID: other.ID, Role: store.RoleUser,
			Content: "earlier question", Status: store.StatusCompleted,
		})
		require.NoError(t, err)

		require.NoError(t, f.client.SwitchSession(ctx, other.ID))
		history := f.client.History()
		require.Len(t, history, 1)
		assert.Equal(t, "earlier question", history[0].Content)
	})

	t.Run("unknown session reports not found", func(t *testing.T) {
		f := newFixture(t)
		f.open(t)

		err := f.client.SwitchSession(context.Background(), "no-such-session")
		assert.ErrorIs(t, err, chatsync.ErrNotFound)
		assert.True(t, f.client.Failed())
	})

	t.Run("late notification from the old session stays out", func(t *testing.T) {
		f := newFixture(t)
		first := f.open(t)
		ctx := context.Background()

		_, err := f.client.Send(ctx, "message in first session")
		require.NoError(t, err)

		second, err := f.client.NewSession(ctx, "Second chat")
		require.NoError(t, err)
		assert.Equal(t, 0, f.broker.OpenSubscriptions(first.SessionID))
		assert.Equal(t, 1, f.broker.OpenSubscriptions(second.ID))

		// A late insert for the first session must not corrupt the
		// second session's projection.
		f.deliverAssistantReply(t, first.SessionID, "late reply")

		time.Sleep(200 * time.Millisecond)
		assert.Empty(t, f.client.History())
		assert.Equal(t, second.ID, f.client.SessionID())
	})

	t.Run("transient load failure surfaces a retryable notice", func(t *testing.T) {
		f := newFixture(t)
		f.open(t)
		ctx := context.Background()

		var noticeMu sync.Mutex
		var notices []Notice
		f.client.SetOnNotice(func(n Notice) {
			noticeMu.Lock()
			notices = append(notices, n)
			noticeMu.Unlock()
		})

		other, err := f.store.CreateSession(ctx, testNotebook, testUser, "Other chat")
		require.NoError(t, err)

		f.store.Fail("list_messages", fmt.Errorf("%w: timeout", chatsync.ErrStoreUnavailable))
		err = f.client.SwitchSession(ctx, other.ID)
		assert.ErrorIs(t, err, chatsync.ErrStoreUnavailable)
		assert.True(t, f.client.Failed())

		noticeMu.Lock()
		defer noticeMu.Unlock()
		require.Len(t, notices, 1)
		assert.True(t, notices[0].Retryable)
	})
}

func TestListSessions(t *testing.T) {
	f := newFixture(t)
	f.open(t)
	ctx := context.Background()

	_, err := f.store.CreateSession(ctx, testNotebook, testUser, "Older chat")
	require.NoError(t, err)
	_, err = f.store.CreateSession(ctx, "other-notebook", testUser, "Elsewhere")
	require.NoError(t, err)

	sessions, err := f.client.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	for _, s := range sessions {
		assert.Equal(t, testNotebook, s.NotebookID)
	}
	// Most recently updated first.
	assert.False(t, sessions[0].UpdatedAt.Before(sessions[1].UpdatedAt))
}

func TestCloseDuringResubscribe(t *testing.T) {
	// A channel drop arms the resubscribe timer; Close racing that
	// timer must not leave an adopted subscription behind.
	f := newFixture(t, chatsync.WithResubscribe(time.Millisecond, 3))
	result := f.open(t)

	f.broker.Fail(result.SessionID, errors.New("channel dropped"))
	time.Sleep(time.Millisecond)
	require.NoError(t, f.client.Close())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, f.broker.OpenSubscriptions(result.SessionID))
}

func TestResubscribe(t *testing.T) {
	f := newFixture(t)
	result := f.open(t)

	f.broker.Fail(result.SessionID, errors.New("channel dropped"))

	// The dropped subscription is closed, then a delayed reattempt
	// opens a replacement.
	require.Eventually(t, func() bool {
		return f.broker.OpenSubscriptions(result.SessionID) == 0
	}, 3*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return f.broker.OpenSubscriptions(result.SessionID) == 1
	}, 3*time.Second, 5*time.Millisecond)

	// Delivery works again after the rejoin.
	f.deliverAssistantReply(t, result.SessionID, "still alive")
	require.Eventually(t, func() bool {
		return len(f.client.History()) == 1
	}, 3*time.Second, 10*time.Millisecond)
}
