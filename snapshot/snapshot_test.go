package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/chatsync/store"
)

func TestNewStore(t *testing.T) {
	t.Run("memory store", func(t *testing.T) {
		s, err := NewStore(StoreTypeMemory)
		require.NoError(t, err)
		defer s.Close()
	})

	t.Run("redis without client is invalid", func(t *testing.T) {
		_, err := NewStore(StoreTypeRedis)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := NewStore(StoreType("etcd"))
		assert.ErrorIs(t, err, ErrInvalidStoreType)
	})
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("save and load round trip", func(t *testing.T) {
		s, err := NewStore(StoreTypeMemory)
		require.NoError(t, err)
		defer s.Close()

		snap := &Snapshot{
			NotebookID: "nb-1",
			SessionID:  "sess-1",
			Messages:   []store.Message{{ID: "m1", Content: "hello"}},
		}
		require.NoError(t, s.Save(ctx, snap))
		assert.EqualValues(t, 1, snap.Version)
		assert.False(t, snap.SavedAt.IsZero())

		loaded, err := s.Load(ctx, "nb-1")
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, "sess-1", loaded.SessionID)
		require.Len(t, loaded.Messages, 1)
		assert.Equal(t, "hello", loaded.Messages[0].Content)
	})

	t.Run("version increments per save", func(t *testing.T) {
		s, err := NewStore(StoreTypeMemory)
		require.NoError(t, err)
		defer s.Close()

		snap := &Snapshot{NotebookID: "nb-1", SessionID: "a"}
		require.NoError(t, s.Save(ctx, snap))
		snap.SessionID = "b"
		require.NoError(t, s.Save(ctx, snap))
		assert.EqualValues(t, 2, snap.Version)
	})

	t.Run("missing notebook is nil not error", func(t *testing.T) {
		s, err := NewStore(StoreTypeMemory)
		require.NoError(t, err)
		defer s.Close()

		loaded, err := s.Load(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("snapshot past the age ceiling is ignored", func(t *testing.T) {
		current := time.Now()
		clock := func() time.Time { return current }
		s, err := NewStore(StoreTypeMemory, WithTTL(time.Hour), WithClock(clock))
		require.NoError(t, err)
		defer s.Close()

		require.NoError(t, s.Save(ctx, &Snapshot{NotebookID: "nb-1", SessionID: "s"}))

		current = current.Add(2 * time.Hour)
		loaded, err := s.Load(ctx, "nb-1")
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("delete removes the snapshot", func(t *testing.T) {
		s, err := NewStore(StoreTypeMemory)
		require.NoError(t, err)
		defer s.Close()

		require.NoError(t, s.Save(ctx, &Snapshot{NotebookID: "nb-1", SessionID: "s"}))
		require.NoError(t, s.Delete(ctx, "nb-1"))

		loaded, err := s.Load(ctx, "nb-1")
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})
}
