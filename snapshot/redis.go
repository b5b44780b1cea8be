package snapshot

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore implements Store using Redis. The key TTL doubles as the
// age ceiling; a key that outlives the ceiling simply expires.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func snapshotKey(notebookID string) string {
	return "chatsync:snapshot:" + notebookID
}

// Save implements Store.
func (s *redisStore) Save(ctx context.Context, snap *Snapshot) error {
	key := snapshotKey(snap.NotebookID)

	snap.SavedAt = s.now()
	snap.Version++

	val, err := marshalJSON(snap)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, key, val, s.ttl).Err()
}

// Load implements Store.
func (s *redisStore) Load(ctx context.Context, notebookID string) (*Snapshot, error) {
	key := snapshotKey(notebookID)
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := unmarshalJSON([]byte(val), &snap); err != nil {
		return nil, err
	}

	// The TTL already bounds the age, but a clock-skewed writer could
	// have stamped SavedAt far in the past; enforce the ceiling here
	// as well.
	if s.now().Sub(snap.SavedAt) > s.ttl {
		return nil, nil
	}

	// Refresh TTL on read
	_ = s.client.Expire(ctx, key, s.ttl).Err()

	return &snap, nil
}

// Delete implements Store.
func (s *redisStore) Delete(ctx context.Context, notebookID string) error {
	return s.client.Del(ctx, snapshotKey(notebookID)).Err()
}

// Close implements Store.
func (s *redisStore) Close() error {
	return s.client.Close()
}

// Helper functions for JSON marshaling
func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

func unmarshalJSON(b []byte, v any) error {
	return json.Unmarshal(b, v)
}
