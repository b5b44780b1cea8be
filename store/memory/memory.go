// Package memory provides an in-memory store.Store used by tests and
// single-process tooling.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/creastat/chatsync"
	"github.com/creastat/chatsync/store"
)

// Store implements store.Store with mutex-guarded maps.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*store.Session
	messages map[string][]store.Message // by session id
	failures map[string]error
	now      func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*store.Session),
		messages: make(map[string][]store.Message),
		failures: make(map[string]error),
		now:      time.Now,
	}
}

// SetNow overrides the clock, for tests.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Fail makes every subsequent call of the named operation return err
// until cleared with a nil err. Operation names match the store.Store
// method names in snake_case, e.g. "insert_message".
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Store) failure(op string) error {
	if err, ok := s.failures[op]; ok {
		return err
	}
	return nil
}

// CreateSession implements store.Store.
func (s *Store) CreateSession(ctx context.Context, notebookID, userID, title string) (*store.Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: no authenticated principal", chatsync.ErrUnauthorized)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure("create_session"); err != nil {
		return nil, err
	}

	now := s.now()
	session := &store.Session{
		ID:         uuid.NewString(),
		NotebookID: notebookID,
		UserID:     userID,
		Title:      title,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.sessions[session.ID] = session

	copied := *session
	return &copied, nil
}

// GetSession implements store.Store.
func (s *Store) GetSession(ctx context.Context, id string) (*store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.failure("get_session"); err != nil {
		return nil, err
	}

	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", chatsync.ErrNotFound, id)
	}
	copied := *session
	return &copied, nil
}

// ListSessions implements store.Store.
func (s *Store) ListSessions(ctx context.Context, notebookID string) ([]store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.failure("list_sessions"); err != nil {
		return nil, err
	}

	var sessions []store.Session
	for _, session := range s.sessions {
		if session.NotebookID == notebookID {
			sessions = append(sessions, *session)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

// TouchSession implements store.Store.
func (s *Store) TouchSession(ctx context.Context, id string, lastMessageAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure("touch_session"); err != nil {
		return err
	}

	session, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", chatsync.ErrNotFound, id)
	}
	at := lastMessageAt
	session.LastMessageAt = &at
	session.MessageCount = len(s.messages[id])
	session.UpdatedAt = s.now()
	return nil
}

// InsertMessage implements store.Store. The stored row receives a
// server-assigned id and timestamp; the caller's id is ignored.
func (s *Store) InsertMessage(ctx context.Context, msg *store.Message) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure("insert_message"); err != nil {
		return nil, err
	}

	if _, ok := s.sessions[msg.SessionID]; !ok {
		return nil, fmt.Errorf("%w: %s", chatsync.ErrNotFound, msg.SessionID)
	}

	stored := *msg
	stored.ID = uuid.NewString()
	stored.CreatedAt = s.now()
	if stored.Status == "" || stored.Status == store.StatusSending {
		stored.Status = store.StatusCompleted
	}
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], stored)

	copied := stored
	return &copied, nil
}

// ListMessages implements store.Store.
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.failure("list_messages"); err != nil {
		return nil, err
	}

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, fmt.Errorf("%w: %s", chatsync.ErrNotFound, sessionID)
	}

	msgs := make([]store.Message, len(s.messages[sessionID]))
	copy(msgs, s.messages[sessionID])
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

// UpdateMessage implements store.Store.
func (s *Store) UpdateMessage(ctx context.Context, id string, patch store.MessagePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure("update_message"); err != nil {
		return err
	}

	for sessionID, msgs := range s.messages {
		for i := range msgs {
			if msgs[i].ID != id {
				continue
			}
			if patch.Content != nil {
				msgs[i].Content = *patch.Content
			}
			if patch.Status != nil {
				msgs[i].Status = *patch.Status
			}
			if patch.Metadata != nil {
				msgs[i].Metadata = patch.Metadata
			}
			s.messages[sessionID] = msgs
			return nil
		}
	}
	return fmt.Errorf("%w: message %s", chatsync.ErrNotFound, id)
}

// Close implements store.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = nil
	s.messages = nil
	return nil
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)
