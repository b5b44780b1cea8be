// Package store defines the message-store contract the synchronization
// layer runs against: durable sessions and messages with row-level
// access control enforced by the store itself.
package store

import (
	"context"
	"time"
)

// Store provides access to persisted sessions and messages. The store
// is the sole source of truth; the client only ever holds a projection.
//
// Error contract: a missing session is reported as chatsync.ErrNotFound,
// a missing/rejected principal as chatsync.ErrUnauthorized, and any
// transient failure as chatsync.ErrStoreUnavailable, all via errors.Is.
type Store interface {
	// CreateSession inserts a new session with counters at zero.
	CreateSession(ctx context.Context, notebookID, userID, title string) (*Session, error)

	// GetSession resolves a session by id.
	GetSession(ctx context.Context, id string) (*Session, error)

	// ListSessions returns a notebook's sessions, most recently
	// updated first.
	ListSessions(ctx context.Context, notebookID string) ([]Session, error)

	// TouchSession bumps the denormalized counters after an append.
	TouchSession(ctx context.Context, id string, lastMessageAt time.Time) error

	// InsertMessage persists a message and returns the stored row with
	// its server-assigned id and timestamp.
	InsertMessage(ctx context.Context, msg *Message) (*Message, error)

	// ListMessages returns a session's messages oldest first. It is
	// idempotent and safe to call repeatedly, e.g. on reconnect.
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)

	// UpdateMessage applies a partial update to a stored message.
	UpdateMessage(ctx context.Context, id string, patch MessagePatch) error

	// Close releases any resources held by the store.
	Close() error
}

// MessagePatch is a partial message update. Nil fields are left as is.
type MessagePatch struct {
	Content  *string        `json:"content,omitempty"`
	Status   *Status        `json:"status,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
