// Package realtime defines the change-notification stream the client
// reconciles against. Delivery is at-least-once: consumers must
// deduplicate by message id.
package realtime

import (
	"context"

	"github.com/creastat/chatsync/store"
)

// EventType identifies a store-side change.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Event is one store-side change to a message row.
type Event struct {
	Type    EventType
	Message store.Message
}

// Subscription is a live, session-scoped event stream. Close is
// idempotent and must be called before switching sessions so a late
// notification cannot leak into the next session's projection.
type Subscription interface {
	// Events delivers change notifications. The channel is closed
	// after Close or a terminal stream failure.
	Events() <-chan Event

	// Err delivers at most one stream error. Consumers react by
	// scheduling a delayed resubscribe.
	Err() <-chan error

	// Close tears down the stream and releases its resources.
	Close() error
}

// Subscriber opens session-scoped subscriptions. One subscription per
// active session; the server filters events by session id.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) (Subscription, error)
}
