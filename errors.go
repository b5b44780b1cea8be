package chatsync

import "errors"

// Common errors for chat synchronization operations.
var (
	// ErrValidation reports locally rejected input (empty or oversized
	// message content). No network call was attempted.
	ErrValidation = errors.New("invalid message content")

	// ErrUnauthorized reports a missing or rejected principal.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound reports a session id that no longer resolves in the
	// message store. Callers should run recovery rather than retry.
	ErrNotFound = errors.New("session not found")

	// ErrStoreUnavailable reports a transient store or connectivity
	// failure. Callers should retry with a bound.
	ErrStoreUnavailable = errors.New("message store unavailable")

	// ErrWorkflowTrigger reports a failed workflow trigger call. The
	// persisted user message is never rolled back on this error.
	ErrWorkflowTrigger = errors.New("workflow trigger failed")

	// ErrSubscription reports a real-time subscription failure after
	// resubscribe attempts were exhausted.
	ErrSubscription = errors.New("subscription failed")
)
