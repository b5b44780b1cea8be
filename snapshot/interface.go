// Package snapshot persists per-notebook recovery state on the client
// side, outside the message store. Drivers exist for in-memory use and
// Redis; both expire entries past a configurable age ceiling.
package snapshot

import "context"

// Store defines the interface for recovery snapshot storage.
type Store interface {
	// Save persists the snapshot for its notebook, stamping SavedAt
	// and bumping Version. Saves are best-effort from the caller's
	// perspective; a failure must never block a send.
	Save(ctx context.Context, snap *Snapshot) error

	// Load retrieves the snapshot for a notebook. Returns nil without
	// error when no snapshot exists or the stored one is older than
	// the configured age ceiling.
	Load(ctx context.Context, notebookID string) (*Snapshot, error)

	// Delete removes a notebook's snapshot.
	Delete(ctx context.Context, notebookID string) error

	// Close closes the store and releases any resources.
	Close() error
}
