package snapshot

import (
	"time"

	"github.com/creastat/chatsync/store"
)

// Snapshot is the client-local recovery state for one notebook: the
// last active session id plus a bounded window of recent messages.
// It is consulted only by recovery and ignored past its age ceiling.
type Snapshot struct {
	NotebookID string          `json:"notebook_id"`
	SessionID  string          `json:"session_id"`
	Messages   []store.Message `json:"messages"`
	SavedAt    time.Time       `json:"saved_at"`
	Version    int64           `json:"version"` // monotonically increasing per save
}
