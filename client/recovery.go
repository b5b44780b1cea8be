package client

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/creastat/chatsync"
	"github.com/creastat/chatsync/snapshot"
	"github.com/creastat/chatsync/store"
)

// Titles used for sessions created by recovery.
const (
	defaultSessionTitle   = "New chat"
	recoveredSessionTitle = "Recovered chat"
)

// RecoveryResult reports how recovery concluded. Recovered is true
// when a new session was created (with or without replay), so the UI
// can tell the user their conversation moved.
type RecoveryResult struct {
	SessionID string
	Recovered bool
}

// Recover re-establishes a valid active session. The cached snapshot
// is tried first; if its session still resolves it is resumed as is,
// and if not, a new session is created with a bounded best-effort
// replay of the cached tail. Without a usable snapshot the hinted
// session id is tried, and failing everything a fresh empty session is
// created. Every path ends with exactly one valid active session.
func (c *Client) Recover(ctx context.Context, hintSessionID string) (RecoveryResult, error) {
	notebookID := c.NotebookID()
	log := c.log.With(zap.String("notebook_id", notebookID))

	snap, err := c.snaps.Load(ctx, notebookID)
	if err != nil {
		// A broken cache must not block recovery; fall through to the
		// hint and fresh-session paths.
		log.Warn("snapshot load failed", zap.Error(err))
		snap = nil
	}

	if snap != nil && snap.SessionID != "" {
		_, err := c.store.GetSession(ctx, snap.SessionID)
		switch {
		case err == nil:
			if err := c.SwitchSession(ctx, snap.SessionID); err != nil {
				return RecoveryResult{}, err
			}
			log.Info("resumed cached session", zap.String("session_id", snap.SessionID))
			return RecoveryResult{SessionID: snap.SessionID}, nil

		case errors.Is(err, chatsync.ErrNotFound):
			return c.recreateFromSnapshot(ctx, snap)

		default:
			return RecoveryResult{}, err
		}
	}

	if hintSessionID != "" {
		_, err := c.store.GetSession(ctx, hintSessionID)
		switch {
		case err == nil:
			if err := c.SwitchSession(ctx, hintSessionID); err != nil {
				return RecoveryResult{}, err
			}
			log.Info("resumed hinted session", zap.String("session_id", hintSessionID))
			return RecoveryResult{SessionID: hintSessionID}, nil
		case errors.Is(err, chatsync.ErrNotFound):
			// Fall through to a fresh session.
		default:
			return RecoveryResult{}, err
		}
	}

	session, err := c.createAndSwitch(ctx, defaultSessionTitle)
	if err != nil {
		return RecoveryResult{}, err
	}
	log.Info("created fresh session", zap.String("session_id", session.ID))
	return RecoveryResult{SessionID: session.ID, Recovered: true}, nil
}

// recreateFromSnapshot builds a replacement session for a cached one
// that no longer resolves, replaying a bounded tail of the cached
// messages. Individual replay failures are logged and skipped.
func (c *Client) recreateFromSnapshot(ctx context.Context, snap *snapshot.Snapshot) (RecoveryResult, error) {
	c.mu.RLock()
	notebookID, userID := c.notebookID, c.userID
	c.mu.RUnlock()

	log := c.log.With(
		zap.String("notebook_id", notebookID),
		zap.String("stale_session_id", snap.SessionID))

	session, err := c.store.CreateSession(ctx, notebookID, userID, recoveredSessionTitle)
	if err != nil {
		return RecoveryResult{}, err
	}

	replayed := 0
	for _, msg := range chatsync.ReplayWindow(snap.Messages, c.cfg.ReplayLimit) {
		metadata := map[string]any{
			"recovered": true,
			"origin_id": msg.ID,
		}
		for k, v := range msg.Metadata {
			if _, reserved := metadata[k]; !reserved {
				metadata[k] = v
			}
		}
		row := store.Message{
			SessionID: session.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			Status:    store.StatusCompleted,
			Metadata:  metadata,
		}
		if _, err := c.store.InsertMessage(ctx, &row); err != nil {
			log.Warn("replay skipped a message",
				zap.String("origin_id", msg.ID), zap.Error(err))
			continue
		}
		replayed++
	}

	if err := c.SwitchSession(ctx, session.ID); err != nil {
		return RecoveryResult{}, err
	}
	log.Info("recovered into new session",
		zap.String("session_id", session.ID), zap.Int("replayed", replayed))
	return RecoveryResult{SessionID: session.ID, Recovered: true}, nil
}

func (c *Client) createAndSwitch(ctx context.Context, title string) (*store.Session, error) {
	c.mu.RLock()
	notebookID, userID := c.notebookID, c.userID
	c.mu.RUnlock()

	session, err := c.store.CreateSession(ctx, notebookID, userID, title)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if err := c.SwitchSession(ctx, session.ID); err != nil {
		return nil, err
	}
	return session, nil
}
