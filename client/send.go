package client

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/creastat/chatsync"
	"github.com/creastat/chatsync/store"
	"github.com/creastat/chatsync/workflow"
)

// placeholderContent is the user-facing "working" indicator shown
// until the assistant's real reply arrives through reconciliation.
const placeholderContent = "Working on your question…"

// Send runs the optimistic send pipeline for one user turn:
// validate, reflect locally, persist, fire the workflow trigger, and
// append the assistant placeholder. The returned message is the stored
// row. A store failure removes the optimistic entry and is retryable;
// a trigger failure is logged and never rolls anything back.
func (c *Client) Send(ctx context.Context, content string) (*store.Message, error) {
	clean, err := chatsync.SanitizeMessage(content, c.cfg.MaxMessageLength)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	epoch := c.proj.epoch
	sessionID := c.proj.sessionID
	notebookID, userID := c.notebookID, c.userID
	c.mu.RUnlock()
	if sessionID == "" {
		return nil, fmt.Errorf("%w: no active session", chatsync.ErrNotFound)
	}

	now := time.Now()
	optimistic := store.Message{
		ID:        "local-" + uuid.NewString(),
		SessionID: sessionID,
		Role:      store.RoleUser,
		Content:   clean,
		Status:    store.StatusSending,
		CreatedAt: now,
	}
	c.apply(evOptimistic{epoch: epoch, msg: optimistic})

	saved, err := c.store.InsertMessage(ctx, &store.Message{
		SessionID: sessionID,
		Role:      store.RoleUser,
		Content:   clean,
		Status:    store.StatusCompleted,
	})
	if err != nil {
		// No dangling "sending" entry is left behind.
		c.apply(evOptimisticFailed{epoch: epoch, tempID: optimistic.ID})
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}
	c.apply(evOptimisticResolved{epoch: epoch, tempID: optimistic.ID, msg: *saved})

	// Fire-and-forget: the trigger only affects whether a reply ever
	// arrives. Its failure must not touch the persisted message.
	if c.wf != nil {
		c.fireTrigger(workflow.Request{
			SessionID:  sessionID,
			Message:    clean,
			UserID:     userID,
			NotebookID: notebookID,
			Timestamp:  saved.CreatedAt,
		})

		placeholder := store.Message{
			ID:        "local-" + uuid.NewString(),
			SessionID: sessionID,
			Role:      store.RoleAssistant,
			Content:   placeholderContent,
			Status:    store.StatusProcessing,
			CreatedAt: time.Now(),
		}
		c.apply(evPlaceholder{epoch: epoch, msg: placeholder})
	}

	if err := c.store.TouchSession(ctx, sessionID, saved.CreatedAt); err != nil {
		c.log.Debug("session touch failed",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	c.snapshotCurrent()

	return saved, nil
}

func (c *Client) fireTrigger(req workflow.Request) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.TriggerTimeout)
		defer cancel()
		if err := c.wf.Trigger(ctx, req); err != nil {
			c.log.Warn("workflow trigger failed",
				zap.String("session_id", req.SessionID), zap.Error(err))
		}
	}()
}
