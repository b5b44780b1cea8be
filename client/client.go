// Package client implements the synchronization core: an optimistic
// send pipeline, a real-time reconciliation loop, and session recovery
// over a message store, a realtime stream, and a workflow trigger.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/creastat/chatsync"
	"github.com/creastat/chatsync/realtime"
	"github.com/creastat/chatsync/snapshot"
	"github.com/creastat/chatsync/store"
	"github.com/creastat/chatsync/workflow"
)

// Notice is a surfaced, dismissible error. Retryable notices should be
// presented with a retry affordance; the rest are informational.
type Notice struct {
	Err       error
	Retryable bool
}

// Client synchronizes one notebook's active chat session with the
// message store. All projection mutations flow through a single
// reducer; realtime events are queued and consumed one at a time.
type Client struct {
	cfg   chatsync.Config
	store store.Store
	rt    realtime.Subscriber
	wf    workflow.Trigger
	snaps snapshot.Store
	log   *zap.Logger

	notebookID string
	userID     string

	mu   sync.RWMutex
	proj projection

	incoming  chan event
	stop      chan struct{}
	wg        sync.WaitGroup
	started   bool
	closeOnce sync.Once

	subMu      sync.Mutex
	sub        realtime.Subscription
	resubCount int
	resubTimer *time.Timer
	closing    bool

	noticeMu sync.Mutex
	onNotice func(Notice)
}

// New creates a Client. The workflow trigger may be nil, in which case
// sends persist but no assistant reply is ever requested. A nil
// snapshot store gets an in-memory one, which still gives recovery
// within the process lifetime.
func New(cfg chatsync.Config, st store.Store, rt realtime.Subscriber, wf workflow.Trigger, snaps snapshot.Store) (*Client, error) {
	if st == nil {
		return nil, fmt.Errorf("message store is required")
	}
	if rt == nil {
		return nil, fmt.Errorf("realtime subscriber is required")
	}
	if snaps == nil {
		var err error
		snaps, err = snapshot.NewStore(snapshot.StoreTypeMemory, snapshot.WithTTL(cfg.SnapshotTTL))
		if err != nil {
			return nil, err
		}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:      cfg,
		store:    st,
		rt:       rt,
		wf:       wf,
		snaps:    snaps,
		log:      log,
		incoming: make(chan event, 128),
		stop:     make(chan struct{}),
	}, nil
}

// SetOnNotice registers the callback receiving surfaced errors. Must
// be called before Open.
func (c *Client) SetOnNotice(fn func(Notice)) {
	c.noticeMu.Lock()
	c.onNotice = fn
	c.noticeMu.Unlock()
}

// Open binds the client to a notebook and principal, starts the event
// loop, and establishes the active session through recovery: resume
// the cached or hinted session when it still resolves, otherwise
// create a fresh one.
func (c *Client) Open(ctx context.Context, notebookID, userID string) (RecoveryResult, error) {
	if notebookID == "" {
		return RecoveryResult{}, fmt.Errorf("notebook id is required")
	}
	if userID == "" {
		return RecoveryResult{}, fmt.Errorf("%w: no authenticated principal", chatsync.ErrUnauthorized)
	}

	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return RecoveryResult{}, fmt.Errorf("client already open")
	}
	c.started = true
	c.notebookID = notebookID
	c.userID = userID
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run()

	return c.Recover(ctx, "")
}

// Close tears down the subscription and stops the event loop. In-flight
// store writes are allowed to finish; their results are discarded.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.subMu.Lock()
		c.closing = true
		c.subMu.Unlock()
		c.teardownSubscription()
		close(c.stop)
		c.wg.Wait()
	})
	return nil
}

// NotebookID returns the notebook the client is bound to.
func (c *Client) NotebookID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.notebookID
}

// SessionID returns the active session id, empty before Open.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.proj.sessionID
}

// History returns the projected message list for the active session,
// in nondecreasing creation-timestamp order.
func (c *Client) History() []store.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.proj.messages()
}

// Loading reports whether the active session is still loading.
func (c *Client) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.proj.phase == phaseLoading
}

// Failed reports whether the active session's history load failed
// terminally; callers surface a retry affordance and may call
// SwitchSession again or Recover.
func (c *Client) Failed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.proj.phase == phaseFailed
}

// ListSessions returns the notebook's sessions, most recently updated
// first.
func (c *Client) ListSessions(ctx context.Context) ([]store.Session, error) {
	sessions, err := c.store.ListSessions(ctx, c.NotebookID())
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// NewSession creates a session in the notebook and switches to it.
func (c *Client) NewSession(ctx context.Context, title string) (*store.Session, error) {
	c.mu.RLock()
	notebookID, userID := c.notebookID, c.userID
	c.mu.RUnlock()

	session, err := c.store.CreateSession(ctx, notebookID, userID, title)
	if err != nil {
		return nil, err
	}
	if err := c.SwitchSession(ctx, session.ID); err != nil {
		return nil, err
	}
	return session, nil
}

// SwitchSession makes sessionID the active session: the previous
// subscription is fully torn down first, the projection is cleared,
// the chosen id is persisted for recovery, history is loaded, and a
// fresh subscription is opened. A session id that does not resolve
// returns chatsync.ErrNotFound; the caller reacts by running Recover.
func (c *Client) SwitchSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	// Teardown strictly precedes the new load so a late notification
	// from the old session cannot land in the new projection.
	c.teardownSubscription()

	c.mu.Lock()
	epoch := c.proj.epoch + 1
	c.proj = reduce(c.proj, evReset{epoch: epoch, sessionID: sessionID})
	c.mu.Unlock()

	msgs, err := c.loadHistory(ctx, sessionID)
	if err != nil {
		if errors.Is(err, chatsync.ErrNotFound) {
			c.apply(evLoadFailed{epoch: epoch})
			return err
		}
		c.apply(evLoadFailed{epoch: epoch})
		c.notify(Notice{Err: err, Retryable: true})
		return err
	}
	c.apply(evHistory{epoch: epoch, msgs: msgs})
	// The chosen session becomes the notebook's "last active" for
	// later recovery only once its history is known good.
	c.persistSnapshot(ctx, sessionID, msgs)

	if err := c.subscribe(ctx, sessionID, epoch); err != nil {
		// History is present; run in degraded mode and keep trying.
		c.log.Warn("initial subscribe failed, scheduling reattempt",
			zap.String("session_id", sessionID), zap.Error(err))
		c.scheduleResubscribe(epoch, sessionID)
	}
	return nil
}

// loadHistory fetches the ordered message history with the configured
// timeout, retrying transient failures a bounded number of times. A
// missing session is returned immediately as chatsync.ErrNotFound.
func (c *Client) loadHistory(ctx context.Context, sessionID string) ([]store.Message, error) {
	var lastErr error
	attempts := c.cfg.LoadRetries
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		lctx, cancel := context.WithTimeout(ctx, c.cfg.LoadTimeout)
		msgs, err := c.store.ListMessages(lctx, sessionID)
		cancel()
		if err == nil {
			return msgs, nil
		}
		if errors.Is(err, chatsync.ErrNotFound) || errors.Is(err, chatsync.ErrUnauthorized) {
			return nil, err
		}
		lastErr = err
		c.log.Warn("history load failed",
			zap.String("session_id", sessionID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", chatsync.ErrStoreUnavailable, ctx.Err())
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("%w: %v", chatsync.ErrStoreUnavailable, lastErr)
}

// run is the single consumer of queued events. Consuming one event at
// a time is what gives every mutation the new-state-from-old-state
// property; nothing else touches the projection concurrently.
func (c *Client) run() {
	defer c.wg.Done()

	interval := c.cfg.ReplyTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	if interval > 5*time.Second {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-c.incoming:
			c.apply(ev)
			if ins, ok := ev.(evRemoteInsert); ok && ins.msg.Role == store.RoleAssistant {
				c.snapshotCurrent()
			}
		case <-ticker.C:
			c.mu.RLock()
			epoch := c.proj.epoch
			c.mu.RUnlock()
			c.apply(evReplyTimeout{epoch: epoch, now: time.Now(), timeout: c.cfg.ReplyTimeout})
		case <-c.stop:
			return
		}
	}
}

// apply is the single state-transition function.
func (c *Client) apply(ev event) {
	c.mu.Lock()
	c.proj = reduce(c.proj, ev)
	c.mu.Unlock()
}

func (c *Client) enqueue(ev event) {
	select {
	case c.incoming <- ev:
	case <-c.stop:
	}
}

func (c *Client) currentEpoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.proj.epoch
}

// subscribe opens the session-scoped stream and spawns its forwarder.
func (c *Client) subscribe(ctx context.Context, sessionID string, epoch uint64) error {
	sub, err := c.rt.Subscribe(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", chatsync.ErrSubscription, err)
	}
	c.adoptSubscription(sub, sessionID, epoch, true)
	return nil
}

// adoptSubscription installs a freshly opened subscription and spawns
// its forwarder. When the client is already closing, the subscription
// is closed instead and false is returned. The WaitGroup increment
// happens under subMu, before Close can begin waiting, so a
// timer-driven resubscribe firing concurrently with Close can never
// add to a group that is being waited on at zero.
func (c *Client) adoptSubscription(sub realtime.Subscription, sessionID string, epoch uint64, resetAttempts bool) bool {
	c.subMu.Lock()
	if c.closing {
		c.subMu.Unlock()
		_ = sub.Close()
		return false
	}
	c.sub = sub
	if resetAttempts {
		c.resubCount = 0
	}
	c.wg.Add(1)
	c.subMu.Unlock()

	go c.forward(sub, sessionID, epoch)
	return true
}

// forward feeds one subscription into the event queue until the stream
// ends or the session changes.
func (c *Client) forward(sub realtime.Subscription, sessionID string, epoch uint64) {
	defer c.wg.Done()
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			// A server-side filter should already scope events to the
			// session, but a late or misrouted row must not cross
			// sessions.
			if ev.Message.SessionID != sessionID {
				continue
			}
			if translated, ok := translateEvent(ev, epoch); ok {
				c.enqueue(translated)
			}
		case err := <-sub.Err():
			c.handleStreamError(sub, sessionID, epoch, err)
			return
		case <-c.stop:
			return
		}
	}
}

func translateEvent(ev realtime.Event, epoch uint64) (event, bool) {
	switch ev.Type {
	case realtime.EventInsert:
		return evRemoteInsert{epoch: epoch, msg: ev.Message}, true
	case realtime.EventUpdate:
		return evRemoteUpdate{epoch: epoch, msg: ev.Message}, true
	case realtime.EventDelete:
		return evRemoteDelete{epoch: epoch, id: ev.Message.ID}, true
	default:
		return nil, false
	}
}

func (c *Client) handleStreamError(sub realtime.Subscription, sessionID string, epoch uint64, err error) {
	_ = sub.Close()
	if epoch != c.currentEpoch() {
		return
	}
	c.log.Warn("subscription channel error",
		zap.String("session_id", sessionID), zap.Error(err))
	c.scheduleResubscribe(epoch, sessionID)
}

// scheduleResubscribe arms a delayed reattempt, bounded by
// MaxResubscribes per session epoch.
func (c *Client) scheduleResubscribe(epoch uint64, sessionID string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.resubCount >= c.cfg.MaxResubscribes {
		c.notify(Notice{
			Err:       fmt.Errorf("%w: gave up after %d attempts", chatsync.ErrSubscription, c.resubCount),
			Retryable: true,
		})
		return
	}
	c.resubCount++
	attempt := c.resubCount

	c.resubTimer = time.AfterFunc(c.cfg.ResubscribeDelay, func() {
		c.resubscribe(epoch, sessionID, attempt)
	})
}

// resubscribe reopens the stream and replays history to close any gap
// between the drop and the rejoin; the history load is idempotent and
// the reducer deduplicates by id.
func (c *Client) resubscribe(epoch uint64, sessionID string, attempt int) {
	if epoch != c.currentEpoch() {
		return
	}
	select {
	case <-c.stop:
		return
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.LoadTimeout)
	defer cancel()

	sub, err := c.rt.Subscribe(ctx, sessionID)
	if err != nil {
		c.log.Warn("resubscribe failed",
			zap.String("session_id", sessionID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		c.scheduleResubscribe(epoch, sessionID)
		return
	}

	if !c.adoptSubscription(sub, sessionID, epoch, false) {
		return
	}

	if msgs, err := c.loadHistory(ctx, sessionID); err == nil {
		c.enqueue(evHistory{epoch: epoch, msgs: msgs})
	}

	c.log.Info("resubscribed",
		zap.String("session_id", sessionID), zap.Int("attempt", attempt))
}

func (c *Client) teardownSubscription() {
	c.subMu.Lock()
	sub := c.sub
	c.sub = nil
	if c.resubTimer != nil {
		c.resubTimer.Stop()
		c.resubTimer = nil
	}
	c.resubCount = 0
	c.subMu.Unlock()

	if sub != nil {
		_ = sub.Close()
	}
}

// persistSnapshot saves the recovery snapshot for the notebook. It is
// best-effort: a cache failure is logged and never blocks the caller.
func (c *Client) persistSnapshot(ctx context.Context, sessionID string, msgs []store.Message) {
	completed := make([]store.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Status == store.StatusCompleted {
			completed = append(completed, msg)
		}
	}
	window := chatsync.WindowMessages(completed, c.cfg.SnapshotWindow, c.cfg.SnapshotTokenLimit)

	snap := &snapshot.Snapshot{
		NotebookID: c.NotebookID(),
		SessionID:  sessionID,
		Messages:   window,
	}
	if err := c.snaps.Save(ctx, snap); err != nil {
		c.log.Debug("snapshot save failed", zap.Error(err))
	}
}

// snapshotCurrent persists the current projection.
func (c *Client) snapshotCurrent() {
	c.mu.RLock()
	sessionID := c.proj.sessionID
	msgs := c.proj.messages()
	c.mu.RUnlock()
	if sessionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.persistSnapshot(ctx, sessionID, msgs)
}

func (c *Client) notify(n Notice) {
	c.noticeMu.Lock()
	fn := c.onNotice
	c.noticeMu.Unlock()
	if fn != nil {
		fn(n)
	}
}
