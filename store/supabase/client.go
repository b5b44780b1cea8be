// Package supabase implements the message store over Supabase's
// PostgREST API. Row-level security scopes every query to the
// authenticated principal; this driver only classifies failures, it
// does not re-implement authorization.
package supabase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"github.com/creastat/chatsync"
	"github.com/creastat/chatsync/store"
)

const (
	sessionsTable = "sessions"
	messagesTable = "messages"
)

// Config holds Supabase connection configuration.
type Config struct {
	URL       string
	APIKey    string
	UserToken string        // JWT of the authenticated principal, optional
	CacheTTL  time.Duration // session read-cache TTL, default 30 seconds
}

// Client implements store.Store using Supabase.
type Client struct {
	client   *supabase.Client
	cacheTTL time.Duration

	mu       sync.RWMutex
	sessions map[string]cacheEntry
}

type cacheEntry struct {
	session   store.Session
	expiresAt time.Time
}

// New creates a new Supabase-backed store.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 30 * time.Second
	}

	var opts *supabase.ClientOptions
	if cfg.UserToken != "" {
		opts = &supabase.ClientOptions{
			Headers: map[string]string{
				"Authorization": "Bearer " + cfg.UserToken,
			},
		}
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &Client{
		client:   client,
		cacheTTL: cfg.CacheTTL,
		sessions: make(map[string]cacheEntry),
	}, nil
}

// CreateSession implements store.Store.
func (c *Client) CreateSession(ctx context.Context, notebookID, userID, title string) (*store.Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: no authenticated principal", chatsync.ErrUnauthorized)
	}

	row := map[string]any{
		"notebook_id":   notebookID,
		"user_id":       userID,
		"title":         title,
		"message_count": 0,
	}

	var created []store.Session
	err := await(ctx, "create session", func() error {
		_, err := c.client.From(sessionsTable).
			Insert(row, false, "", "representation", "").
			ExecuteTo(&created)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(created) == 0 {
		return nil, fmt.Errorf("%w: insert returned no row", chatsync.ErrStoreUnavailable)
	}

	session := created[0]
	c.cacheSession(session)
	return &session, nil
}

// GetSession implements store.Store.
func (c *Client) GetSession(ctx context.Context, id string) (*store.Session, error) {
	if cached := c.cachedSession(id); cached != nil {
		return cached, nil
	}

	var sessions []store.Session
	err := await(ctx, "get session", func() error {
		_, err := c.client.From(sessionsTable).
			Select("*", "", false).
			Eq("id", id).
			ExecuteTo(&sessions)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("%w: %s", chatsync.ErrNotFound, id)
	}

	session := sessions[0]
	c.cacheSession(session)
	return &session, nil
}

// ListSessions implements store.Store.
func (c *Client) ListSessions(ctx context.Context, notebookID string) ([]store.Session, error) {
	var sessions []store.Session
	err := await(ctx, "list sessions", func() error {
		_, err := c.client.From(sessionsTable).
			Select("*", "", false).
			Eq("notebook_id", notebookID).
			Order("updated_at", &postgrest.OrderOpts{Ascending: false}).
			ExecuteTo(&sessions)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// TouchSession implements store.Store. The message_count bump is done
// server-side by a trigger on message insert; this call refreshes the
// denormalized last-message timestamp.
func (c *Client) TouchSession(ctx context.Context, id string, lastMessageAt time.Time) error {
	patch := map[string]any{
		"last_message_at": lastMessageAt.UTC().Format(time.RFC3339Nano),
		"updated_at":      time.Now().UTC().Format(time.RFC3339Nano),
	}

	err := await(ctx, "touch session", func() error {
		_, _, err := c.client.From(sessionsTable).
			Update(patch, "", "").
			Eq("id", id).
			Execute()
		return err
	})
	if err != nil {
		return err
	}
	c.dropSession(id)
	return nil
}

// InsertMessage implements store.Store.
func (c *Client) InsertMessage(ctx context.Context, msg *store.Message) (*store.Message, error) {
	row := map[string]any{
		"session_id": msg.SessionID,
		"role":       msg.Role,
		"content":    msg.Content,
		"status":     msg.Status,
	}
	if len(msg.Metadata) > 0 {
		row["metadata"] = msg.Metadata
	}

	var created []store.Message
	err := await(ctx, "insert message", func() error {
		_, err := c.client.From(messagesTable).
			Insert(row, false, "", "representation", "").
			ExecuteTo(&created)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(created) == 0 {
		return nil, fmt.Errorf("%w: insert returned no row", chatsync.ErrStoreUnavailable)
	}
	return &created[0], nil
}

// ListMessages implements store.Store.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]store.Message, error) {
	var messages []store.Message
	err := await(ctx, "list messages", func() error {
		_, err := c.client.From(messagesTable).
			Select("*", "", false).
			Eq("session_id", sessionID).
			Order("created_at", &postgrest.OrderOpts{Ascending: true}).
			ExecuteTo(&messages)
		return err
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// UpdateMessage implements store.Store.
func (c *Client) UpdateMessage(ctx context.Context, id string, patch store.MessagePatch) error {
	row := map[string]any{}
	if patch.Content != nil {
		row["content"] = *patch.Content
	}
	if patch.Status != nil {
		row["status"] = *patch.Status
	}
	if patch.Metadata != nil {
		row["metadata"] = patch.Metadata
	}
	if len(row) == 0 {
		return nil
	}

	return await(ctx, "update message", func() error {
		_, _, err := c.client.From(messagesTable).
			Update(row, "", "").
			Eq("id", id).
			Execute()
		return err
	})
}

// Close implements store.Store. The underlying client holds no
// connections that require explicit shutdown.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = nil
	return nil
}

func (c *Client) cachedSession(id string) *store.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if e, ok := c.sessions[id]; ok && time.Now().Before(e.expiresAt) {
		session := e.session
		return &session
	}
	return nil
}

func (c *Client) cacheSession(session store.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessions == nil {
		return
	}
	c.sessions[session.ID] = cacheEntry{
		session:   session,
		expiresAt: time.Now().Add(c.cacheTTL),
	}
}

func (c *Client) dropSession(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
}

// await runs one PostgREST call on its own goroutine and stops waiting
// when ctx expires. The postgrest builders carry no context, so without
// this a stuck connection would outlive every caller-side deadline and
// leave the session switch hanging. An abandoned call's result is
// discarded by the caller along with its output slice.
func await(ctx context.Context, op string, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		if err != nil {
			return classify(op, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to %s: %w: %v", op, chatsync.ErrStoreUnavailable, ctx.Err())
	}
}

// classify maps a PostgREST failure onto the error taxonomy. PostgREST
// reports Postgres error codes in the response body; 42501 is an RLS
// privilege failure, PGRST116 a missing single row.
func classify(op string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "PGRST116"):
		return fmt.Errorf("failed to %s: %w: %v", op, chatsync.ErrNotFound, err)
	case strings.Contains(msg, "42501"), strings.Contains(msg, "JWT"),
		strings.Contains(msg, "401"), strings.Contains(msg, "403"):
		return fmt.Errorf("failed to %s: %w: %v", op, chatsync.ErrUnauthorized, err)
	default:
		return fmt.Errorf("failed to %s: %w: %v", op, chatsync.ErrStoreUnavailable, err)
	}
}

// Compile-time check that Client implements store.Store.
var _ store.Store = (*Client)(nil)
