// Package workflow talks to the external workflow engine that produces
// assistant replies. The trigger is fire-and-forget: its outcome never
// affects the persisted user message, only whether a reply eventually
// arrives through the realtime stream.
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/creastat/chatsync"
)

// Request is the trigger payload sent to the workflow engine.
type Request struct {
	SessionID  string    `json:"sessionId"`
	Message    string    `json:"message"`
	UserID     string    `json:"userId"`
	NotebookID string    `json:"notebookId"`
	Timestamp  time.Time `json:"timestamp"`
}

// Trigger fires the workflow engine for an incoming user message.
type Trigger interface {
	Trigger(ctx context.Context, req Request) error
}

// Config holds workflow endpoint configuration.
type Config struct {
	URL        string
	AuthHeader string // optional bearer or webhook header value
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Client implements Trigger over HTTPS POST.
type Client struct {
	url        string
	authHeader string
	http       *http.Client
	log        *zap.Logger
}

// NewClient creates a workflow trigger client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("workflow URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = chatsync.DefaultTriggerTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{
		url:        cfg.URL,
		authHeader: cfg.AuthHeader,
		http:       &http.Client{Timeout: cfg.Timeout},
		log:        cfg.Logger,
	}, nil
}

// Trigger implements Trigger. The response body is normalized with
// ParseReply; an error-shaped body counts as a failed trigger even on
// HTTP 200. No retry is performed here, retries are the engine's
// concern.
func (c *Client) Trigger(ctx context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", chatsync.ErrWorkflowTrigger, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", chatsync.ErrWorkflowTrigger, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.authHeader != "" {
		httpReq.Header.Set("Authorization", c.authHeader)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.log.Warn("workflow trigger failed",
			zap.String("session_id", req.SessionID), zap.Error(err))
		return fmt.Errorf("%w: %v", chatsync.ErrWorkflowTrigger, err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	reply := ParseReply(preview)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("workflow trigger rejected",
			zap.String("session_id", req.SessionID),
			zap.Int("status", resp.StatusCode),
			zap.String("engine_error", reply.Err))
		return fmt.Errorf("%w: status %d", chatsync.ErrWorkflowTrigger, resp.StatusCode)
	}
	if reply.Kind == ReplyError {
		c.log.Warn("workflow reported an error",
			zap.String("session_id", req.SessionID),
			zap.String("engine_error", reply.Err))
		return fmt.Errorf("%w: %s", chatsync.ErrWorkflowTrigger, reply.Err)
	}

	c.log.Debug("workflow triggered",
		zap.String("session_id", req.SessionID),
		zap.Int("status", resp.StatusCode),
		zap.Bool("acknowledged_with_text", reply.Kind == ReplyText))
	return nil
}

// Compile-time check that Client implements Trigger.
var _ Trigger = (*Client)(nil)
