// Package supabase implements the realtime subscription stream over
// Supabase Realtime, which speaks the Phoenix channel protocol as JSON
// frames over a websocket. Events are filtered server-side by session
// id via the channel topic.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/creastat/chatsync/realtime"
	"github.com/creastat/chatsync/store"
)

const (
	messagesTable    = "messages"
	defaultHeartbeat = 30 * time.Second
	writeTimeout     = 10 * time.Second
)

// Config holds Supabase Realtime connection configuration.
type Config struct {
	URL               string // project URL, e.g. https://xyz.supabase.co
	APIKey            string
	UserToken         string        // JWT of the authenticated principal, optional
	HeartbeatInterval time.Duration // default 30 seconds
	Logger            *zap.Logger
}

// Subscriber implements realtime.Subscriber over Supabase Realtime.
type Subscriber struct {
	wsURL     string
	userToken string
	heartbeat time.Duration
	log       *zap.Logger
}

// New creates a Supabase Realtime subscriber.
func New(cfg Config) (*Subscriber, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeat
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	wsURL, err := websocketURL(cfg.URL, cfg.APIKey)
	if err != nil {
		return nil, err
	}

	return &Subscriber{
		wsURL:     wsURL,
		userToken: cfg.UserToken,
		heartbeat: cfg.HeartbeatInterval,
		log:       cfg.Logger,
	}, nil
}

// Subscribe implements realtime.Subscriber. It dials a fresh websocket
// and joins the session-filtered channel for the messages table.
func (s *Subscriber) Subscribe(ctx context.Context, sessionID string) (realtime.Subscription, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial realtime endpoint: %w", err)
	}

	topic := fmt.Sprintf("realtime:public:%s:session_id=eq.%s", messagesTable, sessionID)
	sub := &subscription{
		conn:   conn,
		topic:  topic,
		events: make(chan realtime.Event, 64),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
		log:    s.log.With(zap.String("session_id", sessionID)),
	}

	joinPayload := map[string]any{}
	if s.userToken != "" {
		joinPayload["user_token"] = s.userToken
	}
	if err := sub.send("phx_join", joinPayload); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to join channel: %w", err)
	}

	go sub.readLoop()
	go sub.heartbeatLoop(s.heartbeat)

	return sub, nil
}

type subscription struct {
	conn   *websocket.Conn
	topic  string
	events chan realtime.Event
	errs   chan error
	done   chan struct{}
	log    *zap.Logger

	writeMu   sync.Mutex
	ref       int
	closeOnce sync.Once
}

// Events implements realtime.Subscription.
func (s *subscription) Events() <-chan realtime.Event { return s.events }

// Err implements realtime.Subscription.
func (s *subscription) Err() <-chan error { return s.errs }

// Close implements realtime.Subscription.
func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		// Best-effort leave so the server releases the channel.
		_ = s.send("phx_leave", map[string]any{})
		_ = s.conn.Close()
	})
	return nil
}

type phxFrame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

func (s *subscription) send(event string, payload any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.ref++
	topic := s.topic
	if event == "heartbeat" {
		topic = "phoenix"
	}
	frame := map[string]any{
		"topic":   topic,
		"event":   event,
		"payload": payload,
		"ref":     fmt.Sprintf("%d", s.ref),
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(frame)
}

// readLoop decodes frames until the connection fails or the
// subscription is closed. A malformed payload is logged and dropped,
// never propagated: tearing down the stream over one bad frame would
// lose every later notification.
func (s *subscription) readLoop() {
	defer close(s.events)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.errs <- fmt.Errorf("realtime stream closed: %w", err)
			}
			return
		}

		var frame phxFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.log.Warn("dropping malformed realtime frame", zap.Error(err))
			continue
		}

		switch frame.Event {
		case "INSERT", "UPDATE", "DELETE":
			ev, ok := decodeChange(frame.Event, frame.Payload)
			if !ok {
				s.log.Warn("dropping undecodable change payload",
					zap.String("event", frame.Event))
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		case "phx_reply":
			var reply struct {
				Status string `json:"status"`
			}
			if json.Unmarshal(frame.Payload, &reply) == nil && reply.Status == "error" {
				s.log.Warn("channel join rejected", zap.String("topic", frame.Topic))
			}
		case "phx_error":
			select {
			case <-s.done:
			default:
				s.errs <- fmt.Errorf("realtime channel error on %s", frame.Topic)
			}
			return
		}
	}
}

func (s *subscription) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.send("heartbeat", map[string]any{}); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

type changePayload struct {
	Record    json.RawMessage `json:"record"`
	OldRecord json.RawMessage `json:"old_record"`
}

type messageRow struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Status    string         `json:"status"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt string         `json:"created_at"`
}

// decodeChange turns a Phoenix change payload into a realtime.Event.
// Deletes carry the row in old_record; inserts and updates in record.
func decodeChange(event string, payload json.RawMessage) (realtime.Event, bool) {
	var change changePayload
	if err := json.Unmarshal(payload, &change); err != nil {
		return realtime.Event{}, false
	}

	raw := change.Record
	if event == "DELETE" {
		raw = change.OldRecord
	}
	if len(raw) == 0 {
		return realtime.Event{}, false
	}

	var row messageRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return realtime.Event{}, false
	}
	if row.ID == "" {
		return realtime.Event{}, false
	}

	return realtime.Event{
		Type: realtime.EventType(event),
		Message: store.Message{
			ID:        row.ID,
			SessionID: row.SessionID,
			Role:      store.Role(row.Role),
			Content:   row.Content,
			Status:    store.Status(row.Status),
			Metadata:  row.Metadata,
			CreatedAt: parseTimestamp(row.CreatedAt),
		},
	}, true
}

// parseTimestamp accepts the timestamp shapes Supabase emits: RFC 3339
// with offset, and the zone-less commit-timestamp form.
func parseTimestamp(raw string) time.Time {
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999",
		"2006-01-02 15:04:05.999999",
	} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func websocketURL(projectURL, apiKey string) (string, error) {
	parsed, err := url.Parse(projectURL)
	if err != nil {
		return "", fmt.Errorf("invalid supabase URL: %w", err)
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	case "http":
		parsed.Scheme = "ws"
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/") + "/realtime/v1/websocket"
	q := parsed.Query()
	q.Set("apikey", apiKey)
	q.Set("vsn", "1.0.0")
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

// Compile-time check that Subscriber implements realtime.Subscriber.
var _ realtime.Subscriber = (*Subscriber)(nil)
