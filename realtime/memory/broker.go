// Package memory provides an in-process realtime.Subscriber used by
// tests. Publish routes events to subscriptions matching the event's
// session id; duplicate delivery can be exercised by publishing twice.
package memory

import (
	"context"
	"sync"

	"github.com/creastat/chatsync/realtime"
)

// Broker implements realtime.Subscriber in process.
type Broker struct {
	mu   sync.Mutex
	subs map[string][]*subscription
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string][]*subscription)}
}

// Subscribe implements realtime.Subscriber.
func (b *Broker) Subscribe(ctx context.Context, sessionID string) (realtime.Subscription, error) {
	sub := &subscription{
		broker:    b,
		sessionID: sessionID,
		events:    make(chan realtime.Event, 64),
		errs:      make(chan error, 1),
	}

	b.mu.Lock()
	b.subs[sessionID] = append(b.subs[sessionID], sub)
	b.mu.Unlock()

	return sub, nil
}

// Publish delivers an event to every open subscription for the
// event's session. Closed subscriptions never receive it.
func (b *Broker) Publish(ev realtime.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs[ev.Message.SessionID] {
		if sub.closed {
			continue
		}
		select {
		case sub.events <- ev:
		default:
		}
	}
}

// Fail pushes a stream error to every open subscription for the
// session, simulating a dropped channel.
func (b *Broker) Fail(sessionID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs[sessionID] {
		if sub.closed {
			continue
		}
		select {
		case sub.errs <- err:
		default:
		}
	}
}

// OpenSubscriptions reports how many subscriptions for the session are
// still open, for leak assertions in tests.
func (b *Broker) OpenSubscriptions(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, sub := range b.subs[sessionID] {
		if !sub.closed {
			n++
		}
	}
	return n
}

type subscription struct {
	broker    *Broker
	sessionID string
	events    chan realtime.Event
	errs      chan error

	closeOnce sync.Once
	closed    bool
}

// Events implements realtime.Subscription.
func (s *subscription) Events() <-chan realtime.Event { return s.events }

// Err implements realtime.Subscription.
func (s *subscription) Err() <-chan error { return s.errs }

// Close implements realtime.Subscription.
func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		s.broker.mu.Lock()
		s.closed = true
		s.broker.mu.Unlock()
		close(s.events)
	})
	return nil
}

// Compile-time check that Broker implements realtime.Subscriber.
var _ realtime.Subscriber = (*Broker)(nil)
