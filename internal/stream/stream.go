// Package stream fan-outs editorial transition events to live subscribers
// (the SSE endpoint). Delivery is best effort: a slow subscriber drops
// events rather than blocking the state machines.
package stream

import (
	"context"
	"sync"
	"time"
)

// TransitionEvent describes one manuscript state change for live dashboards.
type TransitionEvent struct {
	ManuscriptID string    `json:"manuscript_id"`
	JournalID    string    `json:"journal_id,omitempty"`
	FromStatus   string    `json:"from_status"`
	ToStatus     string    `json:"to_status"`
	Action       string    `json:"action,omitempty"`
	ChangedBy    string    `json:"changed_by,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Stream fan-outs transition events to all active subscribers.
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan TransitionEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan TransitionEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan TransitionEvent {
	ch := make(chan TransitionEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt TransitionEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
