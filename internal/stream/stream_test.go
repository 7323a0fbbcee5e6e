package stream

import (
	"context"
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := s.Subscribe(ctx)
	b := s.Subscribe(ctx)

	s.Publish(TransitionEvent{ManuscriptID: "ms-1", ToStatus: "under_review"})

	for _, ch := range []<-chan TransitionEvent{a, b} {
		select {
		case evt := <-ch:
			if evt.ManuscriptID != "ms-1" {
				t.Fatalf("unexpected event: %+v", evt)
			}
			if evt.Timestamp.IsZero() {
				t.Fatal("timestamp was not stamped")
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestCancelClosesChannel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel did not close after cancel")
	}

	// Publishing after unsubscribe must not panic or block.
	s.Publish(TransitionEvent{ManuscriptID: "ms-2"})
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx)
	for i := 0; i < 40; i++ {
		s.Publish(TransitionEvent{ManuscriptID: "ms-1"})
	}

	// The buffer caps at 16; the rest are dropped, never blocking Publish.
	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			if received == 0 || received > 16 {
				t.Fatalf("unexpected delivery count: %d", received)
			}
			return
		}
	}
}
