package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestHubDeliversToMatchingSubscribers(t *testing.T) {
	hub := NewHub(HubOptions{Buffer: 4})
	defer hub.Close()
	all := hub.Subscribe()
	urgent := hub.Subscribe(EventUrgentValidation)

	hub.Publish(Event{Type: EventValidationDecision, Target: "bot-1"})
	hub.Publish(Event{Type: EventUrgentValidation, Payload: map[string]any{"priority": 100}})

	first := recv(t, all.C())
	require.Equal(t, EventValidationDecision, first.Type)
	require.Equal(t, "bot-1", first.Target)
	require.NotEmpty(t, first.ID)
	require.NotEmpty(t, first.Timestamp)
	require.Equal(t, EventUrgentValidation, recv(t, all.C()).Type)

	got := recv(t, urgent.C())
	require.Equal(t, EventUrgentValidation, got.Type)
	require.Equal(t, 100, got.Payload["priority"])
	select {
	case ev := <-urgent.C():
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}
}

func TestHubPublishNeverBlocksOnFullSubscriber(t *testing.T) {
	var drops atomic.Int64
	hub := NewHub(HubOptions{Buffer: 1, OnDrop: func(string) { drops.Add(1) }})
	defer hub.Close()
	_ = hub.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Publish(Event{Type: EventUrgentValidation})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	require.Equal(t, int64(9), drops.Load())
}

type fakeSink struct {
	mu     sync.Mutex
	got    []Event
	fail   bool
	called chan struct{}
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) Deliver(_ context.Context, ev Event) error {
	f.mu.Lock()
	f.got = append(f.got, ev)
	f.mu.Unlock()
	if f.called != nil {
		f.called <- struct{}{}
	}
	if f.fail {
		return errors.New("broker down")
	}
	return nil
}

func TestHubSinkFailureIsSwallowed(t *testing.T) {
	dropped := make(chan string, 1)
	hub := NewHub(HubOptions{OnDrop: func(dest string) { dropped <- dest }})
	sink := &fakeSink{fail: true}
	hub.AddSink(sink)

	hub.Publish(Event{Type: EventEmergencyEscalated})
	select {
	case dest := <-dropped:
		require.Equal(t, "fake", dest)
	case <-time.After(2 * time.Second):
		t.Fatal("expected drop to be reported")
	}
	hub.Close()
	require.Len(t, sink.got, 1)
}

func TestHubCloseDrainsSinksAndClosesSubscriptions(t *testing.T) {
	hub := NewHub(HubOptions{})
	sink := &fakeSink{}
	hub.AddSink(sink)
	sub := hub.Subscribe()

	hub.Publish(Event{Type: EventStandupCompleted})
	hub.Publish(Event{Type: EventStatusSynced})
	hub.Close()

	require.Len(t, sink.got, 2)
	<-sub.C()
	<-sub.C()
	_, ok := <-sub.C()
	require.False(t, ok)

	// publishing after close is a no-op
	hub.Publish(Event{Type: EventStandupCompleted})
	sub.Close()
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	hub := NewHub(HubOptions{})
	defer hub.Close()
	sub := hub.Subscribe()
	sub.Close()
	hub.Publish(Event{Type: EventReportGenerated})
	_, ok := <-sub.C()
	require.False(t, ok)
}
