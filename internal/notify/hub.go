package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	EventUrgentValidation   = "urgent_validation_required"
	EventValidationDecision = "validation_decision"
	EventAdvisoryCompleted  = "advisory_analysis_completed"
	EventEmergencyEscalated = "emergency_escalated"
	EventStandupCompleted   = "daily_standup_completed"
	EventStatusSynced       = "bots_status_synced"
	EventReportGenerated    = "squad_report_generated"
	EventWorkflowFailed     = "workflow_failed"
	EventWorkflowMessage    = "workflow_message"
)

const (
	defaultBuffer       = 256
	defaultSinkDeadline = 10 * time.Second
)

// ErrNotificationDeliveryFailed wraps every sink failure. It is logged and
// never returned to the operation that published the event.
var ErrNotificationDeliveryFailed = errors.New("notification delivery failed")

// Event is one outbound notification.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Target    string         `json:"target,omitempty"`
	Timestamp string         `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// Publisher is the port the engine emits through. Publish must return without
// waiting on any observer.
type Publisher interface {
	Publish(Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(Event) {}

// Sink delivers events to one external channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

type HubOptions struct {
	Buffer int
	Logger *slog.Logger
	Now    func() time.Time
	// OnDrop is called with the destination name whenever an event is lost.
	OnDrop func(destination string)
}

// Hub fans events out to in-process subscribers and external sinks. A full
// subscriber or sink queue drops the event instead of blocking the publisher.
type Hub struct {
	opts   HubOptions
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
	sinks  []*sinkWorker
	closed bool
	wg     sync.WaitGroup
}

func NewHub(opts HubOptions) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Hub{opts: opts, subs: map[int]*Subscription{}}
}

type Subscription struct {
	hub    *Hub
	id     int
	ch     chan Event
	filter eventFilter
}

// C returns the delivery channel. It is closed when the subscription or the hub closes.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if _, ok := s.hub.subs[s.id]; ok {
		delete(s.hub.subs, s.id)
		close(s.ch)
	}
}

// Subscribe registers an in-process observer. With no types given every event
// is delivered.
func (h *Hub) Subscribe(types ...string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscription{hub: h, id: h.nextID, ch: make(chan Event, h.opts.Buffer), filter: newEventFilter(types)}
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub.id] = sub
	return sub
}

// AddSink starts a delivery worker for s.
func (h *Hub) AddSink(s Sink) {
	w := &sinkWorker{sink: s, queue: make(chan Event, h.opts.Buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.sinks = append(h.sinks, w)
	h.wg.Add(1)
	go h.runSink(w)
}

func (h *Hub) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp == "" {
		ev.Timestamp = h.opts.Now().UTC().Format(time.RFC3339)
	}
	if ev.Payload == nil {
		ev.Payload = map[string]any{}
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, sub := range h.subs {
		if !sub.filter.match(ev.Type) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.drop("subscriber", ev)
		}
	}
	for _, w := range h.sinks {
		select {
		case w.queue <- ev:
		default:
			h.drop(w.sink.Name(), ev)
		}
	}
}

// Close stops accepting events, lets sink workers drain their queues and
// closes sinks that hold connections.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
	for _, w := range h.sinks {
		close(w.queue)
	}
	h.mu.Unlock()
	h.wg.Wait()
	for _, w := range h.sinks {
		if c, ok := w.sink.(io.Closer); ok {
			if err := c.Close(); err != nil {
				h.opts.Logger.Warn("notify: close sink", "sink", w.sink.Name(), "err", err)
			}
		}
	}
}

type sinkWorker struct {
	sink  Sink
	queue chan Event
}

func (h *Hub) runSink(w *sinkWorker) {
	defer h.wg.Done()
	for ev := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), defaultSinkDeadline)
		err := w.sink.Deliver(ctx, ev)
		cancel()
		if err != nil {
			h.opts.Logger.Warn("notify: delivery failed",
				"sink", w.sink.Name(), "event", ev.Type, "event_id", ev.ID,
				"err", errors.Join(ErrNotificationDeliveryFailed, err))
			h.drop(w.sink.Name(), ev)
		}
	}
}

func (h *Hub) drop(dest string, ev Event) {
	h.opts.Logger.Debug("notify: event dropped", "destination", dest, "event", ev.Type, "event_id", ev.ID)
	if h.opts.OnDrop != nil {
		h.opts.OnDrop(dest)
	}
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
