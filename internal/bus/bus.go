// Package bus provides the in-process event bus that decouples state
// mutations from their side effects.
//
// The bus is process-local fan-out, not a durable queue. Anything that must
// survive a crash is persisted by the handlers themselves (activity log,
// notification queue) before they return.
package bus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// EventType identifies a domain event.
type EventType string

// Domain event types published by the core components.
const (
	EventTaskCreated      EventType = "task-created"
	EventTaskUpdated      EventType = "task-updated"
	EventTaskCompleted    EventType = "task-completed"
	EventMessagePosted    EventType = "message-posted"
	EventMessageReceived  EventType = "message-received"
	EventMessageResponded EventType = "message-responded"
	EventTriggerFired     EventType = "trigger-fired"
)

// Event is one published fact. Payload is one of the *Payload structs below.
type Event struct {
	Type    EventType
	Source  string // actor or component responsible for the mutation
	At      time.Time
	Payload any
}

// TaskPayload accompanies task-created/task-updated/task-completed.
type TaskPayload struct {
	TaskID    string
	Title     string
	Status    string
	OldStatus string
	Assignees []string
}

// MessagePayload accompanies message-posted.
type MessagePayload struct {
	TaskID    string
	MessageID string
	Seq       int64
	AuthorID  string
	Body      string
	Mentions  []string
	Broadcast bool
}

// EnvelopePayload accompanies message-received/message-responded.
type EnvelopePayload struct {
	ActorID     string
	SessionKind string
	Text        string
	Reply       string
	Command     bool
}

// TriggerPayload accompanies trigger-fired.
type TriggerPayload struct {
	JobID   string
	JobName string
	ActorID string
}

// Handler processes one event. A non-nil error is logged and isolated; it
// never reaches the publisher or the other handlers.
type Handler func(Event) error

// Bus fans events out to subscribed handlers in registration order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	// dispatchMu serializes delivery so that handlers observe events in the
	// order they were published. Causal pairs like task-created followed by
	// task-updated from the same request must never interleave.
	dispatchMu sync.Mutex
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers a handler for an event type. Handlers run in
// registration order. Events published before a handler was registered are
// not replayed.
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish delivers the event to every handler registered for its type.
// Delivery is inline: Publish returns after the last handler has run. A
// failing or panicking handler is logged and does not stop the others.
func (b *Bus) Publish(t EventType, source string, payload any) {
	evt := Event{Type: t, Source: source, At: time.Now(), Payload: payload}

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[t]))
	copy(handlers, b.handlers[t])
	b.mu.RUnlock()

	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()

	for _, h := range handlers {
		if err := b.run(h, evt); err != nil {
			slog.Error("Event handler failed", "type", t, "source", source, "error", err)
		}
	}
}

// run executes one handler, converting panics into errors.
func (b *Bus) run(h Handler, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(evt)
}

// HandlerCount returns the number of handlers registered for a type.
func (b *Bus) HandlerCount(t EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[t])
}
