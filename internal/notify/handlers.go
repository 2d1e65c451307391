// Package notify reacts to domain events: it appends activity-log facts,
// fans messages out into per-actor notifications, and runs the delivery loop
// that hands queued notifications to live sessions.
package notify

import (
	"fmt"
	"log/slog"

	"github.com/CrewClaw/CrewClaw/internal/bus"
	"github.com/CrewClaw/CrewClaw/internal/store"
)

// Recorder appends one activity per domain event. It must be registered
// before the Notifier so the audit fact exists before any notification that
// references it.
type Recorder struct {
	store *store.Store
}

// NewRecorder creates an activity recorder.
func NewRecorder(s *store.Store) *Recorder {
	return &Recorder{store: s}
}

// Register subscribes the recorder to all activity-producing event types.
func (r *Recorder) Register(b *bus.Bus) {
	b.Subscribe(bus.EventTaskCreated, r.onTask)
	b.Subscribe(bus.EventTaskUpdated, r.onTask)
	b.Subscribe(bus.EventTaskCompleted, r.onTask)
	b.Subscribe(bus.EventMessagePosted, r.onMessage)
	b.Subscribe(bus.EventTriggerFired, r.onTrigger)
}

func (r *Recorder) onTask(e bus.Event) error {
	p, ok := e.Payload.(bus.TaskPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", e.Payload, e.Type)
	}

	var summary string
	switch e.Type {
	case bus.EventTaskCreated:
		summary = fmt.Sprintf("created task %q", p.Title)
	case bus.EventTaskCompleted:
		summary = fmt.Sprintf("completed task %q", p.Title)
	default:
		if p.OldStatus != "" && p.OldStatus != p.Status {
			summary = fmt.Sprintf("moved task %q from %s to %s", p.Title, p.OldStatus, p.Status)
		} else {
			summary = fmt.Sprintf("updated task %q", p.Title)
		}
	}

	return r.store.AppendActivity(&store.ActivityRecord{
		Type:    string(e.Type),
		ActorID: e.Source,
		Summary: summary,
		TaskID:  p.TaskID,
		RefKind: "task",
		RefID:   p.TaskID,
	})
}

func (r *Recorder) onMessage(e bus.Event) error {
	p, ok := e.Payload.(bus.MessagePayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", e.Payload, e.Type)
	}
	return r.store.AppendActivity(&store.ActivityRecord{
		Type:    string(e.Type),
		ActorID: p.AuthorID,
		Summary: fmt.Sprintf("commented: %s", snippet(p.Body, 80)),
		TaskID:  p.TaskID,
		RefKind: "message",
		RefID:   p.MessageID,
	})
}

func (r *Recorder) onTrigger(e bus.Event) error {
	p, ok := e.Payload.(bus.TriggerPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", e.Payload, e.Type)
	}
	return r.store.AppendActivity(&store.ActivityRecord{
		Type:    string(e.Type),
		ActorID: p.ActorID,
		Summary: fmt.Sprintf("wake trigger %q fired", p.JobName),
		RefKind: "job",
		RefID:   p.JobID,
	})
}

// Notifier turns posted messages into per-actor notifications. Targets are
// the task's derived subscriber set plus explicit mentions; @all expands to
// every known actor. The author is never notified of its own message.
type Notifier struct {
	store *store.Store
}

// NewNotifier creates a notification fan-out handler.
func NewNotifier(s *store.Store) *Notifier {
	return &Notifier{store: s}
}

// Register subscribes the notifier to message-posted events.
func (n *Notifier) Register(b *bus.Bus) {
	b.Subscribe(bus.EventMessagePosted, n.onMessage)
}

func (n *Notifier) onMessage(e bus.Event) error {
	p, ok := e.Payload.(bus.MessagePayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", e.Payload, e.Type)
	}

	targets := make(map[string]bool)

	subs, err := n.store.TaskSubscribers(p.TaskID)
	if err != nil {
		return fmt.Errorf("compute subscribers: %w", err)
	}
	for _, id := range subs {
		targets[id] = true
	}
	for _, id := range p.Mentions {
		targets[id] = true
	}
	if p.Broadcast {
		actors, err := n.store.ListActors(false)
		if err != nil {
			return fmt.Errorf("expand broadcast: %w", err)
		}
		for _, a := range actors {
			targets[a.ActorID] = true
		}
	}
	delete(targets, p.AuthorID)

	content := fmt.Sprintf("New message on task %s from %s: %s", p.TaskID, p.AuthorID, snippet(p.Body, 120))
	for actorID := range targets {
		created, err := n.store.CreateNotification(&store.NotificationRecord{
			ActorID:   actorID,
			Content:   content,
			RefKind:   "task",
			RefID:     p.TaskID,
			MessageID: p.MessageID,
		})
		if err != nil {
			return fmt.Errorf("enqueue notification: %w", err)
		}
		if created {
			slog.Debug("Notification enqueued", "actor", actorID, "task", p.TaskID, "message", p.MessageID)
		}
	}
	return nil
}

// snippet truncates on rune boundaries so multi-byte text never ends up as
// invalid UTF-8 in summaries or notification content.
func snippet(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
