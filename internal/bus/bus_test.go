package bus

import (
	"errors"
	"testing"
)

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	b := New()

	var order []int
	for i := 1; i <= 3; i++ {
		n := i
		b.Subscribe(EventTaskCreated, func(Event) error {
			order = append(order, n)
			return nil
		})
	}

	b.Publish(EventTaskCreated, "tester", TaskPayload{TaskID: "t1"})

	if len(order) != 3 {
		t.Fatalf("expected 3 handler runs, got %d", len(order))
	}
	for i, n := range order {
		if n != i+1 {
			t.Errorf("handler %d ran at position %d", n, i)
		}
	}
}

func TestFailingHandlerIsIsolated(t *testing.T) {
	b := New()

	ran := false
	b.Subscribe(EventTaskUpdated, func(Event) error {
		return errors.New("boom")
	})
	b.Subscribe(EventTaskUpdated, func(Event) error {
		panic("worse")
	})
	b.Subscribe(EventTaskUpdated, func(Event) error {
		ran = true
		return nil
	})

	// Must not panic and must reach the last handler.
	b.Publish(EventTaskUpdated, "tester", nil)

	if !ran {
		t.Fatalf("handler after failures did not run")
	}
}

func TestNoReplayForLateSubscriber(t *testing.T) {
	b := New()

	b.Publish(EventMessagePosted, "tester", MessagePayload{MessageID: "m1"})

	var got int
	b.Subscribe(EventMessagePosted, func(Event) error {
		got++
		return nil
	})

	if got != 0 {
		t.Fatalf("late subscriber saw %d replayed events", got)
	}

	b.Publish(EventMessagePosted, "tester", MessagePayload{MessageID: "m2"})
	if got != 1 {
		t.Fatalf("expected 1 delivery, got %d", got)
	}
}

func TestEventCarriesSourceAndTimestamp(t *testing.T) {
	b := New()

	var evt Event
	b.Subscribe(EventTriggerFired, func(e Event) error {
		evt = e
		return nil
	})

	b.Publish(EventTriggerFired, "scheduler", TriggerPayload{JobName: "standup"})

	if evt.Source != "scheduler" {
		t.Errorf("source = %q", evt.Source)
	}
	if evt.At.IsZero() {
		t.Errorf("timestamp not set")
	}
	p, ok := evt.Payload.(TriggerPayload)
	if !ok || p.JobName != "standup" {
		t.Errorf("payload = %#v", evt.Payload)
	}
}
