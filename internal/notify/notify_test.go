package notify

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/CrewClaw/CrewClaw/internal/bus"
	"github.com/CrewClaw/CrewClaw/internal/gateway"
	"github.com/CrewClaw/CrewClaw/internal/session"
	"github.com/CrewClaw/CrewClaw/internal/store"
	"github.com/CrewClaw/CrewClaw/internal/tasks"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "crew.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustActor(t *testing.T, s *store.Store, name string) *store.ActorRecord {
	t.Helper()
	a, err := s.CreateActor(name, "")
	if err != nil {
		t.Fatalf("create actor %s: %v", name, err)
	}
	return a
}

func TestRecorderAppendsTaskActivity(t *testing.T) {
	s := newTestStore(t)
	b := bus.New()
	NewRecorder(s).Register(b)

	b.Publish(bus.EventTaskCreated, "actor-1", bus.TaskPayload{
		TaskID: "task-1",
		Title:  "Ship the thing",
		Status: store.StatusInbox,
	})
	b.Publish(bus.EventTaskUpdated, "actor-1", bus.TaskPayload{
		TaskID:    "task-1",
		Title:     "Ship the thing",
		Status:    store.StatusInProgress,
		OldStatus: store.StatusAssigned,
	})

	acts, err := s.ListActivities(store.ActivityFilter{Limit: 10})
	if err != nil {
		t.Fatalf("list activities: %v", err)
	}
	if len(acts) != 2 {
		t.Fatalf("got %d activities, want 2", len(acts))
	}
	// Newest first.
	if acts[0].Type != string(bus.EventTaskUpdated) {
		t.Errorf("newest activity type = %s", acts[0].Type)
	}
	if acts[1].ActorID != "actor-1" {
		t.Errorf("activity actor = %s", acts[1].ActorID)
	}
}

func TestNotifierFansOutToSubscribersAndMentions(t *testing.T) {
	s := newTestStore(t)
	b := bus.New()
	NewNotifier(s).Register(b)

	loki := mustActor(t, s, "loki")
	hill := mustActor(t, s, "hill")
	fury := mustActor(t, s, "fury")

	task, err := s.CreateTask(&store.TaskRecord{Title: "Recruit", Assignees: []string{loki.ActorID}})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	b.Publish(bus.EventMessagePosted, hill.ActorID, bus.MessagePayload{
		TaskID:    task.TaskID,
		MessageID: "msg-1",
		AuthorID:  hill.ActorID,
		Body:      "status please @fury",
		Mentions:  []string{fury.ActorID},
	})

	for _, tc := range []struct {
		actor *store.ActorRecord
		want  int
	}{
		{loki, 1}, // assignee
		{fury, 1}, // mentioned
		{hill, 0}, // author never self-notifies
	} {
		got, err := s.ListNotifications(tc.actor.ActorID, 10, 0)
		if err != nil {
			t.Fatalf("list for %s: %v", tc.actor.Name, err)
		}
		if len(got) != tc.want {
			t.Errorf("%s has %d notifications, want %d", tc.actor.Name, len(got), tc.want)
		}
	}
}

func TestNotifierBroadcast(t *testing.T) {
	s := newTestStore(t)
	b := bus.New()
	NewNotifier(s).Register(b)

	hill := mustActor(t, s, "hill")
	loki := mustActor(t, s, "loki")
	fury := mustActor(t, s, "fury")
	ghost := mustActor(t, s, "ghost")
	if err := s.ArchiveActor(ghost.ActorID); err != nil {
		t.Fatalf("archive: %v", err)
	}

	task, err := s.CreateTask(&store.TaskRecord{Title: "All hands"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	b.Publish(bus.EventMessagePosted, hill.ActorID, bus.MessagePayload{
		TaskID:    task.TaskID,
		MessageID: "msg-1",
		AuthorID:  hill.ActorID,
		Body:      "@all standup in 5",
		Broadcast: true,
	})

	for _, a := range []*store.ActorRecord{loki, fury} {
		got, _ := s.ListNotifications(a.ActorID, 10, 0)
		if len(got) != 1 {
			t.Errorf("%s has %d notifications, want 1", a.Name, len(got))
		}
	}
	if got, _ := s.ListNotifications(hill.ActorID, 10, 0); len(got) != 0 {
		t.Errorf("author received own broadcast")
	}
	if got, _ := s.ListNotifications(ghost.ActorID, 10, 0); len(got) != 0 {
		t.Errorf("archived actor received broadcast")
	}
}

func TestNotifierRedeliveryIsDeduped(t *testing.T) {
	s := newTestStore(t)
	b := bus.New()
	NewNotifier(s).Register(b)

	hill := mustActor(t, s, "hill")
	loki := mustActor(t, s, "loki")

	task, err := s.CreateTask(&store.TaskRecord{Title: "Recruit", Assignees: []string{loki.ActorID}})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	payload := bus.MessagePayload{
		TaskID:    task.TaskID,
		MessageID: "msg-1",
		AuthorID:  hill.ActorID,
		Body:      "ping",
	}
	b.Publish(bus.EventMessagePosted, hill.ActorID, payload)
	b.Publish(bus.EventMessagePosted, hill.ActorID, payload) // same message replayed

	got, _ := s.ListNotifications(loki.ActorID, 10, 0)
	if len(got) != 1 {
		t.Fatalf("got %d notifications after replay, want 1", len(got))
	}
}

// The full daemon path: a mention queues a notification while the target is
// asleep, the worker leaves it untouched, and the target's next wake through
// the gateway delivers it.
func TestMentionDeliveredOnNextWake(t *testing.T) {
	s := newTestStore(t)
	b := bus.New()
	NewRecorder(s).Register(b)
	NewNotifier(s).Register(b)

	reg := session.NewRegistry()
	ts := tasks.NewService(s, b)
	var histories [][]session.Message
	runner := gateway.RunnerFunc(func(_ context.Context, _ string, history []session.Message, _ string) (string, error) {
		histories = append(histories, history)
		return "checking now", nil
	})
	gw := gateway.New(s, b, ts, session.NewManager(t.TempDir()), runner, gateway.Options{Registry: reg})
	w := NewDeliveryWorker(s, reg, time.Second, 0)

	hill := mustActor(t, s, "hill")
	fury := mustActor(t, s, "fury")
	task, err := ts.Create("Draft blog post", "", nil, hill.ActorID)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := ts.Comment(task.TaskID, hill.ActorID, "any word on this, @fury?", nil); err != nil {
		t.Fatalf("comment: %v", err)
	}

	// Fury is asleep: the worker's pass leaves the record queued.
	w.poll()
	pending, err := s.ListUndelivered(10)
	if err != nil {
		t.Fatalf("list undelivered: %v", err)
	}
	if len(pending) != 1 || pending[0].ActorID != fury.ActorID {
		t.Fatalf("pending before wake = %+v", pending)
	}

	// Fury's wake turn drains the mailbox into the transcript.
	if _, err := gw.Handle(context.Background(), gateway.Envelope{ActorID: fury.ActorID, Text: "good morning"}); err != nil {
		t.Fatalf("wake: %v", err)
	}
	if len(histories) != 1 || len(histories[0]) != 2 {
		t.Fatalf("wake history = %+v", histories)
	}
	if histories[0][0].Content != pending[0].Content {
		t.Errorf("wake did not see the queued notification: %q", histories[0][0].Content)
	}

	list, _ := s.ListNotifications(fury.ActorID, 10, 0)
	if len(list) != 1 || !list[0].Delivered {
		t.Fatalf("notification after wake = %+v", list)
	}

	// The flag flipped exactly once; a later worker pass has nothing to do.
	w.poll()
	if remaining, _ := s.ListUndelivered(10); len(remaining) != 0 {
		t.Errorf("undelivered after wake = %d", len(remaining))
	}
}

func TestSnippetKeepsValidUTF8(t *testing.T) {
	long := strings.Repeat("ü", 100)
	got := snippet(long, 80)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation produced invalid UTF-8: %q", got)
	}
	if got != strings.Repeat("ü", 80)+"…" {
		t.Errorf("got %q", got)
	}
	if snippet("short", 80) != "short" {
		t.Errorf("short string modified")
	}
}

func TestDeliveryWorkerLeavesUnreachableQueued(t *testing.T) {
	s := newTestStore(t)
	reg := session.NewRegistry()
	w := NewDeliveryWorker(s, reg, time.Second, 0)

	loki := mustActor(t, s, "loki")
	if _, err := s.CreateNotification(&store.NotificationRecord{
		ActorID: loki.ActorID,
		Content: "wake up",
	}); err != nil {
		t.Fatalf("create notification: %v", err)
	}

	// No live session: the record must survive the poll untouched.
	w.poll()
	pending, err := s.ListUndelivered(10)
	if err != nil {
		t.Fatalf("list undelivered: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d after unreachable poll, want 1", len(pending))
	}

	var delivered []string
	reg.Attach(loki.ActorID, func(content string) error {
		delivered = append(delivered, content)
		return nil
	})

	w.poll()
	if len(delivered) != 1 || delivered[0] != "wake up" {
		t.Fatalf("delivered = %v", delivered)
	}
	pending, _ = s.ListUndelivered(10)
	if len(pending) != 0 {
		t.Fatalf("pending = %d after delivery, want 0", len(pending))
	}

	// Nothing left to deliver; a second poll must not redeliver.
	w.poll()
	if len(delivered) != 1 {
		t.Errorf("redelivered: %v", delivered)
	}
}
