package gateway

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/CrewClaw/CrewClaw/internal/bus"
	"github.com/CrewClaw/CrewClaw/internal/session"
	"github.com/CrewClaw/CrewClaw/internal/store"
	"github.com/CrewClaw/CrewClaw/internal/tasks"
)

type fixture struct {
	store    *store.Store
	bus      *bus.Bus
	registry *session.Registry
	gateway  *Gateway
}

func newFixture(t *testing.T, runner Runner) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "crew.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	b := bus.New()
	ts := tasks.NewService(s, b)
	sm := session.NewManager(t.TempDir())
	r := session.NewRegistry()
	return &fixture{
		store:    s,
		bus:      b,
		registry: r,
		gateway:  New(s, b, ts, sm, runner, Options{Registry: r}),
	}
}

func mustActor(t *testing.T, s *store.Store, name string) *store.ActorRecord {
	t.Helper()
	a, err := s.CreateActor(name, "")
	if err != nil {
		t.Fatalf("create actor %s: %v", name, err)
	}
	return a
}

func TestHandleRecordsReceiptForCommands(t *testing.T) {
	f := newFixture(t, nil)
	hill := mustActor(t, f.store, "hill")

	res, err := f.gateway.Handle(context.Background(), Envelope{ActorID: hill.ActorID, Text: "/help"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !res.Command {
		t.Errorf("help not flagged as command")
	}
	if !strings.Contains(res.Reply, "/standup") {
		t.Errorf("help output missing verbs: %q", res.Reply)
	}

	acts, err := f.store.ListActivities(store.ActivityFilter{Type: string(bus.EventMessageReceived), Limit: 10})
	if err != nil {
		t.Fatalf("list activities: %v", err)
	}
	if len(acts) != 1 {
		t.Fatalf("receipt activities = %d, want 1", len(acts))
	}
	if acts[0].ActorID != hill.ActorID {
		t.Errorf("receipt actor = %s", acts[0].ActorID)
	}
}

func TestHandleUnknownVerbIsAnswered(t *testing.T) {
	f := newFixture(t, nil)
	hill := mustActor(t, f.store, "hill")

	res, err := f.gateway.Handle(context.Background(), Envelope{ActorID: hill.ActorID, Text: "/frobnicate now"})
	if err != nil {
		t.Fatalf("unknown verb returned error: %v", err)
	}
	if !strings.Contains(res.Reply, "Unknown command /frobnicate") {
		t.Errorf("reply = %q", res.Reply)
	}
}

func TestTaskLifecycleThroughCommands(t *testing.T) {
	f := newFixture(t, nil)
	hill := mustActor(t, f.store, "hill")
	loki := mustActor(t, f.store, "loki")
	ctx := context.Background()

	res, err := f.gateway.Handle(ctx, Envelope{ActorID: hill.ActorID, Text: "/task Recruit the crew"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	list, err := f.store.ListTasks(store.TaskFilter{})
	if err != nil || len(list) != 1 {
		t.Fatalf("tasks = %v, err %v", list, err)
	}
	taskID := list[0].TaskID
	if !strings.Contains(res.Reply, taskID) {
		t.Errorf("create reply %q missing task id", res.Reply)
	}

	if _, err := f.gateway.Handle(ctx, Envelope{ActorID: hill.ActorID, Text: "/assign " + taskID + " loki"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	task, _ := f.store.GetTask(taskID)
	if task.Status != store.StatusAssigned {
		t.Errorf("status after assign = %s", task.Status)
	}
	if len(task.Assignees) != 1 || task.Assignees[0] != loki.ActorID {
		t.Errorf("assignees = %v", task.Assignees)
	}

	res, err = f.gateway.Handle(ctx, Envelope{ActorID: loki.ActorID, Text: "/status " + taskID + " in_progress"})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !strings.Contains(res.Reply, "in_progress") {
		t.Errorf("transition reply = %q", res.Reply)
	}

	// Illegal jump is reported in the reply, not as a transport error.
	res, err = f.gateway.Handle(ctx, Envelope{ActorID: loki.ActorID, Text: "/status " + taskID + " done"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(res.Reply, "failed") {
		t.Errorf("illegal edge reply = %q", res.Reply)
	}
	task, _ = f.store.GetTask(taskID)
	if task.Status != store.StatusInProgress {
		t.Errorf("status after rejected edge = %s", task.Status)
	}
}

func TestCommentCommandNotifiesAssignee(t *testing.T) {
	f := newFixture(t, nil)
	hill := mustActor(t, f.store, "hill")
	loki := mustActor(t, f.store, "loki")
	ctx := context.Background()

	task, err := f.store.CreateTask(&store.TaskRecord{Title: "Recruit", Assignees: []string{loki.ActorID}})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	var posted []bus.MessagePayload
	f.bus.Subscribe(bus.EventMessagePosted, func(e bus.Event) error {
		posted = append(posted, e.Payload.(bus.MessagePayload))
		return nil
	})

	res, err := f.gateway.Handle(ctx, Envelope{ActorID: hill.ActorID, Text: "/comment " + task.TaskID + " any progress @loki?"})
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	if !strings.Contains(res.Reply, "#1") {
		t.Errorf("comment reply = %q", res.Reply)
	}
	if len(posted) != 1 {
		t.Fatalf("message-posted events = %d", len(posted))
	}
	if len(posted[0].Mentions) != 1 || posted[0].Mentions[0] != loki.ActorID {
		t.Errorf("mentions = %v", posted[0].Mentions)
	}
}

func TestFreeTextGoesThroughRunner(t *testing.T) {
	var seen []string
	runner := RunnerFunc(func(_ context.Context, actorID string, history []session.Message, text string) (string, error) {
		seen = append(seen, text)
		return fmt.Sprintf("ack %d", len(history)), nil
	})
	f := newFixture(t, runner)
	hill := mustActor(t, f.store, "hill")

	var responded []bus.EnvelopePayload
	f.bus.Subscribe(bus.EventMessageResponded, func(e bus.Event) error {
		responded = append(responded, e.Payload.(bus.EnvelopePayload))
		return nil
	})

	res, err := f.gateway.Handle(context.Background(), Envelope{ActorID: hill.ActorID, Text: "how is the crew doing?"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.Command {
		t.Errorf("free text flagged as command")
	}
	// History includes the just-added user line.
	if res.Reply != "ack 1" {
		t.Errorf("reply = %q", res.Reply)
	}
	if len(seen) != 1 || seen[0] != "how is the crew doing?" {
		t.Errorf("runner saw %v", seen)
	}
	if len(responded) != 1 || responded[0].Reply != "ack 1" {
		t.Errorf("responded events = %v", responded)
	}

	// The turn is over; the actor must be back to idle.
	actor, _ := f.store.GetActor(hill.ActorID)
	if actor.State != store.ActorIdle {
		t.Errorf("actor state after turn = %s", actor.State)
	}
}

func TestRunnerTurnDrainsQueuedNotifications(t *testing.T) {
	var histories [][]session.Message
	runner := RunnerFunc(func(_ context.Context, _ string, history []session.Message, _ string) (string, error) {
		histories = append(histories, history)
		return "on it", nil
	})
	f := newFixture(t, runner)
	fury := mustActor(t, f.store, "fury")

	n := &store.NotificationRecord{ActorID: fury.ActorID, Content: "New message on task t-1 from hill: ping"}
	if created, err := f.store.CreateNotification(n); err != nil || !created {
		t.Fatalf("enqueue: %v %v", created, err)
	}

	if _, err := f.gateway.Handle(context.Background(), Envelope{ActorID: fury.ActorID, Text: "good morning"}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	// The queued notification reached the transcript ahead of the turn text.
	if len(histories) != 1 || len(histories[0]) != 2 {
		t.Fatalf("runner history = %+v", histories)
	}
	if histories[0][0].Content != n.Content {
		t.Errorf("first line = %q, want the queued notification", histories[0][0].Content)
	}

	list, _ := f.store.ListNotifications(fury.ActorID, 10, 0)
	if len(list) != 1 || !list[0].Delivered {
		t.Fatalf("notification after wake = %+v", list)
	}

	// Reachability is scoped to the turn: the actor is asleep again.
	if f.registry.Reachable(fury.ActorID) {
		t.Errorf("actor still attached after the turn")
	}
}

func TestRunnerErrorDoesNotLoseReceipt(t *testing.T) {
	runner := RunnerFunc(func(context.Context, string, []session.Message, string) (string, error) {
		return "", errors.New("model unavailable")
	})
	f := newFixture(t, runner)
	hill := mustActor(t, f.store, "hill")

	if _, err := f.gateway.Handle(context.Background(), Envelope{ActorID: hill.ActorID, Text: "hello"}); err == nil {
		t.Fatalf("expected runner error")
	}

	acts, _ := f.store.ListActivities(store.ActivityFilter{Type: string(bus.EventMessageReceived), Limit: 10})
	if len(acts) != 1 {
		t.Errorf("receipt activities = %d, want 1", len(acts))
	}
}

func TestIsolatedSessionLeavesNoTranscript(t *testing.T) {
	runner := RunnerFunc(func(_ context.Context, _ string, history []session.Message, _ string) (string, error) {
		return fmt.Sprintf("len %d", len(history)), nil
	})
	f := newFixture(t, runner)
	hill := mustActor(t, f.store, "hill")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := f.gateway.Handle(ctx, Envelope{ActorID: hill.ActorID, SessionKind: SessionIsolated, Text: "ping"})
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		// Each isolated turn starts from an empty transcript.
		if res.Reply != "len 1" {
			t.Errorf("turn %d reply = %q", i, res.Reply)
		}
	}
}

func TestSessionCommands(t *testing.T) {
	f := newFixture(t, nil)
	hill := mustActor(t, f.store, "hill")
	ctx := context.Background()

	res, err := f.gateway.Handle(ctx, Envelope{ActorID: hill.ActorID, Text: "/think high"})
	if err != nil {
		t.Fatalf("think: %v", err)
	}
	if !strings.Contains(res.Reply, "high") {
		t.Errorf("think reply = %q", res.Reply)
	}
	sess := f.gateway.sessions.GetOrCreate("actor:" + hill.ActorID)
	if depth, _ := sess.GetMetadata(session.MetaThinkingDepth); depth != "high" {
		t.Errorf("thinking depth = %v", depth)
	}

	if _, err := f.gateway.Handle(ctx, Envelope{ActorID: hill.ActorID, Text: "/think extreme"}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	// Fill some history, then compact and reset.
	for i := 0; i < 15; i++ {
		sess.AddMessage(session.RoleUser, "line")
	}
	res, _ = f.gateway.Handle(ctx, Envelope{ActorID: hill.ActorID, Text: "/compact"})
	if !strings.Contains(res.Reply, "Compacted") {
		t.Errorf("compact reply = %q", res.Reply)
	}
	res, _ = f.gateway.Handle(ctx, Envelope{ActorID: hill.ActorID, Text: "/reset"})
	if res.Reply != "Session cleared." {
		t.Errorf("reset reply = %q", res.Reply)
	}
	if sess.Len() != 0 {
		t.Errorf("transcript after reset = %d lines", sess.Len())
	}
}

func TestFirstLineKeepsValidUTF8(t *testing.T) {
	got := firstLine(strings.Repeat("é", 50), 10)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation produced invalid UTF-8: %q", got)
	}
	if got != strings.Repeat("é", 10)+"…" {
		t.Errorf("got %q", got)
	}

	if got := firstLine("first\nsecond", 80); got != "first" {
		t.Errorf("newline cut = %q", got)
	}
}

func TestStandup(t *testing.T) {
	f := newFixture(t, nil)
	hill := mustActor(t, f.store, "hill")
	mustActor(t, f.store, "loki")
	ctx := context.Background()

	for _, title := range []string{"one", "two"} {
		if _, err := f.gateway.Handle(ctx, Envelope{ActorID: hill.ActorID, Text: "/task " + title}); err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
	}

	res, err := f.gateway.Handle(ctx, Envelope{ActorID: hill.ActorID, Text: "/standup"})
	if err != nil {
		t.Fatalf("standup: %v", err)
	}
	if !strings.Contains(res.Reply, "inbox: 2") {
		t.Errorf("standup missing board counts: %q", res.Reply)
	}
	if !strings.Contains(res.Reply, "2 actors") {
		t.Errorf("standup missing crew line: %q", res.Reply)
	}
}
