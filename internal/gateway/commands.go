package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/CrewClaw/CrewClaw/internal/session"
	"github.com/CrewClaw/CrewClaw/internal/store"
)

type command struct {
	about string
	run   func(ctx context.Context, env Envelope, rest string) (string, error)
}

func (g *Gateway) commandTable() map[string]command {
	return map[string]command{
		"help":    {"list available commands", g.cmdHelp},
		"task":    {"create a task: task <title>", g.cmdTask},
		"tasks":   {"list tasks, optionally by status: tasks [status]", g.cmdTasks},
		"status":  {"show or change a task: status <task-id> [new-status]", g.cmdStatus},
		"assign":  {"assign actors by name: assign <task-id> <name...>", g.cmdAssign},
		"comment": {"post on a task thread: comment <task-id> <text>", g.cmdComment},
		"agents":  {"list actors and their states", g.cmdAgents},
		"standup": {"summarize board and crew state", g.cmdStandup},
		"think":   {"set thinking depth: think <off|low|medium|high>", g.cmdThink},
		"compact": {"fold old session history into a summary marker", g.cmdCompact},
		"reset":   {"clear the session transcript", g.cmdReset},
	}
}

func (g *Gateway) cmdHelp(_ context.Context, _ Envelope, _ string) (string, error) {
	verbs := make([]string, 0, len(g.commands))
	for v := range g.commands {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, v := range verbs {
		fmt.Fprintf(&b, "  %s%s — %s\n", g.sigil, v, g.commands[v].about)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (g *Gateway) cmdTask(_ context.Context, env Envelope, rest string) (string, error) {
	if rest == "" {
		return "", fmt.Errorf("usage: %stask <title>", g.sigil)
	}
	task, err := g.tasks.Create(rest, "", nil, env.ActorID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Created task %s: %q (%s)", task.TaskID, task.Title, task.Status), nil
}

func (g *Gateway) cmdTasks(_ context.Context, _ Envelope, rest string) (string, error) {
	list, err := g.store.ListTasks(store.TaskFilter{Status: rest, Limit: 20})
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "No tasks.", nil
	}
	var b strings.Builder
	for _, t := range list {
		fmt.Fprintf(&b, "%s  [%s]  %s", t.TaskID, t.Status, t.Title)
		if len(t.Assignees) > 0 {
			fmt.Fprintf(&b, "  (%s)", strings.Join(t.Assignees, ", "))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (g *Gateway) cmdStatus(_ context.Context, env Envelope, rest string) (string, error) {
	fields := strings.Fields(rest)
	switch len(fields) {
	case 1:
		task, err := g.store.GetTask(fields[0])
		if err != nil {
			return "", err
		}
		reply := fmt.Sprintf("%s is %s: %q", task.TaskID, task.Status, task.Title)
		if task.Status == store.StatusBlocked && task.BlockedFrom != "" {
			reply += fmt.Sprintf(" (blocked, resumes at %s)", task.BlockedFrom)
		}
		return reply, nil
	case 2:
		task, err := g.transitionWithRetry(fields[0], fields[1], env.ActorID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s moved to %s", task.TaskID, task.Status), nil
	default:
		return "", fmt.Errorf("usage: %sstatus <task-id> [new-status]", g.sigil)
	}
}

// transitionWithRetry rereads and retries on a write conflict, up to the
// configured cap. Invalid edges and missing tasks surface immediately.
func (g *Gateway) transitionWithRetry(taskID, newStatus, actorID string) (*store.TaskRecord, error) {
	var lastErr error
	for attempt := 0; attempt < g.versionRetries; attempt++ {
		task, err := g.tasks.Transition(taskID, newStatus, actorID)
		if err == nil {
			return task, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("task kept changing under us: %w", lastErr)
}

func (g *Gateway) cmdAssign(_ context.Context, env Envelope, rest string) (string, error) {
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return "", fmt.Errorf("usage: %sassign <task-id> <name...>", g.sigil)
	}

	var ids, names []string
	for _, name := range fields[1:] {
		actor, err := g.store.GetActorByName(name)
		if err != nil {
			return "", fmt.Errorf("no actor named %q", name)
		}
		ids = append(ids, actor.ActorID)
		names = append(names, actor.Name)
	}

	task, err := g.tasks.Assign(fields[0], ids, env.ActorID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s assigned to %s (%s)", task.TaskID, strings.Join(names, ", "), task.Status), nil
}

func (g *Gateway) cmdComment(_ context.Context, env Envelope, rest string) (string, error) {
	fields := strings.SplitN(rest, " ", 2)
	if len(fields) < 2 || strings.TrimSpace(fields[1]) == "" {
		return "", fmt.Errorf("usage: %scomment <task-id> <text>", g.sigil)
	}
	msg, err := g.tasks.Comment(fields[0], env.ActorID, strings.TrimSpace(fields[1]), nil)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Posted #%d on %s", msg.Seq, msg.TaskID), nil
}

func (g *Gateway) cmdAgents(_ context.Context, _ Envelope, _ string) (string, error) {
	actors, err := g.store.ListActors(false)
	if err != nil {
		return "", err
	}
	if len(actors) == 0 {
		return "No actors registered.", nil
	}
	var b strings.Builder
	for _, a := range actors {
		fmt.Fprintf(&b, "%s  %s", a.Name, a.State)
		if a.CurrentTask != "" {
			fmt.Fprintf(&b, "  on %s", a.CurrentTask)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (g *Gateway) cmdStandup(_ context.Context, _ Envelope, _ string) (string, error) {
	counts, err := g.store.CountTasksByStatus()
	if err != nil {
		return "", err
	}
	actors, err := g.store.ListActors(false)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Board:\n")
	for _, status := range []string{
		store.StatusInbox, store.StatusAssigned, store.StatusInProgress,
		store.StatusReview, store.StatusBlocked, store.StatusDone,
	} {
		if counts[status] > 0 {
			fmt.Fprintf(&b, "  %s: %d\n", status, counts[status])
		}
	}
	active := 0
	for _, a := range actors {
		if a.State == store.ActorActive {
			active++
		}
	}
	fmt.Fprintf(&b, "Crew: %d actors, %d active", len(actors), active)
	return b.String(), nil
}

var thinkingDepths = map[string]bool{"off": true, "low": true, "medium": true, "high": true}

func (g *Gateway) cmdThink(_ context.Context, env Envelope, rest string) (string, error) {
	depth := strings.ToLower(strings.TrimSpace(rest))
	if !thinkingDepths[depth] {
		return "", fmt.Errorf("usage: %sthink <off|low|medium|high>", g.sigil)
	}
	sess := g.sessions.GetOrCreate("actor:" + env.ActorID)
	sess.SetMetadata(session.MetaThinkingDepth, depth)
	if err := g.sessions.Save(sess); err != nil {
		return "", err
	}
	return fmt.Sprintf("Thinking depth set to %s.", depth), nil
}

func (g *Gateway) cmdCompact(_ context.Context, env Envelope, _ string) (string, error) {
	sess := g.sessions.GetOrCreate("actor:" + env.ActorID)
	dropped := sess.Compact(10)
	if dropped == 0 {
		return "Nothing to compact.", nil
	}
	if err := g.sessions.Save(sess); err != nil {
		return "", err
	}
	return fmt.Sprintf("Compacted %d messages.", dropped), nil
}

func (g *Gateway) cmdReset(_ context.Context, env Envelope, _ string) (string, error) {
	sess := g.sessions.GetOrCreate("actor:" + env.ActorID)
	sess.Clear()
	if err := g.sessions.Save(sess); err != nil {
		return "", err
	}
	return "Session cleared.", nil
}
