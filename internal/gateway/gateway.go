// Package gateway is the single entry point for inbound actor messages. It
// records the receipt, intercepts command verbs before any agent reasoning
// runs, and routes free text through the actor's session to the runner.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/CrewClaw/CrewClaw/internal/bus"
	"github.com/CrewClaw/CrewClaw/internal/idgen"
	"github.com/CrewClaw/CrewClaw/internal/session"
	"github.com/CrewClaw/CrewClaw/internal/store"
	"github.com/CrewClaw/CrewClaw/internal/tasks"
)

// Session kinds. Persistent sessions keep one transcript per actor across
// wakes; isolated sessions get a throwaway transcript that is never saved.
const (
	SessionPersistent = "persistent"
	SessionIsolated   = "isolated"
)

// Envelope is one inbound message addressed to an actor.
type Envelope struct {
	ActorID     string
	SessionKind string // persistent (default) | isolated
	Text        string
}

// Result is the gateway's reply for one envelope.
type Result struct {
	Reply   string
	Command bool // handled by the command table, no runner involved
}

// Runner is the reasoning loop that produces a reply for free-form text.
// The gateway owns sessions and routing; the runner owns thinking.
type Runner interface {
	Respond(ctx context.Context, actorID string, history []session.Message, text string) (string, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, actorID string, history []session.Message, text string) (string, error)

func (f RunnerFunc) Respond(ctx context.Context, actorID string, history []session.Message, text string) (string, error) {
	return f(ctx, actorID, history, text)
}

// Options tunes gateway behavior.
type Options struct {
	Sigil          string // command prefix, default "/"
	VersionRetries int    // transition retries on write conflict, default 3
	HistoryLimit   int    // transcript lines handed to the runner, default 50

	// Registry, when set, is the live-session registry shared with the
	// delivery worker. The gateway attaches the actor for the duration of a
	// runner turn and drains its queued notifications into the transcript,
	// so a wake is exactly the moment an asleep actor becomes reachable.
	Registry *session.Registry
}

// Gateway routes envelopes to commands or the runner.
type Gateway struct {
	store    *store.Store
	bus      *bus.Bus
	tasks    *tasks.Service
	sessions *session.Manager
	runner   Runner
	registry *session.Registry

	sigil          string
	versionRetries int
	historyLimit   int
	commands       map[string]command
}

// New creates a gateway. A nil runner is allowed; free text then gets a
// static acknowledgement instead of a reasoned reply.
func New(s *store.Store, b *bus.Bus, ts *tasks.Service, sm *session.Manager, runner Runner, opts Options) *Gateway {
	if opts.Sigil == "" {
		opts.Sigil = "/"
	}
	if opts.VersionRetries <= 0 {
		opts.VersionRetries = 3
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	g := &Gateway{
		store:          s,
		bus:            b,
		tasks:          ts,
		sessions:       sm,
		runner:         runner,
		registry:       opts.Registry,
		sigil:          opts.Sigil,
		versionRetries: opts.VersionRetries,
		historyLimit:   opts.HistoryLimit,
	}
	g.commands = g.commandTable()
	return g
}

// Handle processes one envelope end to end: receipt is recorded first, then
// the text is either dispatched to a command handler or to the runner. The
// receipt record survives even when handling fails afterwards.
func (g *Gateway) Handle(ctx context.Context, env Envelope) (*Result, error) {
	text := strings.TrimSpace(env.Text)
	if text == "" {
		return nil, fmt.Errorf("empty message")
	}
	if env.SessionKind == "" {
		env.SessionKind = SessionPersistent
	}

	isCommand := strings.HasPrefix(text, g.sigil)

	// The receipt is written directly, not via a bus handler, so it exists
	// no matter what is subscribed.
	if err := g.store.AppendActivity(&store.ActivityRecord{
		Type:    string(bus.EventMessageReceived),
		ActorID: env.ActorID,
		Summary: fmt.Sprintf("received: %s", firstLine(text, 80)),
	}); err != nil {
		return nil, fmt.Errorf("record receipt: %w", err)
	}
	g.bus.Publish(bus.EventMessageReceived, env.ActorID, bus.EnvelopePayload{
		ActorID:     env.ActorID,
		SessionKind: env.SessionKind,
		Text:        text,
		Command:     isCommand,
	})

	var res *Result
	var err error
	if isCommand {
		res = g.dispatchCommand(ctx, env, text)
	} else {
		res, err = g.dispatchRunner(ctx, env, text)
		if err != nil {
			return nil, err
		}
	}

	g.bus.Publish(bus.EventMessageResponded, env.ActorID, bus.EnvelopePayload{
		ActorID:     env.ActorID,
		SessionKind: env.SessionKind,
		Text:        text,
		Reply:       res.Reply,
		Command:     res.Command,
	})
	return res, nil
}

// dispatchCommand looks the verb up in the command table. Unknown verbs are
// answered, not errored: the sender gets a pointer at /help.
func (g *Gateway) dispatchCommand(ctx context.Context, env Envelope, text string) *Result {
	verb, rest := splitVerb(strings.TrimPrefix(text, g.sigil))

	cmd, ok := g.commands[verb]
	if !ok {
		return &Result{
			Reply:   fmt.Sprintf("Unknown command %s%s. Try %shelp.", g.sigil, verb, g.sigil),
			Command: true,
		}
	}

	reply, err := cmd.run(ctx, env, rest)
	if err != nil {
		slog.Warn("Command failed", "verb", verb, "actor", env.ActorID, "error", err)
		return &Result{Reply: fmt.Sprintf("%s%s failed: %v", g.sigil, verb, err), Command: true}
	}
	return &Result{Reply: reply, Command: true}
}

// dispatchRunner routes free text through the actor's session. The actor is
// marked active for the duration of the turn and returns to idle afterwards.
func (g *Gateway) dispatchRunner(ctx context.Context, env Envelope, text string) (*Result, error) {
	if err := g.store.SetActorState(env.ActorID, store.ActorActive, ""); err != nil {
		slog.Warn("Could not mark actor active", "actor", env.ActorID, "error", err)
	}
	defer func() {
		if err := g.store.SetActorState(env.ActorID, store.ActorIdle, ""); err != nil {
			slog.Warn("Could not mark actor idle", "actor", env.ActorID, "error", err)
		}
	}()

	sess := g.sessionFor(env)

	// While the turn runs the actor is reachable: queued notifications land
	// in the transcript ahead of the turn's text.
	if g.registry != nil {
		g.registry.Attach(env.ActorID, func(content string) error {
			sess.AddMessage(session.RoleUser, content)
			return nil
		})
		defer g.registry.Detach(env.ActorID)
		g.drainMailbox(env.ActorID)
	}

	sess.AddMessage(session.RoleUser, text)

	reply := "Noted."
	if g.runner != nil {
		start := time.Now()
		r, err := g.runner.Respond(ctx, env.ActorID, sess.History(g.historyLimit), text)
		if err != nil {
			return nil, fmt.Errorf("runner: %w", err)
		}
		reply = r
		slog.Debug("Runner turn complete", "actor", env.ActorID, "elapsed", time.Since(start))
	}
	sess.AddMessage(session.RoleAgent, reply)

	if env.SessionKind == SessionPersistent {
		if err := g.sessions.Save(sess); err != nil {
			slog.Warn("Session save failed", "actor", env.ActorID, "error", err)
		}
	}
	return &Result{Reply: reply}, nil
}

// drainMailbox hands the actor's queued notifications to its now-live
// session. Delivery failures leave the record queued for the worker's next
// pass; nothing here is fatal to the turn.
func (g *Gateway) drainMailbox(actorID string) {
	pending, err := g.store.ListUndeliveredFor(actorID, 50)
	if err != nil {
		slog.Warn("Mailbox drain failed", "actor", actorID, "error", err)
		return
	}
	for _, n := range pending {
		if err := g.registry.Deliver(actorID, n.Content); err != nil {
			slog.Warn("Mailbox delivery failed", "notification", n.NotificationID, "actor", actorID, "error", err)
			continue
		}
		if _, err := g.store.MarkDelivered(n.NotificationID); err != nil {
			slog.Error("Mark delivered failed", "notification", n.NotificationID, "error", err)
		}
	}
}

// sessionFor returns the persistent per-actor session, or a fresh throwaway
// one for isolated turns.
func (g *Gateway) sessionFor(env Envelope) *session.Session {
	if env.SessionKind == SessionIsolated {
		return session.NewSession("isolated:" + env.ActorID + ":" + idgen.New())
	}
	return g.sessions.GetOrCreate("actor:" + env.ActorID)
}

func splitVerb(s string) (verb, rest string) {
	parts := strings.SplitN(strings.TrimSpace(s), " ", 2)
	verb = strings.ToLower(parts[0])
	if len(parts) == 2 {
		rest = strings.TrimSpace(parts[1])
	}
	return verb, rest
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	// Truncate on rune boundaries so multi-byte text stays valid UTF-8.
	if r := []rune(s); len(r) > max {
		s = string(r[:max]) + "…"
	}
	return s
}
