package cli

import (
	"fmt"
	"os"

	"github.com/CrewClaw/CrewClaw/internal/bus"
	"github.com/CrewClaw/CrewClaw/internal/config"
	"github.com/CrewClaw/CrewClaw/internal/notify"
	"github.com/CrewClaw/CrewClaw/internal/store"
	"github.com/CrewClaw/CrewClaw/internal/tasks"
)

// services bundles the wiring every mutating command needs. The activity
// recorder registers before the notifier so audit entries land first.
type services struct {
	cfg   *config.Config
	store *store.Store
	bus   *bus.Bus
	tasks *tasks.Service
}

func openServices() (*services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.Open(cfg.Paths.DatabasePath())
	if err != nil {
		return nil, err
	}

	b := bus.New()
	notify.NewRecorder(st).Register(b)
	notify.NewNotifier(st).Register(b)

	return &services{
		cfg:   cfg,
		store: st,
		bus:   b,
		tasks: tasks.NewService(st, b),
	}, nil
}

func (s *services) Close() error {
	return s.store.Close()
}

// resolveActor accepts an actor ID or a name and returns the record.
func resolveActor(st *store.Store, ref string) (*store.ActorRecord, error) {
	if a, err := st.GetActor(ref); err == nil {
		return a, nil
	}
	a, err := st.GetActorByName(ref)
	if err != nil {
		return nil, fmt.Errorf("no actor with id or name %q", ref)
	}
	return a, nil
}
