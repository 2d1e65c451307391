package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/CrewClaw/CrewClaw/internal/session"
	"github.com/CrewClaw/CrewClaw/internal/store"
)

// DeliveryWorker polls undelivered notifications and hands each to its
// target actor's live session. Unreachable targets are not an error: the
// record stays queued until the actor's next wake. There is no retry cap and
// no dead-lettering.
type DeliveryWorker struct {
	store    *store.Store
	registry *session.Registry
	interval time.Duration
	batch    int

	// retention 0 keeps everything forever. When set, delivered records
	// older than the window are pruned and undelivered records addressed to
	// archived actors are dropped.
	retention time.Duration
	lastPrune time.Time
}

// NewDeliveryWorker creates a delivery worker with sensible defaults.
func NewDeliveryWorker(s *store.Store, r *session.Registry, interval time.Duration, retention time.Duration) *DeliveryWorker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &DeliveryWorker{
		store:     s,
		registry:  r,
		interval:  interval,
		batch:     50,
		retention: retention,
	}
}

// Run starts the polling loop. Each iteration completes before the next
// starts (single-flight), so two deliveries of the same record cannot race.
// Blocks until the context is cancelled.
func (w *DeliveryWorker) Run(ctx context.Context) error {
	slog.Info("Delivery worker started", "interval", w.interval, "retention", w.retention)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Delivery worker stopped")
			return ctx.Err()
		case <-ticker.C:
			w.poll()
		}
	}
}

// poll runs one delivery pass over the undelivered queue.
func (w *DeliveryWorker) poll() {
	pending, err := w.store.ListUndelivered(w.batch)
	if err != nil {
		slog.Error("Delivery worker poll failed", "error", err)
		return
	}

	for _, n := range pending {
		err := w.registry.Deliver(n.ActorID, n.Content)
		if errors.Is(err, session.ErrUnreachable) {
			// Asleep actor; expected. The record stays eligible.
			continue
		}
		if err != nil {
			slog.Warn("Notification delivery failed", "notification", n.NotificationID, "actor", n.ActorID, "error", err)
			continue
		}
		flipped, err := w.store.MarkDelivered(n.NotificationID)
		if err != nil {
			slog.Error("Mark delivered failed", "notification", n.NotificationID, "error", err)
			continue
		}
		if flipped {
			slog.Info("Notification delivered", "notification", n.NotificationID, "actor", n.ActorID)
		}
	}

	w.maybePrune()
}

func (w *DeliveryWorker) maybePrune() {
	if w.retention <= 0 || time.Since(w.lastPrune) < time.Hour {
		return
	}
	w.lastPrune = time.Now()

	if n, err := w.store.PruneDelivered(time.Now().Add(-w.retention)); err != nil {
		slog.Warn("Notification prune failed", "error", err)
	} else if n > 0 {
		slog.Info("Pruned delivered notifications", "count", n)
	}
	if n, err := w.store.PruneForArchivedActors(); err != nil {
		slog.Warn("Archived-actor prune failed", "error", err)
	} else if n > 0 {
		slog.Info("Dropped notifications for archived actors", "count", n)
	}
}
