// Package scheduler wakes actors on a cadence. Jobs are persisted, so a
// restart resumes the schedule; missed occurrences are not backfilled.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/CrewClaw/CrewClaw/internal/bus"
	"github.com/CrewClaw/CrewClaw/internal/gateway"
	"github.com/CrewClaw/CrewClaw/internal/store"
)

// Dispatcher receives the wake message for a fired job. Satisfied by
// *gateway.Gateway.
type Dispatcher interface {
	Handle(ctx context.Context, env gateway.Envelope) (*gateway.Result, error)
}

// Config holds scheduler settings.
type Config struct {
	Enabled            bool          `json:"enabled" envconfig:"ENABLED"`
	Tick               time.Duration `json:"tick"`
	WakeTimeout        time.Duration `json:"wakeTimeout"`
	MaxConcurrentWakes int           `json:"maxConcurrentWakes"`
	LockPath           string        `json:"lockPath"`
}

// DefaultConfig returns sensible scheduler defaults.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Enabled:            false,
		Tick:               15 * time.Second,
		WakeTimeout:        60 * time.Second,
		MaxConcurrentWakes: 4,
		LockPath:           filepath.Join(home, ".crewclaw", "scheduler.lock"),
	}
}

// job pairs the persisted record with its parsed cadence and the next fire
// the tick loop is waiting for.
type job struct {
	rec     store.JobRecord
	cadence *Cadence
	next    time.Time
}

// Scheduler owns the wake-job table and the tick loop that fires due jobs.
type Scheduler struct {
	cfg      Config
	store    *store.Store
	bus      *bus.Bus
	dispatch Dispatcher

	mu   sync.RWMutex
	jobs map[string]*job

	wakes *semaphore
	lock  *FileLock
}

// New creates a Scheduler. Call Load before Run to pick up persisted jobs.
func New(cfg Config, s *store.Store, b *bus.Bus, d Dispatcher) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = 15 * time.Second
	}
	if cfg.WakeTimeout <= 0 {
		cfg.WakeTimeout = 60 * time.Second
	}
	if cfg.MaxConcurrentWakes <= 0 {
		cfg.MaxConcurrentWakes = 4
	}
	if cfg.LockPath == "" {
		cfg.LockPath = DefaultConfig().LockPath
	}
	return &Scheduler{
		cfg:      cfg,
		store:    s,
		bus:      b,
		dispatch: d,
		jobs:     make(map[string]*job),
		wakes:    newSemaphore(cfg.MaxConcurrentWakes),
		lock:     NewFileLock(cfg.LockPath),
	}
}

// Load reads persisted jobs and computes each one's next fire from now.
// Occurrences missed while the process was down are skipped, and one-shots
// whose moment has passed are retired rather than fired late.
func (s *Scheduler) Load() error {
	recs, err := s.store.ListJobs()
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range recs {
		cadence, err := ParseCadence(rec.Cadence)
		if err != nil {
			slog.Warn("Skipping job with bad cadence", "job", rec.JobID, "cadence", rec.Cadence, "error", err)
			continue
		}
		next, ok := cadence.Next(now)
		if !ok {
			slog.Info("Retiring expired one-shot", "job", rec.JobID, "name", rec.Name)
			if err := s.store.RemoveJob(rec.JobID); err != nil {
				slog.Warn("Could not retire job", "job", rec.JobID, "error", err)
			}
			continue
		}
		s.jobs[rec.JobID] = &job{rec: rec, cadence: cadence, next: next}
	}
	slog.Info("Scheduler loaded", "jobs", len(s.jobs))
	return nil
}

// Add validates the cadence, persists the job, and arms it. An isolated job
// wakes the actor in a throwaway session instead of its persistent one.
func (s *Scheduler) Add(name, cadenceSpec, actorID, wakeMessage string, isolated bool) (*store.JobRecord, error) {
	cadence, err := ParseCadence(cadenceSpec)
	if err != nil {
		return nil, err
	}
	next, ok := cadence.Next(time.Now())
	if !ok {
		return nil, fmt.Errorf("cadence %q never fires", cadenceSpec)
	}

	rec, err := s.store.SaveJob(&store.JobRecord{
		Name:        name,
		Cadence:     cadenceSpec,
		ActorID:     actorID,
		WakeMessage: wakeMessage,
		Isolated:    isolated,
		NextFireAt:  &next,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.jobs[rec.JobID] = &job{rec: *rec, cadence: cadence, next: next}
	s.mu.Unlock()

	slog.Info("Wake job added", "job", rec.JobID, "name", name, "cadence", cadenceSpec, "next", next)
	return rec, nil
}

// Remove disarms and tombstones a job. An in-flight wake that already fired
// is unaffected.
func (s *Scheduler) Remove(jobID string) error {
	if err := s.store.RemoveJob(jobID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.jobs, jobID)
	s.mu.Unlock()
	slog.Info("Wake job removed", "job", jobID)
	return nil
}

// Jobs returns a snapshot of armed jobs.
func (s *Scheduler) Jobs() []store.JobRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.JobRecord, 0, len(s.jobs))
	for _, j := range s.jobs {
		rec := j.rec
		next := j.next
		rec.NextFireAt = &next
		out = append(out, rec)
	}
	return out
}

// Run starts the tick loop. Blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("Scheduler started", "tick", s.cfg.Tick)
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return ctx.Err()
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// tick fires every due job. The file lock keeps a second process on the same
// data directory from double-firing the shared schedule.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	acquired, err := s.lock.TryLock()
	if err != nil {
		slog.Warn("Scheduler lock error", "error", err)
		return
	}
	if !acquired {
		slog.Debug("Tick skipped: lock held elsewhere")
		return
	}
	defer s.lock.Unlock()

	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if !j.next.After(now) {
			due = append(due, j)
		}
	}
	// Re-arm (or retire) before dispatching so a slow wake cannot double-fire.
	for _, j := range due {
		next, ok := j.cadence.Next(now)
		if !ok {
			delete(s.jobs, j.rec.JobID)
		} else {
			j.next = next
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		s.fire(ctx, j, now)
	}
}

// fire dispatches one wake asynchronously. The per-wake timeout is a ceiling
// on the dispatch turn; overruns are logged and recorded, never escalated.
func (s *Scheduler) fire(ctx context.Context, j *job, now time.Time) {
	next := s.nextFor(j)

	if !s.wakes.tryAcquire() {
		slog.Warn("Wake skipped: concurrency limit", "job", j.rec.JobID, "name", j.rec.Name)
		s.recordRun(j, "skipped_concurrency", now, next)
		return
	}

	slog.Info("Firing wake job", "job", j.rec.JobID, "name", j.rec.Name, "actor", j.rec.ActorID)
	go func() {
		defer s.wakes.release()

		wakeCtx, cancel := context.WithTimeout(ctx, s.cfg.WakeTimeout)
		defer cancel()

		kind := gateway.SessionPersistent
		if j.rec.Isolated {
			kind = gateway.SessionIsolated
		}
		status := "dispatched"
		if _, err := s.dispatch.Handle(wakeCtx, gateway.Envelope{
			ActorID:     j.rec.ActorID,
			SessionKind: kind,
			Text:        j.rec.WakeMessage,
		}); err != nil {
			status = "failed"
			if wakeCtx.Err() == context.DeadlineExceeded {
				status = "timeout"
			}
			slog.Warn("Wake dispatch failed", "job", j.rec.JobID, "status", status, "error", err)
		}

		s.bus.Publish(bus.EventTriggerFired, "scheduler", bus.TriggerPayload{
			JobID:   j.rec.JobID,
			JobName: j.rec.Name,
			ActorID: j.rec.ActorID,
		})
		s.recordRun(j, status, now, next)

		if j.cadence.OneShot() {
			if err := s.store.RemoveJob(j.rec.JobID); err != nil && !errors.Is(err, store.ErrNotFound) {
				slog.Warn("Could not retire one-shot", "job", j.rec.JobID, "error", err)
			}
		}
	}()
}

func (s *Scheduler) nextFor(j *job) *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if armed, ok := s.jobs[j.rec.JobID]; ok {
		next := armed.next
		return &next
	}
	return nil
}

func (s *Scheduler) recordRun(j *job, status string, runAt time.Time, next *time.Time) {
	if err := s.store.RecordJobRun(j.rec.JobID, status, runAt, next); err != nil {
		slog.Warn("Could not record job run", "job", j.rec.JobID, "error", err)
	}
}
