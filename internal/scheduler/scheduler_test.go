package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/CrewClaw/CrewClaw/internal/bus"
	"github.com/CrewClaw/CrewClaw/internal/gateway"
	"github.com/CrewClaw/CrewClaw/internal/store"
)

// fakeDispatcher records envelopes handed to it.
type fakeDispatcher struct {
	mu   sync.Mutex
	got  []gateway.Envelope
	done chan struct{}
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{done: make(chan struct{}, 16)}
}

func (f *fakeDispatcher) Handle(_ context.Context, env gateway.Envelope) (*gateway.Result, error) {
	f.mu.Lock()
	f.got = append(f.got, env)
	f.mu.Unlock()
	f.done <- struct{}{}
	return &gateway.Result{Reply: "ok"}, nil
}

func (f *fakeDispatcher) envelopes() []gateway.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gateway.Envelope, len(f.got))
	copy(out, f.got)
	return out
}

func newTestScheduler(t *testing.T, d Dispatcher) (*Scheduler, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "crew.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	sched := New(Config{
		Tick:     time.Minute,
		LockPath: filepath.Join(dir, "sched.lock"),
	}, s, bus.New(), d)
	return sched, s
}

// waitRunRecorded polls until the job's run_count reaches want.
func waitRunRecorded(t *testing.T, s *store.Store, jobID string, want int) *store.JobRecord {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := s.GetJob(jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if rec.RunCount >= want {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached run_count %d", jobID, want)
	return nil
}

func TestAddPersistsAndArms(t *testing.T) {
	sched, s := newTestScheduler(t, newFakeDispatcher())

	rec, err := sched.Add("standup", "0 9 * * 1-5", "actor-1", "time for standup", false)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if rec.NextFireAt == nil || !rec.NextFireAt.After(time.Now()) {
		t.Errorf("next fire = %v", rec.NextFireAt)
	}

	stored, err := s.GetJob(rec.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.WakeMessage != "time for standup" {
		t.Errorf("wake message = %q", stored.WakeMessage)
	}
	if len(sched.Jobs()) != 1 {
		t.Errorf("armed jobs = %d", len(sched.Jobs()))
	}

	if _, err := sched.Add("bad", "not a cadence", "actor-1", "x", false); err == nil {
		t.Errorf("bad cadence accepted")
	}
}

func TestTickFiresDueJob(t *testing.T) {
	d := newFakeDispatcher()
	sched, s := newTestScheduler(t, d)

	rec, err := sched.Add("nudge", "@every 1m", "actor-1", "wake up", false)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	// Not due yet: nothing fires.
	sched.tick(context.Background(), time.Now())
	select {
	case <-d.done:
		t.Fatalf("fired before due")
	case <-time.After(50 * time.Millisecond):
	}

	// Two minutes later the job is due exactly once.
	sched.tick(context.Background(), time.Now().Add(2*time.Minute))
	select {
	case <-d.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("job never fired")
	}

	envs := d.envelopes()
	if len(envs) != 1 || envs[0].ActorID != "actor-1" || envs[0].Text != "wake up" {
		t.Fatalf("envelopes = %+v", envs)
	}

	got := waitRunRecorded(t, s, rec.JobID, 1)
	if got.LastStatus != "dispatched" {
		t.Errorf("last status = %q", got.LastStatus)
	}
	if got.NextFireAt == nil {
		t.Errorf("interval job lost its next fire")
	}
}

func TestIsolatedJobWakesThrowawaySession(t *testing.T) {
	d := newFakeDispatcher()
	sched, _ := newTestScheduler(t, d)

	if _, err := sched.Add("probe", "@every 1m", "actor-1", "check in", true); err != nil {
		t.Fatalf("add: %v", err)
	}

	sched.tick(context.Background(), time.Now().Add(2*time.Minute))
	select {
	case <-d.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("job never fired")
	}

	envs := d.envelopes()
	if len(envs) != 1 || envs[0].SessionKind != gateway.SessionIsolated {
		t.Fatalf("envelopes = %+v", envs)
	}
}

func TestOneShotRetiresAfterFiring(t *testing.T) {
	d := newFakeDispatcher()
	sched, s := newTestScheduler(t, d)

	at := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	rec, err := sched.Add("launch", "@at "+at.Format(time.RFC3339), "actor-1", "go", false)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	sched.tick(context.Background(), at.Add(time.Second))
	select {
	case <-d.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("one-shot never fired")
	}

	waitRunRecorded(t, s, rec.JobID, 1)
	if len(sched.Jobs()) != 0 {
		t.Errorf("one-shot still armed after firing")
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := s.GetJob(rec.JobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if got.Removed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("one-shot not tombstoned")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A second tick past the moment must not fire again.
	sched.tick(context.Background(), at.Add(time.Minute))
	select {
	case <-d.done:
		t.Fatalf("one-shot fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLoadSkipsMissedAndRetiresExpired(t *testing.T) {
	d := newFakeDispatcher()
	sched, s := newTestScheduler(t, d)

	past := time.Now().Add(-time.Hour)
	if _, err := s.SaveJob(&store.JobRecord{
		Name: "stale", Cadence: "@at " + past.UTC().Format(time.RFC3339),
		ActorID: "actor-1", WakeMessage: "too late",
	}); err != nil {
		t.Fatalf("save stale: %v", err)
	}
	interval, err := s.SaveJob(&store.JobRecord{
		Name: "recurring", Cadence: "@every 5m",
		ActorID: "actor-1", WakeMessage: "ping", NextFireAt: &past,
	})
	if err != nil {
		t.Fatalf("save recurring: %v", err)
	}

	if err := sched.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	jobs := sched.Jobs()
	if len(jobs) != 1 || jobs[0].JobID != interval.JobID {
		t.Fatalf("armed after load = %+v", jobs)
	}
	// Missed occurrences are not backfilled: next fire is in the future.
	if !jobs[0].NextFireAt.After(time.Now()) {
		t.Errorf("recurring job scheduled in the past: %v", jobs[0].NextFireAt)
	}

	stale, _ := s.ListJobs()
	for _, j := range stale {
		if j.Name == "stale" {
			t.Errorf("expired one-shot survived load")
		}
	}
}

func TestRemoveDisarms(t *testing.T) {
	d := newFakeDispatcher()
	sched, _ := newTestScheduler(t, d)

	rec, err := sched.Add("nudge", "@every 1m", "actor-1", "wake up", false)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := sched.Remove(rec.JobID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(sched.Jobs()) != 0 {
		t.Errorf("job still armed after remove")
	}
	if err := sched.Remove(rec.JobID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second remove = %v, want ErrNotFound", err)
	}

	sched.tick(context.Background(), time.Now().Add(5*time.Minute))
	select {
	case <-d.done:
		t.Fatalf("removed job fired")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSemaphoreCapsWakes(t *testing.T) {
	sem := newSemaphore(2)
	if !sem.tryAcquire() || !sem.tryAcquire() {
		t.Fatalf("could not fill semaphore")
	}
	if sem.tryAcquire() {
		t.Fatalf("acquired past capacity")
	}
	sem.release()
	if sem.available() != 1 {
		t.Errorf("available = %d", sem.available())
	}
	if !sem.tryAcquire() {
		t.Errorf("could not reacquire freed slot")
	}
}

func TestFileLockExcludesSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sched.lock")
	a := NewFileLock(path)
	b := NewFileLock(path)

	ok, err := a.TryLock()
	if err != nil || !ok {
		t.Fatalf("first lock: %v %v", ok, err)
	}
	ok, err = b.TryLock()
	if err != nil {
		t.Fatalf("second lock: %v", err)
	}
	if ok {
		t.Fatalf("lock acquired twice")
	}

	if err := a.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	ok, err = b.TryLock()
	if err != nil || !ok {
		t.Fatalf("relock after release: %v %v", ok, err)
	}
	b.Unlock()
}
