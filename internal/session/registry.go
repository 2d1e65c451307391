package session

import (
	"errors"
	"sync"
)

// ErrUnreachable means the target actor has no live session right now. This
// is the expected steady state of an asleep actor, not a failure: callers
// leave the work queued and try again after the actor's next wake.
var ErrUnreachable = errors.New("actor session unreachable")

// DeliverFunc hands content to a live actor session.
type DeliverFunc func(content string) error

// Registry tracks which actors currently have a live, reachable session.
// Actors attach on wake and detach when they go back to sleep.
type Registry struct {
	mu   sync.RWMutex
	live map[string]DeliverFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{live: make(map[string]DeliverFunc)}
}

// Attach marks an actor reachable, replacing any previous delivery function.
func (r *Registry) Attach(actorID string, fn DeliverFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[actorID] = fn
}

// Detach marks an actor unreachable.
func (r *Registry) Detach(actorID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.live, actorID)
}

// Reachable reports whether the actor has a live session.
func (r *Registry) Reachable(actorID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.live[actorID]
	return ok
}

// Deliver hands content to the actor's live session, or returns
// ErrUnreachable when there is none.
func (r *Registry) Deliver(actorID, content string) error {
	r.mu.RLock()
	fn, ok := r.live[actorID]
	r.mu.RUnlock()

	if !ok {
		return ErrUnreachable
	}
	return fn(content)
}
