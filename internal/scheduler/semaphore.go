package scheduler

// semaphore caps concurrent wakes with a buffered channel. Acquisition never
// blocks: a tick that finds no free slot skips the job and records why.
type semaphore struct {
	slots chan struct{}
}

func newSemaphore(capacity int) *semaphore {
	if capacity <= 0 {
		capacity = 1
	}
	return &semaphore{slots: make(chan struct{}, capacity)}
}

func (s *semaphore) tryAcquire() bool {
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// release frees a slot; only call after a successful tryAcquire.
func (s *semaphore) release() {
	<-s.slots
}

func (s *semaphore) available() int {
	return cap(s.slots) - len(s.slots)
}
