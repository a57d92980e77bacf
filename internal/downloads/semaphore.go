package downloads

import (
	"context"
	"sync"
)

// semaphore bounds the number of running tasks. Its size can change while tasks wait or run.
type semaphore struct {
	mu      sync.Mutex
	size    int
	active  int
	waiting int
	// changed is closed, then replaced, whenever a slot may have become available.
	changed chan struct{}
}

func newSemaphore(size int) *semaphore {
	return &semaphore{size: size, changed: make(chan struct{})}
}

// acquire blocks until a slot is free or ctx is done.
func (s *semaphore) acquire(ctx context.Context) error {
	s.mu.Lock()
	s.waiting++
	for s.active >= s.size {
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			s.mu.Lock()
			s.waiting--
			s.mu.Unlock()
			return ctx.Err()
		}
		s.mu.Lock()
	}
	// A slot may have been granted concurrently with cancellation.
	if err := ctx.Err(); err != nil {
		s.waiting--
		s.mu.Unlock()
		return err
	}
	s.waiting--
	s.active++
	s.mu.Unlock()
	return nil
}

func (s *semaphore) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
	s.broadcast()
}

// resize changes the number of slots. Running tasks above a smaller size finish normally.
func (s *semaphore) resize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.size = n
	s.broadcast()
}

func (s *semaphore) broadcast() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *semaphore) counts() (size, active, waiting int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size, s.active, s.waiting
}
