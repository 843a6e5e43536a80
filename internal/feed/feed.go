// Package feed holds the latest snapshot of a watched document.
//
// A Subscription is infinite until closed and cannot be restarted. Readers
// call Latest, which never blocks, or drain Updates to react to changes.
// Updates coalesce: a slow reader only ever sees the newest snapshot.
package feed

import "sync"

type Subscription[T any] struct {
	mu      sync.RWMutex
	latest  T
	updates chan T
	done    chan struct{}
	once    sync.Once
	stop    func()
}

// New starts a subscription at initial. stop, when non-nil, runs once on Close.
func New[T any](initial T, stop func()) *Subscription[T] {
	return &Subscription[T]{
		latest:  initial,
		updates: make(chan T, 1),
		done:    make(chan struct{}),
		stop:    stop,
	}
}

func (s *Subscription[T]) Latest() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *Subscription[T]) Updates() <-chan T {
	return s.updates
}

func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Publish replaces the latest snapshot and signals readers without blocking.
func (s *Subscription[T]) Publish(v T) {
	select {
	case <-s.done:
		return
	default:
	}

	s.mu.Lock()
	s.latest = v
	s.mu.Unlock()

	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- v:
	default:
	}
}

func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.stop != nil {
			s.stop()
		}
	})
}
