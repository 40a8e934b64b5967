// Package session keeps one conversation handle per user, in memory only.
package session

import (
	"sync"
	"time"
)

type entry[T any] struct {
	value    T
	lastUsed time.Time
}

// Store maps user ids to conversation handles of type T. Handles are created
// lazily through the injected factory and live until Reset or an idle sweep
// removes them; nothing is persisted.
//
// The store is safe for concurrent use: GetOrCreate for the same user id
// yields exactly one handle even under contention.
type Store[T any] struct {
	mu      sync.Mutex
	entries map[int64]*entry[T]
	newFn   func() (T, error)
	now     func() time.Time
}

// New returns an empty store whose handles are produced by newFn.
func New[T any](newFn func() (T, error)) *Store[T] {
	return &Store[T]{
		entries: make(map[int64]*entry[T]),
		newFn:   newFn,
		now:     time.Now,
	}
}

// GetOrCreate returns the user's existing handle or allocates a fresh one.
// An error is only possible on first allocation, when the factory fails.
func (s *Store[T]) GetOrCreate(userID int64) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[userID]; ok {
		e.lastUsed = s.now()
		return e.value, nil
	}
	value, err := s.newFn()
	if err != nil {
		var zero T
		return zero, err
	}
	s.entries[userID] = &entry[T]{value: value, lastUsed: s.now()}
	return value, nil
}

// Reset removes the user's handle. No-op when absent. The next GetOrCreate
// starts an empty conversation, indistinguishable from a first-time user.
func (s *Store[T]) Reset(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, userID)
}

// Len reports the number of live handles.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// PruneIdle drops handles unused for longer than maxIdle and returns how many
// were removed. maxIdle <= 0 is a no-op, preserving the store's default
// process-lifetime retention.
func (s *Store[T]) PruneIdle(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	cutoff := s.now().Add(-maxIdle)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		if e.lastUsed.Before(cutoff) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}
