// Package concurrent provides small thread-safe collections.
package concurrent

import "sync"

// Slice is a thread-safe, append-mostly slice.
//
// It backs the hook manager's callback lists: registrations append, and
// dispatch iterates over a snapshot so it never races a concurrent
// registration.
type Slice[T any] struct {
	inner []T
	mu    sync.RWMutex
}

// NewSlice creates an empty concurrent slice.
func NewSlice[T any]() *Slice[T] {
	return &Slice[T]{
		inner: make([]T, 0),
	}
}

// Append adds an element at the end of the slice.
func (s *Slice[T]) Append(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner = append(s.inner, v)
}

// Snapshot returns a copy of the current contents, preserving order.
func (s *Slice[T]) Snapshot() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]T, len(s.inner))
	copy(result, s.inner)
	return result
}

// Length returns the current number of elements.
func (s *Slice[T]) Length() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.inner)
}
