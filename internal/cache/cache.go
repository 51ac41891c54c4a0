// Package cache holds the process-local, per-resource cache used by the gateway and the
// scheduled warmer that keeps it populated.
package cache

import (
	"sync/atomic"
	"time"
)

// Entry is one cached value and the moment it was produced. Entries are never mutated;
// a refresh stores a new Entry.
type Entry[T any] struct {
	Value     T
	CreatedAt time.Time
}

// Age returns how old the entry is at now.
func (e *Entry[T]) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// Fresh reports whether the entry is younger than ttl at now. A nil entry is never fresh.
func (e *Entry[T]) Fresh(now time.Time, ttl time.Duration) bool {
	return e != nil && e.Age(now) < ttl
}

// Slot holds at most one Entry for a resource. Reads and writes are safe for concurrent
// use; Store replaces the entry wholesale.
type Slot[T any] struct {
	p atomic.Pointer[Entry[T]]
}

// Load returns the current entry, or nil when the slot is empty.
func (s *Slot[T]) Load() *Entry[T] {
	return s.p.Load()
}

// Store replaces the entry with value stamped at createdAt and returns the new entry.
func (s *Slot[T]) Store(value T, createdAt time.Time) *Entry[T] {
	e := &Entry[T]{Value: value, CreatedAt: createdAt}
	s.p.Store(e)
	return e
}

// Fresh returns the current entry when it is fresh at now.
func (s *Slot[T]) Fresh(now time.Time, ttl time.Duration) (*Entry[T], bool) {
	e := s.p.Load()
	if !e.Fresh(now, ttl) {
		return nil, false
	}
	return e, true
}
