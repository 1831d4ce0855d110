/*
Package ranked provides an ordered, concurrency-safe set where each element carries an integer rank.

Elements are kept in ascending rank order. Elements with equal rank keep the order in which they were added, so insertion order is the tie-break.
Membership is decided by a caller-supplied equality function, which allows set semantics for values that are not comparable with ==.
*/
package ranked

import (
	"iter"
	"slices"
	"sync"
)

// RankFunc extracts the rank of an element. Lower ranks sort first.
type RankFunc[T any] func(T) int

// EqualFunc reports whether two elements are the same member of a [Set].
type EqualFunc[T any] func(a, b T) bool

// Set is an ordered set of elements sorted by rank.
type Set[T any] struct {
	rank  RankFunc[T]
	equal EqualFunc[T]

	mux    sync.RWMutex
	values []T
}

// New creates an empty [Set] using the given rank and equality functions.
func New[T any](rank RankFunc[T], equal EqualFunc[T]) *Set[T] {
	if rank == nil {
		panic("nil rank function")
	}
	if equal == nil {
		panic("nil equal function")
	}
	return &Set[T]{
		rank:  rank,
		equal: equal,
	}
}

// Len gets the number of elements in the Set.
func (s *Set[T]) Len() int {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return len(s.values)
}

// Add will insert val after every element with a rank less than or equal to its own.
// False is returned, and the Set is unchanged, if an equal element is already present.
func (s *Set[T]) Add(val T) bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.indexOf(val) >= 0 {
		return false
	}
	rank := s.rank(val)
	insertPos := len(s.values)
	for i, el := range s.values {
		if s.rank(el) > rank {
			insertPos = i
			break
		}
	}
	s.values = slices.Insert(s.values, insertPos, val)
	return true
}

// Remove will delete the element equal to val, reporting whether anything was removed.
func (s *Set[T]) Remove(val T) bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	i := s.indexOf(val)
	if i < 0 {
		return false
	}
	s.values = slices.Delete(s.values, i, i+1)
	return true
}

// Contains reports whether an element equal to val is in the Set.
func (s *Set[T]) Contains(val T) bool {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.indexOf(val) >= 0
}

// Snapshot returns a copy of the elements in rank order.
// Changes to the Set after the call are not reflected in the returned slice.
func (s *Set[T]) Snapshot() []T {
	s.mux.RLock()
	defer s.mux.RUnlock()
	if len(s.values) == 0 {
		return nil
	}
	return slices.Clone(s.values)
}

// All iterates a [Set.Snapshot], so the Set may be modified while iterating.
func (s *Set[T]) All() iter.Seq[T] {
	return slices.Values(s.Snapshot())
}

// Clear removes every element.
func (s *Set[T]) Clear() {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.values = nil
}

// SortStable sorts vals by rank in place, keeping the relative order of equal ranks.
func SortStable[T any](vals []T, rank RankFunc[T]) {
	slices.SortStableFunc(vals, func(a, b T) int {
		ra, rb := rank(a), rank(b)
		switch {
		case ra < rb:
			return -1
		case ra > rb:
			return 1
		default:
			return 0
		}
	})
}

func (s *Set[T]) indexOf(val T) int {
	for i, el := range s.values {
		if s.equal(el, val) {
			return i
		}
	}
	return -1
}
