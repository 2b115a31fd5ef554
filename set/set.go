// Package set provides a minimal generic set.
package set

// Set is a set of comparable values. The zero value is an empty set ready
// for use.
type Set[T comparable] struct {
	items map[T]struct{}
}

// New returns a set holding values.
func New[T comparable](values ...T) *Set[T] {
	s := &Set[T]{}
	for _, v := range values {
		s.Insert(v)
	}
	return s
}

// Insert adds k and reports whether it was not already present.
func (s *Set[T]) Insert(k T) bool {
	if s.items == nil {
		s.items = make(map[T]struct{})
	}
	if _, ok := s.items[k]; ok {
		return false
	}
	s.items[k] = struct{}{}
	return true
}

// Contains reports whether k is in the set.
func (s *Set[T]) Contains(k T) bool {
	_, ok := s.items[k]
	return ok
}

// Len returns the number of elements.
func (s *Set[T]) Len() int {
	return len(s.items)
}
