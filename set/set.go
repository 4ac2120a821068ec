// Package set provides a minimal generic set used by the resolution cycle
// tracker.
package set

// Set is a generic set of comparable values.
type Set[T comparable] map[T]struct{}

// New creates an empty set.
func New[T comparable]() Set[T] {
	return make(Set[T])
}

// NewFromSlice creates a set holding every element of the given slice.
func NewFromSlice[T comparable](slice []T) Set[T] {
	s := make(Set[T], len(slice))
	for _, elem := range slice {
		s.Add(elem)
	}
	return s
}

// Add adds a value to the set.
func (s Set[T]) Add(value T) {
	s[value] = struct{}{}
}

// Contains checks whether a value exists in the set.
func (s Set[T]) Contains(value T) bool {
	_, exists := s[value]
	return exists
}

// Remove removes a value from the set.
func (s Set[T]) Remove(value T) {
	delete(s, value)
}

// Size returns the number of elements in the set.
func (s Set[T]) Size() int {
	return len(s)
}

// ToSlice returns all values as a slice, in unspecified order.
func (s Set[T]) ToSlice() []T {
	result := make([]T, 0, len(s))
	for value := range s {
		result = append(result, value)
	}
	return result
}
