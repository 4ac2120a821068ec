// Package optional provides a small sum type representing the presence or
// absence of a value.
//
// It is used throughout covey to signal hook outcomes: a hook returning
// Some(value) has an opinion, a hook returning None does not, and resolution
// continues on its normal path.
package optional

// Optional wraps a value of type T that may or may not be present.
//
// The zero value is None.
type Optional[T any] struct {
	value   T
	present bool
}

// Some wraps a present value.
func Some[T any](value T) Optional[T] {
	return Optional[T]{value: value, present: true}
}

// None represents the absence of a value.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Present returns true if a value is set.
func (o Optional[T]) Present() bool {
	return o.present
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.present
}

// MustGet returns the value, panicking if it is absent.
func (o Optional[T]) MustGet() T {
	if !o.present {
		panic("optional: value is not present")
	}
	return o.value
}

// OrElse returns the value if present, or the given default otherwise.
func (o Optional[T]) OrElse(def T) T {
	if o.present {
		return o.value
	}
	return def
}

// Map transforms a present value using the given function, leaving None
// untouched.
func Map[T any, U any](o Optional[T], mapper func(T) U) Optional[U] {
	if !o.present {
		return None[U]()
	}
	return Some(mapper(o.value))
}
