// Package option implements the variadic functional options pattern used by
// the covey API surface.
package option

// Option mutates an options struct of type T.
type Option[T any] func(opts *T)

// Build applies the given options, in order, on top of the provided defaults
// and returns the result.
func Build[T any](defaultOpts *T, opts ...Option[T]) *T {
	for _, opt := range opts {
		opt(defaultOpts)
	}
	return defaultOpts
}
