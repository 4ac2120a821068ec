package covey

import (
	"context"
	"reflect"
)

// TypeMatching controls how a requested type is matched against provided
// types during resolution.
type TypeMatching int

const (
	// MatchSubclass allows an interface request to be satisfied by any
	// registered or cached implementation of that interface. This is the
	// default.
	MatchSubclass TypeMatching = iota

	// MatchExactType requires strict type identity between the request and
	// the provided type.
	MatchExactType
)

var (
	ErrorType     = TypeOf[error]()
	ContextType   = TypeOf[context.Context]()
	CloseableType = TypeOf[Closeable]()
	ContainerType = TypeOf[*Container]()
	RegistryType  = TypeOf[*Registry]()
)

// TypeOf returns the reflect.Type for I, working for interface types as well
// as concrete ones.
func TypeOf[I any]() reflect.Type {
	var i I
	t := reflect.TypeOf(i)
	if t == nil {
		t = reflect.TypeOf((*I)(nil)).Elem()
	}
	return t
}

func matchType(queryType, providedType reflect.Type, matching TypeMatching) bool {
	if queryType == providedType {
		return true
	}
	if matching == MatchExactType {
		return false
	}
	if queryType.Kind() == reflect.Interface && providedType.Implements(queryType) {
		return true
	}
	return false
}
