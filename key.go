package covey

import (
	"fmt"
	"path/filepath"
	"reflect"
	"runtime"
	"unsafe"
)

// Key uniquely identifies a cache slot in a container.
//
// A key is either a bare type, a (type, qualifier) pair, or a factory
// identity. Qualified and unqualified keys for the same type never collide,
// and a factory identity always maps to the same slot regardless of the
// requested type.
type Key struct {
	typ       reflect.Type
	qualifier string
	factory   unsafe.Pointer

	factoryName string
}

// ifaceWords is the memory layout of a non-empty any value.
type ifaceWords struct {
	typ  unsafe.Pointer
	data unsafe.Pointer
}

// ifaceData returns the data word of an any value. For function values this
// is the address of the function object itself, which distinguishes closures
// created from the same func literal (they share a code pointer but never a
// function object).
func ifaceData(v any) unsafe.Pointer {
	return (*ifaceWords)(unsafe.Pointer(&v)).data
}

// KeyOf builds the cache key for an unqualified type.
func KeyOf(typ reflect.Type) Key {
	return Key{typ: typ}
}

// QualifiedKeyOf builds the cache key for a (type, qualifier) pair.
func QualifiedKeyOf(typ reflect.Type, qualifier string) Key {
	return Key{typ: typ, qualifier: qualifier}
}

// FactoryKeyOf builds a cache key from a factory function's identity.
//
// Identity is the function object, not the code pointer: reflect's Pointer
// only identifies the function body, so two closures built from the same
// literal would collide under it. The key holds the object as a live pointer,
// keeping the function reachable for as long as any key refers to it.
func FactoryKeyOf(factory any) Key {
	return Key{
		factory:     ifaceData(factory),
		factoryName: filepath.Base(runtime.FuncForPC(reflect.ValueOf(factory).Pointer()).Name()),
	}
}

// Type returns the requested type, or nil for factory identity keys.
func (k Key) Type() reflect.Type {
	return k.typ
}

// Qualifier returns the qualifier, empty for unqualified keys.
func (k Key) Qualifier() string {
	return k.qualifier
}

// IsQualified reports whether the key carries a qualifier.
func (k Key) IsQualified() bool {
	return k.qualifier != ""
}

// IsFactory reports whether the key is a factory identity key.
func (k Key) IsFactory() bool {
	return k.factory != nil
}

func (k Key) String() string {
	switch {
	case k.IsFactory():
		return fmt.Sprintf("(factory %s)", k.factoryName)
	case k.IsQualified():
		return fmt.Sprintf("(%s, qualifier=%s)", k.typ.String(), k.qualifier)
	default:
		return fmt.Sprintf("(%s)", k.typ.String())
	}
}
