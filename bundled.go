package covey

import (
	"reflect"

	"github.com/tbonnaire/covey/optional"
)

// RegisterTypeConstructor installs a rescue hook that zero-constructs struct
// and pointer-to-struct types when no factory and no cached instance can
// serve them. Opt-in: plain resolution keeps failing loudly for unknown
// types unless this is installed.
func RegisterTypeConstructor(r *Registry) *Registry {
	return r.AddHook(HandleUnsupportedDependency, constructBareType)
}

func constructBareType(_ *Container, hctx *HookContext) (optional.Optional[any], error) {
	typ := hctx.Type
	switch {
	case typ.Kind() == reflect.Struct:
		return optional.Some(reflect.New(typ).Elem().Interface()), nil
	case typ.Kind() == reflect.Pointer && typ.Elem().Kind() == reflect.Struct:
		return optional.Some(reflect.New(typ.Elem()).Interface()), nil
	default:
		return optional.None[any](), nil
	}
}
