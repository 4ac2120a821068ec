package covey

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ErrGlobalContextDisabled is returned by the global accessors when the
// COVEY_ENABLE_GLOBAL_CONTEXT environment variable disables the implicit
// global registry/container pair.
var ErrGlobalContextDisabled = errors.New(
	"global context is disabled by COVEY_ENABLE_GLOBAL_CONTEXT, an explicit registry or container must be provided",
)

// ResolutionError reports that a dependency could not be resolved. It always
// names the requested type and, when known, the qualifier and the
// function/parameter the resolution was serving.
type ResolutionError struct {
	Type      reflect.Type
	Qualifier string
	Function  string
	Parameter string

	cause error
}

func newResolutionError(typ reflect.Type, qualifier string, inj *InjectionContext) *ResolutionError {
	err := &ResolutionError{
		Type:      typ,
		Qualifier: qualifier,
	}
	if inj != nil {
		err.Function = inj.Function
		err.Parameter = inj.Parameter
	}
	return err
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	b.WriteString("cannot resolve")
	if e.Qualifier != "" {
		b.WriteString(" qualified")
	}
	b.WriteString(fmt.Sprintf(" dependency %s", typeName(e.Type)))
	if e.Qualifier != "" {
		b.WriteString(fmt.Sprintf(" with qualifier %q", e.Qualifier))
	}
	if e.Parameter != "" {
		b.WriteString(fmt.Sprintf(" for parameter %s", e.Parameter))
	}
	if e.Function != "" {
		b.WriteString(fmt.Sprintf(" of %s", e.Function))
	}
	if e.cause != nil {
		b.WriteString(fmt.Sprintf(":\n\t%v", e.cause))
	}
	return b.String()
}

func (e *ResolutionError) Unwrap() error {
	return e.cause
}

// CircularDependencyError reports a dependency key re-entering its own
// not-yet-complete resolution. The cycle is always named in the message.
type CircularDependencyError struct {
	Cycle []Key
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency detected:\n%s", formatCycle(e.Cycle))
}

func formatCycle(cycle []Key) string {
	var b strings.Builder
	for i, key := range cycle {
		prefix := ""
		if i != 0 {
			prefix = " -> "
		}
		b.WriteString(fmt.Sprintf("%s%s%s\n", strings.Repeat("\t", i), prefix, key))
	}
	return b.String()
}

func typeName(typ reflect.Type) string {
	if typ == nil {
		return "<nil>"
	}
	return typ.String()
}
