package covey

import (
	"context"
	"reflect"

	"github.com/tbonnaire/covey/concurrent"
	"github.com/tbonnaire/covey/optional"
)

// HookKind identifies one interception point of the resolution pipeline.
// The set of kinds is closed.
type HookKind string

const (
	// GetInstance fires before cache and parent lookup; a present return
	// short-circuits resolution entirely.
	GetInstance HookKind = "get_instance"

	// GotInstance fires after an instance is obtained, before caching; present
	// returns chain as replacements.
	GotInstance HookKind = "got_instance"

	// CreateInstance fires before trying a factory; a present return skips
	// factory lookup.
	CreateInstance HookKind = "create_instance"

	// CreatedInstance fires after a factory produced an instance; present
	// returns chain as replacements.
	CreatedInstance HookKind = "created_instance"

	// HandleUnsupportedDependency fires when no factory exists; a present
	// return rescues the resolution, absence makes it fail.
	HandleUnsupportedDependency HookKind = "handle_unsupported_dependency"

	// InjectionRequest fires before resolving one injected parameter; a
	// present return supplies the parameter directly.
	InjectionRequest HookKind = "injection_request"

	// InjectionResponse fires after resolving one injected parameter; present
	// returns chain as replacements of the injected value.
	InjectionResponse HookKind = "injection_response"

	// PostInjectionCall fires after the injected function returned; present
	// returns chain as replacements of the return value.
	PostInjectionCall HookKind = "post_injection_call"

	// FactoryMissingType fires when a registered factory's own dependency
	// parameter cannot be resolved; a present return rescues it.
	FactoryMissingType HookKind = "factory_missing_type"

	// MissingInjectable fires when a called function's parameter cannot be
	// resolved; a present return rescues the injection.
	MissingInjectable HookKind = "missing_injectable"
)

// InjectionContext describes the parameter a hook is being consulted for.
type InjectionContext struct {
	// Function is the name of the callable being injected into.
	Function string
	// Parameter identifies the parameter, e.g. "#1 (*covey.Database)".
	Parameter string
	// Type is the parameter's declared dependency type.
	Type reflect.Type
	// Qualifier is the parameter's qualifier, if any.
	Qualifier string
	// Strict reports whether an unresolved parameter is a hard error.
	Strict bool
	// Chain lists the nested callables that led to this injection.
	Chain []string
}

// HookContext is the tagged context passed to every hook callback. Each kind
// populates exactly the fields it needs; Value carries the working value for
// filter-style kinds.
type HookContext struct {
	Kind      HookKind
	Type      reflect.Type
	Qualifier string
	Value     any
	Injection *InjectionContext
}

// HookFunc is a synchronous hook callback. Returning None means "no opinion,
// continue the normal flow"; an error aborts the resolution immediately.
type HookFunc func(container *Container, hctx *HookContext) (optional.Optional[any], error)

// AsyncHookFunc is a context-aware hook callback. It runs natively when
// resolution is driven from a cooperative context, and with a background
// context when driven from the blocking path.
type AsyncHookFunc func(ctx context.Context, container *Container, hctx *HookContext) (optional.Optional[any], error)

type hookEntry struct {
	fn      HookFunc
	asyncFn AsyncHookFunc
}

func (e hookEntry) invoke(ctx context.Context, container *Container, hctx *HookContext) (optional.Optional[any], error) {
	if e.asyncFn != nil {
		return e.asyncFn(ctx, container, hctx)
	}
	return e.fn(container, hctx)
}

// HookManager dispatches the callbacks registered for one hook kind, in
// registration order.
type HookManager struct {
	entries *concurrent.Slice[hookEntry]
}

func newHookManager() *HookManager {
	return &HookManager{
		entries: concurrent.NewSlice[hookEntry](),
	}
}

func (m *HookManager) addHook(hook HookFunc) {
	m.entries.Append(hookEntry{fn: hook})
}

func (m *HookManager) addAsyncHook(hook AsyncHookFunc) {
	m.entries.Append(hookEntry{asyncFn: hook})
}

// Length returns the number of registered callbacks.
func (m *HookManager) Length() int {
	return m.entries.Length()
}

// handle runs callbacks with first-wins semantics: the first present return
// value is the dispatch result and later callbacks are not consulted.
func (m *HookManager) handle(ctx context.Context, container *Container, hctx *HookContext) (optional.Optional[any], error) {
	for _, entry := range m.entries.Snapshot() {
		res, err := entry.invoke(ctx, container, hctx)
		if err != nil {
			return optional.None[any](), err
		}
		if res.Present() {
			return res, nil
		}
	}

	return optional.None[any](), nil
}

// filter runs callbacks with transform-chain semantics: each present return
// replaces the working value before the next callback sees it, absent returns
// leave it unchanged.
func (m *HookManager) filter(ctx context.Context, container *Container, value any, hctx *HookContext) (any, error) {
	for _, entry := range m.entries.Snapshot() {
		hctx.Value = value
		res, err := entry.invoke(ctx, container, hctx)
		if err != nil {
			return nil, err
		}
		if replacement, ok := res.Get(); ok {
			value = replacement
		}
	}

	return value, nil
}
