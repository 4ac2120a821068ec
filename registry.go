package covey

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/tbonnaire/covey/option"
)

type (
	// factoryDef is the registration-time analysis of a factory callable:
	// what it provides, what it depends on, and whether invoking it requires
	// asynchronous orchestration (context-accepting shape).
	factoryDef struct {
		key            Key
		fn             reflect.Value
		provides       reflect.Type
		params         []reflect.Type
		acceptsContext bool
		returnsError   bool
		name           string
	}

	// FactoryOptions configures a factory registration.
	FactoryOptions struct {
		forType   reflect.Type
		qualifier string
	}
)

// For overrides the dependency type a factory is registered under. By default
// the key is inferred from the factory's first return type.
func For[T any]() option.Option[FactoryOptions] {
	return func(opts *FactoryOptions) {
		opts.forType = TypeOf[T]()
	}
}

// ForType is the reflect-level variant of For.
func ForType(typ reflect.Type) option.Option[FactoryOptions] {
	return func(opts *FactoryOptions) {
		opts.forType = typ
	}
}

// Qualified registers the factory under a (type, qualifier) key instead of
// the bare type key.
func Qualified(qualifier string) option.Option[FactoryOptions] {
	return func(opts *FactoryOptions) {
		opts.qualifier = qualifier
	}
}

// Registry is the declarative, application-scoped store of factories and hook
// callbacks. It holds no resolution state and is safely shared by any number
// of containers; registration belongs to the single-threaded setup phase.
type Registry struct {
	mu        sync.RWMutex
	factories map[Key]*factoryDef
	order     []Key

	hookMu sync.Mutex
	hooks  map[HookKind]*HookManager

	generation atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[Key]*factoryDef),
		hooks:     make(map[HookKind]*HookManager),
	}
}

// AddFactory associates a factory callable with a dependency key.
//
// A factory is a function of the shape
//
//	func([ctx context.Context,] deps...) T
//	func([ctx context.Context,] deps...) (T, error)
//
// where deps are dependency types resolved against the requesting container
// at call time. A leading context.Context parameter marks the factory as
// asynchronous. The key defaults to the return type T; use For/ForType and
// Qualified to override it. Registration is append-only: registering a second
// factory for the same key replaces the first.
func (r *Registry) AddFactory(factory any, opts ...option.Option[FactoryOptions]) error {
	def, err := analyzeFactory(factory)
	if err != nil {
		return fmt.Errorf("failed to register factory %T:\n\t%w", factory, err)
	}

	options := option.Build(&FactoryOptions{}, opts...)
	forType := def.provides
	if options.forType != nil {
		forType = options.forType
	}
	if options.qualifier != "" {
		def.key = QualifiedKeyOf(forType, options.qualifier)
	} else {
		def.key = KeyOf(forType)
	}

	r.mu.Lock()
	if _, exists := r.factories[def.key]; !exists {
		r.order = append(r.order, def.key)
	}
	r.factories[def.key] = def
	r.mu.Unlock()

	r.generation.Add(1)

	return nil
}

// MustAddFactory is AddFactory panicking on error, returning the registry for
// chaining.
func (r *Registry) MustAddFactory(factory any, opts ...option.Option[FactoryOptions]) *Registry {
	if err := r.AddFactory(factory, opts...); err != nil {
		panic(fmt.Sprintf("failed to register factory %T:\n\t%v", factory, err))
	}
	return r
}

// AddHook appends a synchronous callback to the ordered list for the given
// hook kind. Order of registration is order of execution, and no
// deduplication is performed.
func (r *Registry) AddHook(kind HookKind, hook HookFunc) *Registry {
	r.hooksFor(kind).addHook(hook)
	return r
}

// AddAsyncHook appends a context-aware callback to the ordered list for the
// given hook kind.
func (r *Registry) AddAsyncHook(kind HookKind, hook AsyncHookFunc) *Registry {
	r.hooksFor(kind).addAsyncHook(hook)
	return r
}

// CreateContainer creates a new root container bound to this registry.
func (r *Registry) CreateContainer() *Container {
	return NewContainer(r)
}

func (r *Registry) hooksFor(kind HookKind) *HookManager {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()

	manager, exists := r.hooks[kind]
	if !exists {
		manager = newHookManager()
		r.hooks[kind] = manager
	}
	return manager
}

// factoryFor finds a registered factory for the given (type, qualifier) key,
// falling back to interface matching under MatchSubclass.
func (r *Registry) factoryFor(typ reflect.Type, qualifier string, matching TypeMatching) (*factoryDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var exact Key
	if qualifier != "" {
		exact = QualifiedKeyOf(typ, qualifier)
	} else {
		exact = KeyOf(typ)
	}
	if def, found := r.factories[exact]; found {
		return def, true
	}

	if matching == MatchExactType {
		return nil, false
	}
	for _, key := range r.order {
		if key.Qualifier() != qualifier {
			continue
		}
		if matchType(typ, key.Type(), matching) {
			return r.factories[key], true
		}
	}

	return nil, false
}

// Generation is bumped on every factory registration; chain analysis caches
// use it to invalidate themselves.
func (r *Registry) Generation() int64 {
	return r.generation.Load()
}

func analyzeFactory(factory any) (*factoryDef, error) {
	if factory == nil {
		return nil, errors.New("factory must not be nil")
	}
	t := reflect.TypeOf(factory)
	if t.Kind() != reflect.Func {
		return nil, errors.New("factory must be a function")
	}
	if t.NumOut() != 1 && t.NumOut() != 2 {
		return nil, errors.New("factory must either return the instance and an error, or just the instance")
	}
	if t.NumOut() == 2 && t.Out(1) != ErrorType {
		return nil, errors.New("if factory returns two values, the second must be an error")
	}

	fnValue := reflect.ValueOf(factory)
	def := &factoryDef{
		fn:           fnValue,
		provides:     t.Out(0),
		returnsError: t.NumOut() == 2,
		name:         filepath.Base(runtime.FuncForPC(fnValue.Pointer()).Name()),
	}

	start := 0
	if t.NumIn() > 0 && t.In(0) == ContextType {
		def.acceptsContext = true
		start = 1
	}
	for i := start; i < t.NumIn(); i++ {
		if t.In(i) == ContextType {
			return nil, errors.New("context.Context is only accepted as the first factory parameter")
		}
		def.params = append(def.params, t.In(i))
	}

	return def, nil
}

func (d *factoryDef) async() bool {
	return d.acceptsContext
}

// call invokes the factory with the given resolved dependency values,
// prepending ctx when the factory is context-accepting. Panics inside the
// factory are surfaced as errors.
func (d *factoryDef) call(ctx context.Context, deps []reflect.Value) (instance any, err error) {
	args := deps
	if d.acceptsContext {
		args = append([]reflect.Value{reflect.ValueOf(ctx)}, deps...)
	}

	var results []reflect.Value
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic calling factory %s: %v", d.name, r)
			}
		}()
		results = d.fn.Call(args)
	}()
	if err != nil {
		return nil, err
	}

	if d.returnsError && !results[1].IsNil() {
		return nil, results[1].Interface().(error)
	}

	return results[0].Interface(), nil
}
