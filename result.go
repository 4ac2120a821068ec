package covey

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/tbonnaire/covey/optional"
)

// notFoundMarker is used internally as the default for parent delegation, so
// a parent lookup can report "nothing here" without creating anything.
var notFoundMarker any = &struct{ covey string }{"not-found"}

// Result is a deferred resolution handle produced by Find.
//
// It offers two ways to wait on the same resolution path: Resolve for
// context-aware callers (runs on the calling goroutine, honoring ctx at
// suspension points), and Get for synchronous callers (purely synchronous
// chains resolve inline at zero cost, asynchronous chains are driven to
// completion on a dedicated goroutine). A Result resolves at most once; both
// entry points return the memoized outcome afterwards.
type Result[T any] struct {
	container *Container
	typ       reflect.Type
	opts      *ResolveOptions

	once  sync.Once
	value T
	err   error
}

func newResult[T any](c *Container, typ reflect.Type, opts *ResolveOptions) *Result[T] {
	return &Result[T]{
		container: c,
		typ:       typ,
		opts:      opts,
	}
}

// Resolve fetches the value, suspending on the given context whenever an
// asynchronous factory or hook runs. No extra goroutine is ever spawned.
func (r *Result[T]) Resolve(ctx context.Context) (T, error) {
	r.once.Do(func() {
		r.run(ctx)
	})
	return r.value, r.err
}

// Get fetches the value from a synchronous context. If the resolution chain
// requires asynchronous factories, the chain is driven to completion on an
// isolated goroutine; otherwise it resolves inline.
func (r *Result[T]) Get() (T, error) {
	r.once.Do(func() {
		if r.requiresAsync() {
			done := make(chan struct{})
			go func() {
				defer close(done)
				r.run(context.Background())
			}()
			<-done
		} else {
			r.run(context.Background())
		}
	})
	return r.value, r.err
}

// MustGet is Get panicking on error.
func (r *Result[T]) MustGet() T {
	value, err := r.Get()
	if err != nil {
		panic(fmt.Sprintf("failed to resolve %s:\n\t%v", typeName(r.typ), err))
	}
	return value
}

func (r *Result[T]) run(ctx context.Context) {
	raw, err := r.container.resolveValue(ctx, r.typ, r.opts, nil)
	if err != nil {
		r.err = err
		return
	}
	r.value, r.err = unwrapAs[T](raw)
}

// requiresAsync reports whether resolving this result may suspend, based on
// the chain analysis of the requested key or of the supplied default factory.
func (r *Result[T]) requiresAsync() bool {
	if r.opts.defaultFactory != nil {
		def, err := analyzeFactory(r.opts.defaultFactory)
		if err != nil {
			return false
		}
		if def.async() {
			return true
		}
		for _, param := range def.params {
			if r.container.chainHasAsync(param, "", r.opts.matching) {
				return true
			}
		}
		return false
	}
	return r.container.chainHasAsync(r.typ, r.opts.qualifier, r.opts.matching)
}

func unwrapAs[T any](raw any) (T, error) {
	var zero T
	if raw == nil {
		return zero, nil
	}
	value, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("resolved value of type %T is not assignable to %s", raw, TypeOf[T]())
	}
	return value, nil
}

// resolveValue is the single source of truth for resolution; Get, Find, Call
// and the planner all funnel through it.
func (c *Container) resolveValue(ctx context.Context, typ reflect.Type, opts *ResolveOptions, inj *InjectionContext) (any, error) {
	if opts.qualifier != "" {
		return c.resolveQualified(ctx, typ, opts, inj)
	}
	if opts.defaultFactory != nil {
		return c.resolveDefaultFactory(ctx, typ, opts, inj)
	}
	return c.resolveStandard(ctx, typ, opts, inj)
}

// resolveStandard handles unqualified requests without a default factory:
// GetInstance hook, local cache, parent delegation, default, creation; then
// the GotInstance filter and caching.
func (c *Container) resolveStandard(ctx context.Context, typ reflect.Type, opts *ResolveOptions, inj *InjectionContext) (any, error) {
	dbg.resolving(typ, opts)

	var (
		instance       any
		disableCaching bool
	)

	res, err := c.hooks(GetInstance).handle(ctx, c, &HookContext{Kind: GetInstance, Type: typ, Injection: inj})
	if err != nil {
		return nil, err
	}

	if hooked, ok := res.Get(); ok {
		// a hook supplied the instance from outside the normal flow, caching
		// is its responsibility
		instance = hooked
		disableCaching = true
	} else if existing, found := c.existingInstance(typ, opts.matching); found {
		instance = existing
	} else {
		resolved := false
		if c.parent != nil {
			inherited, err := c.parent.resolveValue(ctx, typ, &ResolveOptions{
				def:                optional.Some(notFoundMarker),
				cacheFactoryResult: true,
				matching:           opts.matching,
			}, inj)
			if err != nil {
				return nil, err
			}
			if inherited != notFoundMarker {
				// inherited instances stay associated with the ancestor's
				// cache; duplicating them here would hand their lifecycle
				// (Close in particular) to the child
				instance = inherited
				resolved = true
				disableCaching = true
			}
		}

		if !resolved {
			if def, ok := opts.def.Get(); ok {
				instance = def
				disableCaching = true
			} else {
				instance, disableCaching, err = c.createInstance(ctx, typ, opts, inj)
				if err != nil {
					return nil, err
				}
			}
		}
	}

	if instance == notFoundMarker {
		return instance, nil
	}

	instance, err = c.hooks(GotInstance).filter(ctx, c, instance, &HookContext{Kind: GotInstance, Type: typ, Injection: inj})
	if err != nil {
		return nil, err
	}
	if !disableCaching {
		c.cache.put(KeyOf(typ), instance)
	}

	return instance, nil
}

// resolveQualified handles (type, qualifier) requests. Qualified lookups
// never fall back to unqualified instances: the flow is local cache, ancestor
// caches, registered qualified factory, default factory, default, failure.
func (c *Container) resolveQualified(ctx context.Context, typ reflect.Type, opts *ResolveOptions, inj *InjectionContext) (any, error) {
	dbg.resolvingQualified(typ, opts.qualifier)

	key := QualifiedKeyOf(typ, opts.qualifier)
	if instance, found := c.cache.get(key); found {
		return instance, nil
	}

	// inherited qualified instances; creation always happens in the
	// requesting container, so ancestors are consulted for caches only
	for p := c.parent; p != nil; p = p.parent {
		if instance, found := p.cache.get(key); found {
			return instance, nil
		}
	}

	if def, found := c.registry.factoryFor(typ, opts.qualifier, opts.matching); found {
		instance, err := c.runFactoryChain(ctx, typ, opts.qualifier, def, opts, inj)
		if err != nil {
			return nil, err
		}
		c.cache.put(key, instance)
		return instance, nil
	}

	if opts.defaultFactory != nil {
		factoryKey := FactoryKeyOf(opts.defaultFactory)
		if opts.cacheFactoryResult {
			if instance, found := c.factoryCacheResult(factoryKey); found {
				return instance, nil
			}
		}

		dbg.usingDefaultFactory(typ)
		instance, err := c.callDefaultFactory(ctx, opts.defaultFactory, opts, inj)
		if err != nil {
			return nil, err
		}
		if opts.cacheFactoryResult {
			c.cache.put(factoryKey, instance)
			c.cache.put(key, instance)
		}
		return instance, nil
	}

	if def, ok := opts.def.Get(); ok {
		return def, nil
	}

	return nil, newResolutionError(typ, opts.qualifier, inj)
}

// resolveDefaultFactory handles unqualified requests carrying a fallback
// construction strategy. The factory takes precedence over any cached or
// parent instance, except a result already cached under that exact factory's
// identity.
func (c *Container) resolveDefaultFactory(ctx context.Context, typ reflect.Type, opts *ResolveOptions, inj *InjectionContext) (any, error) {
	factoryKey := FactoryKeyOf(opts.defaultFactory)

	if opts.cacheFactoryResult {
		if instance, found := c.cache.get(factoryKey); found {
			return instance, nil
		}
		if c.parent != nil {
			if instance, found := c.parent.factoryCacheResult(factoryKey); found {
				// copy down for faster future access; the parent cache is
				// never touched
				c.cache.put(factoryKey, instance)
				return instance, nil
			}
		}
	}

	dbg.usingDefaultFactory(typ)
	instance, err := c.callDefaultFactory(ctx, opts.defaultFactory, opts, inj)
	if err != nil {
		return nil, err
	}
	if opts.cacheFactoryResult {
		c.cache.put(factoryKey, instance)
	}

	return instance, nil
}

// createInstance builds a new instance for the requested type: CreateInstance
// hook, registered factory (planner-executed), HandleUnsupportedDependency
// rescue, hard failure; then the CreatedInstance filter. Caching is the
// caller's responsibility.
func (c *Container) createInstance(ctx context.Context, typ reflect.Type, opts *ResolveOptions, inj *InjectionContext) (any, bool, error) {
	var (
		instance       any
		disableCaching bool
	)

	res, err := c.hooks(CreateInstance).handle(ctx, c, &HookContext{Kind: CreateInstance, Type: typ, Injection: inj})
	if err != nil {
		return nil, false, err
	}

	if hooked, ok := res.Get(); ok {
		instance = hooked
		disableCaching = true
	} else if def, found := c.registry.factoryFor(typ, "", opts.matching); found {
		instance, err = c.runFactoryChain(ctx, typ, "", def, opts, inj)
		if err != nil {
			return nil, false, err
		}
	} else {
		instance, err = c.handleUnsupported(ctx, typ, inj)
		if err != nil {
			return nil, false, err
		}
	}

	instance, err = c.hooks(CreatedInstance).filter(ctx, c, instance, &HookContext{Kind: CreatedInstance, Type: typ, Injection: inj})
	if err != nil {
		return nil, false, err
	}

	return instance, disableCaching, nil
}

func (c *Container) handleUnsupported(ctx context.Context, typ reflect.Type, inj *InjectionContext) (any, error) {
	res, err := c.hooks(HandleUnsupportedDependency).handle(ctx, c, &HookContext{Kind: HandleUnsupportedDependency, Type: typ, Injection: inj})
	if err != nil {
		return nil, err
	}
	if rescue, ok := res.Get(); ok {
		return rescue, nil
	}

	return nil, newResolutionError(typ, "", inj)
}

// callDefaultFactory invokes a caller-supplied fallback factory, resolving
// its dependency parameters against the container first.
func (c *Container) callDefaultFactory(ctx context.Context, factory any, opts *ResolveOptions, inj *InjectionContext) (any, error) {
	def, err := analyzeFactory(factory)
	if err != nil {
		return nil, fmt.Errorf("invalid default factory:\n\t%w", err)
	}

	args, err := c.resolveFactoryParams(ctx, def, opts.matching, inj)
	if err != nil {
		return nil, err
	}

	return def.call(ctx, args)
}

// resolveFactoryParams resolves a factory's dependency parameters, giving the
// FactoryMissingType hook a chance to rescue each unresolvable one.
func (c *Container) resolveFactoryParams(ctx context.Context, def *factoryDef, matching TypeMatching, inj *InjectionContext) ([]reflect.Value, error) {
	if len(def.params) == 0 {
		return nil, nil
	}

	args := make([]reflect.Value, len(def.params))
	for i, paramType := range def.params {
		paramOpts := defaultResolveOptions()
		paramOpts.matching = matching

		value, err := c.resolveValue(ctx, paramType, paramOpts, inj)
		if err != nil {
			value, err = c.rescueFactoryParam(ctx, def, i, paramType, err)
			if err != nil {
				return nil, err
			}
		}
		args[i] = argValue(value, paramType)
	}

	return args, nil
}

func (c *Container) rescueFactoryParam(ctx context.Context, def *factoryDef, index int, paramType reflect.Type, cause error) (any, error) {
	res, hookErr := c.hooks(FactoryMissingType).handle(ctx, c, &HookContext{
		Kind: FactoryMissingType,
		Type: paramType,
		Injection: &InjectionContext{
			Function:  def.name,
			Parameter: paramName(index, paramType),
			Type:      paramType,
			Strict:    true,
		},
	})
	if hookErr != nil {
		return nil, hookErr
	}
	if rescue, ok := res.Get(); ok {
		return rescue, nil
	}

	return nil, fmt.Errorf("failed to resolve parameter %s of factory %s:\n\t%w", paramName(index, paramType), def.name, cause)
}

func (c *Container) chainHasAsync(typ reflect.Type, qualifier string, matching TypeMatching) bool {
	info, err := c.analyzeChain(typ, qualifier, matching)
	if err != nil || info == nil {
		return false
	}
	return info.hasAsync
}

func argValue(value any, typ reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(typ)
	}
	return reflect.ValueOf(value)
}

func paramName(index int, typ reflect.Type) string {
	return fmt.Sprintf("#%d (%s)", index, typeName(typ))
}
