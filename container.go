package covey

import (
	"context"
	"fmt"
	"reflect"

	"github.com/tbonnaire/covey/option"
	"github.com/tbonnaire/covey/optional"
)

// Container is the per-scope resolution and caching unit.
//
// A container owns a private cache of resolved instances, shares a registry
// with every other container created from it, and optionally delegates missed
// lookups to a parent container. Children created with Branch inherit
// everything the parent can resolve while keeping their own additions
// invisible to the parent and to sibling branches.
//
// A container's cache is safe against data races, but no ordering guarantee
// is made for concurrent Get/Add calls against the same container; callers
// needing that must serialize access or branch one container per
// goroutine/request.
type Container struct {
	registry *Registry
	parent   *Container
	cache    *instanceCache
	chains   *chainCache
}

// NewContainer creates a root container bound to the given registry.
//
// The container seeds itself and its registry into its own cache, so both are
// resolvable like any other dependency.
func NewContainer(registry *Registry) *Container {
	c := &Container{
		registry: registry,
		cache:    newInstanceCache(),
		chains:   newChainCache(),
	}
	c.cache.put(KeyOf(ContainerType), c)
	c.cache.put(KeyOf(RegistryType), registry)

	return c
}

// Registry returns the shared registry this container is bound to.
func (c *Container) Registry() *Registry {
	return c.registry
}

// Parent returns the parent container, or nil for a root container. There is
// no parent setter; Branch is the only way a parent reference is ever
// established.
func (c *Container) Parent() *Container {
	return c.parent
}

// Branch creates a child container sharing this container's registry, with
// this container as parent and an empty local cache. The branch immediately
// resolves everything the parent can; nothing the branch adds or resolves
// becomes visible to the parent or to sibling branches.
func (c *Container) Branch() *Container {
	child := &Container{
		registry: c.registry,
		parent:   c,
		cache:    newInstanceCache(),
		chains:   newChainCache(),
	}
	child.cache.put(KeyOf(ContainerType), child)
	child.cache.put(KeyOf(RegistryType), c.registry)

	return child
}

// Close releases every locally cached instance implementing Closeable.
// Parent caches are left untouched.
func (c *Container) Close() error {
	return c.cache.close(c, c.registry)
}

type (
	// ResolveOptions configures a single resolution request.
	ResolveOptions struct {
		qualifier          string
		def                optional.Optional[any]
		defaultFactory     any
		cacheFactoryResult bool
		matching           TypeMatching
	}
)

func defaultResolveOptions() *ResolveOptions {
	return &ResolveOptions{
		cacheFactoryResult: true,
		matching:           MatchSubclass,
	}
}

func (o *ResolveOptions) clone() *ResolveOptions {
	clone := *o
	return &clone
}

// WithQualifier requests the instance registered under the given qualifier.
// Qualified and unqualified registrations of the same type never satisfy each
// other.
func WithQualifier(qualifier string) option.Option[ResolveOptions] {
	return func(opts *ResolveOptions) {
		opts.qualifier = qualifier
	}
}

// WithDefault returns the given value instead of failing when the dependency
// cannot be resolved. The default is never cached.
func WithDefault(value any) option.Option[ResolveOptions] {
	return func(opts *ResolveOptions) {
		opts.def = optional.Some(value)
	}
}

// WithDefaultFactory supplies a fallback construction strategy that takes
// precedence over any pre-existing cached or parent instance. The result is
// cached under the factory's own identity, so the same factory always yields
// the same instance.
func WithDefaultFactory(factory any) option.Option[ResolveOptions] {
	return func(opts *ResolveOptions) {
		opts.defaultFactory = factory
	}
}

// WithoutFactoryCache disables the factory-identity caching of
// WithDefaultFactory results: every call invokes the factory again.
func WithoutFactoryCache() option.Option[ResolveOptions] {
	return func(opts *ResolveOptions) {
		opts.cacheFactoryResult = false
	}
}

// WithTypeMatching overrides the type matching strategy for this resolution.
func WithTypeMatching(matching TypeMatching) option.Option[ResolveOptions] {
	return func(opts *ResolveOptions) {
		opts.matching = matching
	}
}

// Get resolves an instance of T from the container, blocking if the
// resolution chain requires asynchronous factories.
func Get[T any](c *Container, opts ...option.Option[ResolveOptions]) (T, error) {
	return Find[T](c, opts...).Get()
}

// MustGet is Get panicking on error.
func MustGet[T any](c *Container, opts ...option.Option[ResolveOptions]) T {
	value, err := Get[T](c, opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to resolve %s:\n\t%v", TypeOf[T](), err))
	}
	return value
}

// Find returns a deferred resolution handle for T. The handle can be awaited
// from context-aware code via Resolve, or driven to completion from
// synchronous code via Get.
func Find[T any](c *Container, opts ...option.Option[ResolveOptions]) *Result[T] {
	options := option.Build(defaultResolveOptions(), opts...)
	return newResult[T](c, TypeOf[T](), options)
}

// Add seeds the container's cache with a pre-built instance keyed by T,
// bypassing factories and hooks entirely. An existing instance under the same
// key is replaced.
func Add[T any](c *Container, instance T) {
	c.cache.put(KeyOf(TypeOf[T]()), instance)
}

// AddQualified seeds the container's cache with a pre-built instance keyed by
// (T, qualifier).
func AddQualified[T any](c *Container, qualifier string, instance T) {
	c.cache.put(QualifiedKeyOf(TypeOf[T](), qualifier), instance)
}

// AddInstance seeds the container's cache with an instance keyed by its
// dynamic type.
func (c *Container) AddInstance(instance any) {
	c.cache.put(KeyOf(reflect.TypeOf(instance)), instance)
}

// AddAs is the reflect-level seed operation: it stores instance under the
// given type, optionally qualified. Pass an empty qualifier for the bare type
// key.
func (c *Container) AddAs(typ reflect.Type, instance any, qualifier string) {
	if qualifier != "" {
		c.cache.put(QualifiedKeyOf(typ, qualifier), instance)
		return
	}
	c.cache.put(KeyOf(typ), instance)
}

// ResolveType is the reflect-level equivalent of Get, used by injection
// front-ends: it resolves the given type the same way Get/Find would.
func (c *Container) ResolveType(typ reflect.Type, opts ...option.Option[ResolveOptions]) (any, error) {
	options := option.Build(defaultResolveOptions(), opts...)
	result := newResult[any](c, typ, options)
	return result.Get()
}

// ResolveTypeContext is ResolveType honoring the caller's context at
// suspension points.
func (c *Container) ResolveTypeContext(ctx context.Context, typ reflect.Type, opts ...option.Option[ResolveOptions]) (any, error) {
	options := option.Build(defaultResolveOptions(), opts...)
	result := newResult[any](c, typ, options)
	return result.Resolve(ctx)
}

// existingInstance looks up an unqualified cached instance for the requested
// type, checking the exact key first and falling back to interface matching.
// Qualified and factory-keyed entries never satisfy a bare type request.
func (c *Container) existingInstance(typ reflect.Type, matching TypeMatching) (any, bool) {
	if instance, found := c.cache.get(KeyOf(typ)); found {
		return instance, true
	}
	if matching == MatchExactType {
		return nil, false
	}

	var (
		match    any
		hasMatch bool
	)
	c.cache.rangeEntries(func(key Key, instance any) bool {
		if key.IsQualified() || key.IsFactory() {
			return true
		}
		if matchType(typ, key.Type(), matching) {
			match = instance
			hasMatch = true
			return false
		}
		return true
	})

	return match, hasMatch
}

// factoryCacheResult walks the parent chain looking for a cached result of
// the given factory key.
func (c *Container) factoryCacheResult(key Key) (any, bool) {
	if instance, found := c.cache.get(key); found {
		return instance, true
	}
	if c.parent != nil {
		return c.parent.factoryCacheResult(key)
	}
	return nil, false
}

func (c *Container) hooks(kind HookKind) *HookManager {
	return c.registry.hooksFor(kind)
}
