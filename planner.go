package covey

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/tbonnaire/covey/set"
)

type (
	// chainInfo describes the transitive factory chain behind a dependency
	// key: which factories participate, in which order they must run, and
	// whether any of them requires asynchronous orchestration. A synchronous
	// factory depending on an asynchronously produced value is itself marked
	// asynchronous (transitive asynchrony).
	chainInfo struct {
		target    Key
		factories map[Key]*factoryDef
		asyncKeys set.Set[Key]
		order     []Key
		hasAsync  bool
	}

	// chainCache memoizes chain analysis per container, invalidated whenever
	// the registry's factory generation moves. Entries are keyed by the
	// matching strategy too, since it changes which factories participate.
	chainCache struct {
		mu         sync.Mutex
		generation int64
		chains     map[chainCacheKey]*chainInfo
	}

	chainCacheKey struct {
		key      Key
		matching TypeMatching
	}

	chainTraversal struct {
		container *Container
		matching  TypeMatching
		tracker   *tracker
		collected set.Set[Key]

		factories map[Key]*factoryDef
		asyncKeys set.Set[Key]
		order     []Key
	}
)

func newChainCache() *chainCache {
	return &chainCache{
		chains: make(map[chainCacheKey]*chainInfo),
	}
}

// analyzeChain inspects the transitive factory chain for a (type, qualifier)
// key. It returns nil when no factory is registered for the target (other
// resolution paths may still serve it), and a CircularDependencyError when a
// key re-enters its own chain.
func (c *Container) analyzeChain(typ reflect.Type, qualifier string, matching TypeMatching) (*chainInfo, error) {
	var key Key
	if qualifier != "" {
		key = QualifiedKeyOf(typ, qualifier)
	} else {
		key = KeyOf(typ)
	}

	cacheKey := chainCacheKey{key: key, matching: matching}

	c.chains.mu.Lock()
	defer c.chains.mu.Unlock()

	if generation := c.registry.Generation(); generation != c.chains.generation {
		c.chains.chains = make(map[chainCacheKey]*chainInfo)
		c.chains.generation = generation
	}
	if info, cached := c.chains.chains[cacheKey]; cached {
		return info, nil
	}

	traversal := &chainTraversal{
		container: c,
		matching:  matching,
		tracker:   newTracker(),
		collected: set.New[Key](),
		factories: make(map[Key]*factoryDef),
		asyncKeys: set.New[Key](),
	}
	hasAsync, err := traversal.visit(key)
	if err != nil {
		return nil, err
	}

	var info *chainInfo
	if len(traversal.factories) > 0 {
		info = &chainInfo{
			target:    key,
			factories: traversal.factories,
			asyncKeys: traversal.asyncKeys,
			order:     traversal.order,
			hasAsync:  hasAsync,
		}
	}
	c.chains.chains[cacheKey] = info

	return info, nil
}

// visit returns whether the chain rooted at key requires asynchronous
// orchestration, appending keys to the resolution order deepest first.
func (t *chainTraversal) visit(key Key) (bool, error) {
	if err := t.tracker.push(key); err != nil {
		return false, err
	}
	defer t.tracker.pop()

	if t.collected.Contains(key) {
		return t.asyncKeys.Contains(key), nil
	}

	def, found := t.container.registry.factoryFor(key.Type(), key.Qualifier(), t.matching)
	if !found {
		// no factory: a leaf served by caches, hooks or parents
		return false, nil
	}

	isAsync := def.async()
	for _, paramType := range def.params {
		paramAsync, err := t.visit(KeyOf(paramType))
		if err != nil {
			return false, err
		}
		if paramAsync {
			isAsync = true
		}
	}

	t.collected.Add(key)
	t.factories[key] = def
	if isAsync {
		t.asyncKeys.Add(key)
	}
	t.order = append(t.order, key)

	return isAsync, nil
}

// runFactoryChain resolves a registered factory's full chain: inline for
// purely synchronous chains, two-phase for chains containing asynchronous
// factories.
func (c *Container) runFactoryChain(ctx context.Context, typ reflect.Type, qualifier string, def *factoryDef, opts *ResolveOptions, inj *InjectionContext) (any, error) {
	info, err := c.analyzeChain(typ, qualifier, opts.matching)
	if err != nil {
		return nil, err
	}
	if info == nil || !info.hasAsync {
		return c.executeFactory(ctx, def, opts.matching, inj)
	}
	return c.executePending(ctx, info, opts.matching, inj)
}

// executePending resolves an asynchronous chain in two phases: asynchronous
// factories first, in dependency order, then the synchronous factories that
// consume their results. Every created dependency is cached in the container
// so later factories observe actual instances.
func (c *Container) executePending(ctx context.Context, info *chainInfo, matching TypeMatching, inj *InjectionContext) (any, error) {
	for _, key := range info.order {
		def := info.factories[key]
		if !def.async() {
			continue
		}
		if _, found := c.existingAnywhere(key, matching); found {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		instance, err := c.executeFactory(ctx, def, matching, inj)
		if err != nil {
			return nil, err
		}
		c.cache.put(key, instance)
	}

	for _, key := range info.order {
		def := info.factories[key]
		if def.async() {
			continue
		}
		if _, found := c.existingAnywhere(key, matching); found {
			continue
		}
		instance, err := c.executeFactory(ctx, def, matching, inj)
		if err != nil {
			return nil, err
		}
		c.cache.put(key, instance)
	}

	if instance, found := c.existingAnywhere(info.target, matching); found {
		return instance, nil
	}
	return nil, fmt.Errorf("failed to resolve %s after chain execution", info.target)
}

// executeFactory invokes one factory, resolving its dependency parameters
// against the container.
func (c *Container) executeFactory(ctx context.Context, def *factoryDef, matching TypeMatching, inj *InjectionContext) (any, error) {
	args, err := c.resolveFactoryParams(ctx, def, matching, inj)
	if err != nil {
		return nil, err
	}
	return def.call(ctx, args)
}

// existingAnywhere checks the container and its ancestors for an instance
// cached under the given key.
func (c *Container) existingAnywhere(key Key, matching TypeMatching) (any, bool) {
	for p := c; p != nil; p = p.parent {
		if key.IsQualified() {
			if instance, found := p.cache.get(key); found {
				return instance, true
			}
			continue
		}
		if instance, found := p.existingInstance(key.Type(), matching); found {
			return instance, true
		}
	}
	return nil, false
}
