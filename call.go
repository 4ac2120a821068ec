package covey

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/tbonnaire/covey/option"
	"github.com/tbonnaire/covey/set"
)

type (
	// ParamSpec declares how one parameter of an injected callable should be
	// resolved. Specs are built through the Inject namespace and map
	// positionally onto the callable's dependency parameters.
	ParamSpec struct {
		qualifier          string
		defaultFactory     any
		cacheFactoryResult bool
		optional           bool
		matching           TypeMatching
	}

	// CallOptions configures one injected callable.
	CallOptions struct {
		params []ParamSpec
		strict bool
	}

	injectBuilder struct{}

	// callableDef is the one-time signature analysis of an injected callable.
	callableDef struct {
		fn             reflect.Value
		name           string
		params         []reflect.Type
		acceptsContext bool
		returnsError   bool
	}

	// InjectedCallable binds a callable to a container, resolving its
	// parameters on every invocation.
	InjectedCallable struct {
		container *Container
		def       *callableDef
		opts      *CallOptions
	}
)

// Inject is the namespace for per-parameter injection specs.
var Inject = &injectBuilder{}

// Auto resolves the parameter by its declared type.
func (b *injectBuilder) Auto() ParamSpec {
	return ParamSpec{cacheFactoryResult: true, matching: MatchSubclass}
}

// Qualified resolves the parameter under the given qualifier.
func (b *injectBuilder) Qualified(qualifier string) ParamSpec {
	spec := b.Auto()
	spec.qualifier = qualifier
	return spec
}

// FromFactory resolves the parameter through a fallback factory, cached by
// the factory's identity.
func (b *injectBuilder) FromFactory(factory any) ParamSpec {
	spec := b.Auto()
	spec.defaultFactory = factory
	return spec
}

// Optional marks the parameter as injectable with its zero value when
// unresolvable, regardless of the callable's strict mode.
func (p ParamSpec) Optional() ParamSpec {
	p.optional = true
	return p
}

// Fresh disables factory-identity caching for a FromFactory spec.
func (p ParamSpec) Fresh() ParamSpec {
	p.cacheFactoryResult = false
	return p
}

// Matching overrides the type matching strategy for this parameter.
func (p ParamSpec) Matching(matching TypeMatching) ParamSpec {
	p.matching = matching
	return p
}

// WithParams maps specs positionally onto the callable's dependency
// parameters (the leading context.Context, if any, does not count).
func WithParams(specs ...ParamSpec) option.Option[CallOptions] {
	return func(opts *CallOptions) {
		opts.params = specs
	}
}

// Lenient makes every unresolvable parameter inject its zero value instead of
// failing. The zero value is only type-correct when the parameter can
// represent absence; declaring that correctly is the caller's responsibility.
func Lenient() option.Option[CallOptions] {
	return func(opts *CallOptions) {
		opts.strict = false
	}
}

// Call invokes fn after resolving its parameters against the container.
// Explicitly passed args always win over injection: each arg fills the first
// unfilled parameter it is assignable to. Invocations requiring asynchronous
// factories are driven to completion on an isolated goroutine.
func (c *Container) Call(fn any, args ...any) (any, error) {
	injected, err := c.Injected(fn)
	if err != nil {
		return nil, err
	}
	return injected.Call(args...)
}

// CallContext is Call honoring the caller's context at suspension points, on
// the calling goroutine.
func (c *Container) CallContext(ctx context.Context, fn any, args ...any) (any, error) {
	injected, err := c.Injected(fn)
	if err != nil {
		return nil, err
	}
	return injected.CallContext(ctx, args...)
}

// Injected analyzes fn once and binds it to the container for repeated
// invocation.
func (c *Container) Injected(fn any, opts ...option.Option[CallOptions]) (*InjectedCallable, error) {
	def, err := analyzeCallable(fn)
	if err != nil {
		return nil, err
	}
	return &InjectedCallable{
		container: c,
		def:       def,
		opts:      option.Build(&CallOptions{strict: true}, opts...),
	}, nil
}

// Call invokes the callable from a synchronous context.
func (ic *InjectedCallable) Call(args ...any) (any, error) {
	if ic.requiresAsync() {
		var (
			value any
			err   error
		)
		done := make(chan struct{})
		go func() {
			defer close(done)
			value, err = ic.invoke(context.Background(), args)
		}()
		<-done
		return value, err
	}
	return ic.invoke(context.Background(), args)
}

// CallContext invokes the callable on the calling goroutine, honoring ctx at
// suspension points.
func (ic *InjectedCallable) CallContext(ctx context.Context, args ...any) (any, error) {
	return ic.invoke(ctx, args)
}

func (ic *InjectedCallable) requiresAsync() bool {
	if ic.def.acceptsContext {
		return true
	}
	for i, paramType := range ic.def.params {
		spec := ic.specFor(i)
		if spec.defaultFactory != nil {
			if def, err := analyzeFactory(spec.defaultFactory); err == nil && def.async() {
				return true
			}
			continue
		}
		if ic.container.chainHasAsync(paramType, spec.qualifier, spec.matching) {
			return true
		}
	}
	return false
}

func (ic *InjectedCallable) invoke(ctx context.Context, args []any) (any, error) {
	def := ic.def
	values := make([]reflect.Value, len(def.params))
	filled := make([]bool, len(def.params))

	for _, arg := range args {
		if err := fillExplicitArg(def, arg, values, filled); err != nil {
			return nil, err
		}
	}

	var syncParams, asyncParams []int
	for i := range def.params {
		if filled[i] {
			continue
		}
		spec := ic.specFor(i)
		if ic.paramIsAsync(i, spec) {
			asyncParams = append(asyncParams, i)
		} else {
			syncParams = append(syncParams, i)
		}
	}

	// independent asynchronous parameters may resolve concurrently; chains
	// sharing a factory must not, or the shared dependency would be built
	// once per goroutine
	concurrentParams, overlapping := ic.partitionAsyncParams(asyncParams)
	if len(concurrentParams) > 1 {
		group, groupCtx := errgroup.WithContext(ctx)
		for _, i := range concurrentParams {
			index := i
			group.Go(func() error {
				value, err := ic.injectParam(groupCtx, index)
				if err != nil {
					return err
				}
				values[index] = argValue(value, def.params[index])
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}
	} else {
		overlapping = append(concurrentParams, overlapping...)
	}
	for _, i := range overlapping {
		value, err := ic.injectParam(ctx, i)
		if err != nil {
			return nil, err
		}
		values[i] = argValue(value, def.params[i])
	}

	for _, i := range syncParams {
		value, err := ic.injectParam(ctx, i)
		if err != nil {
			return nil, err
		}
		values[i] = argValue(value, def.params[i])
	}

	result, err := def.call(ctx, values)
	if err != nil {
		return nil, err
	}

	return ic.container.hooks(PostInjectionCall).filter(ctx, ic.container, result, &HookContext{
		Kind:  PostInjectionCall,
		Value: result,
		Injection: &InjectionContext{
			Function: def.name,
			Strict:   ic.opts.strict,
		},
	})
}

// partitionAsyncParams splits the injectable asynchronous parameters into a
// set whose factory chains are pairwise disjoint (safe to resolve
// concurrently) and the rest, resolved sequentially afterwards so a shared
// dependency is created exactly once.
func (ic *InjectedCallable) partitionAsyncParams(asyncParams []int) (independent, overlapping []int) {
	claimed := set.New[Key]()
	for _, i := range asyncParams {
		keys, known := ic.paramChainKeys(i)
		if !known {
			overlapping = append(overlapping, i)
			continue
		}
		disjoint := true
		for _, key := range keys {
			if claimed.Contains(key) {
				disjoint = false
				break
			}
		}
		if !disjoint {
			overlapping = append(overlapping, i)
			continue
		}
		for _, key := range keys {
			claimed.Add(key)
		}
		independent = append(independent, i)
	}

	return independent, overlapping
}

// paramChainKeys returns the factory keys in one parameter's resolution
// chain. Parameters with a fallback factory report unknown: their transitive
// chain is not analyzed ahead of time.
func (ic *InjectedCallable) paramChainKeys(index int) ([]Key, bool) {
	spec := ic.specFor(index)
	if spec.defaultFactory != nil {
		return nil, false
	}
	info, err := ic.container.analyzeChain(ic.def.params[index], spec.qualifier, spec.matching)
	if err != nil || info == nil {
		return nil, true
	}

	keys := make([]Key, 0, len(info.factories))
	for key := range info.factories {
		keys = append(keys, key)
	}
	return keys, true
}

func (ic *InjectedCallable) paramIsAsync(index int, spec ParamSpec) bool {
	if spec.defaultFactory != nil {
		def, err := analyzeFactory(spec.defaultFactory)
		return err == nil && def.async()
	}
	return ic.container.chainHasAsync(ic.def.params[index], spec.qualifier, spec.matching)
}

// injectParam resolves one parameter: InjectionRequest hook first, then the
// same resolution path Get/Find use, then the MissingInjectable rescue, then
// strict failure or lenient zero value; successful values run through the
// InjectionResponse filter.
func (ic *InjectedCallable) injectParam(ctx context.Context, index int) (any, error) {
	var (
		c         = ic.container
		paramType = ic.def.params[index]
		spec      = ic.specFor(index)
	)
	inj := &InjectionContext{
		Function:  ic.def.name,
		Parameter: paramName(index, paramType),
		Type:      paramType,
		Qualifier: spec.qualifier,
		Strict:    ic.opts.strict && !spec.optional,
		Chain:     []string{ic.def.name},
	}

	res, err := c.hooks(InjectionRequest).handle(ctx, c, &HookContext{
		Kind:      InjectionRequest,
		Type:      paramType,
		Qualifier: spec.qualifier,
		Injection: inj,
	})
	if err != nil {
		return nil, err
	}
	if supplied, ok := res.Get(); ok {
		return ic.respond(ctx, supplied, inj)
	}

	resolveOpts := &ResolveOptions{
		qualifier:          spec.qualifier,
		defaultFactory:     spec.defaultFactory,
		cacheFactoryResult: spec.cacheFactoryResult,
		matching:           spec.matching,
	}
	value, err := c.resolveValue(ctx, paramType, resolveOpts, inj)
	if err != nil {
		return ic.handleInjectionFailure(ctx, inj, err)
	}

	return ic.respond(ctx, value, inj)
}

func (ic *InjectedCallable) handleInjectionFailure(ctx context.Context, inj *InjectionContext, cause error) (any, error) {
	c := ic.container

	var resolutionErr *ResolutionError
	if errors.As(cause, &resolutionErr) || errors.As(cause, new(*CircularDependencyError)) {
		res, hookErr := c.hooks(MissingInjectable).handle(ctx, c, &HookContext{
			Kind:      MissingInjectable,
			Type:      inj.Type,
			Qualifier: inj.Qualifier,
			Injection: inj,
		})
		if hookErr != nil {
			return nil, hookErr
		}
		if rescue, ok := res.Get(); ok {
			return ic.respond(ctx, rescue, inj)
		}
	}

	if !inj.Strict {
		dbg.lenientZero(inj.Parameter, ic.def.name)
		return ic.respond(ctx, nil, inj)
	}

	return nil, fmt.Errorf("failed to inject parameter %s of %s:\n\t%w", inj.Parameter, ic.def.name, cause)
}

func (ic *InjectedCallable) respond(ctx context.Context, value any, inj *InjectionContext) (any, error) {
	c := ic.container
	filtered, err := c.hooks(InjectionResponse).filter(ctx, c, value, &HookContext{
		Kind:      InjectionResponse,
		Type:      inj.Type,
		Qualifier: inj.Qualifier,
		Value:     value,
		Injection: inj,
	})
	if err != nil {
		return nil, err
	}
	dbg.injectedParameter(inj.Parameter, inj.Type, ic.def.name)

	return filtered, nil
}

func (ic *InjectedCallable) specFor(index int) ParamSpec {
	if index < len(ic.opts.params) {
		return ic.opts.params[index]
	}
	return Inject.Auto()
}

func fillExplicitArg(def *callableDef, arg any, values []reflect.Value, filled []bool) error {
	for i, paramType := range def.params {
		if filled[i] {
			continue
		}
		if arg == nil {
			if isNilable(paramType) {
				values[i] = reflect.Zero(paramType)
				filled[i] = true
				return nil
			}
			continue
		}
		if reflect.TypeOf(arg).AssignableTo(paramType) {
			values[i] = reflect.ValueOf(arg)
			filled[i] = true
			return nil
		}
	}
	return fmt.Errorf("explicit argument of type %T does not match any parameter of %s", arg, def.name)
}

func isNilable(typ reflect.Type) bool {
	switch typ.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return true
	default:
		return false
	}
}

func analyzeCallable(fn any) (*callableDef, error) {
	if fn == nil {
		return nil, errors.New("callable must not be nil")
	}
	t := reflect.TypeOf(fn)
	if t.Kind() != reflect.Func {
		return nil, errors.New("callable must be a function")
	}

	fnValue := reflect.ValueOf(fn)
	def := &callableDef{
		fn:   fnValue,
		name: filepath.Base(runtime.FuncForPC(fnValue.Pointer()).Name()),
	}
	if t.NumOut() > 0 && t.Out(t.NumOut()-1) == ErrorType {
		def.returnsError = true
	}

	start := 0
	if t.NumIn() > 0 && t.In(0) == ContextType {
		def.acceptsContext = true
		start = 1
	}
	for i := start; i < t.NumIn(); i++ {
		def.params = append(def.params, t.In(i))
	}

	return def, nil
}

// call invokes the callable with the resolved parameter values. The last
// return value, if it is an error, is split off; zero, one, or many remaining
// values map to nil, the value, or a []any.
func (d *callableDef) call(ctx context.Context, deps []reflect.Value) (result any, err error) {
	args := deps
	if d.acceptsContext {
		args = append([]reflect.Value{reflect.ValueOf(ctx)}, deps...)
	}

	var outs []reflect.Value
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic calling %s: %v", d.name, r)
			}
		}()
		outs = d.fn.Call(args)
	}()
	if err != nil {
		return nil, err
	}

	if d.returnsError {
		if errOut := outs[len(outs)-1]; !errOut.IsNil() {
			return nil, errOut.Interface().(error)
		}
		outs = outs[:len(outs)-1]
	}

	switch len(outs) {
	case 0:
		return nil, nil
	case 1:
		return outs[0].Interface(), nil
	default:
		results := make([]any, len(outs))
		for i, out := range outs {
			results[i] = out.Interface()
		}
		return results, nil
	}
}
