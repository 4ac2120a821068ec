package covey

import (
	"sync"
)

// The process-wide registry and container, created lazily. Disabled through
// COVEY_ENABLE_GLOBAL_CONTEXT for code bases that want every container to be
// explicit.
var (
	globalMu        sync.Mutex
	globalRegistry  *Registry
	globalContainer *Container
	globalEnv       = newEnvironment()
)

// GlobalRegistry returns the process-wide registry, creating it on first use.
// It fails with ErrGlobalContextDisabled when the global context is turned
// off.
func GlobalRegistry() (*Registry, error) {
	if !globalEnv.globalContextEnabled() {
		return nil, ErrGlobalContextDisabled
	}

	globalMu.Lock()
	defer globalMu.Unlock()

	if globalRegistry == nil {
		globalRegistry = NewRegistry()
	}
	return globalRegistry, nil
}

// GlobalContainer returns the process-wide container, creating it (and the
// global registry) on first use. It fails with ErrGlobalContextDisabled when
// the global context is turned off.
func GlobalContainer() (*Container, error) {
	if !globalEnv.globalContextEnabled() {
		return nil, ErrGlobalContextDisabled
	}

	globalMu.Lock()
	defer globalMu.Unlock()

	if globalRegistry == nil {
		globalRegistry = NewRegistry()
	}
	if globalContainer == nil {
		globalContainer = globalRegistry.CreateContainer()
	}
	return globalContainer, nil
}

// ResetGlobal discards the process-wide registry and container. The next
// GlobalRegistry or GlobalContainer call starts from a clean slate. Mostly
// useful in tests.
func ResetGlobal() {
	globalMu.Lock()
	defer globalMu.Unlock()

	globalRegistry = nil
	globalContainer = nil
}

// ContainerOrGlobal returns c when non-nil, and falls back to the
// process-wide container otherwise.
func ContainerOrGlobal(c *Container) (*Container, error) {
	if c != nil {
		return c, nil
	}
	return GlobalContainer()
}
