package covey

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/tbonnaire/covey/set"
)

// Closeable is implemented by cached instances holding resources that should
// be released when their owning container is closed.
type Closeable interface {
	Close() error
}

// instanceCache is a container's private store of resolved instances, keyed
// by dependency key.
type instanceCache struct {
	inner sync.Map // Key -> any
}

func newInstanceCache() *instanceCache {
	return &instanceCache{}
}

func (c *instanceCache) put(key Key, instance any) {
	c.inner.Store(key, instance)
}

func (c *instanceCache) get(key Key) (any, bool) {
	return c.inner.Load(key)
}

func (c *instanceCache) rangeEntries(fn func(key Key, instance any) bool) {
	c.inner.Range(func(rawKey, instance any) bool {
		return fn(rawKey.(Key), instance)
	})
}

// close releases every cached Closeable instance, skipping the given values
// (the container caches itself and its registry). An instance cached under
// several keys (a qualified default-factory result holds both its factory key
// and its qualified key) is closed once.
func (c *instanceCache) close(skip ...any) error {
	closeErrors := make([]error, 0)
	closed := set.New[unsafe.Pointer]()
	c.inner.Range(func(rawKey, instance any) bool {
		for _, s := range skip {
			if instance == s {
				return true
			}
		}
		if closeable, ok := instance.(Closeable); ok {
			identity := ifaceData(instance)
			if closed.Contains(identity) {
				return true
			}
			closed.Add(identity)
			if err := closeable.Close(); err != nil {
				closeErrors = append(
					closeErrors,
					fmt.Errorf("failed to close instance %s:\n\t%w", rawKey.(Key), err),
				)
			}
		}
		return true
	})

	return errors.Join(closeErrors...)
}
