package covey

import (
	"github.com/tbonnaire/covey/set"
)

// tracker records the dependency keys whose resolution is currently in
// progress, so a key re-entering its own chain is caught instead of recursing
// forever.
type tracker struct {
	visited set.Set[Key]
	stack   []Key
}

func newTracker() *tracker {
	return &tracker{
		visited: set.New[Key](),
		stack:   make([]Key, 0),
	}
}

// push registers a key as in-progress, returning a CircularDependencyError
// naming the cycle if the key is already on the stack.
func (t *tracker) push(key Key) error {
	if t.visited.Contains(key) {
		cycle := make([]Key, 0, len(t.stack)+1)
		start := 0
		for i, k := range t.stack {
			if k == key {
				start = i
				break
			}
		}
		cycle = append(cycle, t.stack[start:]...)
		cycle = append(cycle, key)

		return &CircularDependencyError{Cycle: cycle}
	}
	t.visited.Add(key)
	t.stack = append(t.stack, key)

	return nil
}

func (t *tracker) pop() Key {
	if len(t.stack) == 0 {
		panic("tracker: pop from empty stack")
	}
	key := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]
	t.visited.Remove(key)

	return key
}
