package worker

import (
	"context"
	"fmt"
	"sync"
)

// Callable is the shape every registered task function has. Go has no
// serializable closures, so unlike the original system's opaque
// callable values, a task here travels over the wire as a name
// (wire.Envelope.TaskName) and is looked up in a process-wide registry
// populated identically on every rank at startup.
type Callable func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Callable)
)

// Register adds fn under name to the global task registry. Call this
// from an init() or equivalent startup path identically on every rank
// before Init brings up the mesh; a task whose name isn't registered
// on the executing worker fails with an UnsupportedOperation-style
// error when EXECUTE arrives.
func Register(name string, fn Callable) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = fn
}

// Lookup returns the Callable registered under name.
func Lookup(name string) (Callable, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}

func lookupOrError(name string) (Callable, error) {
	fn, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("worker: task %q is not registered on this rank", name)
	}
	return fn, nil
}
