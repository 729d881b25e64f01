package taskmesh

import "github.com/taskmesh/taskmesh/worker"

// Callable is the shape of a registered task function.
type Callable = worker.Callable

// Register adds fn under name to the process-wide task registry. Call
// this identically on every rank, before Init, for each task that
// rank may be asked to execute (see package worker).
func Register(name string, fn Callable) {
	worker.Register(name, fn)
}
