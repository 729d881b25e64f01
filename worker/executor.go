package worker

import (
	"context"
	"fmt"

	"github.com/taskmesh/taskmesh/internal/taskerr"
	"github.com/taskmesh/taskmesh/pool"
)

// runner is the pool-managed unit of work, adapted from the teacher's
// worker[R]/task[R] pair: a panic during fn is recovered and reported
// as a *taskerr.Failure rather than crashing the rank (spec §7
// UserTaskFailure), and cancellation still short-circuits via ctx.
// Unlike the teacher's dispatcher, nothing here spawns a concurrent
// task — only fn's own body runs in a helper goroutine so a panic can
// be recovered and ctx.Done() can still pre-empt the wait; the worker
// loop itself calls run() once per ready task and blocks until it
// returns, satisfying the single-threaded-per-rank invariant (spec §5).
type runner struct{}

func newRunner() *runner { return &runner{} }

// run invokes fn(ctx, args, kwargs), returning either its result or a
// *taskerr.Failure (never a raw error) so the output id always holds a
// storable value per spec §7's "indistinguishable at the wire level"
// rule.
func (r *runner) run(ctx context.Context, taskName string, fn Callable, args []any, kwargs map[string]any) any {
	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{value: taskerr.NewPanic(taskName, p)}
			}
		}()
		v, err := fn(ctx, args, kwargs)
		if err != nil {
			done <- outcome{value: taskerr.New(taskName, err)}
			return
		}
		done <- outcome{value: v}
	}()

	select {
	case <-ctx.Done():
		return taskerr.New(taskName, fmt.Errorf("cancelled: %w", ctx.Err()))
	case o := <-done:
		return o.value
	}
}

// pool.Pool of *runner, reused the way the teacher reuses *worker[R]:
// Get/Put around each synchronous execution.
func newRunnerPool() pool.Pool {
	return pool.NewDynamic(func() interface{} { return newRunner() })
}
