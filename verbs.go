package taskmesh

import (
	"context"

	"github.com/taskmesh/taskmesh/id"
)

// Put stores value locally under a freshly minted id owned by this
// controller (spec §6 `put(value) -> DataID`). The caller must call
// Release on the returned id once done with it, or pass it on to
// Submit/another Put's consumer via Clone, so the garbage collector's
// reference count stays accurate (see package id).
func (c *Cluster) Put(value any) id.OwnedID {
	return c.ctrl.Put(value)
}

// Get resolves every id, blocking on a GET to each owning rank for
// whichever values are not already local (spec §6
// `get(DataID | [DataID]) -> value | [value]`). A task failure stored
// under one of ids is returned as the error, not as a value (spec §7).
func (c *Cluster) Get(ctx context.Context, ids ...id.BaseID) ([]any, error) {
	if c.ctrl == nil {
		return nil, ErrNotInitialized
	}
	return c.ctrl.Get(ctx, ids...)
}

// Wait partitions ids into ready/not-ready, returning as soon as
// numReturns of them are ready or every id has been classified (spec
// §6 `wait([DataID], num_returns=1) -> ([ready], [not_ready])`).
func (c *Cluster) Wait(ctx context.Context, ids []id.BaseID, numReturns int) (ready, notReady []id.BaseID, err error) {
	if c.ctrl == nil {
		return nil, nil, ErrNotInitialized
	}
	if numReturns > len(ids) {
		return nil, nil, ErrTooManyReturns
	}
	return c.ctrl.Wait(ctx, ids, numReturns)
}

// Submit schedules task onto the next worker rank in round-robin
// order, pushing any argument values the worker can't already reach,
// and returns numReturns fresh output ids owned by that worker (spec
// §6 `submit(task, *args, num_returns=1, **kwargs) -> DataID | [DataID] | None`).
// kwargs may be nil when task takes no keyword arguments. A numReturns
// of 0 returns an empty slice but still increments the monitor's task
// counter (spec §8 boundary behavior).
func (c *Cluster) Submit(ctx context.Context, task string, numReturns int, args []any, kwargs map[string]any) ([]id.OwnedID, error) {
	if c.ctrl == nil {
		return nil, ErrNotInitialized
	}
	wireArgs := append(toArgs(args), toKwargs(kwargs)...)
	return c.ctrl.Submit(ctx, task, wireArgs, numReturns)
}

// ClusterResources reports per-host CPU capacity for every worker
// host (spec §6 `cluster_resources() -> {host -> {"CPU": count}}`).
func (c *Cluster) ClusterResources() map[string]map[string]int {
	if c.ctrl == nil {
		return nil
	}
	return c.ctrl.ClusterResources()
}

// Shutdown sends CANCEL to the monitor and every worker, drains any
// outstanding async sends, and tears down the mesh (spec §6
// `shutdown()`). Safe to call more than once and from a signal
// handler concurrently with normal use; only the first call runs the
// sequence.
func (c *Cluster) Shutdown(ctx context.Context) error {
	var err error
	c.once.Do(func() {
		err = c.ctrl.Shutdown(ctx)
	})
	return err
}
