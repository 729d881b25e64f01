// Package controller implements the public verbs that run on rank 0:
// put, get, wait, submit, shutdown, cluster_resources (spec §4.10,
// §6). It is the only rank that mints DataIDs and the only rank that
// runs a garbage collector.
package controller

import (
	"context"
	"fmt"

	"github.com/taskmesh/taskmesh/config"
	"github.com/taskmesh/taskmesh/gc"
	"github.com/taskmesh/taskmesh/id"
	"github.com/taskmesh/taskmesh/internal/logging"
	"github.com/taskmesh/taskmesh/schedule"
	"github.com/taskmesh/taskmesh/store"
	"github.com/taskmesh/taskmesh/transport"
	"github.com/taskmesh/taskmesh/wire"
)

const (
	monitorRank uint32 = 1
	firstWorker uint32 = 2
)

// Controller is rank 0's handle onto the cluster.
type Controller struct {
	cfg   config.Config
	mesh  *transport.Mesh
	log   *logging.Logger
	codec wire.Codec

	gen       *id.Generator
	store     *store.Store
	gcoll     *gc.Collector
	scheduler *schedule.RoundRobin
	ops       *transport.AsyncOps
}

// New constructs a Controller. gcoll is constructed by the caller (see
// the root taskmesh package's Init) so its flush callback can close
// over this Controller's own mesh without an import cycle.
func New(cfg config.Config, mesh *transport.Mesh, gcoll *gc.Collector, log *logging.Logger) *Controller {
	gen := id.NewGenerator()
	return &Controller{
		cfg:       cfg,
		mesh:      mesh,
		log:       log.WithRank(0),
		codec:     wire.NewCodec(),
		gen:       gen,
		store:     store.New(gen),
		gcoll:     gcoll,
		scheduler: schedule.New(uint32(len(cfg.Hosts))),
		ops:       transport.NewAsyncOps(mesh),
	}
}

// Put stores value locally under a freshly minted controller-owned id.
func (c *Controller) Put(value any) id.OwnedID {
	owned := c.store.GenerateDataID(0, c.gcoll)
	c.store.Put(owned.Base(), value)
	return owned
}

// Get resolves every id in ids, blocking on a GET to the owning rank
// for whichever are not already local, then triggers a GC quiescence
// check (spec §4.10: "Triggers periodic GC flush at the end").
func (c *Controller) Get(ctx context.Context, ids ...id.BaseID) ([]any, error) {
	out := make([]any, len(ids))
	for i, bid := range ids {
		if c.store.Contains(bid) {
			out[i] = c.store.Get(bid)
			continue
		}
		v, err := c.getRemote(ctx, bid)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	c.pollQuiescenceAndFlush(ctx)
	return out, nil
}

func (c *Controller) getRemote(ctx context.Context, bid id.BaseID) (any, error) {
	owner, ok := c.store.Location(bid)
	if !ok {
		owner = bid.Owner
	}
	if err := c.mesh.Send(ctx, owner, wire.Envelope{Op: wire.OpGet, ID: bid, Blocking: true, From: 0}, nil); err != nil {
		return nil, fmt.Errorf("controller: send GET for %s to rank %d: %w", bid, owner, err)
	}
	msg, err := c.mesh.RecvFrom(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("controller: receive value for %s from rank %d: %w", bid, owner, err)
	}
	v, err := c.codec.DecodeAny(msg.Payload)
	if err != nil {
		return nil, err // *taskerr.Failure satisfies error: re-raised here per spec §7
	}
	return v, nil
}

// Wait partitions ids into ready/not-ready, consulting the local store
// first and falling back to the monitor only if fewer than numReturns
// are already resident (spec §4.10).
func (c *Controller) Wait(ctx context.Context, ids []id.BaseID, numReturns int) (ready, notReady []id.BaseID, err error) {
	var pending []id.BaseID
	for _, bid := range ids {
		if c.store.Contains(bid) {
			ready = append(ready, bid)
		} else {
			pending = append(pending, bid)
		}
	}
	if len(ready) >= numReturns || len(pending) == 0 {
		return ready, pending, nil
	}

	if err := c.mesh.Send(ctx, monitorRank, wire.Envelope{
		Op: wire.OpWait, IDs: pending, NumReturns: numReturns - len(ready),
	}, nil); err != nil {
		return nil, nil, fmt.Errorf("controller: send WAIT: %w", err)
	}
	msg, err := c.mesh.RecvFrom(ctx, monitorRank)
	if err != nil {
		return nil, nil, fmt.Errorf("controller: receive WAIT reply: %w", err)
	}
	ready = append(ready, msg.Envelope.Ready...)
	notReady = append(notReady, msg.Envelope.NotReady...)
	return ready, notReady, nil
}

// Submit schedules task on the next worker rank, pushes any arg
// values the worker can't already reach, isends EXECUTE, notifies the
// monitor of a new outstanding task, and returns num_returns fresh
// output ids owned by the destination worker (spec §4.10).
func (c *Controller) Submit(ctx context.Context, task string, args []wire.Arg, numReturns int) ([]id.OwnedID, error) {
	dest := c.scheduler.Next()
	outputs := c.store.GenerateOutputIDs(dest, c.gcoll, numReturns)

	if err := c.pushData(ctx, dest, args); err != nil {
		return nil, err
	}

	outBase := make([]id.BaseID, numReturns)
	for i, o := range outputs {
		outBase[i] = o.Base()
	}
	payload, err := c.codec.Encode(wire.ExecutePayload{Args: args})
	if err != nil {
		return nil, fmt.Errorf("controller: encode EXECUTE payload: %w", err)
	}
	c.ops.ISend(ctx, dest, wire.Envelope{
		Op: wire.OpExecute, TaskName: task, Output: outBase, From: 0,
	}, payload)

	if err := c.mesh.Send(ctx, monitorRank, wire.Envelope{Op: wire.OpTaskSubmit}, nil); err != nil {
		return nil, fmt.Errorf("controller: notify monitor of submit: %w", err)
	}
	return outputs, nil
}

// pushData walks args and, for each id not already known to reside on
// dest, sends either the value itself (PUT_DATA, when the controller
// holds it) or a PUT_OWNER redirect to the id's true owner — the
// destination then fetches lazily on demand. Grounded on the
// controller's push_data in the original implementation (spec §4.10).
func (c *Controller) pushData(ctx context.Context, dest uint32, args []wire.Arg) error {
	for _, a := range args {
		if a.ID.IsZero() {
			continue
		}
		if loc, ok := c.store.Location(a.ID); ok && loc == dest {
			continue
		}
		if c.store.Contains(a.ID) {
			raw, err := c.codec.Encode(c.store.Get(a.ID))
			if err != nil {
				return fmt.Errorf("controller: encode arg %s for push: %w", a.ID, err)
			}
			if err := c.mesh.Send(ctx, dest, wire.Envelope{Op: wire.OpPutData, ID: a.ID}, raw); err != nil {
				return fmt.Errorf("controller: push value %s to rank %d: %w", a.ID, dest, err)
			}
			c.store.SetLocation(a.ID, dest)
			continue
		}
		owner, ok := c.store.Location(a.ID)
		if !ok {
			owner = a.ID.Owner
		}
		if err := c.mesh.Send(ctx, dest, wire.Envelope{Op: wire.OpPutOwner, ID: a.ID, Owner: owner}, nil); err != nil {
			return fmt.Errorf("controller: redirect %s to owner %d on rank %d: %w", a.ID, owner, dest, err)
		}
	}
	return nil
}

// pollQuiescenceAndFlush asks the monitor for the current task
// counter and, only if it reads zero, flushes every batched cleanup
// (spec §4.7 "used before flushing batched cleanup").
func (c *Controller) pollQuiescenceAndFlush(ctx context.Context) {
	if err := c.mesh.Send(ctx, monitorRank, wire.Envelope{Op: wire.OpGetTaskCount}, nil); err != nil {
		c.log.Errorf("poll task count: %v", err)
		return
	}
	msg, err := c.mesh.RecvFrom(ctx, monitorRank)
	if err != nil {
		c.log.Errorf("receive task count: %v", err)
		return
	}
	c.gcoll.FlushAtQuiescence(msg.Envelope.TaskCount == 0)
}

// ClusterResources reports per-host CPU capacity for every worker host
// (ranks >= 2), per spec §6 `cluster_resources() -> {host -> {"CPU": n}}`.
func (c *Controller) ClusterResources() map[string]map[string]int {
	out := make(map[string]map[string]int)
	for i, host := range c.cfg.Hosts {
		if uint32(i) < firstWorker {
			continue
		}
		out[host] = map[string]int{"CPU": c.cfg.CPUsPerHost}
	}
	return out
}

// Shutdown sends CANCEL to the monitor and every worker, drains any
// outstanding async sends, and tears down the mesh (spec §4.10, §5).
func (c *Controller) Shutdown(ctx context.Context) error {
	for rank := monitorRank; rank < uint32(len(c.cfg.Hosts)); rank++ {
		if err := c.mesh.Send(ctx, rank, wire.Envelope{Op: wire.OpCancel, From: 0}, nil); err != nil {
			c.log.Errorf("cancel rank %d: %v", rank, err)
		}
	}
	if err := c.ops.Finish(); err != nil {
		c.log.Errorf("drain async sends: %v", err)
	}
	return c.mesh.Close()
}
