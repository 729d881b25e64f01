// Package worker implements the single-threaded cooperative dispatcher
// that runs on every rank >= 2 (spec §4.9).
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/taskmesh/taskmesh/id"
	"github.com/taskmesh/taskmesh/internal/logging"
	"github.com/taskmesh/taskmesh/internal/taskerr"
	"github.com/taskmesh/taskmesh/pool"
	"github.com/taskmesh/taskmesh/reqstore"
	"github.com/taskmesh/taskmesh/store"
	"github.com/taskmesh/taskmesh/transport"
	"github.com/taskmesh/taskmesh/wire"
)

// Worker is one rank's cooperative dispatcher: transport poll, op
// decode, store mutation, pending-task resolution, all on a single
// goroutine. Per spec §5, nothing here may hand a task to another
// goroutine to run concurrently with the loop itself.
type Worker struct {
	rank  uint32
	mesh  *transport.Mesh
	ops   *transport.AsyncOps
	store *store.Store
	reqs  *reqstore.Store
	log   *logging.Logger
	codec wire.Codec

	pending *pendingBoard
	runners pool.Pool

	inflightGauge prometheus.Gauge
}

// New constructs a Worker for rank, wired to mesh.
func New(rank uint32, mesh *transport.Mesh, reqs *reqstore.Store, log *logging.Logger, inflightGauge prometheus.Gauge) *Worker {
	return &Worker{
		rank:          rank,
		mesh:          mesh,
		ops:           transport.NewAsyncOps(mesh),
		store:         store.New(nil), // workers never mint ids
		reqs:          reqs,
		log:           log.WithRank(rank),
		codec:         wire.NewCodec(),
		pending:       newPendingBoard(),
		runners:       newRunnerPool(),
		inflightGauge: inflightGauge,
	}
}

// Run is the worker's loop: poll, decode, branch, then resolve
// dependents and reap async sends, until CANCEL or ctx cancellation.
func (w *Worker) Run(ctx context.Context) {
	reapTicker := time.NewTicker(50 * time.Millisecond)
	defer reapTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-w.mesh.Incoming():
			if w.handle(ctx, msg) == opCancel {
				return
			}
			w.runReadyTasks(ctx)
		case <-reapTicker.C:
			for _, err := range w.ops.Check() {
				w.log.Errorf("async send failed: %v", err)
			}
		}
	}
}

type handleResult int

const (
	opContinue handleResult = iota
	opCancel
)

func (w *Worker) handle(ctx context.Context, msg transport.Message) handleResult {
	env := msg.Envelope
	switch env.Op {
	case wire.OpExecute:
		w.onExecute(ctx, env, msg.Payload)
	case wire.OpGet:
		w.onGet(ctx, env)
	case wire.OpPutData:
		w.onPutData(ctx, env, msg.Payload)
	case wire.OpPutOwner:
		w.store.SetLocation(env.ID, env.Owner)
	case wire.OpWait:
		w.onWait(ctx, env)
	case wire.OpCleanup:
		w.store.Cleanup(env.IDs)
	case wire.OpCancel:
		return opCancel
	default:
		if env.Op.Reserved() {
			w.log.Errorf("rejecting reserved op %s from rank %d", env.Op, env.From)
			return opContinue
		}
		w.log.Errorf("unsupported op %s from rank %d", env.Op, env.From)
	}
	return opContinue
}

// onExecute decodes a task invocation, resolves what it can locally,
// and either runs it immediately or suspends it on missing arg ids
// (spec §4.9 EXECUTE). req.Args carries both positional args (empty
// Name) and keyword args (non-empty Name), interleaved in whatever
// order the submitting controller sent them in.
func (w *Worker) onExecute(ctx context.Context, env wire.Envelope, payload []byte) {
	var req wire.ExecutePayload
	if err := w.codec.Decode(payload, &req); err != nil {
		w.log.Errorf("decode EXECUTE payload: %v", err)
		return
	}

	var positional, named []wire.Arg
	for _, a := range req.Args {
		if a.Name == "" {
			positional = append(positional, a)
		} else {
			named = append(named, a)
		}
	}

	t := &pendingTask{
		taskName:  env.TaskName,
		args:      make([]any, len(positional)),
		argIDs:    make([]id.BaseID, len(positional)),
		kwargs:    make(map[string]any, len(named)),
		kwargIDs:  make(map[string]id.BaseID, len(named)),
		outputIDs: env.Output,
		missing:   make(map[id.BaseID]struct{}),
	}
	for i, a := range positional {
		if !a.ID.IsZero() {
			t.argIDs[i] = a.ID
			if w.store.Contains(a.ID) {
				t.args[i] = w.store.Get(a.ID)
				continue
			}
			t.missing[a.ID] = struct{}{}
			w.requestArg(ctx, a.ID)
			continue
		}
		t.args[i] = a.Literal
	}
	for _, a := range named {
		if !a.ID.IsZero() {
			t.kwargIDs[a.Name] = a.ID
			if w.store.Contains(a.ID) {
				t.kwargs[a.Name] = w.store.Get(a.ID)
				continue
			}
			t.missing[a.ID] = struct{}{}
			w.requestArg(ctx, a.ID)
			continue
		}
		t.kwargs[a.Name] = a.Literal
	}
	w.pending.Add(t)
}

func (w *Worker) requestArg(ctx context.Context, argID id.BaseID) {
	if w.reqs.IsAlreadyRequested(argID) {
		return
	}
	owner, ok := w.store.Location(argID)
	if !ok {
		owner = argID.Owner
	}
	w.reqs.MarkRequested(argID)
	env := wire.Envelope{Op: wire.OpGet, ID: argID, Blocking: false}
	if err := w.mesh.Send(ctx, owner, env, nil); err != nil {
		w.log.Errorf("request arg %s from rank %d: %v", argID, owner, err)
	}
}

// runReadyTasks executes every currently-ready task inline, one at a
// time — no goroutine wraps this loop, preserving the single-threaded
// invariant even though the teacher's dispatcher/pool shape (reused
// here via w.runners) was originally built for concurrent dispatch.
func (w *Worker) runReadyTasks(ctx context.Context) {
	for _, t := range w.pending.DrainReady() {
		w.runOne(ctx, t)
	}
}

func (w *Worker) runOne(ctx context.Context, t *pendingTask) {
	if w.inflightGauge != nil {
		w.inflightGauge.Inc()
		defer w.inflightGauge.Dec()
	}

	fn, err := lookupOrError(t.taskName)
	var result any
	if err != nil {
		result = taskerr.New(t.taskName, err)
	} else {
		r := w.runners.Get().(*runner)
		result = r.run(ctx, t.taskName, fn, t.args, t.kwargs)
		w.runners.Put(r)
	}

	for _, out := range t.outputIDs {
		w.store.Put(out, result)
	}
	w.notifyNewValues(ctx, t.outputIDs)

	if err := w.mesh.Send(ctx, 1, wire.Envelope{Op: wire.OpTaskDone}, nil); err != nil {
		w.log.Errorf("notify task done: %v", err)
	}
	for _, out := range t.outputIDs {
		w.replyReady(ctx, out)
	}
}

// onGet serves a GET against the local store (spec §4.8's
// deadlock-avoidance split: blocking/controller requests reply
// synchronously, worker-originated requests always via async send).
func (w *Worker) onGet(ctx context.Context, env wire.Envelope) {
	if !w.store.Contains(env.ID) {
		w.reqs.PutGet(env.ID, env.From, env.Blocking || env.From == 0)
		return
	}
	w.sendValue(ctx, env.From, env.ID, env.Blocking || env.From == 0)
}

func (w *Worker) sendValue(ctx context.Context, to uint32, bid id.BaseID, synchronous bool) {
	raw := w.serialize(bid)
	env := wire.Envelope{Op: wire.OpPutData, ID: bid}
	if synchronous {
		if err := w.mesh.Send(ctx, to, env, raw); err != nil {
			w.log.Errorf("send value %s to rank %d: %v", bid, to, err)
		}
		return
	}
	w.ops.ISend(ctx, to, env, raw)
}

func (w *Worker) serialize(bid id.BaseID) []byte {
	if w.store.IsSerialized(bid) {
		return w.store.GetSerialized(bid)
	}
	raw, err := w.codec.Encode(w.store.Get(bid))
	if err != nil {
		w.log.Errorf("serialize %s: %v", bid, err)
		return nil
	}
	w.store.CacheSerialized(bid, raw)
	return raw
}

// onPutData stores an incoming value and drains anyone waiting on it.
func (w *Worker) onPutData(ctx context.Context, env wire.Envelope, payload []byte) {
	var v any
	if err := w.codec.Decode(payload, &v); err != nil {
		var failure *taskerr.Failure
		if !errors.As(err, &failure) {
			w.log.Errorf("decode PUT_DATA payload for %s: %v", env.ID, err)
			return
		}
		v = failure
	}
	w.store.Put(env.ID, v)
	w.reqs.ClearCache(env.ID)
	w.pending.Resolve(env.ID, v)
	w.notifyNewValues(ctx, []id.BaseID{env.ID})
}

// onWait replies immediately if present, else defers.
func (w *Worker) onWait(ctx context.Context, env wire.Envelope) {
	if w.store.Contains(env.ID) {
		w.replyReady(ctx, env.ID)
		return
	}
	w.reqs.PutWait(env.ID)
}

func (w *Worker) replyReady(ctx context.Context, bid id.BaseID) {
	if err := w.mesh.Send(ctx, 1, wire.Envelope{Op: wire.OpReady, ID: bid}, nil); err != nil {
		w.log.Errorf("notify ready %s: %v", bid, err)
	}
}

// notifyNewValues drains any pending GET/WAIT requesters for ids that
// just landed locally (spec §4.9 step 3: "after any op that inserts
// values into the local store, invoke check_pending_get and
// check_pending_wait").
func (w *Worker) notifyNewValues(ctx context.Context, ids []id.BaseID) {
	for _, bid := range ids {
		blocking, nonBlocking := w.reqs.TakePendingGets(bid)
		for _, r := range blocking {
			w.sendValue(ctx, r, bid, true)
		}
		for _, r := range nonBlocking {
			w.sendValue(ctx, r, bid, false)
		}
		if w.reqs.TakePendingWait(bid) {
			w.replyReady(ctx, bid)
		}
	}
}
