package transport

import (
	"context"
	"sync"

	"github.com/taskmesh/taskmesh/wire"
)

// Handle identifies one outstanding non-blocking send.
type Handle uint64

// AsyncOps tracks in-flight non-blocking sends and the buffers they
// reference, so nothing frees a buffer the transport might still read
// from (spec §4.4's anti-use-after-free invariant). It is the sole
// owner of those buffers until the corresponding send completes.
type AsyncOps struct {
	mesh *Mesh

	mu      sync.Mutex
	nextID  Handle
	pending map[Handle]*asyncOp
}

type asyncOp struct {
	buffer []byte
	done   chan error
}

// NewAsyncOps returns a tracker that sends through mesh.
func NewAsyncOps(mesh *Mesh) *AsyncOps {
	return &AsyncOps{mesh: mesh, pending: make(map[Handle]*asyncOp)}
}

// ISend starts a non-blocking complex send to rank and returns a
// Handle the caller can later Check or Finish on. The payload buffer
// is retained by the tracker, not the caller, until the send
// completes.
func (a *AsyncOps) ISend(ctx context.Context, rank uint32, env wire.Envelope, payload []byte) Handle {
	done := make(chan error, 1)
	op := &asyncOp{buffer: payload, done: done}

	a.mu.Lock()
	a.nextID++
	h := a.nextID
	a.pending[h] = op
	a.mu.Unlock()

	go func() {
		done <- a.mesh.Send(ctx, rank, env, payload)
	}()
	return h
}

// Check reaps any handles that have completed, freeing their buffers,
// and returns the errors of those sends that failed.
func (a *AsyncOps) Check() []error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for h, op := range a.pending {
		select {
		case err := <-op.done:
			if err != nil {
				errs = append(errs, err)
			}
			delete(a.pending, h)
		default:
		}
	}
	return errs
}

// Finish blocks until every currently pending handle completes,
// freeing all buffers. Called by shutdown before transport
// finalization (spec §5, invariant 3).
func (a *AsyncOps) Finish() error {
	a.mu.Lock()
	ops := make([]*asyncOp, 0, len(a.pending))
	for h, op := range a.pending {
		ops = append(ops, op)
		delete(a.pending, h)
	}
	a.mu.Unlock()

	var firstErr error
	for _, op := range ops {
		if err := <-op.done; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Empty reports whether no handles are outstanding.
func (a *AsyncOps) Empty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending) == 0
}
