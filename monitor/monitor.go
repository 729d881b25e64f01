// Package monitor implements rank 1's loop: the single global task
// counter and readiness-partitioned WAIT (spec §4.7).
package monitor

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/taskmesh/taskmesh/id"
	"github.com/taskmesh/taskmesh/internal/logging"
	"github.com/taskmesh/taskmesh/transport"
	"github.com/taskmesh/taskmesh/wire"
)

// Monitor holds rank 1's state: the outstanding task counter and the
// set of ids reported ready by OpReady (entries are never removed).
type Monitor struct {
	mesh *transport.Mesh
	log  *logging.Logger

	mu          sync.Mutex
	taskCounter int
	ready       map[id.BaseID]struct{}

	taskCounterGauge prometheus.Gauge
}

// New constructs a Monitor communicating over mesh.
func New(mesh *transport.Mesh, log *logging.Logger, taskCounterGauge prometheus.Gauge) *Monitor {
	return &Monitor{
		mesh:             mesh,
		log:              log,
		ready:            make(map[id.BaseID]struct{}),
		taskCounterGauge: taskCounterGauge,
	}
}

// Run is the monitor's loop: a blocking read of the shared incoming
// channel, dispatched by op code, until CANCEL. Spec §4.7: "the
// monitor serves one controller request at a time, interleaved with
// incoming TASK_DONE/readiness signals" — this loop's single-goroutine
// select achieves exactly that, with one exception: a WAIT request
// parks the loop inside waitFor until satisfied, matching "blocks in
// its own loop" from the same section.
func (m *Monitor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.mesh.Incoming():
			switch msg.Envelope.Op {
			case wire.OpTaskSubmit:
				m.incrementTaskCounter()
			case wire.OpTaskDone:
				m.decrementTaskCounter()
			case wire.OpReady:
				m.markReady(msg.Envelope.ID)
			case wire.OpGetTaskCount:
				m.replyTaskCount(ctx, msg.Envelope.From)
			case wire.OpWait:
				m.serveWait(ctx, msg)
			case wire.OpCancel:
				return
			default:
				m.log.Errorf("monitor: unsupported op %s from rank %d", msg.Envelope.Op, msg.Envelope.From)
			}
		}
	}
}

func (m *Monitor) decrementTaskCounter() {
	m.mu.Lock()
	m.taskCounter--
	m.observeLocked()
	m.mu.Unlock()
}

func (m *Monitor) incrementTaskCounter() {
	m.mu.Lock()
	m.taskCounter++
	m.observeLocked()
	m.mu.Unlock()
}

func (m *Monitor) observeLocked() {
	if m.taskCounterGauge != nil {
		m.taskCounterGauge.Set(float64(m.taskCounter))
	}
}

func (m *Monitor) markReady(bid id.BaseID) {
	m.mu.Lock()
	m.ready[bid] = struct{}{}
	m.mu.Unlock()
}

func (m *Monitor) replyTaskCount(ctx context.Context, to uint32) {
	m.mu.Lock()
	n := m.taskCounter
	m.mu.Unlock()
	env := wire.Envelope{Op: wire.OpGetTaskCountReply, TaskCount: n}
	if err := m.mesh.Send(ctx, to, env, nil); err != nil {
		m.log.Errorf("monitor: reply task count to rank %d: %v", to, err)
	}
}

// serveWait partitions msg's ids into ready/not-ready, blocking on
// further incoming messages (interleaved with normal dispatch) until
// either num_returns ids are ready or every id has surfaced as an
// op the loop can classify. Unlike the controller's blocking verbs,
// the monitor's own loop is the thing parked here, so it must keep
// consuming TASK_DONE/OpReady messages itself while waiting — the
// inner loop below is a restricted continuation of Run, not a
// separate goroutine, honoring the "no concurrency internal to the
// monitor" rule in spec §4.7.
func (m *Monitor) serveWait(ctx context.Context, msg transport.Message) {
	ids := msg.Envelope.IDs
	numReturns := msg.Envelope.NumReturns
	requester := msg.Envelope.From

	for {
		ready, notReady := m.partition(ids)
		if len(ready) >= numReturns || len(notReady) == 0 {
			reply := wire.Envelope{Op: wire.OpWaitReply, Ready: ready, NotReady: notReady}
			if err := m.mesh.Send(ctx, requester, reply, nil); err != nil {
				m.log.Errorf("monitor: reply wait to rank %d: %v", requester, err)
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case next := <-m.mesh.Incoming():
			switch next.Envelope.Op {
			case wire.OpTaskSubmit:
				m.incrementTaskCounter()
			case wire.OpTaskDone:
				m.decrementTaskCounter()
			case wire.OpReady:
				m.markReady(next.Envelope.ID)
			case wire.OpCancel:
				return
			default:
				m.log.Errorf("monitor: unsupported op %s while serving wait", next.Envelope.Op)
			}
		}
	}
}

func (m *Monitor) partition(ids []id.BaseID) (ready, notReady []id.BaseID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, bid := range ids {
		if _, ok := m.ready[bid]; ok {
			ready = append(ready, bid)
		} else {
			notReady = append(notReady, bid)
		}
	}
	return ready, notReady
}
