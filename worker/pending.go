package worker

import (
	"sync"

	"github.com/taskmesh/taskmesh/id"
)

// taskState mirrors the suspended-task state machine of spec §9:
// {ready, blocked(on ids), running, done}. Adapted in shape from the
// per-tag state machine in ublk's queue runner (a mutex-guarded struct
// with an explicit state field and a completion-driven transition
// function), generalized from I/O tag lifecycle to task dependency
// resolution.
type taskState int

const (
	stateBlocked taskState = iota
	stateReady
	stateRunning
	stateDone
)

// pendingTask is one EXECUTE whose arguments are not all resolved yet.
type pendingTask struct {
	taskName  string
	args      []any                // positional args, placeholders for unresolved ids
	argIDs    []id.BaseID          // parallel to args: zero value if the slot is a literal, not an id
	kwargs    map[string]any       // keyword args, placeholders for unresolved ids
	kwargIDs  map[string]id.BaseID // parallel to kwargs: absent if the slot is a literal, not an id
	outputIDs []id.BaseID
	missing   map[id.BaseID]struct{}
	state     taskState
}

func (t *pendingTask) resolve(bid id.BaseID, value any) {
	for i, aid := range t.argIDs {
		if aid == bid {
			t.args[i] = value
		}
	}
	for k, aid := range t.kwargIDs {
		if aid == bid {
			t.kwargs[k] = value
		}
	}
	delete(t.missing, bid)
	if len(t.missing) == 0 {
		t.state = stateReady
	}
}

// pendingBoard tracks every blocked task, indexed by each id it is
// still waiting on, so a single PUT_DATA can resolve every task
// blocked on that id in one pass.
type pendingBoard struct {
	mu       sync.Mutex
	byMissID map[id.BaseID][]*pendingTask
	ready    []*pendingTask
}

func newPendingBoard() *pendingBoard {
	return &pendingBoard{byMissID: make(map[id.BaseID][]*pendingTask)}
}

// Add enqueues t. If t has no missing ids it goes straight to ready.
func (b *pendingBoard) Add(t *pendingTask) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(t.missing) == 0 {
		t.state = stateReady
		b.ready = append(b.ready, t)
		return
	}
	t.state = stateBlocked
	for missID := range t.missing {
		b.byMissID[missID] = append(b.byMissID[missID], t)
	}
}

// Resolve marks bid as available with value, moving any task whose
// last dependency was bid into the ready queue. It returns the number
// of tasks newly readied (for logging/metrics).
func (b *pendingBoard) Resolve(bid id.BaseID, value any) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	tasks := b.byMissID[bid]
	delete(b.byMissID, bid)
	readied := 0
	for _, t := range tasks {
		t.resolve(bid, value)
		if t.state == stateReady {
			b.ready = append(b.ready, t)
			readied++
		}
	}
	return readied
}

// DrainReady removes and returns every currently ready task.
func (b *pendingBoard) DrainReady() []*pendingTask {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.ready
	b.ready = nil
	return out
}

