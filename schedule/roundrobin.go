// Package schedule implements the controller's round-robin worker
// selection (spec §4.5).
package schedule

import "sync"

// RoundRobin cycles through worker ranks [2, worldSize-1]. Access is
// single-threaded in practice (only the controller's loop calls Next),
// but the mutex keeps the zero-cost guarantee explicit rather than
// assumed.
type RoundRobin struct {
	mu        sync.Mutex
	worldSize uint32
	next      uint32
}

// New returns a scheduler over worker ranks [2, worldSize-1].
// worldSize must be at least 3 (controller, monitor, one worker).
func New(worldSize uint32) *RoundRobin {
	return &RoundRobin{worldSize: worldSize, next: 2}
}

// Next returns the next worker rank and advances the cursor.
func (r *RoundRobin) Next() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	rank := r.next
	r.next++
	if r.next >= r.worldSize {
		r.next = 2
	}
	return rank
}
