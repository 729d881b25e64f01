// Package gc implements the controller's reference-counted, batched
// cleanup of owner-rank ids (spec §4.6).
package gc

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/taskmesh/taskmesh/id"
)

// Collector maintains per-id reference counts and per-owner-rank
// batches of ids ready to be cleaned up. It implements
// id.ReleaseHook: OwnedID.Clone/Release call Retain/Release on the
// Collector the controller constructed it with.
type Collector struct {
	mu sync.Mutex

	refCounts      map[id.BaseID]int
	owners         map[id.BaseID]uint32
	cleanupBatches map[uint32][]id.BaseID

	maxBatchSize int

	refCountGauge *prometheus.GaugeVec
	batchSizeHist prometheus.Histogram

	// flush is invoked (owner rank, batch) whenever quiescence or the
	// batch-size threshold triggers a flush. Set by the controller to
	// send the actual CLEANUP wire message.
	flush func(owner uint32, batch []id.BaseID)
}

// New constructs a Collector. maxBatchSize must be >= 1. flush is
// called synchronously from whichever path triggers it (a batch
// crossing maxBatchSize, or FlushAtQuiescence(true)); the controller's
// flush implementation must not block on anything this Collector
// might be holding.
func New(maxBatchSize int, flush func(owner uint32, batch []id.BaseID), refCountGauge *prometheus.GaugeVec, batchSizeHist prometheus.Histogram) *Collector {
	return &Collector{
		refCounts:      make(map[id.BaseID]int),
		owners:         make(map[id.BaseID]uint32),
		cleanupBatches: make(map[uint32][]id.BaseID),
		maxBatchSize:   maxBatchSize,
		flush:          flush,
		refCountGauge:  refCountGauge,
		batchSizeHist:  batchSizeHist,
	}
}

// Retain registers a new live reference to base, recording owner the
// first time it's seen. Implements id.ReleaseHook.
func (c *Collector) Retain(base id.BaseID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refCounts[base]++
	if _, ok := c.owners[base]; !ok {
		c.owners[base] = base.Owner
	}
	c.observeRefCount(base)
}

// Release drops one live reference to base. Implements
// id.ReleaseHook. When the count reaches zero, base is appended to its
// owner's cleanup batch, which is flushed once it reaches maxBatchSize
// or on FlushAtQuiescence(true).
func (c *Collector) Release(base id.BaseID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refCounts[base]--
	if c.refCounts[base] > 0 {
		c.observeRefCount(base)
		return
	}
	owner := c.owners[base]
	delete(c.refCounts, base)
	delete(c.owners, base)
	if c.refCountGauge != nil {
		c.refCountGauge.DeleteLabelValues(base.String())
	}
	c.appendToBatchLocked(owner, base)
}

func (c *Collector) observeRefCount(base id.BaseID) {
	if c.refCountGauge == nil {
		return
	}
	c.refCountGauge.WithLabelValues(base.String()).Set(float64(c.refCounts[base]))
}

func (c *Collector) appendToBatchLocked(owner uint32, base id.BaseID) {
	c.cleanupBatches[owner] = append(c.cleanupBatches[owner], base)
	if c.batchSizeHist != nil {
		c.batchSizeHist.Observe(float64(len(c.cleanupBatches[owner])))
	}
	if len(c.cleanupBatches[owner]) >= c.maxBatchSize {
		c.flushOwnerLocked(owner)
	}
}

func (c *Collector) flushOwnerLocked(owner uint32) {
	batch := c.cleanupBatches[owner]
	if len(batch) == 0 {
		return
	}
	delete(c.cleanupBatches, owner)
	if c.flush != nil {
		c.flush(owner, batch)
	}
}

// FlushAtQuiescence flushes every pending cleanup batch if quiescent
// reports true. The controller calls this after polling the monitor's
// GET_TASK_COUNT (spec §4.7: "used before flushing batched cleanup"):
// waiting for the monitor's own authoritative task_counter to reach
// zero is sufficient to guarantee a CLEANUP is never observed before
// the PUT_OWNER/EXECUTE that depends on the same id, since FIFO
// per-pair ordering already orders anything sent earlier in the same
// execution (spec §4.6).
func (c *Collector) FlushAtQuiescence(quiescent bool) {
	if !quiescent {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for owner := range c.cleanupBatches {
		c.flushOwnerLocked(owner)
	}
}

// PendingBatchSize returns how many ids are queued for owner's next
// cleanup flush, for tests and diagnostics.
func (c *Collector) PendingBatchSize(owner uint32) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cleanupBatches[owner])
}
