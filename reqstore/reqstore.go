// Package reqstore implements the worker's pending-request bookkeeping:
// deferred GET/WAIT requesters and the duplicate-request cache
// (spec §4.8).
package reqstore

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/taskmesh/taskmesh/id"
)

// Store holds one worker's view of requests it could not satisfy yet.
type Store struct {
	mu sync.Mutex

	dataRequests         map[id.BaseID]map[uint32]struct{}
	blockingDataRequests map[id.BaseID]map[uint32]struct{}
	waitRequests         map[id.BaseID]uint32
	requestedCache       map[id.BaseID]struct{}

	pendingDepth  prometheus.Gauge
	duplicateGets prometheus.Counter
}

// New constructs an empty Store reporting through the given metrics,
// which may be nil to disable instrumentation.
func New(pendingDepth prometheus.Gauge, duplicateGets prometheus.Counter) *Store {
	return &Store{
		dataRequests:         make(map[id.BaseID]map[uint32]struct{}),
		blockingDataRequests: make(map[id.BaseID]map[uint32]struct{}),
		waitRequests:         make(map[id.BaseID]uint32),
		requestedCache:       make(map[id.BaseID]struct{}),
		pendingDepth:         pendingDepth,
		duplicateGets:        duplicateGets,
	}
}

// PutGet records that requester wants bid, via the blocking or
// non-blocking bin depending on blocking.
func (s *Store) PutGet(bid id.BaseID, requester uint32, blocking bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bin := s.dataRequests
	if blocking {
		bin = s.blockingDataRequests
	}
	set, ok := bin[bid]
	if !ok {
		set = make(map[uint32]struct{})
		bin[bid] = set
	}
	set[requester] = struct{}{}
	s.observeDepth()
}

// PutWait records that the controller is waiting on bid.
func (s *Store) PutWait(bid id.BaseID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Only the controller ever waits, and only one outstanding wait per
	// id makes sense (spec §3 "wait_requests: ID -> single requester
	// rank, always the controller").
	s.waitRequests[bid] = 0
	s.observeDepth()
}

// TakePendingGets returns and clears every requester recorded for bid,
// split into blocking and non-blocking groups, so the caller can drain
// them via the appropriate send path (spec §4.8's deadlock-avoidance
// split).
func (s *Store) TakePendingGets(bid id.BaseID) (blocking, nonBlocking []uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blocking = setToSlice(s.blockingDataRequests[bid])
	nonBlocking = setToSlice(s.dataRequests[bid])
	delete(s.blockingDataRequests, bid)
	delete(s.dataRequests, bid)
	delete(s.requestedCache, bid)
	s.observeDepth()
	return blocking, nonBlocking
}

// TakePendingWait returns whether bid has a recorded wait requester
// and clears it.
func (s *Store) TakePendingWait(bid id.BaseID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.waitRequests[bid]
	delete(s.waitRequests, bid)
	if ok {
		s.observeDepth()
	}
	return ok
}

// IsAlreadyRequested reports whether a GET is already in flight for
// bid, to avoid issuing a duplicate round trip to the owner.
func (s *Store) IsAlreadyRequested(bid id.BaseID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.requestedCache[bid]
	if ok && s.duplicateGets != nil {
		s.duplicateGets.Inc()
	}
	return ok
}

// MarkRequested records that a GET for bid is now in flight.
func (s *Store) MarkRequested(bid id.BaseID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestedCache[bid] = struct{}{}
}

// ClearCache drops bid's in-flight marker, called once its value
// lands (spec §4.9 PUT_DATA handling).
func (s *Store) ClearCache(bid id.BaseID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requestedCache, bid)
}

func (s *Store) observeDepth() {
	if s.pendingDepth == nil {
		return
	}
	depth := len(s.dataRequests) + len(s.blockingDataRequests) + len(s.waitRequests)
	s.pendingDepth.Set(float64(depth))
}

func setToSlice(set map[uint32]struct{}) []uint32 {
	if len(set) == 0 {
		return nil
	}
	out := make([]uint32, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	return out
}
