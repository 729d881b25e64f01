// Package store implements the per-rank object store: the three maps
// (values, pending outputs, serialized cache) every rank keeps over
// BaseIDs, plus the controller-only id-minting and owner-location
// bookkeeping (SPEC_FULL.md §1, spec §4.3).
package store

import (
	"fmt"
	"sync"

	"github.com/taskmesh/taskmesh/id"
)

// Store holds one rank's view of the object namespace. A single
// *Store is constructed per rank and threaded explicitly through that
// rank's loop (spec §9 "Singleton per-rank stores" — expressed here as
// an explicit value rather than a package global).
type Store struct {
	mu sync.Mutex

	values          map[id.BaseID]any
	pendingOutputs  map[id.BaseID]map[uint32]struct{}
	serializedCache map[id.BaseID][]byte

	// locations maps an id to the rank that will produce or already
	// holds its value. The controller records it for the ids it mints
	// and the values it pushes; a worker records it on a PUT_OWNER
	// redirect.
	locations map[id.BaseID]uint32

	gen *id.Generator
}

// New constructs an empty Store. gen may be nil on every rank except
// the controller, which is the only rank that mints ids.
func New(gen *id.Generator) *Store {
	return &Store{
		values:          make(map[id.BaseID]any),
		pendingOutputs:  make(map[id.BaseID]map[uint32]struct{}),
		serializedCache: make(map[id.BaseID][]byte),
		locations:       make(map[id.BaseID]uint32),
		gen:             gen,
	}
}

// Contains reports whether id's value has landed locally.
func (s *Store) Contains(bid id.BaseID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[bid]
	return ok
}

// Put stores value under bid. Per the Open Question decision in
// DESIGN.md, a second Put for the same id overwrites unconditionally
// (last write wins); pendingOutputs for bid is cleared since the id is
// no longer merely promised.
func (s *Store) Put(bid id.BaseID, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[bid] = value
	delete(s.pendingOutputs, bid)
}

// Get returns bid's value. The caller must have already checked
// Contains; Get panics on a missing id because callers in this
// codebase always check first and a miss here is a programming error,
// not a runtime condition.
func (s *Store) Get(bid id.BaseID) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[bid]
	if !ok {
		panic(fmt.Sprintf("store: Get(%s) called without Contains check", bid))
	}
	return v
}

// MarkPending records that consumer is awaiting bid's future value.
func (s *Store) MarkPending(bid id.BaseID, consumer uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.pendingOutputs[bid]
	if !ok {
		set = make(map[uint32]struct{})
		s.pendingOutputs[bid] = set
	}
	set[consumer] = struct{}{}
}

// PendingConsumers returns the ranks awaiting bid, if any.
func (s *Store) PendingConsumers(bid id.BaseID) []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.pendingOutputs[bid]
	if !ok {
		return nil
	}
	out := make([]uint32, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	return out
}

// IsSerialized reports whether bid's serialized form is cached.
func (s *Store) IsSerialized(bid id.BaseID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.serializedCache[bid]
	return ok
}

// GetSerialized returns bid's cached serialized bytes.
func (s *Store) GetSerialized(bid id.BaseID) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serializedCache[bid]
}

// CacheSerialized retains raw as bid's serialized form. Only valid
// once bid's value exists (spec §4.3 invariant).
func (s *Store) CacheSerialized(bid id.BaseID, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[bid]; !ok {
		panic(fmt.Sprintf("store: CacheSerialized(%s) before value exists", bid))
	}
	s.serializedCache[bid] = raw
}

// GenerateDataID mints a new id owned by the controller itself
// (backing Put's public verb). Controller only.
func (s *Store) GenerateDataID(controllerRank uint32, hook id.ReleaseHook) id.OwnedID {
	base := s.gen.Next(controllerRank)
	s.mu.Lock()
	s.locations[base] = controllerRank
	s.mu.Unlock()
	return id.NewOwned(base, hook)
}

// GenerateOutputIDs mints n ids owned by destRank (backing Submit's
// output slots). Controller only.
func (s *Store) GenerateOutputIDs(destRank uint32, hook id.ReleaseHook, n int) []id.OwnedID {
	bases := s.gen.NextN(destRank, n)
	out := make([]id.OwnedID, n)
	s.mu.Lock()
	for i, b := range bases {
		s.locations[b] = destRank
		out[i] = id.NewOwned(b, hook)
	}
	s.mu.Unlock()
	return out
}

// Location returns the rank recorded as responsible for bid, if any.
func (s *Store) Location(bid id.BaseID) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.locations[bid]
	return r, ok
}

// SetLocation records that bid is owned by rank, used by workers when
// they receive a PUT_OWNER redirect.
func (s *Store) SetLocation(bid id.BaseID, rank uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations[bid] = rank
}

// Cleanup drops ids from the local value store and serialized cache
// (backing the CLEANUP op).
func (s *Store) Cleanup(ids []id.BaseID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, bid := range ids {
		delete(s.values, bid)
		delete(s.serializedCache, bid)
		delete(s.locations, bid)
	}
}
