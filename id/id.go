// Package id implements the DataID scheme: an opaque identifier encoding
// an owning rank and a monotonically increasing counter within that rank.
package id

import (
	"fmt"
	"sync"
)

// BaseID is the pure-value, wire-safe form of a DataID. Equality and
// hashing are over (Owner, Seq); BaseID is immutable after creation and
// comparable, so it can be used directly as a map key.
type BaseID struct {
	Owner uint32 `json:"owner"`
	Seq   uint64 `json:"seq"`
}

// String renders a BaseID for logging.
func (b BaseID) String() string {
	return fmt.Sprintf("id(%d:%d)", b.Owner, b.Seq)
}

// IsZero reports whether b is the zero value (never a valid id).
func (b BaseID) IsZero() bool { return b.Owner == 0 && b.Seq == 0 }

// ReleaseHook is implemented by the controller's garbage collector.
// Retain registers a new live reference to base; Release drops one.
// Only the GC decides when a base id's underlying value may be
// cleaned up on its owning rank (see package gc).
type ReleaseHook interface {
	Retain(base BaseID)
	Release(base BaseID)
}

// OwnedID is a BaseID plus a controller-side lifecycle hook. Only rank 0
// (the controller) ever constructs an OwnedID; workers and wire formats
// only ever see the underlying BaseID. Go has no deterministic destructors,
// so — per the scoped-release-handle pattern this type follows — callers
// must call Release explicitly when they are done with an id; Clone must
// be called before handing a copy to another owner so the release
// obligation is reference-counted rather than assumed.
type OwnedID struct {
	base BaseID
	hook ReleaseHook
}

// NewOwned constructs an OwnedID for base, owned by hook. It registers one
// live reference with hook.
func NewOwned(base BaseID, hook ReleaseHook) OwnedID {
	hook.Retain(base)
	return OwnedID{base: base, hook: hook}
}

// Base strips the lifecycle hook and returns the wire-safe BaseID. This is
// what serialization of an OwnedID always yields.
func (o OwnedID) Base() BaseID { return o.base }

// Clone returns a new OwnedID sharing the same underlying id, registering
// an additional live reference. Both the original and the clone must be
// released independently.
func (o OwnedID) Clone() OwnedID {
	o.hook.Retain(o.base)
	return o
}

// Release drops this holder's reference. Once the last live reference to
// base drops, the hook enqueues base for remote cleanup against its owning
// rank.
func (o OwnedID) Release() {
	o.hook.Release(o.base)
}

// Generator mints BaseIDs, one monotonic counter per owning rank. Only the
// controller constructs and holds a Generator (see package store): it mints
// ids it owns itself (put) as well as ids owned by destination workers
// (submit's output ids) from the same centralized sequence space, since
// workers never mint ids of their own.
type Generator struct {
	mu       sync.Mutex
	counters map[uint32]uint64
}

// NewGenerator returns an empty Generator.
func NewGenerator() *Generator {
	return &Generator{counters: make(map[uint32]uint64)}
}

// Next mints the next BaseID owned by owner.
func (g *Generator) Next(owner uint32) BaseID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counters[owner]++
	return BaseID{Owner: owner, Seq: g.counters[owner]}
}

// NextN mints n consecutive BaseIDs owned by owner.
func (g *Generator) NextN(owner uint32, n int) []BaseID {
	out := make([]BaseID, n)
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range out {
		g.counters[owner]++
		out[i] = BaseID{Owner: owner, Seq: g.counters[owner]}
	}
	return out
}
