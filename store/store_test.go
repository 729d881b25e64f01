package store

import (
	"testing"

	"github.com/taskmesh/taskmesh/id"
)

type noopHook struct{}

func (noopHook) Retain(id.BaseID) {}
func (noopHook) Release(id.BaseID) {}

func TestStore_PutThenGetRoundTrips(t *testing.T) {
	s := New(id.NewGenerator())
	bid := id.BaseID{Owner: 0, Seq: 1}

	if s.Contains(bid) {
		t.Fatal("expected empty store to not contain id")
	}
	s.Put(bid, 42)
	if !s.Contains(bid) {
		t.Fatal("expected store to contain id after Put")
	}
	if got := s.Get(bid); got != 42 {
		t.Errorf("got %v, want 42", got)
	}
}

func TestStore_PutClearsPendingOutputs(t *testing.T) {
	s := New(id.NewGenerator())
	bid := id.BaseID{Owner: 0, Seq: 1}

	s.MarkPending(bid, 2)
	s.MarkPending(bid, 3)
	if got := s.PendingConsumers(bid); len(got) != 2 {
		t.Fatalf("got %d pending consumers, want 2", len(got))
	}

	s.Put(bid, "value")
	if got := s.PendingConsumers(bid); len(got) != 0 {
		t.Errorf("expected pendingOutputs cleared after Put, got %v", got)
	}
}

func TestStore_GenerateDataIDAndOutputIDsUseIndependentOwnerSequences(t *testing.T) {
	gen := id.NewGenerator()
	s := New(gen)
	hook := noopHook{}

	ctrlID := s.GenerateDataID(0, hook)
	outputs := s.GenerateOutputIDs(2, hook, 3)

	if ctrlID.Base().Owner != 0 || ctrlID.Base().Seq != 1 {
		t.Errorf("controller id = %+v, want owner=0 seq=1", ctrlID.Base())
	}
	for i, o := range outputs {
		if o.Base().Owner != 2 || o.Base().Seq != uint64(i+1) {
			t.Errorf("output[%d] = %+v, want owner=2 seq=%d", i, o.Base(), i+1)
		}
	}

	loc, ok := s.Location(outputs[0].Base())
	if !ok || loc != 2 {
		t.Errorf("expected output id location = rank 2, got %d (ok=%v)", loc, ok)
	}
}

func TestStore_CleanupRemovesValueSerializedCacheAndLocation(t *testing.T) {
	s := New(id.NewGenerator())
	bid := id.BaseID{Owner: 0, Seq: 1}

	s.Put(bid, "value")
	s.CacheSerialized(bid, []byte("raw"))
	s.SetLocation(bid, 2)

	s.Cleanup([]id.BaseID{bid})

	if s.Contains(bid) {
		t.Error("expected value removed after Cleanup")
	}
	if s.IsSerialized(bid) {
		t.Error("expected serialized cache entry removed after Cleanup")
	}
	if _, ok := s.Location(bid); ok {
		t.Error("expected location entry removed after Cleanup")
	}
}

func TestStore_CacheSerializedPanicsBeforeValueExists(t *testing.T) {
	s := New(id.NewGenerator())
	bid := id.BaseID{Owner: 0, Seq: 1}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic when caching serialized form before value exists")
		}
	}()
	s.CacheSerialized(bid, []byte("raw"))
}
