package reqstore

import (
	"testing"

	"github.com/taskmesh/taskmesh/id"
)

func TestStore_TakePendingGetsSplitsBlockingAndNonBlocking(t *testing.T) {
	s := New(nil, nil)
	bid := id.BaseID{Owner: 2, Seq: 1}

	s.PutGet(bid, 3, false)
	s.PutGet(bid, 0, true)
	s.PutGet(bid, 4, false)

	blocking, nonBlocking := s.TakePendingGets(bid)
	if len(blocking) != 1 || blocking[0] != 0 {
		t.Errorf("blocking = %v, want [0]", blocking)
	}
	if len(nonBlocking) != 2 {
		t.Errorf("nonBlocking = %v, want 2 entries", nonBlocking)
	}

	// Second take after drain returns nothing.
	blocking, nonBlocking = s.TakePendingGets(bid)
	if len(blocking) != 0 || len(nonBlocking) != 0 {
		t.Errorf("expected drained store, got blocking=%v nonBlocking=%v", blocking, nonBlocking)
	}
}

func TestStore_TakePendingWait(t *testing.T) {
	s := New(nil, nil)
	bid := id.BaseID{Owner: 2, Seq: 1}

	if s.TakePendingWait(bid) {
		t.Fatal("expected no pending wait before PutWait")
	}
	s.PutWait(bid)
	if !s.TakePendingWait(bid) {
		t.Fatal("expected pending wait after PutWait")
	}
	if s.TakePendingWait(bid) {
		t.Fatal("expected wait cleared after first take")
	}
}

func TestStore_IsAlreadyRequestedGuardsDuplicateGets(t *testing.T) {
	s := New(nil, nil)
	bid := id.BaseID{Owner: 2, Seq: 1}

	if s.IsAlreadyRequested(bid) {
		t.Fatal("expected not requested before MarkRequested")
	}
	s.MarkRequested(bid)
	if !s.IsAlreadyRequested(bid) {
		t.Fatal("expected requested after MarkRequested")
	}
	s.ClearCache(bid)
	if s.IsAlreadyRequested(bid) {
		t.Fatal("expected cleared after ClearCache")
	}
}

func TestStore_TakePendingGetsClearsRequestedCache(t *testing.T) {
	s := New(nil, nil)
	bid := id.BaseID{Owner: 2, Seq: 1}

	s.MarkRequested(bid)
	s.PutGet(bid, 3, false)
	s.TakePendingGets(bid)

	if s.IsAlreadyRequested(bid) {
		t.Fatal("expected requested cache cleared once pending gets are drained")
	}
}
