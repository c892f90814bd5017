package watch

import (
	"testing"

	"xenstore-go/internal/store"
)

type recordingWaker struct{ woken []uint32 }

func (w *recordingWaker) Wake(guest uint32) { w.woken = append(w.woken, guest) }

func TestRelativeWatchFiresWithStrippedPrefix(t *testing.T) {
	waker := &recordingWaker{}
	r := New(nil, waker)
	s := store.New(r)
	r.SetStore(s)

	r.Add(3, "/local/domain/3/cfg", "tok1", true)
	s.Write("/local/domain/3/cfg/x", []byte("1"), 0)

	evs := r.Drain(3)
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d: %+v", len(evs), evs)
	}
	if evs[0].Path != "cfg/x" || evs[0].Token != "tok1" {
		t.Fatalf("got %+v, want Path=cfg/x Token=tok1", evs[0])
	}
}

func TestAbsoluteWatchFiresWithFullPath(t *testing.T) {
	r := New(nil, nil)
	s := store.New(r)
	r.SetStore(s)

	r.Add(3, "/local/domain/3/cfg", "tok2", false)
	s.Write("/local/domain/3/cfg/x", []byte("1"), 0)

	evs := r.Drain(3)
	if len(evs) != 1 || evs[0].Path != "/local/domain/3/cfg/x" || evs[0].Token != "tok2" {
		t.Fatalf("got %+v", evs)
	}
}

func TestSelfSuppression(t *testing.T) {
	r := New(nil, nil)
	s := store.New(r)
	r.SetStore(s)

	r.Add(3, "/a", "t", false)
	s.Write("/a/b", []byte("v"), 3) // same guest mutates

	if evs := r.Drain(3); len(evs) != 0 {
		t.Fatalf("expected no events (self-suppressed), got %+v", evs)
	}
}

func TestOtherGuestMutationDelivers(t *testing.T) {
	r := New(nil, nil)
	s := store.New(r)
	r.SetStore(s)

	r.Add(3, "/a", "t", false)
	s.Write("/a/b", []byte("v"), 0) // control domain mutates

	evs := r.Drain(3)
	if len(evs) != 1 || evs[0].Path != "/a/b" {
		t.Fatalf("got %+v", evs)
	}
}

func TestByteWisePrefixMatch(t *testing.T) {
	r := New(nil, nil)
	s := store.New(r)
	r.SetStore(s)

	r.Add(3, "/ab", "t", false)
	s.Write("/abc", []byte("v"), 0)

	evs := r.Drain(3)
	if len(evs) != 1 || evs[0].Path != "/abc" {
		t.Fatalf("expected byte-prefix match on /abc, got %+v", evs)
	}
}

func TestAddExistingKeyFiresInitialEvent(t *testing.T) {
	s := store.New(nil)
	s.Write("/a", []byte("v"), 0)
	r := New(s, nil)

	r.Add(3, "/a", "t", false)

	evs := r.Drain(3)
	if len(evs) != 1 || evs[0].Path != "/a" || evs[0].Token != "t" {
		t.Fatalf("expected initial event, got %+v", evs)
	}
}

func TestAddDuplicateKeyTokenUpdatesRelativeFlag(t *testing.T) {
	r := New(nil, nil)
	r.Add(3, "/a", "t", false)
	r.Add(3, "/a", "t", true)

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.watches) != 1 {
		t.Fatalf("expected single watch, got %d", len(r.watches))
	}
	if !r.watches[0].IsRelative {
		t.Fatal("expected IsRelative to be updated to true")
	}
}

func TestRemoveOneMatchingWatch(t *testing.T) {
	r := New(nil, nil)
	r.Add(3, "/a", "t1", false)
	r.Add(3, "/a", "t2", false)

	r.Remove(3, "/a", "t1")

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.watches) != 1 || r.watches[0].Token != "t2" {
		t.Fatalf("expected only t2 to remain, got %+v", r.watches)
	}
}

func TestResetClearsAllWatchesGlobally(t *testing.T) {
	r := New(nil, nil)
	r.Add(3, "/a", "t", false)
	r.Add(4, "/b", "t", false)

	r.Reset(3) // guest 3 asks to reset; source clears everything globally

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.watches) != 0 {
		t.Fatalf("expected all watches cleared, got %+v", r.watches)
	}
}

func TestPurgeRemovesGuestWatchesAndPending(t *testing.T) {
	r := New(nil, nil)
	s := store.New(r)
	r.SetStore(s)

	r.Add(3, "/a", "t3", false)
	r.Add(4, "/a", "t4", false)
	s.Write("/a/b", []byte("v"), 0) // enqueues for both 3 and 4

	r.Purge(3)

	r.mu.Lock()
	if len(r.watches) != 1 || r.watches[0].Guest != 4 {
		t.Fatalf("expected only guest 4's watch to remain, got %+v", r.watches)
	}
	r.mu.Unlock()

	if evs := r.Drain(3); len(evs) != 0 {
		t.Fatalf("expected purged guest's pending events discarded, got %+v", evs)
	}
	if evs := r.Drain(4); len(evs) != 1 {
		t.Fatalf("expected guest 4 to still receive its event, got %+v", evs)
	}
}

func TestWakeSignaledOnNotify(t *testing.T) {
	waker := &recordingWaker{}
	r := New(nil, waker)
	s := store.New(r)
	r.SetStore(s)

	r.Add(3, "/a", "t", false)
	s.Write("/a/b", []byte("v"), 0)

	if len(waker.woken) != 1 || waker.woken[0] != 3 {
		t.Fatalf("expected wake(3), got %+v", waker.woken)
	}
}
