package dispatch

import (
	"strings"
	"testing"

	"xenstore-go/internal/guest"
	"xenstore-go/internal/ring"
	"xenstore-go/internal/store"
	"xenstore-go/internal/watch"
	"xenstore-go/internal/xswire"
)

func newTestContext(domid uint32) *guest.Context {
	p := ring.NewPage(256)
	return guest.NewContext(domid, p, nil)
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	s := store.New(nil)
	w := watch.New(s, nil)
	tbl := New(s, w)
	c := newTestContext(2)

	typ, payload, noReply := tbl.Handle(c, xswire.Header{Type: xswire.TypeWrite}, []byte("foo\x00bar"))
	if noReply || typ != xswire.TypeWrite || string(payload) != "OK\x00" {
		t.Fatalf("write reply = %v %q noReply=%v", typ, payload, noReply)
	}

	typ, payload, noReply = tbl.Handle(c, xswire.Header{Type: xswire.TypeRead}, []byte("foo"))
	if noReply || typ != xswire.TypeRead || string(payload) != "bar" {
		t.Fatalf("read reply = %v %q noReply=%v", typ, payload, noReply)
	}
}

func TestRmSuccessSendsNoReply(t *testing.T) {
	s := store.New(nil)
	w := watch.New(s, nil)
	tbl := New(s, w)
	c := newTestContext(2)

	s.Write("/local/domain/2/a", []byte("v"), 0)

	_, _, noReply := tbl.Handle(c, xswire.Header{Type: xswire.TypeRm}, []byte("/local/domain/2/a"))
	if !noReply {
		t.Fatal("expected no reply on successful rm (preserved quirk)")
	}
}

func TestRmFailureRepliesWithEmptyRmFrame(t *testing.T) {
	s := store.New(nil)
	w := watch.New(s, nil)
	tbl := New(s, w)
	c := newTestContext(2)

	typ, payload, noReply := tbl.Handle(c, xswire.Header{Type: xswire.TypeRm}, []byte("/nope"))
	if noReply || typ != xswire.TypeRm || len(payload) != 0 {
		t.Fatalf("expected empty XS_RM reply on failed rm (preserved quirk), got %v %q noReply=%v", typ, payload, noReply)
	}
}

func TestDirectoryOfMissingNodeRepliesEmptyNotError(t *testing.T) {
	s := store.New(nil)
	w := watch.New(s, nil)
	tbl := New(s, w)
	c := newTestContext(2)

	typ, payload, _ := tbl.Handle(c, xswire.Header{Type: xswire.TypeDirectory}, []byte("/nope"))
	if typ != xswire.TypeDirectory || len(payload) != 0 {
		t.Fatalf("expected empty non-error directory listing, got %v %q", typ, payload)
	}
}

func TestTransactionGating(t *testing.T) {
	s := store.New(nil)
	w := watch.New(s, nil)
	tbl := New(s, w)
	c := newTestContext(2)

	typ, payload, _ := tbl.Handle(c, xswire.Header{Type: xswire.TypeTransactionStart}, nil)
	if typ != xswire.TypeTransactionStart || string(payload) != "1\x00" {
		t.Fatalf("expected tx id 1, got %v %q", typ, payload)
	}

	typ, payload, _ = tbl.Handle(c, xswire.Header{Type: xswire.TypeTransactionStart}, nil)
	if typ != xswire.TypeError || !strings.Contains(string(payload), "EBUSY") {
		t.Fatalf("expected EBUSY on second start, got %v %q", typ, payload)
	}

	_, _, noReply := tbl.Handle(c, xswire.Header{Type: xswire.TypeTransactionEnd}, []byte("1\x00"))
	if !noReply {
		t.Fatal("TRANSACTION_END ack is deferred, dispatcher itself sends no reply")
	}
	if c.TransactionActive() {
		t.Fatal("transaction should be cleared immediately")
	}

	typ, payload, _ = tbl.Handle(c, xswire.Header{Type: xswire.TypeTransactionStart}, nil)
	if typ != xswire.TypeTransactionStart || string(payload) != "2\x00" {
		t.Fatalf("expected tx id 2 after end, got %v %q", typ, payload)
	}
}

func TestUnknownOpcodeIsENOSYS(t *testing.T) {
	s := store.New(nil)
	w := watch.New(s, nil)
	tbl := New(s, w)
	c := newTestContext(2)

	typ, payload, _ := tbl.Handle(c, xswire.Header{Type: xswire.Type(9999)}, nil)
	if typ != xswire.TypeError || !strings.Contains(string(payload), "ENOSYS") {
		t.Fatalf("expected ENOSYS, got %v %q", typ, payload)
	}
}
