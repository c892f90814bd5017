package ring

import "testing"

type fakeIO struct{ k int }

func (f fakeIO) write(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	if len(p) > f.k {
		return f.k
	}
	return len(p)
}

func TestOrderAcrossWrapWithPartialProgress(t *testing.T) {
	p := NewPage(64)
	wr := p.GuestRequestWriter(nil)
	rd := p.ServerRequestReader(nil)
	prod := fakeIO{k: 7}

	const N = 2000
	src := make([]byte, N)
	for i := range src {
		src[i] = byte(i)
	}

	in := src
	dst := make([]byte, N)
	off := 0

	for off < N {
		if len(in) > 0 {
			step := prod.write(in)
			if step > 0 {
				step = wr.TryWriteFrom(in[:step])
				in = in[step:]
			}
		}

		var tmp [17]byte
		n := rd.TryReadInto(tmp[:])
		if n > 0 {
			copy(dst[off:], tmp[:n])
			off += n
		}
	}

	for i := 0; i < N; i++ {
		if dst[i] != src[i] {
			t.Fatalf("mismatch at %d: got=%d want=%d", i, dst[i], src[i])
		}
	}
}

func TestReadableWritableEdges(t *testing.T) {
	p := NewPage(8)
	wr := p.GuestRequestWriter(nil)
	rd := p.ServerRequestReader(nil)

	select {
	case <-rd.Readable():
		t.Fatal("unexpected Readable on empty ring")
	default:
	}
	n := wr.TryWriteFrom([]byte{1, 2, 3})
	if n != 3 {
		t.Fatalf("write 3 -> %d", n)
	}
	select {
	case <-rd.Readable():
	default:
		t.Fatal("expected Readable")
	}
	select {
	case <-rd.Readable():
		t.Fatal("unexpected extra Readable (should be edge-coalesced)")
	default:
	}
	rd.TryReadInto(make([]byte, 3))
}

func TestRecoverResetsCorruptedIndices(t *testing.T) {
	p := NewPage(16)
	rd := p.ServerRequestReader(nil)

	p.ReqCons.Store(0)
	p.ReqProd.Store(100) // delta (100) > capacity (16): corrupted

	if !rd.Recover() {
		t.Fatal("expected Recover to detect corruption")
	}
	if p.ReqCons.Load() != 0 || p.ReqProd.Load() != 0 {
		t.Fatalf("expected indices reset to zero, got cons=%d prod=%d", p.ReqCons.Load(), p.ReqProd.Load())
	}

	// A well-formed frame is accepted normally afterwards.
	wr := p.GuestRequestWriter(nil)
	if n := wr.TryWriteFrom([]byte("hello")); n != 5 {
		t.Fatalf("post-recovery write = %d, want 5", n)
	}
	buf := make([]byte, 5)
	if n := rd.TryReadInto(buf); n != 5 || string(buf) != "hello" {
		t.Fatalf("post-recovery read = %q", buf[:n])
	}
}

type countingNotifier struct{ n int }

func (c *countingNotifier) Notify() { c.n++ }

func TestReadNotifiesOnEmpty(t *testing.T) {
	p := NewPage(8)
	notif := &countingNotifier{}
	rd := p.ServerRequestReader(notif)

	n := rd.Read(make([]byte, 4))
	if n != 0 {
		t.Fatalf("expected 0 bytes from empty ring, got %d", n)
	}
	if notif.n != 1 {
		t.Fatalf("expected exactly one Notify on empty read, got %d", notif.n)
	}

	wr := p.GuestRequestWriter(nil)
	wr.TryWriteFrom([]byte("ab"))
	if n := rd.Read(make([]byte, 4)); n != 2 {
		t.Fatalf("expected 2 bytes, got %d", n)
	}
	if notif.n != 1 {
		t.Fatalf("Notify should not fire again on a successful read, got %d calls", notif.n)
	}
}
