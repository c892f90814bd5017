// Package guesttest drives the guest side of a ring.Page the way a real
// guest kernel's xenbus client would: it writes request frames into the
// request ring, blocks for a notification, and reads reply/watch-event
// frames back off the response ring. It exists for the end-to-end
// scenario tests, which must exercise the real frame codec and
// ring instead of calling internal packages directly.
package guesttest

import (
	"fmt"
	"sync"
	"time"

	"xenstore-go/internal/hypervisor/simhv"
	"xenstore-go/internal/ring"
	"xenstore-go/internal/xswire"
)

// Guest is one simulated client: its own event-channel port plus guest-side
// ring views over a Page mapped by the service under test.
type Guest struct {
	hv   *simhv.Simulator
	port uint32

	reqOut *ring.Ring
	rspIn  *ring.Ring

	mu         sync.Mutex
	woken      chan struct{}
	reqID      uint32
	serverPort uint32
}

// NewGuest claims a fresh port on hv for a guest that has not connected
// yet. Pass Port() as the remotePort argument to lifecycle.Manager.Start,
// then call Bind once the server has mapped the page and returned its own
// local port.
func NewGuest(hv *simhv.Simulator) *Guest {
	g := &Guest{hv: hv, woken: make(chan struct{}, 1)}
	g.port = hv.AllocatePort()
	hv.RegisterCallback(g.port, g.wake)
	return g
}

// Port is the guest's pre-shared event-channel port, passed as remotePort
// to lifecycle.Manager.Start.
func (g *Guest) Port() uint32 { return g.port }

// Bind wires the guest-side ring views over the page the server mapped,
// and records the server's local port so writes can notify it.
func (g *Guest) Bind(page *ring.Page, serverPort uint32) {
	g.mu.Lock()
	g.serverPort = serverPort
	g.mu.Unlock()
	notifier := serverNotifier{hv: g.hv, guest: g}
	g.reqOut = page.GuestRequestWriter(notifier)
	g.rspIn = page.GuestResponseReader(notifier)
}

func (g *Guest) wake() {
	select {
	case g.woken <- struct{}{}:
	default:
	}
}

// serverNotifier lets the guest's own ring views nudge the server; the
// server's localPort is supplied once known via Bind, so Notify reads it
// lazily and does nothing until it is set.
type serverNotifier struct {
	hv    *simhv.Simulator
	guest *Guest
}

func (n serverNotifier) Notify() {
	n.guest.mu.Lock()
	port := n.guest.serverPort
	n.guest.mu.Unlock()
	if port != 0 {
		n.hv.NotifyEvtchn(port)
	}
}

// Request writes one request frame and blocks (with a generous test
// timeout) for a reply frame, returning its type and payload. txID lets a
// caller address an open transaction; pass 0 outside one.
func (g *Guest) Request(typ xswire.Type, txID uint32, payload []byte) (xswire.Type, []byte, error) {
	g.mu.Lock()
	g.reqID++
	reqID := g.reqID
	g.mu.Unlock()

	hdr := xswire.Header{Type: typ, ReqID: reqID, TxID: txID, Len: uint32(len(payload))}
	enc := hdr.Encode()
	g.writeAll(enc[:])
	if len(payload) > 0 {
		g.writeAll(payload)
	}

	return g.readReply(5 * time.Second)
}

// WaitEvent blocks for the next WATCH_EVENT frame, with no request of its
// own, used when a watch fires asynchronously.
func (g *Guest) WaitEvent(timeout time.Duration) (path, token string, err error) {
	typ, payload, err := g.readReply(timeout)
	if err != nil {
		return "", "", err
	}
	if typ != xswire.TypeWatchEvent {
		return "", "", fmt.Errorf("guesttest: expected WATCH_EVENT, got %s", typ)
	}
	fields := xswire.SplitNulFields(payload, 2)
	return string(fields[0]), string(xswire.TrimNul(fields[1])), nil
}

func (g *Guest) readReply(timeout time.Duration) (xswire.Type, []byte, error) {
	deadline := time.Now().Add(timeout)

	var hdrBuf [xswire.HeaderSize]byte
	if err := g.readExactly(hdrBuf[:], deadline); err != nil {
		return 0, nil, err
	}
	hdr := xswire.DecodeHeader(hdrBuf[:])
	body := make([]byte, hdr.Len)
	if hdr.Len > 0 {
		if err := g.readExactly(body, deadline); err != nil {
			return 0, nil, err
		}
	}
	return hdr.Type, body, nil
}

func (g *Guest) readExactly(dst []byte, deadline time.Time) error {
	got := 0
	for got < len(dst) {
		n := g.rspIn.TryReadInto(dst[got:])
		got += n
		if got == len(dst) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("guesttest: timed out waiting for %d bytes", len(dst))
		}
		select {
		case <-g.woken:
		case <-time.After(10 * time.Millisecond):
		}
	}
	return nil
}

func (g *Guest) writeAll(buf []byte) {
	off := 0
	for off < len(buf) {
		n := g.reqOut.TryWriteFrom(buf[off:])
		off += n
		if n == 0 {
			time.Sleep(time.Millisecond)
		}
	}
}
