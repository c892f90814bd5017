package ring

import "sync/atomic"

// Feature bits for Page.ServerFeatures.
const (
	FeatureReconnection uint32 = 1 << 0
)

// Connection states for Page.Connection.
const (
	ConnectionDisconnected uint32 = 0
	ConnectionConnected    uint32 = 1
	ConnectionReconnecting uint32 = 2
)

// Page is the Go expression of struct xenstore_domain_interface: the shared
// memory page mapped into both the server and the guest, holding the two
// byte rings and their four free-running indices plus the two feature
// words set once at connection time. A real deployment maps this out of
// guest-physical memory (see internal/hypervisor); tests and the
// self-test binary allocate it as plain Go memory.
type Page struct {
	Req []byte
	Rsp []byte

	ReqCons atomic.Uint32
	ReqProd atomic.Uint32
	RspCons atomic.Uint32
	RspProd atomic.Uint32

	ServerFeatures atomic.Uint32
	Connection     atomic.Uint32
}

// NewPage allocates a Page with request/response rings of the given
// power-of-two capacity (the XENSTORE_RING_SIZE).
func NewPage(size int) *Page {
	if size < 2 || size&(size-1) != 0 {
		panic("ring: page size must be power of two >= 2")
	}
	return &Page{
		Req: make([]byte, size),
		Rsp: make([]byte, size),
	}
}

// ServerRequestReader returns the server's view of the request ring: the
// guest produces (ReqProd), the server consumes (ReqCons). notifier is the
// server's local event channel, signalled when the ring is found empty.
func (p *Page) ServerRequestReader(notifier Notifier) *Ring {
	return newRing(p.Req, &p.ReqCons, &p.ReqProd, notifier)
}

// ServerResponseWriter returns the server's view of the response ring: the
// server produces (RspProd), the guest consumes (RspCons).
func (p *Page) ServerResponseWriter(notifier Notifier) *Ring {
	return newRing(p.Rsp, &p.RspCons, &p.RspProd, notifier)
}

// GuestRequestWriter returns the guest's view of the request ring, used by
// the guest-simulation test harness to drive scenarios end-to-end.
func (p *Page) GuestRequestWriter(notifier Notifier) *Ring {
	return newRing(p.Req, &p.ReqCons, &p.ReqProd, notifier)
}

// GuestResponseReader returns the guest's view of the response ring.
func (p *Page) GuestResponseReader(notifier Notifier) *Ring {
	return newRing(p.Rsp, &p.RspCons, &p.RspProd, notifier)
}

// MarkConnected sets the feature/connection words the way start_domain_stored
// does immediately after mapping the page.
func (p *Page) MarkConnected() {
	p.ServerFeatures.Store(FeatureReconnection)
	p.Connection.Store(ConnectionConnected)
}
