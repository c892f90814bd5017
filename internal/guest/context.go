// Package guest implements the per-guest connection state
// and worker loop that owns one ring, decodes frames, drives the
// dispatcher, and wakes on event-channel callbacks.
package guest

import (
	"sync"

	"xenstore-go/internal/ring"
)

// Context is everything owned by one connected guest: its domid, the two
// ring views, the local event-channel notifier, a binary wake semaphore,
// and transaction bookkeeping.
type Context struct {
	DomID uint32

	Page     *ring.Page
	ReqIn    *ring.Ring // server's view: guest produces, server consumes
	RspOut   *ring.Ring // server's view: server produces, guest consumes
	Notifier ring.Notifier

	wake chan struct{}
	stop chan struct{}

	txMu          sync.Mutex
	txCounter     uint32
	txCurrent     uint32
	pendingStop   bool
	pendingStopID uint32
}

// NewContext builds a guest context over an already-mapped Page. notifier
// signals the guest's local event-channel port.
func NewContext(domid uint32, page *ring.Page, notifier ring.Notifier) *Context {
	return &Context{
		DomID:    domid,
		Page:     page,
		ReqIn:    page.ServerRequestReader(notifier),
		RspOut:   page.ServerResponseWriter(notifier),
		Notifier: notifier,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// Wake signals the guest's binary wake semaphore. Coalesced: multiple
// signals between wakeups collapse to one.
func (c *Context) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Stop requests the worker loop exit after its current dispatch.
func (c *Context) Stop() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

// TransactionActive reports whether a transaction is currently running.
func (c *Context) TransactionActive() bool {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	return c.txCurrent != 0
}

// BeginTransaction allocates the next transaction id and marks it running.
// Fails if one is already running.
func (c *Context) BeginTransaction() (uint32, bool) {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	if c.txCurrent != 0 {
		return 0, false
	}
	c.txCounter++
	c.txCurrent = c.txCounter
	return c.txCurrent, true
}

// RequestEndTransaction defers the TRANSACTION_END acknowledgment: it
// clears the running transaction immediately (so subsequent requests are
// not blocked) but the ack itself is sent by the worker loop at the top
// of its next iteration, after any in-flight replies have drained.
func (c *Context) RequestEndTransaction(txID uint32) {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	c.txCurrent = 0
	c.pendingStop = true
	c.pendingStopID = txID
}

// TakeDeferredStop reports and clears a pending deferred TRANSACTION_END
// ack, if one is set.
func (c *Context) TakeDeferredStop() (uint32, bool) {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	if !c.pendingStop {
		return 0, false
	}
	c.pendingStop = false
	return c.pendingStopID, true
}
