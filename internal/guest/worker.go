package guest

import (
	"context"
	"runtime"

	"xenstore-go/internal/evbus"
	"xenstore-go/internal/metrics"
	"xenstore-go/internal/watch"
	"xenstore-go/internal/xswire"
)

// Handler dispatches one fully-received request frame and produces the
// reply to write back, or requests no reply at all (the RM-replies-
// only-on-failure quirk and TRANSACTION_END's deferred ack both use
// noReply=true from here; the worker sends TRANSACTION_END's ack itself
// on a later iteration).
type Handler func(c *Context, hdr xswire.Header, payload []byte) (replyType xswire.Type, replyPayload []byte, noReply bool)

type state int

const (
	stIdle state = iota
	stReadingHeader
	stReadingBody
	stDiscarding
)

// Worker drives one guest's state machine: Idle,
// ReadingHeader, ReadingBody, Dispatching folded into the ReadingBody
// completion step, and Stopping.
type Worker struct {
	ctx     *Context
	handler Handler
	watches *watch.Registry
	bus     *evbus.Bus

	st        state
	hdrBuf    [xswire.HeaderSize]byte
	hdrGot    int
	curHdr    xswire.Header
	body      []byte
	bodyGot   int
	discardN  int
}

// NewWorker builds a worker bound to one guest context, a watch registry
// for draining that guest's pending events, and the dispatch handler. bus
// receives ring-reset admin notifications and may be nil.
func NewWorker(c *Context, watches *watch.Registry, handler Handler, bus *evbus.Bus) *Worker {
	return &Worker{ctx: c, watches: watches, handler: handler, bus: bus}
}

// Run drives the worker loop until ctx is cancelled or the guest context
// is stopped, at which point it purges the watch registry of this
// guest's state before returning. The error return is
// always nil; it exists so Run satisfies golang.org/x/sync/errgroup's
// func() error shape for the lifecycle manager's guest supervision.
func (w *Worker) Run(ctx context.Context) error {
	defer w.watches.Purge(w.ctx.DomID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.ctx.stop:
			return nil
		default:
		}

		// Runs every iteration, not just from stIdle: the worker only
		// passes through stIdle momentarily before moving on to
		// stReadingHeader and parking there, so gating this on w.st would
		// starve the drain until some unrelated request happened to land.
		if id, ok := w.ctx.TakeDeferredStop(); ok {
			w.sendReply(0, id, xswire.TypeTransactionEnd, []byte("OK\x00"))
		}
		if !w.ctx.TransactionActive() {
			for _, ev := range w.watches.Drain(w.ctx.DomID) {
				payload := []byte(ev.Path + "\x00" + ev.Token + "\x00")
				w.sendReply(0, 0, xswire.TypeWatchEvent, payload)
				metrics.WatchEventsTotal.Inc()
			}
		}

		if !w.step(ctx) {
			return nil
		}
	}
}

// step advances the state machine by one non-blocking read attempt,
// waiting on the wake semaphore only when nothing at all is available.
// Returns false if the worker should stop.
func (w *Worker) step(ctx context.Context) bool {
	switch w.st {
	case stIdle:
		w.hdrGot = 0
		w.st = stReadingHeader
		return w.step(ctx)

	case stReadingHeader:
		// Checked on every attempt to start a new header, including after
		// a wakeup while parked here, not only on the pass through stIdle.
		if w.hdrGot == 0 && w.ctx.ReqIn.Recover() {
			metrics.RingResetsTotal.Inc()
			if w.bus != nil {
				w.bus.Publish(evbus.Event{Topic: evbus.TopicRingReset, DomID: w.ctx.DomID})
			}
		}
		n := w.ctx.ReqIn.Read(w.hdrBuf[w.hdrGot:])
		w.hdrGot += n
		if w.hdrGot < xswire.HeaderSize {
			return w.wait(ctx)
		}
		w.curHdr = xswire.DecodeHeader(w.hdrBuf[:])
		if int(w.curHdr.Len) > w.ctx.ReqIn.Cap() {
			w.sendReply(w.curHdr.ReqID, w.curHdr.TxID, xswire.TypeError, []byte("EINVAL\x00"))
			w.discardN = int(w.curHdr.Len)
			w.st = stDiscarding
			return true
		}
		w.body = make([]byte, w.curHdr.Len)
		w.bodyGot = 0
		w.st = stReadingBody
		return true

	case stReadingBody:
		if w.bodyGot < len(w.body) {
			n := w.ctx.ReqIn.Read(w.body[w.bodyGot:])
			w.bodyGot += n
			if w.bodyGot < len(w.body) {
				return w.wait(ctx)
			}
		}
		w.dispatch()
		if w.ctx.ReqIn.Available() > 0 {
			w.st = stReadingHeader
			w.hdrGot = 0
		} else {
			w.st = stIdle
		}
		return true

	case stDiscarding:
		if w.discardN > 0 {
			var scratch [256]byte
			want := len(scratch)
			if w.discardN < want {
				want = w.discardN
			}
			n := w.ctx.ReqIn.Read(scratch[:want])
			w.discardN -= n
			if n == 0 {
				return w.wait(ctx)
			}
			return true
		}
		w.st = stIdle
		return true
	}
	return true
}

// wait blocks until woken, cancelled, or stopped.
func (w *Worker) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-w.ctx.stop:
		return false
	case <-w.ctx.wake:
		return true
	}
}

func (w *Worker) dispatch() {
	replyType, replyPayload, noReply := w.handler(w.ctx, w.curHdr, w.body)

	outcome := "ok"
	if replyType == xswire.TypeError {
		outcome = "error"
	}
	metrics.RequestsTotal.WithLabelValues(w.curHdr.Type.String(), outcome).Inc()

	if noReply {
		return
	}
	w.sendReply(w.curHdr.ReqID, w.curHdr.TxID, replyType, replyPayload)
}

// sendReply writes the two-phase framed reply: header, notify,
// payload, notify.
func (w *Worker) sendReply(reqID, txID uint32, typ xswire.Type, payload []byte) {
	hdr := xswire.Header{Type: typ, ReqID: reqID, TxID: txID, Len: uint32(len(payload))}
	enc := hdr.Encode()
	writeAll(w.ctx.RspOut, enc[:])
	w.ctx.Notifier.Notify()
	if len(payload) > 0 {
		writeAll(w.ctx.RspOut, payload)
	}
	w.ctx.Notifier.Notify()
}

// writeAll spins TryWriteFrom until every byte of buf is committed. The
// response ring is sized so a correctly behaving server never blocks here
// for long; a full ring simply retries.
func writeAll(r interface {
	TryWriteFrom([]byte) int
}, buf []byte) {
	off := 0
	for off < len(buf) {
		n := r.TryWriteFrom(buf[off:])
		if n == 0 {
			runtime.Gosched()
			continue
		}
		off += n
	}
}
