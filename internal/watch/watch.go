// Package watch implements watch subscriptions keyed by
// prefix+token, and the per-guest pending-event queue that fans store
// mutations out to interested guests.
package watch

import (
	"strings"
	"sync"

	"xenstore-go/internal/xspath"
)

// Waker signals a guest's wake semaphore. Satisfied by *guest.Registry in
// the running service; an interface here so watch does not depend on
// guest.
type Waker interface {
	Wake(guest uint32)
}

type noopWaker struct{}

func (noopWaker) Wake(uint32) {}

// Exister reports whether path currently resolves to a node in the store,
// used by Add to decide whether to fire the initial event. Satisfied by
// *store.Store.
type Exister interface {
	Read(path string) ([]byte, error)
}

// Watch is one subscription: guest is the owning domid, Key is the
// absolute byte-prefix it watches, Token is the caller's opaque handle,
// and IsRelative records whether the original wire payload was relative
// (so delivered paths are rewritten the same way on drain).
type Watch struct {
	Guest      uint32
	Key        string
	Token      string
	IsRelative bool
}

// Event is one XS_WATCH_EVENT ready to frame: Path has already been
// rewritten relative to the guest's home subtree if the matching watch
// was registered in relative form.
type Event struct {
	Path  string
	Token string
}

// pendingEvent is (target guest, absolute path): no token is captured at
// notify time, matching tokens are resolved against the live watch list
// when the guest drains.
type pendingEvent struct {
	guest uint32
	path  string
}

// Registry is the process-wide watch subscription set plus pending-event
// queue. Registry.mu guards the subscription set and Registry.qmu the
// pending queue (the registry here plays both the "registry" and "queue"
// roles). The two are never held at the same time: each method releases
// one before taking the other, and Drain takes qmu before mu.
type Registry struct {
	mu      sync.Mutex
	watches []*Watch

	qmu     sync.Mutex
	pending map[uint32][]pendingEvent

	store Exister
	waker Waker
}

// New constructs an empty registry. A nil waker is replaced with a no-op.
func New(store Exister, waker Waker) *Registry {
	if waker == nil {
		waker = noopWaker{}
	}
	return &Registry{
		pending: make(map[uint32][]pendingEvent),
		store:   store,
		waker:   waker,
	}
}

// SetStore wires the store after construction, for the common case where
// the store's Notifier is this registry and the registry's Exister is the
// store: one of the two references has to be patched in after both
// objects exist. Only needed by that wiring path; New already accepts a
// store directly when no cycle is involved.
func (r *Registry) SetStore(store Exister) {
	r.store = store
}

// Add registers a watch for guest on key with the given token. If a watch
// with the same (key, token) already exists for any guest, its IsRelative
// flag is updated in place instead of inserting a duplicate. If key
// currently resolves to a node, one initial pending event fires for the
// adding guest so newly registered watches observe existing state.
func (r *Registry) Add(guest uint32, key, token string, isRelative bool) {
	existed := false
	if r.store != nil {
		if _, err := r.store.Read(key); err == nil {
			existed = true
		}
	}

	r.mu.Lock()
	for _, w := range r.watches {
		if w.Key == key && w.Token == token {
			w.IsRelative = isRelative
			r.mu.Unlock()
			if existed {
				r.enqueue(guest, key)
				r.waker.Wake(guest)
			}
			return
		}
	}
	r.watches = append(r.watches, &Watch{Guest: guest, Key: key, Token: token, IsRelative: isRelative})
	r.mu.Unlock()

	if existed {
		r.enqueue(guest, key)
		r.waker.Wake(guest)
	}
}

// Remove removes at most one watch owned by guest matching (key, token).
func (r *Registry) Remove(guest uint32, key, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, w := range r.watches {
		if w.Guest == guest && w.Key == key && w.Token == token {
			r.watches = append(r.watches[:i], r.watches[i+1:]...)
			return
		}
	}
}

// Reset removes ALL watches globally, matching the source's
// handle_reset_watches: this is a wire-protocol requirement, not a
// per-guest reset, despite the opcode name. Preserved as-is. The guest argument is accepted for symmetry with the wire
// opcode but does not scope the purge.
func (r *Registry) Reset(guest uint32) {
	r.mu.Lock()
	r.watches = nil
	r.mu.Unlock()
}

// Notify matches path against every registered watch's key (byte-prefix,
// not segment-aware — P=/abc matches a watch on K=/ab). A watch owned by
// originDomID is skipped (self-change suppression), exactly as in the
// source; in-process mutations pass originDomID=0, which only suppresses
// watches a guest numbered 0 happens to own.
func (r *Registry) Notify(path string, originDomID uint32) {
	r.mu.Lock()
	targets := make(map[uint32]struct{})
	for _, w := range r.watches {
		if w.Guest == originDomID {
			continue
		}
		if !strings.HasPrefix(path, w.Key) {
			continue
		}
		targets[w.Guest] = struct{}{}
	}
	r.mu.Unlock()

	for g := range targets {
		r.enqueue(g, path)
		r.waker.Wake(g)
	}
}

func (r *Registry) enqueue(guest uint32, path string) {
	r.qmu.Lock()
	r.pending[guest] = append(r.pending[guest], pendingEvent{guest: guest, path: path})
	r.qmu.Unlock()
}

// Drain dequeues every pending event targeting guest and resolves each
// one against the live watch list, producing one Event per (pending path,
// matching watch owned by guest) pair, in pending-event arrival order.
// event_path has the guest's home subtree stripped when the matching
// watch was registered in relative form, per the WATCH_EVENT payload rule
// downstream.
func (r *Registry) Drain(guest uint32) []Event {
	r.qmu.Lock()
	evs := r.pending[guest]
	delete(r.pending, guest)
	r.qmu.Unlock()

	if len(evs) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Event
	home := xspath.HomeSubtree(guest)
	for _, pe := range evs {
		for _, w := range r.watches {
			if w.Guest != guest {
				continue
			}
			if !strings.HasPrefix(pe.path, w.Key) {
				continue
			}
			p := pe.path
			if w.IsRelative && strings.HasPrefix(p, home) {
				p = p[len(home):]
			}
			out = append(out, Event{Path: p, Token: w.Token})
		}
	}
	return out
}

// Purge removes every watch owned by guest and discards every pending
// event targeting it, on guest teardown.
func (r *Registry) Purge(guest uint32) {
	r.mu.Lock()
	kept := r.watches[:0]
	for _, w := range r.watches {
		if w.Guest != guest {
			kept = append(kept, w)
		}
	}
	r.watches = kept
	r.mu.Unlock()

	r.qmu.Lock()
	delete(r.pending, guest)
	r.qmu.Unlock()
}
