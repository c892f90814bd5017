package guest

import (
	"sync"

	"xenstore-go/internal/metrics"
)

// Registry tracks live guest contexts and the worker-stack slot bitmap:
// a fixed-size bit-set sized to the configured maximum guest count,
// guarded by its own leaf lock that is never held alongside the store,
// watch-registry, or pending-queue locks.
type Registry struct {
	slotsMu sync.Mutex
	slots   []bool

	ctxMu   sync.Mutex
	byDomID map[uint32]*Context
}

// NewRegistry builds a registry with maxDomains worker-stack slots.
func NewRegistry(maxDomains int) *Registry {
	return &Registry{
		slots:   make([]bool, maxDomains),
		byDomID: make(map[uint32]*Context),
	}
}

// AllocateSlot claims the lowest-numbered free slot, reporting false if
// the worker stack is full (MAX_DOMAINS reached).
func (r *Registry) AllocateSlot() (int, bool) {
	r.slotsMu.Lock()
	defer r.slotsMu.Unlock()
	for i, used := range r.slots {
		if !used {
			r.slots[i] = true
			return i, true
		}
	}
	return 0, false
}

// ReleaseSlot frees a previously allocated worker-stack slot.
func (r *Registry) ReleaseSlot(slot int) {
	r.slotsMu.Lock()
	defer r.slotsMu.Unlock()
	if slot >= 0 && slot < len(r.slots) {
		r.slots[slot] = false
	}
}

// Add registers a live guest context, making it reachable by domid.
func (r *Registry) Add(c *Context) {
	r.ctxMu.Lock()
	r.byDomID[c.DomID] = c
	n := len(r.byDomID)
	r.ctxMu.Unlock()
	metrics.ActiveGuests.Set(float64(n))
}

// Remove forgets a guest context, typically once its worker has joined.
func (r *Registry) Remove(domID uint32) {
	r.ctxMu.Lock()
	delete(r.byDomID, domID)
	n := len(r.byDomID)
	r.ctxMu.Unlock()
	metrics.ActiveGuests.Set(float64(n))
}

// Get looks up a live guest context by domid.
func (r *Registry) Get(domID uint32) (*Context, bool) {
	r.ctxMu.Lock()
	defer r.ctxMu.Unlock()
	c, ok := r.byDomID[domID]
	return c, ok
}

// DomIDs returns the domids of every currently live guest context, in no
// particular order.
func (r *Registry) DomIDs() []uint32 {
	r.ctxMu.Lock()
	defer r.ctxMu.Unlock()
	ids := make([]uint32, 0, len(r.byDomID))
	for id := range r.byDomID {
		ids = append(ids, id)
	}
	return ids
}

// Count reports the number of live guest contexts.
func (r *Registry) Count() int {
	r.ctxMu.Lock()
	defer r.ctxMu.Unlock()
	return len(r.byDomID)
}

// Wake signals domID's wake semaphore if it is currently connected,
// satisfying watch.Waker so a *Registry can be passed straight to
// watch.New.
func (r *Registry) Wake(domID uint32) {
	if c, ok := r.Get(domID); ok {
		c.Wake()
	}
}
