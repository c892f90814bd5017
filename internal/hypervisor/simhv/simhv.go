// Package simhv is an in-process simulator of hypervisor.Interface, used
// by tests, the selftest CLI subcommand, and any environment without real
// Xen privileges. Grounded on bus.go's trie-of-subscribers registry and
// x/shmring/registry.go's handle-registry idiom, generalized to a flat
// port-number-keyed callback table: NotifyEvtchn(port) invokes whatever
// callback is currently registered at port, regardless of which side
// registered it.
//
// A guest's pre-shared port (the remotePort argument to
// BindInterdomainEventChannel) is a real map key here too: a guest-side
// test harness claims it first with RegisterCallback, then the server's
// Bind call simply records its own callback at a freshly allocated port.
// Each side ends up calling NotifyEvtchn on the *other* side's port
// number, exactly as hypervisor.Interface documents.
package simhv

import (
	"context"
	"sync"
	"sync/atomic"

	"xenstore-go/internal/hypervisor"
	"xenstore-go/internal/ring"
)

type Simulator struct {
	mu        sync.Mutex
	callbacks map[uint32]func()
	nextPort  atomic.Uint32
}

// New builds an empty simulator.
func New() *Simulator {
	return &Simulator{callbacks: make(map[uint32]func())}
}

// AllocatePort hands out a fresh port number for a caller (typically a
// guest-side test harness) that wants to claim a port before the server
// binds to it.
func (s *Simulator) AllocatePort() uint32 {
	return s.nextPort.Add(1)
}

// RegisterCallback claims port for a caller outside the normal
// lifecycle.Start path — the guest side of a simulated channel, which
// hypervisor.Interface has no vocabulary for since it is written from the
// server's point of view.
func (s *Simulator) RegisterCallback(port uint32, cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks[port] = cb
}

// MapRegion allocates a ring.Page backed by plain Go memory; pages and
// gpfn are accepted for interface compatibility and otherwise ignored.
func (s *Simulator) MapRegion(ctx context.Context, domID uint16, pages int, gpfn uint64) (*ring.Page, error) {
	return ring.NewPage(2048), nil
}

// UnmapRegion is a no-op: the Page is ordinary Go memory, collected once
// unreferenced.
func (s *Simulator) UnmapRegion(ctx context.Context, p *ring.Page) error {
	return nil
}

// BindInterdomainEventChannel allocates a fresh local port for cb and
// returns it. remotePort is not otherwise touched at bind time; the
// caller discovers it already live in the shared callback table if the
// peer registered first, or it becomes live later when the peer does.
func (s *Simulator) BindInterdomainEventChannel(domID uint16, remotePort uint32, cb func()) (uint32, error) {
	port := s.nextPort.Add(1)
	s.mu.Lock()
	s.callbacks[port] = cb
	s.mu.Unlock()
	return port, nil
}

// UnbindEventChannel clears the callback at port without forgetting the
// port number itself.
func (s *Simulator) UnbindEventChannel(port uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks[port] = nil
	return nil
}

// CloseEventChannel forgets port entirely.
func (s *Simulator) CloseEventChannel(port uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.callbacks, port)
	return nil
}

// NotifyEvtchn invokes the callback currently registered at port, if any.
func (s *Simulator) NotifyEvtchn(port uint32) {
	s.mu.Lock()
	cb := s.callbacks[port]
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// HVMSetParameter records nothing; the simulator has no guest-visible
// parameter store, so it simply succeeds.
func (s *Simulator) HVMSetParameter(domID uint16, param hypervisor.HVMParam, value uint64) error {
	return nil
}

var _ hypervisor.Interface = (*Simulator)(nil)
