// Package mmaphv backs hypervisor.Interface with a real anonymous memory
// mapping via golang.org/x/sys/unix, standing in for a guest-physical page
// on a Linux control domain that has no Xen privilege to map one for
// real. It demonstrates the actual shared-memory boundary with real
// syscalls; event-channel semantics are approximated with a goroutine
// wake since there is no real event channel outside an actual hypervisor.
package mmaphv

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"xenstore-go/internal/hypervisor"
	"xenstore-go/internal/ring"
)

const pageSize = 4096

// Adapter maps guest rings via unix.Mmap and delivers event-channel
// notifications by running the callback registered at the notified port,
// like simhv.Simulator but over real mapped memory; unlike the simulator,
// each callback runs in its own goroutine rather than synchronously.
type Adapter struct {
	mu        sync.Mutex
	callbacks map[uint32]func()
	nextPort  atomic.Uint32
}

// New builds an mmap-backed adapter.
func New() *Adapter {
	return &Adapter{callbacks: make(map[uint32]func())}
}

// MapRegion reserves pages*pageSize bytes of anonymous memory (rounded up
// to at least two pages so the request and response rings each get a
// full page) and splits it into the two byte rings of a ring.Page. gpfn
// identifies the guest-physical frame in a real hypervisor; here it is
// recorded for diagnostics only.
func (a *Adapter) MapRegion(ctx context.Context, domID uint16, pages int, gpfn uint64) (*ring.Page, error) {
	if pages < 2 {
		pages = 2
	}
	size := pages * pageSize
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmaphv: mmap domain %d gpfn %#x: %w", domID, gpfn, err)
	}
	half := size / 2
	return &ring.Page{Req: buf[:half], Rsp: buf[half:]}, nil
}

// UnmapRegion releases the mapping backing p. Req and Rsp were carved out
// of one contiguous mmap'd buffer by MapRegion, so Req's capacity already
// spans the whole original mapping.
func (a *Adapter) UnmapRegion(ctx context.Context, p *ring.Page) error {
	if err := unix.Munmap(p.Req[:cap(p.Req)]); err != nil {
		return fmt.Errorf("mmaphv: munmap: %w", err)
	}
	return nil
}

// BindInterdomainEventChannel allocates a fresh local port and installs cb
// to run whenever that port is notified.
func (a *Adapter) BindInterdomainEventChannel(domID uint16, remotePort uint32, cb func()) (uint32, error) {
	port := a.nextPort.Add(1)
	a.mu.Lock()
	a.callbacks[port] = cb
	a.mu.Unlock()
	return port, nil
}

func (a *Adapter) UnbindEventChannel(port uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callbacks[port] = nil
	return nil
}

func (a *Adapter) CloseEventChannel(port uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.callbacks, port)
	return nil
}

// NotifyEvtchn runs the registered callback, if any, in its own goroutine
// so a slow handler never blocks the notifying side — there is no real
// event channel here to provide that decoupling for us.
func (a *Adapter) NotifyEvtchn(port uint32) {
	a.mu.Lock()
	cb := a.callbacks[port]
	a.mu.Unlock()
	if cb != nil {
		go cb()
	}
}

// HVMSetParameter has nothing to publish to outside this process; it
// always succeeds.
func (a *Adapter) HVMSetParameter(domID uint16, param hypervisor.HVMParam, value uint64) error {
	return nil
}

var _ hypervisor.Interface = (*Adapter)(nil)
