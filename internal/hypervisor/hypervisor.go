// Package hypervisor declares the external collaborator interface of
// page mapping, interdomain event channels, and HVM parameters: an
// opaque outside interface, out of scope for the protocol core itself.
// This package gives it a concrete Go shape with two implementations,
// hypervisor/simhv (an in-process simulator used by tests and the
// self-test binary) and hypervisor/mmaphv (a real
// golang.org/x/sys/unix.Mmap-backed adapter).
package hypervisor

import (
	"context"

	"xenstore-go/internal/ring"
)

// HVMParam names one of the HVM parameters the service can set on a
// domain, mirroring HVM_PARAM_STORE_EVTCHN in the original source.
type HVMParam int

const (
	HVMParamStoreEvtchn HVMParam = iota
	HVMParamStorePFN
)

// Interface is everything the lifecycle manager (4.G) needs from the
// hypervisor to start and stop a guest's connection.
type Interface interface {
	// MapRegion maps pages worth of guest-physical memory starting at
	// gpfn into a *ring.Page the server can read and write directly.
	MapRegion(ctx context.Context, domID uint16, pages int, gpfn uint64) (*ring.Page, error)
	// UnmapRegion releases a page mapped by MapRegion.
	UnmapRegion(ctx context.Context, p *ring.Page) error

	// BindInterdomainEventChannel binds a local event-channel port to
	// domID's remotePort, installing cb to run whenever the peer
	// notifies. Returns the allocated local port.
	BindInterdomainEventChannel(domID uint16, remotePort uint32, cb func()) (localPort uint32, err error)
	// UnbindEventChannel disconnects a local port from its peer without
	// releasing the port itself.
	UnbindEventChannel(localPort uint32) error
	// CloseEventChannel releases a local port entirely.
	CloseEventChannel(localPort uint32) error
	// NotifyEvtchn runs the callback registered at port. Both adapters
	// in this repository work this way, so a caller passes the port of
	// the side it wants to wake (the lifecycle manager passes the guest's
	// remotePort); notifying a port does not signal a peer bound to it.
	NotifyEvtchn(port uint32)

	// HVMSetParameter publishes an HVM parameter (e.g. the local
	// event-channel port) so the guest can discover it.
	HVMSetParameter(domID uint16, param HVMParam, value uint64) error
}

// evtchnNotifier adapts a bound local port on an Interface to ring.Notifier
// so a *ring.Ring can signal it without knowing about hypervisor ports.
type evtchnNotifier struct {
	hv   Interface
	port uint32
}

// Notifier returns a ring.Notifier that calls hv.NotifyEvtchn(port).
func Notifier(hv Interface, port uint32) ring.Notifier {
	return evtchnNotifier{hv: hv, port: port}
}

func (n evtchnNotifier) Notify() { n.hv.NotifyEvtchn(n.port) }
