// Package lifecycle implements starting and stopping a
// guest's connection — mapping its ring, binding its event channel,
// allocating a worker-stack slot, and spawning/joining its worker.
package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"xenstore-go/internal/dispatch"
	"xenstore-go/internal/evbus"
	"xenstore-go/internal/guest"
	"xenstore-go/internal/hypervisor"
	"xenstore-go/internal/ring"
	"xenstore-go/internal/watch"
)

// Manager owns the hypervisor adapter and the live guest/worker-stack
// registry, and supervises every guest worker goroutine through one
// errgroup so a panic or error in one guest's worker is captured as that
// worker's error (returned by the group's Wait) without crashing the
// process.
type Manager struct {
	hv      hypervisor.Interface
	guests  *guest.Registry
	table   *dispatch.Table
	watches *watch.Registry
	bus     *evbus.Bus

	group *errgroup.Group

	mu     sync.Mutex
	slots  map[uint32]int
	ports  map[uint32]uint32
	cancel map[uint32]context.CancelFunc
}

// New builds a lifecycle manager. group is the errgroup every guest
// worker is spawned onto; the caller owns group.Wait(). bus receives
// guest-connected/disconnected admin notifications and may be nil,
// in which case lifecycle events are simply not published.
func New(hv hypervisor.Interface, guests *guest.Registry, watches *watch.Registry, table *dispatch.Table, group *errgroup.Group, bus *evbus.Bus) *Manager {
	return &Manager{
		hv:      hv,
		guests:  guests,
		table:   table,
		watches: watches,
		bus:     bus,
		group:   group,
		slots:   make(map[uint32]int),
		ports:   make(map[uint32]uint32),
		cancel:  make(map[uint32]context.CancelFunc),
	}
}

func (m *Manager) publish(ev evbus.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}

// Start runs the start sequence for domID: map the ring, mark it
// connected, bind the event channel, publish the local port via the HVM
// parameter, allocate a worker-stack slot, and spawn the worker. Any step
// failure unwinds the steps already taken.
func (m *Manager) Start(ctx context.Context, domID uint16, remotePort uint32, gpfn uint64) error {
	slot, ok := m.guests.AllocateSlot()
	if !ok {
		return fmt.Errorf("lifecycle: worker stack full, cannot start domain %d", domID)
	}

	page, err := m.hv.MapRegion(ctx, domID, 2, gpfn)
	if err != nil {
		m.guests.ReleaseSlot(slot)
		return fmt.Errorf("lifecycle: map region for domain %d: %w", domID, err)
	}
	page.MarkConnected()

	notifier := hypervisor.Notifier(m.hv, remotePort)
	gc := guest.NewContext(uint32(domID), page, notifier)

	localPort, err := m.hv.BindInterdomainEventChannel(domID, remotePort, gc.Wake)
	if err != nil {
		m.hv.UnmapRegion(ctx, page)
		m.guests.ReleaseSlot(slot)
		return fmt.Errorf("lifecycle: bind event channel for domain %d: %w", domID, err)
	}

	if err := m.hv.HVMSetParameter(domID, hypervisor.HVMParamStoreEvtchn, uint64(localPort)); err != nil {
		m.hv.CloseEventChannel(localPort)
		m.hv.UnmapRegion(ctx, page)
		m.guests.ReleaseSlot(slot)
		return fmt.Errorf("lifecycle: set HVM parameter for domain %d: %w", domID, err)
	}

	m.guests.Add(gc)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	done := make(chan struct{})
	m.mu.Lock()
	m.slots[gc.DomID] = slot
	m.ports[gc.DomID] = localPort
	// Stop calls this to cancel the worker and wait for it to return.
	m.cancel[gc.DomID] = func() { cancelWorker(); <-done }
	m.mu.Unlock()

	worker := guest.NewWorker(gc, m.watches, m.table.Handle, m.bus)
	m.group.Go(func() (err error) {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("lifecycle: worker for domain %d panicked: %v", domID, r)
			}
		}()
		return worker.Run(workerCtx)
	})

	m.publish(evbus.Event{Topic: evbus.TopicGuestConnected, DomID: gc.DomID})

	return nil
}

// Page returns the shared-memory page mapped for a running domain, for a
// test harness that needs to drive its guest-side ring views directly.
func (m *Manager) Page(domID uint32) (*ring.Page, bool) {
	gc, ok := m.guests.Get(domID)
	if !ok {
		return nil, false
	}
	return gc.Page, true
}

// LocalPort returns the server-side event-channel port bound for a
// running domain, so a test harness can notify it directly.
func (m *Manager) LocalPort(domID uint32) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	port, ok := m.ports[domID]
	return port, ok
}

// Stop runs the stop sequence for domID: signal stop, join the
// worker, release the worker-stack slot, unbind and close the event
// channel, and unmap the ring. All step errors are logged by the caller;
// the last non-nil error is returned.
func (m *Manager) Stop(ctx context.Context, domID uint32) error {
	gc, ok := m.guests.Get(domID)
	if !ok {
		return fmt.Errorf("lifecycle: domain %d not running", domID)
	}

	m.mu.Lock()
	cancel := m.cancel[domID]
	port := m.ports[domID]
	slot := m.slots[domID]
	delete(m.cancel, domID)
	delete(m.ports, domID)
	delete(m.slots, domID)
	m.mu.Unlock()

	gc.Stop()
	if cancel != nil {
		cancel()
	}
	m.guests.ReleaseSlot(slot)

	var lastErr error
	if err := m.hv.UnbindEventChannel(port); err != nil {
		lastErr = err
	}
	if err := m.hv.CloseEventChannel(port); err != nil {
		lastErr = err
	}
	if err := m.hv.UnmapRegion(ctx, gc.Page); err != nil {
		lastErr = err
	}
	m.guests.Remove(domID)

	m.publish(evbus.Event{Topic: evbus.TopicGuestDisconnected, DomID: domID})

	return lastErr
}
