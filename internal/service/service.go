// Package service wires the protocol core (store, watch registry, guest
// registry, dispatch table) and the ambient stack (logging, the admin
// event bus, the lifecycle manager) into one long-lived object a command
// binary can start and stop.
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"xenstore-go/internal/dispatch"
	"xenstore-go/internal/evbus"
	"xenstore-go/internal/guest"
	"xenstore-go/internal/hypervisor"
	"xenstore-go/internal/lifecycle"
	"xenstore-go/internal/store"
	"xenstore-go/internal/watch"
)

// Config holds the service's tunable knobs.
type Config struct {
	// MaxDomains bounds the worker-stack slot bitmap (MAX_DOMAINS).
	// cmd/xenstored loads it from Viper (file, environment, flags).
	MaxDomains int
	// EventQueueLen sizes the admin event bus's per-subscriber buffer.
	// cmd/xenstored does not load it; it keeps its DefaultConfig value.
	EventQueueLen int
}

// DefaultConfig matches the original source's MAX_DOMAINS default.
func DefaultConfig() Config {
	return Config{MaxDomains: 1024, EventQueueLen: 32}
}

// Service bundles the whole daemon: the hierarchical store, the watch
// registry, the guest registry and worker-stack slots, the dispatch
// table, the admin event bus, and the lifecycle manager that starts and
// stops individual guest connections.
type Service struct {
	Log *zap.Logger

	Store   *store.Store
	Watches *watch.Registry
	Guests  *guest.Registry
	Table   *dispatch.Table
	Events  *evbus.Bus
	Group   *errgroup.Group

	Lifecycle *lifecycle.Manager
}

// New wires every component in the dependency order construction requires:
// the guest registry first (it doubles as the watch registry's Waker),
// then the watch registry (the store's Notifier), then the store itself,
// then the dispatch table, then the lifecycle manager that ties the
// hypervisor adapter to all of the above.
func New(ctx context.Context, cfg Config, hv hypervisor.Interface, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}

	guests := guest.NewRegistry(cfg.MaxDomains)
	events := evbus.New(cfg.EventQueueLen)
	watches := watch.New(nil, guests) // store set below; Read is only needed once Add fires
	s := store.New(watches)
	watches.SetStore(s)
	table := dispatch.New(s, watches)
	group, _ := errgroup.WithContext(ctx)
	mgr := lifecycle.New(hv, guests, watches, table, group, events)

	return &Service{
		Log:       log,
		Store:     s,
		Watches:   watches,
		Guests:    guests,
		Table:     table,
		Events:    events,
		Group:     group,
		Lifecycle: mgr,
	}
}

// Wait blocks until every guest worker spawned through Lifecycle has
// returned, surfacing the first error any of them reported.
func (s *Service) Wait() error {
	if err := s.Group.Wait(); err != nil {
		return fmt.Errorf("service: guest worker failed: %w", err)
	}
	return nil
}

// Shutdown stops every currently connected guest (unbinding its event
// channel and unmapping its ring) and then waits for all worker
// goroutines to join.
func (s *Service) Shutdown(ctx context.Context) error {
	for _, domID := range s.Guests.DomIDs() {
		if err := s.Lifecycle.Stop(ctx, domID); err != nil {
			s.Log.Warn("error stopping guest during shutdown", zap.Uint32("domid", domID), zap.Error(err))
		}
	}
	return s.Wait()
}
