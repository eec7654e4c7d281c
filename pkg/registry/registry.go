// Package registry is the control plane's entry point: it loads
// drivers from configuration, fans discovery out across them, and
// answers device queries.
package registry

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/devicelab-dev/devicectl/pkg/config"
	"github.com/devicelab-dev/devicectl/pkg/device"
	"github.com/devicelab-dev/devicectl/pkg/discovery"
	"github.com/devicelab-dev/devicectl/pkg/driver"
	"github.com/devicelab-dev/devicectl/pkg/lifecycle"
	"github.com/devicelab-dev/devicectl/pkg/logger"
	"github.com/devicelab-dev/devicectl/pkg/process"
	"github.com/devicelab-dev/devicectl/pkg/session"
)

// Registry is the runtime: one value constructed at startup and
// threaded through the API; tests build fresh ones.
type Registry struct {
	drivers []driver.Driver
	coord   *discovery.Coordinator
	orch    *lifecycle.Orchestrator
}

// New loads and validates the configured drivers. A driver that fails
// the capability check aborts construction; the process is expected to
// exit non-zero in that case.
func New(cfg *config.Config, runner process.Runner) (*Registry, error) {
	names := cfg.Drivers
	if len(names) == 0 {
		names = driver.RegisteredNames()
	}

	deps := driver.Deps{Runner: runner}
	sessions := session.NewRegistry(cfg.SessionTTL())
	orch := lifecycle.NewOrchestrator(sessions)

	r := &Registry{
		coord: discovery.NewCoordinator(discovery.NewStore(cfg.ResolveStorageRoot())),
		orch:  orch,
	}
	for _, name := range names {
		d, err := driver.Load(name, deps)
		if err != nil {
			return nil, err
		}
		if err := orch.RegisterDriver(d); err != nil {
			return nil, err
		}
		r.drivers = append(r.drivers, d)
		logger.Info("driver %s registered", name)
	}
	return r, nil
}

// NewWithDrivers builds a registry over pre-constructed drivers, for
// tests and embedders.
func NewWithDrivers(storageRoot string, sessions *session.Registry, drivers ...driver.Driver) (*Registry, error) {
	orch := lifecycle.NewOrchestrator(sessions)
	r := &Registry{
		coord: discovery.NewCoordinator(discovery.NewStore(storageRoot)),
		orch:  orch,
	}
	for _, d := range drivers {
		if err := driver.Validate(d); err != nil {
			return nil, err
		}
		if err := orch.RegisterDriver(d); err != nil {
			return nil, err
		}
		r.drivers = append(r.drivers, d)
	}
	return r, nil
}

// Orchestrator returns the lifecycle orchestrator devices are driven
// through.
func (r *Registry) Orchestrator() *lifecycle.Orchestrator {
	return r.orch
}

// Coordinator returns the discovery coordinator.
func (r *Registry) Coordinator() *discovery.Coordinator {
	return r.coord
}

// Discover walks every driver in parallel and returns the merged,
// id-deduplicated device list. With onlyAvailable set, drivers list
// only usable devices and devices with a live session or foreign lock
// are filtered out; listOnly skips that session/lock filtering.
func (r *Registry) Discover(ctx context.Context, onlyAvailable, listOnly bool) ([]*device.Device, error) {
	var (
		mu  sync.Mutex
		all []*device.Device
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, drv := range r.drivers {
		drv := drv
		g.Go(func() error {
			snap, err := r.coord.Walk(gctx, drv, onlyAvailable)
			if err != nil {
				return err
			}
			mu.Lock()
			all = append(all, snap...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(all))
	out := make([]*device.Device, 0, len(all))
	for _, d := range all {
		if seen[d.ID()] {
			continue
		}
		seen[d.ID()] = true
		if onlyAvailable && !listOnly {
			avail, err := r.orch.IsAvailable(d)
			if err != nil {
				return nil, err
			}
			if !avail {
				continue
			}
		}
		out = append(out, d)
	}
	return out, nil
}

// GetDevicesWithName returns every known device with the display name,
// refreshing discovery first.
func (r *Registry) GetDevicesWithName(ctx context.Context, name string) ([]*device.Device, error) {
	if _, err := r.Discover(ctx, false, true); err != nil {
		return nil, err
	}
	return r.coord.Store().ByName(name), nil
}

// GetDeviceWithId returns the device with the given id, or nil,
// refreshing discovery first.
func (r *Registry) GetDeviceWithId(ctx context.Context, id string) (*device.Device, error) {
	if _, err := r.Discover(ctx, false, true); err != nil {
		return nil, err
	}
	return r.coord.Store().ByID(id), nil
}
