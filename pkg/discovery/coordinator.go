// Package discovery reconciles cached device state with the external
// listing tools. Walks are expensive subprocess calls, so each device
// kind runs under a single-flight discipline with a TTL cache:
// concurrent callers within one TTL window share a single walk and
// observe the same snapshot.
package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/devicelab-dev/devicectl/pkg/core"
	"github.com/devicelab-dev/devicectl/pkg/device"
	"github.com/devicelab-dev/devicectl/pkg/driver"
	"github.com/devicelab-dev/devicectl/pkg/logger"
)

// Coordinator owns the per-kind walk caches and the canonical device
// store all walks merge into.
type Coordinator struct {
	store *Store
	sf    singleflight.Group

	mu     sync.Mutex
	caches map[string]*kindCache

	now func() time.Time
}

type kindCache struct {
	lastWalkAt time.Time
	snapshot   []*device.Device
}

// NewCoordinator builds a coordinator merging into store.
func NewCoordinator(store *Store) *Coordinator {
	return &Coordinator{
		store:  store,
		caches: make(map[string]*kindCache),
		now:    time.Now,
	}
}

// SetClock replaces the coordinator clock, for TTL tests.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Store returns the canonical device store.
func (c *Coordinator) Store() *Store {
	return c.store
}

// Walk returns the devices of drv's kind, running the driver's
// discovery routine at most once per TTL window. When onlyAvailable is
// set the driver's available listing is used instead of the full one.
//
// All concurrent callers of one walk receive the same snapshot: all
// success or all failure.
func (c *Coordinator) Walk(ctx context.Context, drv driver.Driver, onlyAvailable bool) ([]*device.Device, error) {
	desc := drv.Descriptor()
	key := desc.Name
	if onlyAvailable {
		key += "/available"
	}
	ttl := desc.DiscoveryTTL

	if snap, ok := c.fresh(key, ttl); ok {
		return snap, nil
	}

	v, err, shared := c.sf.Do(key, func() (interface{}, error) {
		// A waiter that raced in just after completion reuses the
		// fresh snapshot instead of walking again.
		if snap, ok := c.fresh(key, ttl); ok {
			return snap, nil
		}

		var (
			infos []core.DeviceInfo
			werr  error
		)
		if onlyAvailable {
			infos, werr = drv.DiscoverAvailable(ctx)
		} else {
			infos, werr = drv.DiscoverAll(ctx)
		}
		if werr != nil {
			c.invalidate(key)
			return nil, errors.Wrapf(werr, "discovery walk for %s failed", key)
		}

		snap, merr := c.store.MergeWalk(desc, infos)
		if merr != nil {
			c.invalidate(key)
			return nil, merr
		}

		c.mu.Lock()
		c.caches[key] = &kindCache{lastWalkAt: c.now(), snapshot: snap}
		c.mu.Unlock()

		logger.Debug("discovery walk %s merged %d devices", key, len(snap))
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logger.Debug("discovery walk %s shared with concurrent caller", key)
	}
	return v.([]*device.Device), nil
}

// Invalidate drops the cached snapshot for every key, forcing the next
// Walk to run the external tool again.
func (c *Coordinator) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caches = make(map[string]*kindCache)
}

func (c *Coordinator) fresh(key string, ttl time.Duration) ([]*device.Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cache, ok := c.caches[key]
	if !ok || cache.snapshot == nil {
		return nil, false
	}
	if c.now().Sub(cache.lastWalkAt) > ttl {
		return nil, false
	}
	return cache.snapshot, true
}

func (c *Coordinator) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.caches, key)
}
