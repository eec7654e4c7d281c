// Package lifecycle serializes every stateful device operation behind
// the guarded template: session validation, lock ownership, and the
// device state machine, in that order, before any backend call.
// State-machine commits happen only on success, so a failed operation
// never corrupts the device record.
package lifecycle

import (
	"sync"

	"github.com/devicelab-dev/devicectl/pkg/core"
	"github.com/devicelab-dev/devicectl/pkg/device"
	"github.com/devicelab-dev/devicectl/pkg/driver"
	"github.com/devicelab-dev/devicectl/pkg/logger"
	"github.com/devicelab-dev/devicectl/pkg/session"
)

// SandboxTerminatedFunc observes instruments that exit without being
// stopped by the caller.
type SandboxTerminatedFunc func(deviceID, instrumentID string, exitCode int)

// Orchestrator coordinates sessions, locks, the state machine, and the
// backend drivers for every mutating device operation.
type Orchestrator struct {
	sessions *session.Registry

	mu      sync.Mutex
	drivers map[string]driver.Driver // platform/kind -> driver
	booting map[string]bool          // device id -> boot in progress

	onSandboxTerminated SandboxTerminatedFunc
}

// NewOrchestrator builds an orchestrator over the given session
// registry.
func NewOrchestrator(sessions *session.Registry) *Orchestrator {
	return &Orchestrator{
		sessions: sessions,
		drivers:  make(map[string]driver.Driver),
		booting:  make(map[string]bool),
	}
}

// Sessions exposes the session registry.
func (o *Orchestrator) Sessions() *session.Registry {
	return o.sessions
}

// RegisterDriver routes devices of d's platform and kind to d.
func (o *Orchestrator) RegisterDriver(d driver.Driver) error {
	if err := driver.Validate(d); err != nil {
		return err
	}
	desc := d.Descriptor()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.drivers[driverKey(desc.Platform, desc.Kind)] = d
	return nil
}

// OnSandboxTerminated registers the unscheduled-instrument-exit
// observer.
func (o *Orchestrator) OnSandboxTerminated(fn SandboxTerminatedFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onSandboxTerminated = fn
}

// DriverFor returns the driver responsible for dev.
func (o *Orchestrator) DriverFor(dev *device.Device) (driver.Driver, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	d, ok := o.drivers[driverKey(dev.Platform(), dev.Kind())]
	if !ok {
		return nil, core.ErrDriverInvalid.WithMessage(
			"no driver registered for " + string(dev.Platform()) + "/" + string(dev.Kind()))
	}
	return d, nil
}

func driverKey(p core.Platform, k core.Kind) string {
	return string(p) + "/" + string(k)
}

// StartSession acquires the device for the caller: an in-process token
// plus the on-disk lock. Fails with ErrSessionActive when another
// caller holds a live session, or ErrDeviceLocked when another process
// holds the lock file.
func (o *Orchestrator) StartSession(dev *device.Device) (string, error) {
	token, err := o.sessions.Create(dev.ID())
	if err != nil {
		return "", err
	}
	if err := dev.Lock().Acquire(); err != nil {
		o.sessions.Destroy(token)
		return "", err
	}
	dev.SetSession(token)
	logger.Info("session started for device %s", dev.ID())
	return token, nil
}

// EndSession releases the session and the lock. The token must match
// the device's live session.
func (o *Orchestrator) EndSession(dev *device.Device, token string) error {
	if !o.sessions.CompareAndValidate(dev.Session(), token) {
		return core.ErrInvalidSession
	}
	o.sessions.Destroy(token)
	dev.SetSession("")
	if err := dev.Lock().Release(); err != nil {
		return err
	}
	logger.Info("session ended for device %s", dev.ID())
	return nil
}

// IsAvailable reports whether the device can be claimed right now:
// no live session and not locked by another process.
func (o *Orchestrator) IsAvailable(dev *device.Device) (bool, error) {
	if dev.Session() != "" {
		if _, live := o.sessions.ActiveForDevice(dev.ID()); live {
			return false, nil
		}
	}
	other, err := dev.Lock().HeldByOther()
	if err != nil {
		return false, err
	}
	return !other, nil
}

// guard enforces steps 1 and 2 of the guarded template: the provided
// token matches the device's current session and is not expired, and
// the lock file is held by this process.
func (o *Orchestrator) guard(dev *device.Device, token string) error {
	current := dev.Session()
	if current == "" || !o.sessions.CompareAndValidate(current, token) {
		return core.ErrInvalidSession
	}
	held, err := dev.Lock().HeldByUs()
	if err != nil {
		return err
	}
	if !held {
		return core.ErrDeviceLocked
	}
	return nil
}

// requireBooted is step 3 for the operations that act on a running
// device.
func requireBooted(dev *device.Device) error {
	if dev.State() != device.StateBooted {
		return core.ErrDeviceNotBooted.WithDetails(map[string]interface{}{
			"state": dev.State().String(),
		})
	}
	return nil
}

// beginBoot marks a boot in progress for the id; reports false when
// one already is.
func (o *Orchestrator) beginBoot(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.booting[id] {
		return false
	}
	o.booting[id] = true
	return true
}

func (o *Orchestrator) endBoot(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.booting, id)
}

func (o *Orchestrator) sandboxTerminated(deviceID, instrumentID string, exitCode int) {
	o.mu.Lock()
	fn := o.onSandboxTerminated
	o.mu.Unlock()
	if fn != nil {
		fn(deviceID, instrumentID, exitCode)
	}
}
