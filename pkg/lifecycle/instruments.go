package lifecycle

import (
	"context"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/devicelab-dev/devicectl/pkg/core"
	"github.com/devicelab-dev/devicectl/pkg/device"
	"github.com/devicelab-dev/devicectl/pkg/driver"
	"github.com/devicelab-dev/devicectl/pkg/logger"
)

// StartInstrument attaches the named measurement subprocess to the
// device and returns its instrument id. Artifacts land in the device's
// local storage.
func (o *Orchestrator) StartInstrument(ctx context.Context, dev *device.Device, token, name string) (string, error) {
	if err := o.guard(dev, token); err != nil {
		return "", err
	}
	if err := requireBooted(dev); err != nil {
		return "", err
	}
	if strings.TrimSpace(name) == "" {
		return "", core.ErrArgument.WithMessage("instrument name must be a non-empty string")
	}
	drv, err := o.DriverFor(dev)
	if err != nil {
		return "", err
	}
	inst, ok := drv.(driver.Instrumenter)
	if !ok {
		return "", core.ErrDriverInvalid.WithMessage(
			"driver " + drv.Descriptor().Name + " has no instrumentation surface")
	}

	handle, err := inst.StartInstrument(ctx, dev.ID(), name, dev.LocalStoragePath())
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	dev.AddInstrument(id, handle)

	// An exit while still tracked was not requested by anyone.
	handle.OnExit(func(code int) {
		if _, ok := dev.TakeInstrument(id); ok {
			logger.Warn("instrument %s on %s exited unscheduled with code %d", id, dev.ID(), code)
			o.sandboxTerminated(dev.ID(), id, code)
		}
	})

	logger.Info("instrument %s (%s) started on %s", id, name, dev.ID())
	return id, nil
}

// StopInstrument interrupts the instrument and removes it from the
// device's tracking map.
func (o *Orchestrator) StopInstrument(dev *device.Device, token, id string) error {
	if err := o.guard(dev, token); err != nil {
		return err
	}
	handle, ok := dev.TakeInstrument(id)
	if !ok {
		return core.ErrArgument.WithMessage("no instrument with id " + id)
	}
	if err := handle.Kill(syscall.SIGINT); err != nil {
		logger.Warn("interrupting instrument %s on %s: %v", id, dev.ID(), err)
	}
	return nil
}

// StopAllInstruments interrupts every tracked instrument, best-effort.
// Used directly by Shutdown; needs no token because its only callers
// run inside an already-guarded operation or process teardown.
func (o *Orchestrator) StopAllInstruments(dev *device.Device) {
	for id, handle := range dev.TakeAllInstruments() {
		if err := handle.Kill(syscall.SIGINT); err != nil {
			logger.Warn("interrupting instrument %s on %s: %v", id, dev.ID(), err)
		}
	}
}
