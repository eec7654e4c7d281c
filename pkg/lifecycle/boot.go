package lifecycle

import (
	"context"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/devicelab-dev/devicectl/pkg/core"
	"github.com/devicelab-dev/devicectl/pkg/device"
	"github.com/devicelab-dev/devicectl/pkg/driver"
	"github.com/devicelab-dev/devicectl/pkg/logger"
	"github.com/devicelab-dev/devicectl/pkg/process"
)

// BootOptions tune one boot call.
type BootOptions struct {
	// Attempts/Interval override the driver's boot polling parameters
	// when positive.
	Attempts int
	Interval time.Duration
	// Settle overrides the post-boot settle delay when non-negative.
	Settle time.Duration
}

// DefaultBootOptions defers everything to the driver descriptor.
func DefaultBootOptions() BootOptions {
	return BootOptions{Settle: -1}
}

// Boot brings the device up and waits until the backend reports it
// ready. No active session is required: a caller may boot before
// claiming, but when a session exists the token must match. Fails
// with ErrDeviceLocked when another process holds the lock, and with
// ErrDeviceNotReady when a boot for this id is already in flight.
func (o *Orchestrator) Boot(ctx context.Context, dev *device.Device, token string, opts BootOptions) error {
	if dev.Session() != "" {
		if !o.sessions.CompareAndValidate(dev.Session(), token) {
			return core.ErrInvalidSession
		}
	}
	if other, err := dev.Lock().HeldByOther(); err != nil {
		return err
	} else if other {
		return core.ErrDeviceLocked
	}

	if !o.beginBoot(dev.ID()) {
		return core.ErrDeviceNotReady
	}
	defer o.endBoot(dev.ID())

	// Checked only while holding the boot slot, so concurrent callers
	// cannot both observe a bootable state.
	switch dev.State() {
	case device.StateBooted:
		return core.ErrDeviceAlreadyBooted
	case device.StateBooting:
		return core.ErrDeviceNotReady
	}

	drv, err := o.DriverFor(dev)
	if err != nil {
		return err
	}

	if err := dev.Transition(device.EventBoot); err != nil {
		return err
	}

	logger.Info("booting device %s", dev.ID())
	if err := drv.Boot(ctx, dev.ID()); err != nil {
		dev.ForceState(device.StateErrored)
		return errors.Wrapf(err, "boot command for %s failed", dev.ID())
	}

	if err := o.awaitBooted(ctx, drv, dev, opts); err != nil {
		dev.ForceState(device.StateErrored)
		return err
	}

	if err := dev.Transition(device.EventBootOk); err != nil {
		return err
	}

	o.refreshMetrics(ctx, drv, dev)
	logger.Info("device %s booted", dev.ID())
	return nil
}

// awaitBooted polls the backend with bounded retry. A single failed
// poll is recovered locally; the final attempt's result governs the
// outcome.
func (o *Orchestrator) awaitBooted(ctx context.Context, drv driver.Driver, dev *device.Device, opts BootOptions) error {
	desc := drv.Descriptor()
	attempts := desc.BootAttempts
	if opts.Attempts > 0 {
		attempts = opts.Attempts
	}
	interval := desc.BootInterval
	if opts.Interval > 0 {
		interval = opts.Interval
	}
	settle := desc.BootSettle
	if opts.Settle >= 0 {
		settle = opts.Settle
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		booted, err := drv.IsBooted(ctx, dev.ID())
		if err != nil {
			logger.Debug("boot poll %d/%d for %s errored: %v", attempt, attempts, dev.ID(), err)
		} else if booted {
			if settle > 0 {
				select {
				case <-time.After(settle):
				case <-ctx.Done():
					return core.ErrBootTimeout.WithCause(ctx.Err())
				}
			}
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return core.ErrBootTimeout.WithCause(ctx.Err())
		}
	}
	return core.ErrBootTimeout.WithDetails(map[string]interface{}{
		"deviceId": dev.ID(),
		"attempts": attempts,
	})
}

// refreshMetrics reads screen geometry after a successful boot.
// Best-effort: a metrics failure does not fail the boot.
func (o *Orchestrator) refreshMetrics(ctx context.Context, drv driver.Driver, dev *device.Device) {
	metrics, model, err := drv.Metrics(ctx, dev.ID())
	if err != nil {
		logger.Warn("reading metrics for %s failed: %v", dev.ID(), err)
		return
	}
	dev.SetMetrics(metrics, model)
	if orient, err := drv.Orientation(ctx, dev.ID()); err == nil {
		dev.SetOrientation(device.Orientation(orient))
	}
}

// Shutdown stops the device. Running instruments are stopped first,
// best-effort. Shutting down an already-shutdown device resolves
// cleanly instead of failing.
func (o *Orchestrator) Shutdown(ctx context.Context, dev *device.Device, token string) error {
	if err := o.guard(dev, token); err != nil {
		return err
	}

	if dev.State() == device.StateShutdown {
		return nil
	}
	// Admissibility first; committed only around backend success.
	if _, err := device.Next(dev.State(), device.EventShutdown); err != nil {
		return err
	}

	o.StopAllInstruments(dev)

	if err := dev.Transition(device.EventShutdown); err != nil {
		return err
	}
	drv, err := o.DriverFor(dev)
	if err != nil {
		return err
	}
	if err := drv.Shutdown(ctx, dev.ID()); err != nil {
		// The backend did not shut the device down: it keeps its prior
		// Booted state.
		dev.ForceState(device.StateBooted)
		return errors.Wrapf(err, "shutdown command for %s failed", dev.ID())
	}
	if err := dev.Transition(device.EventShutdownOk); err != nil {
		return err
	}

	// An emulator subprocess we know about gets an interrupt so the
	// host process exits along with the guest.
	if pid := dev.Info().PID; pid > 0 {
		if err := process.SignalPID(pid, syscall.SIGINT); err != nil {
			logger.Debug("signaling emulator pid %d: %v", pid, err)
		}
	}

	logger.Info("device %s shut down", dev.ID())
	return nil
}

// Restart reboots the device: the driver's native restart when it has
// one, otherwise a shutdown+boot chain.
func (o *Orchestrator) Restart(ctx context.Context, dev *device.Device, token string) error {
	if err := o.guard(dev, token); err != nil {
		return err
	}
	if err := requireBooted(dev); err != nil {
		return err
	}
	drv, err := o.DriverFor(dev)
	if err != nil {
		return err
	}

	if r, ok := drv.(driver.Restarter); ok {
		if err := dev.Transition(device.EventRestart); err != nil {
			return err
		}
		if err := r.Restart(ctx, dev.ID()); err != nil {
			dev.ForceState(device.StateErrored)
			return errors.Wrapf(err, "restart of %s failed", dev.ID())
		}
		if err := o.awaitBooted(ctx, drv, dev, DefaultBootOptions()); err != nil {
			dev.ForceState(device.StateErrored)
			return err
		}
		if err := dev.Transition(device.EventBootOk); err != nil {
			return err
		}
		o.refreshMetrics(ctx, drv, dev)
		return nil
	}

	if err := o.Shutdown(ctx, dev, token); err != nil {
		return err
	}
	return o.Boot(ctx, dev, token, DefaultBootOptions())
}

// Erase factory-resets a virtual device. Only legal while shut down.
func (o *Orchestrator) Erase(ctx context.Context, dev *device.Device, token string) error {
	if err := o.guard(dev, token); err != nil {
		return err
	}
	if dev.State() != device.StateShutdown {
		return core.ErrIllegalTransition.WithMessage("erase requires a shutdown device")
	}
	drv, err := o.DriverFor(dev)
	if err != nil {
		return err
	}
	eraser, ok := drv.(driver.Eraser)
	if !ok {
		return core.ErrDriverInvalid.WithMessage(
			"driver " + drv.Descriptor().Name + " cannot erase devices")
	}
	if err := eraser.Erase(ctx, dev.ID()); err != nil {
		return errors.Wrapf(err, "erase of %s failed", dev.ID())
	}
	logger.Info("device %s erased", dev.ID())
	return nil
}

// Recover moves an errored device back to Shutdown so it can be booted
// again.
func (o *Orchestrator) Recover(dev *device.Device) error {
	return dev.Transition(device.EventRecover)
}
