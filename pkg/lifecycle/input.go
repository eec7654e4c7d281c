package lifecycle

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/devicelab-dev/devicectl/pkg/core"
	"github.com/devicelab-dev/devicectl/pkg/device"
	"github.com/devicelab-dev/devicectl/pkg/driver"
)

// RotateLeft rotates the screen counter-clockwise.
func (o *Orchestrator) RotateLeft(ctx context.Context, dev *device.Device, token string) error {
	return o.rotateTo(ctx, dev, token, dev.Orientation().Left())
}

// RotateRight rotates the screen clockwise.
func (o *Orchestrator) RotateRight(ctx context.Context, dev *device.Device, token string) error {
	return o.rotateTo(ctx, dev, token, dev.Orientation().Right())
}

// RotateTo rotates the screen to an absolute quadrant 0..3.
func (o *Orchestrator) RotateTo(ctx context.Context, dev *device.Device, token string, orientation int) error {
	if orientation < 0 || orientation > 3 {
		return core.ErrArgument.WithMessage("orientation must be in 0..3")
	}
	return o.rotateTo(ctx, dev, token, device.Orientation(orientation))
}

// rotateTo mutates the record optimistically and reverts when the
// backend refuses.
func (o *Orchestrator) rotateTo(ctx context.Context, dev *device.Device, token string, target device.Orientation) error {
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

	prev := dev.Orientation()
	dev.SetOrientation(target)
	if err := drv.Rotate(ctx, dev.ID(), int(target)); err != nil {
		dev.SetOrientation(prev)
		return errors.Wrapf(err, "rotate %s to %s failed", dev.ID(), target)
	}
	return nil
}

// PerformKeyEvent delivers a hardware key press to the device.
func (o *Orchestrator) PerformKeyEvent(ctx context.Context, dev *device.Device, token, key string) error {
	if err := o.guard(dev, token); err != nil {
		return err
	}
	if err := requireBooted(dev); err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" {
		return core.ErrArgument.WithMessage("key must be a non-empty string")
	}
	drv, err := o.DriverFor(dev)
	if err != nil {
		return err
	}
	return drv.KeyEvent(ctx, dev.ID(), key)
}

// LockScreen locks the device screen.
func (o *Orchestrator) LockScreen(ctx context.Context, dev *device.Device, token string) error {
	hw, err := o.hardware(dev, token)
	if err != nil {
		return err
	}
	return hw.LockScreen(ctx, dev.ID())
}

// PressHomeKey presses the hardware home key.
func (o *Orchestrator) PressHomeKey(ctx context.Context, dev *device.Device, token string) error {
	hw, err := o.hardware(dev, token)
	if err != nil {
		return err
	}
	return hw.PressHomeKey(ctx, dev.ID())
}

// ShakeScreen performs the shake gesture (simulators only).
func (o *Orchestrator) ShakeScreen(ctx context.Context, dev *device.Device, token string) error {
	hw, err := o.hardware(dev, token)
	if err != nil {
		return err
	}
	return hw.ShakeScreen(ctx, dev.ID())
}

// SetHardwareKeyboardConnected attaches or detaches the hardware
// keyboard.
func (o *Orchestrator) SetHardwareKeyboardConnected(ctx context.Context, dev *device.Device, token string, connected bool) error {
	hw, err := o.hardware(dev, token)
	if err != nil {
		return err
	}
	return hw.SetHardwareKeyboardConnected(ctx, dev.ID(), connected)
}

// hardware runs the guards and asserts the hardware capability.
func (o *Orchestrator) hardware(dev *device.Device, token string) (driver.HardwareController, error) {
	if err := o.guard(dev, token); err != nil {
		return nil, err
	}
	if err := requireBooted(dev); err != nil {
		return nil, err
	}
	drv, err := o.DriverFor(dev)
	if err != nil {
		return nil, err
	}
	hw, ok := drv.(driver.HardwareController)
	if !ok {
		return nil, core.ErrDriverInvalid.WithMessage(
			"driver " + drv.Descriptor().Name + " has no hardware control surface")
	}
	return hw, nil
}
