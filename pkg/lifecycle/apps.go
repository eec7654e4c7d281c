package lifecycle

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/devicelab-dev/devicectl/pkg/core"
	"github.com/devicelab-dev/devicectl/pkg/device"
)

// launchFailureMarkers are backend outputs promoted to a typed
// ErrLaunchFailed instead of a generic subprocess error.
var launchFailureMarkers = []string{
	"no activities found",
	"Error: Activity not started",
	"Unable to find application",
}

// Install puts the app binary at path onto the device.
func (o *Orchestrator) Install(ctx context.Context, dev *device.Device, token, path string) error {
	if err := o.guard(dev, token); err != nil {
		return err
	}
	if err := requireBooted(dev); err != nil {
		return err
	}
	if strings.TrimSpace(path) == "" {
		return core.ErrArgument.WithMessage("install path must be a non-empty string")
	}
	drv, err := o.DriverFor(dev)
	if err != nil {
		return err
	}
	if err := drv.Install(ctx, dev.ID(), path); err != nil {
		return errors.Wrapf(err, "install %s on %s failed", path, dev.ID())
	}
	return nil
}

// Uninstall removes the app identified by bundle from the device.
func (o *Orchestrator) Uninstall(ctx context.Context, dev *device.Device, token, bundle string) error {
	if err := o.guard(dev, token); err != nil {
		return err
	}
	if err := requireBooted(dev); err != nil {
		return err
	}
	if strings.TrimSpace(bundle) == "" {
		return core.ErrArgument.WithMessage("bundle id must be a non-empty string")
	}
	drv, err := o.DriverFor(dev)
	if err != nil {
		return err
	}
	if err := drv.Uninstall(ctx, dev.ID(), bundle); err != nil {
		return errors.Wrapf(err, "uninstall %s on %s failed", bundle, dev.ID())
	}
	return nil
}

// Launch starts the app identified by bundle. Backend outputs carrying
// a known launch-failure marker are promoted to ErrLaunchFailed.
func (o *Orchestrator) Launch(ctx context.Context, dev *device.Device, token, bundle string) error {
	if err := o.guard(dev, token); err != nil {
		return err
	}
	if err := requireBooted(dev); err != nil {
		return err
	}
	if strings.TrimSpace(bundle) == "" {
		return core.ErrArgument.WithMessage("bundle id must be a non-empty string")
	}
	drv, err := o.DriverFor(dev)
	if err != nil {
		return err
	}
	if err := drv.Launch(ctx, dev.ID(), bundle); err != nil {
		if isLaunchFailure(err) {
			return core.ErrLaunchFailed.WithCause(err).WithDetails(map[string]interface{}{
				"bundle": bundle,
			})
		}
		return errors.Wrapf(err, "launch %s on %s failed", bundle, dev.ID())
	}
	return nil
}

func isLaunchFailure(err error) bool {
	var cerr *core.ControlError
	text := err.Error()
	if errors.As(err, &cerr) {
		if s, ok := cerr.Details["stderr"].(string); ok {
			text += "\n" + s
		}
	}
	for _, marker := range launchFailureMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
