package lifecycle

import (
	"os"

	"github.com/devicelab-dev/devicectl/pkg/core"
	"github.com/devicelab-dev/devicectl/pkg/device"
	"github.com/devicelab-dev/devicectl/pkg/logger"
)

// PurgeLocalStorage wipes the device's storage directory, including
// instrumentation artifacts, and recreates the scratch area. Only
// permitted when the device is neither booted nor locked.
func (o *Orchestrator) PurgeLocalStorage(dev *device.Device) error {
	if err := o.purgeable(dev); err != nil {
		return err
	}
	if err := os.RemoveAll(dev.LocalStoragePath()); err != nil {
		return core.ErrIOFailed.WithCause(err)
	}
	if err := os.MkdirAll(dev.TempStoragePath(), 0755); err != nil {
		return core.ErrIOFailed.WithCause(err)
	}
	logger.Info("purged local storage for %s", dev.ID())
	return nil
}

// PurgeTempStorage wipes and recreates the device's scratch area.
func (o *Orchestrator) PurgeTempStorage(dev *device.Device) error {
	if err := o.purgeable(dev); err != nil {
		return err
	}
	if err := os.RemoveAll(dev.TempStoragePath()); err != nil {
		return core.ErrIOFailed.WithCause(err)
	}
	if err := os.MkdirAll(dev.TempStoragePath(), 0755); err != nil {
		return core.ErrIOFailed.WithCause(err)
	}
	logger.Info("purged temp storage for %s", dev.ID())
	return nil
}

func (o *Orchestrator) purgeable(dev *device.Device) error {
	switch dev.State() {
	case device.StateBooted, device.StateBooting, device.StateShuttingDown:
		return core.ErrIllegalTransition.WithMessage("storage purge requires a non-booted device")
	}
	st, err := dev.Lock().Read()
	if err != nil {
		return err
	}
	if st.Locked {
		return core.ErrDeviceLocked
	}
	return nil
}
