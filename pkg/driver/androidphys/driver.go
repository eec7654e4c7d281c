// Package androidphys drives cabled Android devices over adb. Device
// ids are adb serials.
package androidphys

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/devicelab-dev/devicectl/pkg/adb"
	"github.com/devicelab-dev/devicectl/pkg/core"
	"github.com/devicelab-dev/devicectl/pkg/driver"
	"github.com/devicelab-dev/devicectl/pkg/process"
)

// DriverName is the factory registration key.
const DriverName = "android-physical"

func init() {
	driver.RegisterFactory(DriverName, func(deps driver.Deps) (driver.Driver, error) {
		return New(deps.Runner), nil
	})
}

// Driver implements driver.Driver for physical Android devices.
type Driver struct {
	runner process.Runner
}

// New builds the physical-Android driver.
func New(runner process.Runner) *Driver {
	return &Driver{runner: runner}
}

// Descriptor implements driver.Driver. A reboot of a physical phone
// can take a while, so polling matches the emulator budget.
func (d *Driver) Descriptor() driver.Descriptor {
	return driver.Descriptor{
		Name:         DriverName,
		Platform:     core.PlatformAndroid,
		Kind:         core.KindPhysical,
		BootAttempts: 180,
		BootInterval: time.Second,
		BootSettle:   0,
		DiscoveryTTL: time.Second,
	}
}

// DiscoverAll lists non-emulator adb transports, enriched with
// identity properties.
func (d *Driver) DiscoverAll(ctx context.Context) ([]core.DeviceInfo, error) {
	rows, err := adb.ListDevices(ctx, d.runner)
	if err != nil {
		return nil, errors.Wrap(err, "adb devices failed")
	}

	var infos []core.DeviceInfo
	for _, row := range rows {
		if row.IsEmulator() {
			continue
		}
		info := core.DeviceInfo{
			ID:       row.Serial,
			Name:     row.Serial,
			Platform: core.PlatformAndroid,
			Kind:     core.KindPhysical,
			Serial:   row.Serial,
			State:    row.State,
		}
		if row.State == "device" {
			client := adb.NewClient(d.runner, row.Serial)
			if model, err := client.GetProp(ctx, "ro.product.model"); err == nil && model != "" {
				info.Name = model
				info.Model = model
			}
			if sdk, err := client.GetProp(ctx, "ro.build.version.sdk"); err == nil {
				info.SDK = sdk
			}
			if w, h, err := client.ScreenSize(ctx); err == nil {
				info.Metrics.Width = w
				info.Metrics.Height = h
			}
			if density, err := client.ScreenDensity(ctx); err == nil {
				info.Metrics.Density = float64(density)
			}
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// DiscoverAvailable lists only transports in the "device" state.
func (d *Driver) DiscoverAvailable(ctx context.Context) ([]core.DeviceInfo, error) {
	infos, err := d.DiscoverAll(ctx)
	if err != nil {
		return nil, err
	}
	available := infos[:0]
	for _, info := range infos {
		if info.State == "device" {
			available = append(available, info)
		}
	}
	return available, nil
}

// Boot is a no-op; a cabled phone is already running.
func (d *Driver) Boot(ctx context.Context, id string) error {
	return nil
}

// Shutdown powers the device off.
func (d *Driver) Shutdown(ctx context.Context, id string) error {
	_, err := adb.NewClient(d.runner, id).Run(ctx, "reboot", "-p")
	return err
}

// IsBooted implements driver.Driver.
func (d *Driver) IsBooted(ctx context.Context, id string) (bool, error) {
	return adb.NewClient(d.runner, id).BootCompleted(ctx), nil
}

// Install implements driver.Driver.
func (d *Driver) Install(ctx context.Context, id, path string) error {
	return adb.NewClient(d.runner, id).Install(ctx, path)
}

// Uninstall implements driver.Driver.
func (d *Driver) Uninstall(ctx context.Context, id, bundle string) error {
	return adb.NewClient(d.runner, id).Uninstall(ctx, bundle)
}

// Launch implements driver.Driver.
func (d *Driver) Launch(ctx context.Context, id, bundle string) error {
	out, err := adb.NewClient(d.runner, id).Launch(ctx, bundle)
	if err != nil {
		return err
	}
	if containsNoActivities(out) {
		return core.ErrNonZeroExit.WithMessage("no activities found for " + bundle).WithDetails(map[string]interface{}{
			"stderr": out,
		})
	}
	return nil
}

func containsNoActivities(out string) bool {
	return strings.Contains(out, "No activities found")
}

// Metrics implements driver.Driver.
func (d *Driver) Metrics(ctx context.Context, id string) (core.ScreenMetrics, string, error) {
	client := adb.NewClient(d.runner, id)
	var m core.ScreenMetrics
	w, h, err := client.ScreenSize(ctx)
	if err != nil {
		return m, "", err
	}
	m.Width, m.Height = w, h
	if density, err := client.ScreenDensity(ctx); err == nil {
		m.Density = float64(density)
	}
	model, _ := client.GetProp(ctx, "ro.product.model")
	return m, model, nil
}

// Orientation implements driver.Driver.
func (d *Driver) Orientation(ctx context.Context, id string) (int, error) {
	return adb.NewClient(d.runner, id).Orientation(ctx)
}

// Rotate implements driver.Driver.
func (d *Driver) Rotate(ctx context.Context, id string, orientation int) error {
	return adb.NewClient(d.runner, id).SetOrientation(ctx, orientation)
}

// KeyEvent implements driver.Driver.
func (d *Driver) KeyEvent(ctx context.Context, id, key string) error {
	return adb.NewClient(d.runner, id).KeyEvent(ctx, key)
}

// LockScreen implements driver.HardwareController.
func (d *Driver) LockScreen(ctx context.Context, id string) error {
	return d.KeyEvent(ctx, id, "KEYCODE_SLEEP")
}

// PressHomeKey implements driver.HardwareController.
func (d *Driver) PressHomeKey(ctx context.Context, id string) error {
	return d.KeyEvent(ctx, id, "KEYCODE_HOME")
}

// ShakeScreen is an emulator capability; phones have real sensors.
func (d *Driver) ShakeScreen(ctx context.Context, id string) error {
	return core.ErrArgument.WithMessage("physical Android devices cannot be shaken remotely")
}

// SetHardwareKeyboardConnected implements driver.HardwareController.
func (d *Driver) SetHardwareKeyboardConnected(ctx context.Context, id string, connected bool) error {
	value := "1"
	if connected {
		value = "0"
	}
	_, err := adb.NewClient(d.runner, id).Shell(ctx,
		"settings", "put", "secure", "show_ime_with_hard_keyboard", value)
	return err
}

// Restart implements driver.Restarter: clear the boot flag and reboot;
// the orchestrator re-awaits readiness.
func (d *Driver) Restart(ctx context.Context, id string) error {
	client := adb.NewClient(d.runner, id)
	if _, err := client.Shell(ctx, "setprop", "sys.boot_completed", "0"); err != nil {
		return err
	}
	_, err := client.Run(ctx, "reboot")
	return err
}
