// Package iosphys is the thin driver for physical iOS devices, built
// on the instruments device listing and the libimobiledevice tools.
// Physical phones manage their own power, so the lifecycle surface is
// intentionally narrow.
package iosphys

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/devicelab-dev/devicectl/pkg/core"
	"github.com/devicelab-dev/devicectl/pkg/driver"
	"github.com/devicelab-dev/devicectl/pkg/process"
)

// DriverName is the factory registration key.
const DriverName = "ios-physical"

const commandTimeout = 30 * time.Second

func init() {
	driver.RegisterFactory(DriverName, func(deps driver.Deps) (driver.Driver, error) {
		return New(deps.Runner), nil
	})
}

// Driver implements driver.Driver for cabled iOS devices.
type Driver struct {
	runner process.Runner
}

// New builds the physical-iOS driver.
func New(runner process.Runner) *Driver {
	return &Driver{runner: runner}
}

// Descriptor implements driver.Driver. Physical devices are already
// running; boot polling is a single confirmation.
func (d *Driver) Descriptor() driver.Descriptor {
	return driver.Descriptor{
		Name:         DriverName,
		Platform:     core.PlatformIOS,
		Kind:         core.KindPhysical,
		BootAttempts: 1,
		BootInterval: time.Second,
		BootSettle:   0,
		DiscoveryTTL: time.Second,
	}
}

// deviceLineRe matches "Name (17.2) [UDID]" rows of
// `instruments -s devices`. Simulator rows carry a "(Simulator)"
// suffix and are excluded; the listing itself is the classifier.
var deviceLineRe = regexp.MustCompile(`^(.+?)\s+\(([\d.]+)\)\s+\[([0-9A-Fa-f-]+)\]\s*$`)

// DiscoverAll lists cabled devices.
func (d *Driver) DiscoverAll(ctx context.Context) ([]core.DeviceInfo, error) {
	res, err := d.runner.Run(ctx, []string{"instruments", "-s", "devices"}, nil, commandTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "instruments device listing failed")
	}
	return ParseDeviceList(res.Stdout), nil
}

// DiscoverAvailable implements driver.Driver; a cabled device is
// available.
func (d *Driver) DiscoverAvailable(ctx context.Context) ([]core.DeviceInfo, error) {
	return d.DiscoverAll(ctx)
}

// ParseDeviceList extracts (name, runtime, udid) triples, dropping
// simulator rows and the host machine.
func ParseDeviceList(out string) []core.DeviceInfo {
	var infos []core.DeviceInfo
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Known Devices:") {
			continue
		}
		if strings.HasSuffix(line, "(Simulator)") {
			continue
		}
		m := deviceLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		infos = append(infos, core.DeviceInfo{
			ID:       m[3],
			Name:     m[1],
			Platform: core.PlatformIOS,
			Kind:     core.KindPhysical,
			SDK:      m[2],
			State:    "Booted",
		})
	}
	return infos
}

// Boot is a no-op; a cabled phone is already running.
func (d *Driver) Boot(ctx context.Context, id string) error {
	return nil
}

// Shutdown is not supported over the cable.
func (d *Driver) Shutdown(ctx context.Context, id string) error {
	return core.ErrArgument.WithMessage("physical iOS devices cannot be shut down remotely")
}

// IsBooted confirms the device still appears in the listing.
func (d *Driver) IsBooted(ctx context.Context, id string) (bool, error) {
	infos, err := d.DiscoverAll(ctx)
	if err != nil {
		return false, err
	}
	for _, info := range infos {
		if info.ID == id {
			return true, nil
		}
	}
	return false, nil
}

// Install implements driver.Driver via ideviceinstaller.
func (d *Driver) Install(ctx context.Context, id, path string) error {
	_, err := d.runner.Run(ctx, []string{"ideviceinstaller", "-u", id, "-i", path}, nil, commandTimeout)
	return err
}

// Uninstall implements driver.Driver.
func (d *Driver) Uninstall(ctx context.Context, id, bundle string) error {
	_, err := d.runner.Run(ctx, []string{"ideviceinstaller", "-u", id, "-U", bundle}, nil, commandTimeout)
	return err
}

// Launch implements driver.Driver. idevicedebug stays attached to the
// app, so it runs detached.
func (d *Driver) Launch(ctx context.Context, id, bundle string) error {
	_, err := d.runner.Spawn(ctx, []string{"idevicedebug", "-u", id, "run", bundle}, nil)
	return err
}

// Metrics reads the hardware model; the cable exposes no display
// geometry.
func (d *Driver) Metrics(ctx context.Context, id string) (core.ScreenMetrics, string, error) {
	res, err := d.runner.Run(ctx, []string{"ideviceinfo", "-u", id, "-k", "ProductType"}, nil, commandTimeout)
	if err != nil {
		return core.ScreenMetrics{}, "", err
	}
	return core.ScreenMetrics{}, strings.TrimSpace(res.Stdout), nil
}

// Orientation is not observable over the cable.
func (d *Driver) Orientation(ctx context.Context, id string) (int, error) {
	return 0, core.ErrArgument.WithMessage("physical iOS devices do not report orientation")
}

// Rotate is not supported over the cable.
func (d *Driver) Rotate(ctx context.Context, id string, orientation int) error {
	return core.ErrArgument.WithMessage("physical iOS devices cannot be rotated remotely")
}

// KeyEvent is not supported over the cable.
func (d *Driver) KeyEvent(ctx context.Context, id, key string) error {
	return core.ErrArgument.WithMessage("physical iOS devices do not accept key events")
}
