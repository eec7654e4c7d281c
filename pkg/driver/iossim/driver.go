// Package iossim drives iOS simulators through xcrun simctl and the
// Simulator application.
package iossim

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"

	"github.com/devicelab-dev/devicectl/pkg/core"
	"github.com/devicelab-dev/devicectl/pkg/driver"
	"github.com/devicelab-dev/devicectl/pkg/logger"
	"github.com/devicelab-dev/devicectl/pkg/process"
)

// DriverName is the factory registration key.
const DriverName = "ios-simulator"

const commandTimeout = 30 * time.Second

func init() {
	driver.RegisterFactory(DriverName, func(deps driver.Deps) (driver.Driver, error) {
		return New(deps.Runner), nil
	})
}

// Driver implements driver.Driver over xcrun simctl.
type Driver struct {
	runner process.Runner

	mu sync.Mutex
	// orientations tracks the last orientation set per udid; simctl
	// has no readback, so rotate operations are the source of truth.
	orientations map[string]int
}

// New builds the simulator driver.
func New(runner process.Runner) *Driver {
	return &Driver{
		runner:       runner,
		orientations: make(map[string]int),
	}
}

// Descriptor implements driver.Driver.
func (d *Driver) Descriptor() driver.Descriptor {
	return driver.Descriptor{
		Name:         DriverName,
		Platform:     core.PlatformIOS,
		Kind:         core.KindSimulator,
		BootAttempts: 10,
		BootInterval: time.Second,
		BootSettle:   3 * time.Second,
		DiscoveryTTL: time.Second,
	}
}

// DiscoverAll lists the simulators simctl reports; entries simctl marks
// as unavailable are dropped by ParseList.
func (d *Driver) DiscoverAll(ctx context.Context) ([]core.DeviceInfo, error) {
	return d.list(ctx, false)
}

// DiscoverAvailable lists simulators whose runtime is installed.
func (d *Driver) DiscoverAvailable(ctx context.Context) ([]core.DeviceInfo, error) {
	return d.list(ctx, true)
}

func (d *Driver) list(ctx context.Context, onlyAvailable bool) ([]core.DeviceInfo, error) {
	argv := []string{"xcrun", "simctl", "list", "devices"}
	if onlyAvailable {
		argv = append(argv, "available")
	}
	argv = append(argv, "-j")

	res, err := d.runner.Run(ctx, argv, nil, commandTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "simctl list failed")
	}
	return ParseList(res.Stdout), nil
}

// ParseList extracts (name, udid, state) triples from simctl's JSON
// device listing, keyed by runtime.
func ParseList(jsonOut string) []core.DeviceInfo {
	var infos []core.DeviceInfo
	gjson.Get(jsonOut, "devices").ForEach(func(runtime, devices gjson.Result) bool {
		sdk := sdkFromRuntime(runtime.String())
		devices.ForEach(func(_, dev gjson.Result) bool {
			if !dev.Get("isAvailable").Bool() {
				return true
			}
			infos = append(infos, core.DeviceInfo{
				ID:       dev.Get("udid").String(),
				Name:     dev.Get("name").String(),
				Platform: core.PlatformIOS,
				Kind:     core.KindSimulator,
				SDK:      sdk,
				Model:    dev.Get("deviceTypeIdentifier").String(),
				State:    dev.Get("state").String(),
			})
			return true
		})
		return true
	})
	return infos
}

// sdkFromRuntime turns a CoreSimulator runtime identifier into a
// version string, e.g. "com.apple.CoreSimulator.SimRuntime.iOS-17-2"
// into "17.2".
func sdkFromRuntime(runtime string) string {
	for _, prefix := range []string{"iOS-", "watchOS-", "tvOS-", "xrOS-"} {
		if idx := strings.LastIndex(runtime, prefix); idx != -1 {
			return strings.ReplaceAll(runtime[idx+len(prefix):], "-", ".")
		}
	}
	return ""
}

// Boot implements driver.Driver. A simulator that is already booted
// resolves cleanly.
func (d *Driver) Boot(ctx context.Context, id string) error {
	res, err := d.runner.Run(ctx, []string{"xcrun", "simctl", "boot", id}, nil, commandTimeout)
	if err != nil {
		if strings.Contains(res.Stderr, "current state: Booted") {
			logger.Debug("simulator %s already booted", id)
			return nil
		}
		return errors.Wrapf(err, "simctl boot %s failed", id)
	}

	// Bring up the Simulator UI alongside the headless boot.
	if _, err := d.runner.Run(ctx, []string{"open", "-a", "Simulator"}, nil, commandTimeout); err != nil {
		logger.Debug("opening Simulator app: %v", err)
	}
	return nil
}

// Shutdown implements driver.Driver.
func (d *Driver) Shutdown(ctx context.Context, id string) error {
	res, err := d.runner.Run(ctx, []string{"xcrun", "simctl", "shutdown", id}, nil, commandTimeout)
	if err != nil {
		if strings.Contains(res.Stderr, "current state: Shutdown") {
			logger.Debug("simulator %s already shut down", id)
			return nil
		}
		return errors.Wrapf(err, "simctl shutdown %s failed", id)
	}
	return nil
}

// IsBooted implements driver.Driver by re-listing and checking state.
func (d *Driver) IsBooted(ctx context.Context, id string) (bool, error) {
	infos, err := d.list(ctx, false)
	if err != nil {
		return false, err
	}
	for _, info := range infos {
		if info.ID == id {
			return info.State == "Booted", nil
		}
	}
	return false, errors.Errorf("simulator %s not in simctl listing", id)
}

// Install implements driver.Driver.
func (d *Driver) Install(ctx context.Context, id, path string) error {
	_, err := d.runner.Run(ctx, []string{"xcrun", "simctl", "install", id, path}, nil, commandTimeout)
	return err
}

// Uninstall implements driver.Driver.
func (d *Driver) Uninstall(ctx context.Context, id, bundle string) error {
	_, err := d.runner.Run(ctx, []string{"xcrun", "simctl", "uninstall", id, bundle}, nil, commandTimeout)
	return err
}

// Launch implements driver.Driver.
func (d *Driver) Launch(ctx context.Context, id, bundle string) error {
	_, err := d.runner.Run(ctx, []string{"xcrun", "simctl", "launch", id, bundle}, nil, commandTimeout)
	return err
}

// Metrics reads the booted simulator's display geometry from
// `simctl io enumerate`.
func (d *Driver) Metrics(ctx context.Context, id string) (core.ScreenMetrics, string, error) {
	res, err := d.runner.Run(ctx, []string{"xcrun", "simctl", "io", id, "enumerate"}, nil, commandTimeout)
	if err != nil {
		return core.ScreenMetrics{}, "", err
	}
	metrics := ParseIOEnumerate(res.Stdout)

	model := ""
	if infos, lerr := d.list(ctx, false); lerr == nil {
		for _, info := range infos {
			if info.ID == id {
				model = info.Model
				break
			}
		}
	}
	return metrics, model, nil
}

// ParseIOEnumerate extracts the main display geometry from the plain
// text port enumeration.
func ParseIOEnumerate(out string) core.ScreenMetrics {
	var m core.ScreenMetrics
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Width:"):
			if m.Width == 0 {
				m.Width = atoiTail(line)
			}
		case strings.HasPrefix(line, "Height:"):
			if m.Height == 0 {
				m.Height = atoiTail(line)
			}
		case strings.HasPrefix(line, "Pixel density:"), strings.HasPrefix(line, "Scale:"):
			if m.Density == 0 {
				m.Density = float64(atoiTail(line))
			}
		}
	}
	return m
}

func atoiTail(line string) int {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0
	}
	n := 0
	for _, r := range fields[len(fields)-1] {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// Orientation returns the last orientation this process set; the
// Simulator app has no readback channel.
func (d *Driver) Orientation(ctx context.Context, id string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.orientations[id], nil
}

// Rotate drives the Simulator app's Device menu until the cached
// orientation matches the target.
func (d *Driver) Rotate(ctx context.Context, id string, orientation int) error {
	d.mu.Lock()
	current := d.orientations[id]
	d.mu.Unlock()

	steps := (orientation - current + 4) % 4
	action := "Rotate Right"
	if steps == 3 {
		steps = 1
		action = "Rotate Left"
	}
	for i := 0; i < steps; i++ {
		if err := d.menuAction(ctx, action); err != nil {
			return err
		}
	}

	d.mu.Lock()
	d.orientations[id] = orientation
	d.mu.Unlock()
	return nil
}

// KeyEvent forwards a keystroke to the frontmost simulator.
func (d *Driver) KeyEvent(ctx context.Context, id, key string) error {
	script := `tell application "System Events" to keystroke "` + key + `"`
	_, err := d.runner.Run(ctx, []string{"osascript", "-e", script}, nil, commandTimeout)
	return err
}

// LockScreen implements driver.HardwareController.
func (d *Driver) LockScreen(ctx context.Context, id string) error {
	return d.menuAction(ctx, "Lock")
}

// PressHomeKey implements driver.HardwareController.
func (d *Driver) PressHomeKey(ctx context.Context, id string) error {
	return d.menuAction(ctx, "Home")
}

// ShakeScreen implements driver.HardwareController.
func (d *Driver) ShakeScreen(ctx context.Context, id string) error {
	return d.menuAction(ctx, "Shake")
}

// SetHardwareKeyboardConnected implements driver.HardwareController.
func (d *Driver) SetHardwareKeyboardConnected(ctx context.Context, id string, connected bool) error {
	// The menu item is a toggle: each call clicks it once, and
	// connected is not consulted.
	return d.menuAction(ctx, "Connect Hardware Keyboard")
}

// Erase implements driver.Eraser: factory-reset the simulator's data.
func (d *Driver) Erase(ctx context.Context, id string) error {
	_, err := d.runner.Run(ctx, []string{"xcrun", "simctl", "erase", id}, nil, commandTimeout)
	return err
}

// Restart implements driver.Restarter via the Device menu.
func (d *Driver) Restart(ctx context.Context, id string) error {
	return d.menuAction(ctx, "Restart")
}

// menuAction clicks an item in the Simulator app's Device menu.
func (d *Driver) menuAction(ctx context.Context, item string) error {
	script := `tell application "System Events" to tell process "Simulator" ` +
		`to click menu item "` + item + `" of menu "Device" of menu bar 1`
	_, err := d.runner.Run(ctx, []string{"osascript", "-e", script}, nil, commandTimeout)
	if err != nil {
		return errors.Wrapf(err, "Simulator menu action %q failed", item)
	}
	return nil
}

// StartInstrument implements driver.Instrumenter by attaching an
// instruments trace to the simulator.
func (d *Driver) StartInstrument(ctx context.Context, id, name, artifactDir string) (process.Handle, error) {
	argv := []string{
		"xcrun", "instruments",
		"-w", id,
		"-t", name,
		"-D", artifactDir + "/" + name + ".trace",
	}
	return d.runner.Spawn(ctx, argv, nil)
}
