// Package androidemu drives Android emulators: AVD configurations on
// disk plus their running instances reachable over adb.
package androidemu

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/devicelab-dev/devicectl/pkg/adb"
	"github.com/devicelab-dev/devicectl/pkg/core"
	"github.com/devicelab-dev/devicectl/pkg/driver"
	"github.com/devicelab-dev/devicectl/pkg/logger"
	"github.com/devicelab-dev/devicectl/pkg/process"
)

// DriverName is the factory registration key.
const DriverName = "android-emulator"

const (
	commandTimeout = 30 * time.Second
	startingPort   = 5554 // first emulator console port, always even
)

func init() {
	driver.RegisterFactory(DriverName, func(deps driver.Deps) (driver.Driver, error) {
		return New(deps.Runner), nil
	})
}

// Driver implements driver.Driver for AVD-backed emulators. Device ids
// are AVD names; the serial of a running instance is resolved from the
// console port.
type Driver struct {
	runner  process.Runner
	avdHome string

	mu      sync.Mutex
	ports   map[string]int            // avd name -> console port
	serials map[string]string         // avd name -> running serial
	handles map[string]process.Handle // avd name -> emulator process
}

// New builds the emulator driver.
func New(runner process.Runner) *Driver {
	return &Driver{
		runner:  runner,
		avdHome: AVDHome(),
		ports:   make(map[string]int),
		serials: make(map[string]string),
		handles: make(map[string]process.Handle),
	}
}

// SetAVDHome overrides the AVD directory, for tests.
func (d *Driver) SetAVDHome(dir string) {
	d.avdHome = dir
}

// Descriptor implements driver.Driver. Emulator boots are slow: up to
// three minutes of polling.
func (d *Driver) Descriptor() driver.Descriptor {
	return driver.Descriptor{
		Name:         DriverName,
		Platform:     core.PlatformAndroid,
		Kind:         core.KindSimulator,
		BootAttempts: 180,
		BootInterval: time.Second,
		BootSettle:   0,
		DiscoveryTTL: 3 * time.Second,
	}
}

// DiscoverAll scans the AVD home directory and reconciles it with the
// running instances `adb devices` reports. A running emulator whose
// AVD name matches a known configuration identifies that AVD as
// booted; running rows with no AVD name are orphans and their emulator
// process is interrupted.
func (d *Driver) DiscoverAll(ctx context.Context) ([]core.DeviceInfo, error) {
	avds, err := ScanAVDs(d.avdHome)
	if err != nil {
		return nil, errors.Wrap(err, "scanning AVD home failed")
	}

	rows, err := adb.ListDevices(ctx, d.runner)
	if err != nil {
		// adb being absent leaves every AVD listed as shut down.
		logger.Warn("adb devices failed, reporting AVDs only: %v", err)
		rows = nil
	}

	running := make(map[string]adb.Row) // avd name -> row
	for _, row := range rows {
		if !row.IsEmulator() || row.State != "device" {
			continue
		}
		client := adb.NewClient(d.runner, row.Serial)
		name := client.AvdName(ctx)
		if name == "" {
			d.reapOrphan(ctx, row)
			continue
		}
		running[name] = row
	}

	infos := make([]core.DeviceInfo, 0, len(avds))
	for _, avd := range avds {
		info := core.DeviceInfo{
			ID:       avd.Name,
			Name:     avd.DisplayName,
			Platform: core.PlatformAndroid,
			Kind:     core.KindSimulator,
			SDK:      avd.SDK,
			Model:    avd.Device,
			State:    "Shutdown",
		}
		if row, ok := running[avd.Name]; ok {
			info.State = "Booted"
			info.Serial = row.Serial
			info.ConsolePort = row.Port
			d.enrich(ctx, &info, row.Serial)

			d.mu.Lock()
			d.serials[avd.Name] = row.Serial
			d.ports[avd.Name] = row.Port
			d.mu.Unlock()
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// DiscoverAvailable implements driver.Driver; every configured AVD is
// a candidate.
func (d *Driver) DiscoverAvailable(ctx context.Context) ([]core.DeviceInfo, error) {
	return d.DiscoverAll(ctx)
}

// enrich reads screen metrics and identity properties from a booted
// instance, best-effort.
func (d *Driver) enrich(ctx context.Context, info *core.DeviceInfo, serial string) {
	client := adb.NewClient(d.runner, serial)
	if w, h, err := client.ScreenSize(ctx); err == nil {
		info.Metrics.Width = w
		info.Metrics.Height = h
	}
	if density, err := client.ScreenDensity(ctx); err == nil {
		info.Metrics.Density = float64(density)
	}
	if orient, err := client.Orientation(ctx); err == nil {
		info.Orientation = orient
	}
	if model, err := client.GetProp(ctx, "ro.product.device"); err == nil && model != "" {
		info.Model = model
	}
	if sdk, err := client.GetProp(ctx, "ro.build.version.sdk"); err == nil && sdk != "" {
		info.SDK = sdk
	}
}

// reapOrphan interrupts an emulator process that answers adb but
// reports no AVD name; nothing can ever claim it.
func (d *Driver) reapOrphan(ctx context.Context, row adb.Row) {
	logger.Warn("emulator %s reports no AVD name, reaping orphan", row.Serial)
	pattern := fmt.Sprintf("emulator.*-port %d", row.Port)
	res, err := d.runner.Run(ctx, []string{"pgrep", "-f", pattern}, nil, commandTimeout)
	if err != nil {
		logger.Debug("pgrep for orphan %s failed: %v", row.Serial, err)
		return
	}
	for _, field := range strings.Fields(res.Stdout) {
		pid, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		if err := process.SignalPID(pid, syscall.SIGINT); err != nil {
			logger.Debug("interrupting orphan pid %d: %v", pid, err)
		}
	}
}

// Boot starts the emulator process for the AVD. Readiness is observed
// through IsBooted polling.
func (d *Driver) Boot(ctx context.Context, id string) error {
	binary, err := findEmulatorBinary()
	if err != nil {
		return err
	}

	port := d.allocatePort(id)
	argv := []string{
		binary,
		"-avd", id,
		"-port", strconv.Itoa(port),
		"-netdelay", "none",
		"-netspeed", "full",
		"-no-boot-anim",
		"-no-snapshot-load",
	}

	handle, err := d.runner.Spawn(ctx, argv, nil)
	if err != nil {
		return errors.Wrapf(err, "starting emulator for %s failed", id)
	}

	serial := adb.EmulatorSerial(port)
	d.mu.Lock()
	d.serials[id] = serial
	d.handles[id] = handle
	d.mu.Unlock()

	logger.Info("emulator for %s starting on %s (pid %d)", id, serial, handle.PID())
	return nil
}

// allocatePort reuses the AVD's previous port or hands out the next
// even one.
func (d *Driver) allocatePort(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if port, ok := d.ports[id]; ok {
		return port
	}
	next := startingPort
	for _, port := range d.ports {
		if port >= next {
			next = port + 2
		}
	}
	d.ports[id] = next
	return next
}

// Shutdown implements driver.Driver via the emulator console kill.
func (d *Driver) Shutdown(ctx context.Context, id string) error {
	serial, err := d.serialFor(ctx, id)
	if err != nil {
		return err
	}
	client := adb.NewClient(d.runner, serial)
	if _, err := client.Run(ctx, "emu", "kill"); err != nil {
		return errors.Wrapf(err, "adb emu kill for %s failed", id)
	}

	d.mu.Lock()
	handle := d.handles[id]
	delete(d.handles, id)
	delete(d.serials, id)
	d.mu.Unlock()

	// The qemu process lingers after the console kill; interrupt it.
	if handle != nil {
		if err := handle.Kill(syscall.SIGINT); err != nil {
			logger.Debug("interrupting emulator process for %s: %v", id, err)
		}
	}
	return nil
}

// IsBooted reports readiness: adb transport up and the framework's
// boot flag set.
func (d *Driver) IsBooted(ctx context.Context, id string) (bool, error) {
	serial, err := d.serialFor(ctx, id)
	if err != nil {
		return false, nil // not visible on adb yet
	}
	client := adb.NewClient(d.runner, serial)
	return client.BootCompleted(ctx), nil
}

// serialFor resolves the running serial for an AVD name, consulting
// the tracked map first and the adb listing second.
func (d *Driver) serialFor(ctx context.Context, id string) (string, error) {
	d.mu.Lock()
	serial, ok := d.serials[id]
	d.mu.Unlock()
	if ok {
		return serial, nil
	}

	rows, err := adb.ListDevices(ctx, d.runner)
	if err != nil {
		return "", err
	}
	for _, row := range rows {
		if !row.IsEmulator() || row.State != "device" {
			continue
		}
		client := adb.NewClient(d.runner, row.Serial)
		if client.AvdName(ctx) == id {
			d.mu.Lock()
			d.serials[id] = row.Serial
			d.ports[id] = row.Port
			d.mu.Unlock()
			return row.Serial, nil
		}
	}
	return "", errors.Errorf("no running emulator for AVD %s", id)
}

// Install implements driver.Driver.
func (d *Driver) Install(ctx context.Context, id, path string) error {
	serial, err := d.serialFor(ctx, id)
	if err != nil {
		return err
	}
	return adb.NewClient(d.runner, serial).Install(ctx, path)
}

// Uninstall implements driver.Driver.
func (d *Driver) Uninstall(ctx context.Context, id, bundle string) error {
	serial, err := d.serialFor(ctx, id)
	if err != nil {
		return err
	}
	return adb.NewClient(d.runner, serial).Uninstall(ctx, bundle)
}

// Launch implements driver.Driver. Monkey's "No activities found"
// output surfaces as an error so the orchestrator can type it.
func (d *Driver) Launch(ctx context.Context, id, bundle string) error {
	serial, err := d.serialFor(ctx, id)
	if err != nil {
		return err
	}
	out, err := adb.NewClient(d.runner, serial).Launch(ctx, bundle)
	if err != nil {
		return err
	}
	if strings.Contains(out, "No activities found") {
		return core.ErrNonZeroExit.WithMessage("no activities found for " + bundle).WithDetails(map[string]interface{}{
			"stderr": out,
		})
	}
	return nil
}

// Metrics implements driver.Driver.
func (d *Driver) Metrics(ctx context.Context, id string) (core.ScreenMetrics, string, error) {
	serial, err := d.serialFor(ctx, id)
	if err != nil {
		return core.ScreenMetrics{}, "", err
	}
	client := adb.NewClient(d.runner, serial)

	var m core.ScreenMetrics
	w, h, err := client.ScreenSize(ctx)
	if err != nil {
		return m, "", err
	}
	m.Width, m.Height = w, h
	if density, err := client.ScreenDensity(ctx); err == nil {
		m.Density = float64(density)
	}
	model, _ := client.GetProp(ctx, "ro.product.device")
	return m, model, nil
}

// Orientation implements driver.Driver.
func (d *Driver) Orientation(ctx context.Context, id string) (int, error) {
	serial, err := d.serialFor(ctx, id)
	if err != nil {
		return 0, err
	}
	return adb.NewClient(d.runner, serial).Orientation(ctx)
}

// Rotate implements driver.Driver.
func (d *Driver) Rotate(ctx context.Context, id string, orientation int) error {
	serial, err := d.serialFor(ctx, id)
	if err != nil {
		return err
	}
	return adb.NewClient(d.runner, serial).SetOrientation(ctx, orientation)
}

// KeyEvent implements driver.Driver.
func (d *Driver) KeyEvent(ctx context.Context, id, key string) error {
	serial, err := d.serialFor(ctx, id)
	if err != nil {
		return err
	}
	return adb.NewClient(d.runner, serial).KeyEvent(ctx, key)
}

// LockScreen implements driver.HardwareController.
func (d *Driver) LockScreen(ctx context.Context, id string) error {
	return d.KeyEvent(ctx, id, "KEYCODE_SLEEP")
}

// PressHomeKey implements driver.HardwareController.
func (d *Driver) PressHomeKey(ctx context.Context, id string) error {
	return d.KeyEvent(ctx, id, "KEYCODE_HOME")
}

// ShakeScreen implements driver.HardwareController via the emulator
// console's acceleration sensor.
func (d *Driver) ShakeScreen(ctx context.Context, id string) error {
	serial, err := d.serialFor(ctx, id)
	if err != nil {
		return err
	}
	client := adb.NewClient(d.runner, serial)
	if _, err := client.Run(ctx, "emu", "sensor", "set", "acceleration", "100:100:100"); err != nil {
		return err
	}
	_, err = client.Run(ctx, "emu", "sensor", "set", "acceleration", "0:9.8:0")
	return err
}

// SetHardwareKeyboardConnected implements driver.HardwareController by
// toggling the soft keyboard's behavior next to a hardware one.
func (d *Driver) SetHardwareKeyboardConnected(ctx context.Context, id string, connected bool) error {
	serial, err := d.serialFor(ctx, id)
	if err != nil {
		return err
	}
	value := "1"
	if connected {
		value = "0"
	}
	_, err = adb.NewClient(d.runner, serial).Shell(ctx,
		"settings", "put", "secure", "show_ime_with_hard_keyboard", value)
	return err
}

// Erase implements driver.Eraser by deleting the AVD's user data
// images; the next boot recreates them from the system image.
func (d *Driver) Erase(ctx context.Context, id string) error {
	avds, err := ScanAVDs(d.avdHome)
	if err != nil {
		return err
	}
	for _, avd := range avds {
		if avd.Name != id {
			continue
		}
		for _, name := range []string{"userdata-qemu.img", "userdata-qemu.img.qcow2", "snapshots"} {
			path := filepath.Join(avd.Path, name)
			if err := os.RemoveAll(path); err != nil {
				return errors.Wrapf(err, "erasing %s failed", path)
			}
		}
		return nil
	}
	return errors.Errorf("no AVD named %s", id)
}

// Restart implements driver.Restarter: clear the boot flag, bounce the
// framework, and let the orchestrator re-await readiness.
func (d *Driver) Restart(ctx context.Context, id string) error {
	serial, err := d.serialFor(ctx, id)
	if err != nil {
		return err
	}
	client := adb.NewClient(d.runner, serial)
	if _, err := client.Shell(ctx, "setprop", "sys.boot_completed", "0"); err != nil {
		return err
	}
	if _, err := client.Shell(ctx, "stop"); err != nil {
		return err
	}
	_, err = client.Shell(ctx, "start")
	return err
}

// StartInstrument implements driver.Instrumenter by attaching an
// am instrument run to the device.
func (d *Driver) StartInstrument(ctx context.Context, id, name, artifactDir string) (process.Handle, error) {
	serial, err := d.serialFor(ctx, id)
	if err != nil {
		return nil, err
	}
	argv := []string{"adb", "-s", serial, "shell", "am", "instrument", "-w", name}
	return d.runner.Spawn(ctx, argv, nil)
}

// findEmulatorBinary locates the emulator launcher: new SDK layout,
// old layout, then PATH.
func findEmulatorBinary() (string, error) {
	for _, env := range []string{"ANDROID_HOME", "ANDROID_SDK_ROOT", "ANDROID_SDK_HOME"} {
		home := os.Getenv(env)
		if home == "" {
			continue
		}
		for _, rel := range []string{filepath.Join("emulator", "emulator"), filepath.Join("tools", "emulator")} {
			candidate := filepath.Join(home, rel)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}
	if path, err := exec.LookPath("emulator"); err == nil {
		return path, nil
	}
	return "", errors.New("emulator binary not found; set ANDROID_HOME or add emulator to PATH")
}
