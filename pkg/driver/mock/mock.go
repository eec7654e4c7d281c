// Package mock provides an in-memory driver for testing the control
// plane without real devices.
package mock

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/devicelab-dev/devicectl/pkg/core"
	"github.com/devicelab-dev/devicectl/pkg/driver"
	"github.com/devicelab-dev/devicectl/pkg/process"
)

// Config configures mock driver behavior.
type Config struct {
	// Descriptor overrides; zero fields get test-friendly defaults.
	Name     string
	Platform core.Platform
	Kind     core.Kind

	// Devices is the discovery result.
	Devices []core.DeviceInfo

	// DiscoverDelay stalls each discovery walk, for single-flight tests.
	DiscoverDelay time.Duration
	// DiscoverErr fails every walk.
	DiscoverErr error

	// BootReadyAfter is how many IsBooted polls return false before
	// the device reads as booted. 0 = ready on first poll.
	BootReadyAfter int
	// BootErr fails the boot command itself.
	BootErr error
	// BootNeverReady keeps IsBooted false forever, for timeout tests.
	BootNeverReady bool

	// LaunchErrOutput, when non-empty, is the backend output returned
	// as a launch failure (e.g. a "no activities found" marker).
	LaunchErrOutput string
}

// Driver is a scriptable implementation of driver.Driver.
type Driver struct {
	Config Config

	mu           sync.Mutex
	booted       map[string]bool
	orientations map[string]int
	bootPolls    map[string]int
	calls        []string
	lastHandle   *Handle

	discoverCount atomic.Int32
}

// New creates a mock driver.
func New(cfg Config) *Driver {
	if cfg.Name == "" {
		cfg.Name = "mock"
	}
	if cfg.Platform == "" {
		cfg.Platform = core.PlatformIOS
	}
	if cfg.Kind == "" {
		cfg.Kind = core.KindSimulator
	}
	return &Driver{
		Config:       cfg,
		booted:       make(map[string]bool),
		orientations: make(map[string]int),
		bootPolls:    make(map[string]int),
	}
}

// Descriptor implements driver.Driver.
func (d *Driver) Descriptor() driver.Descriptor {
	return driver.Descriptor{
		Name:         d.Config.Name,
		Platform:     d.Config.Platform,
		Kind:         d.Config.Kind,
		BootAttempts: 10,
		BootInterval: time.Millisecond,
		BootSettle:   0,
		DiscoveryTTL: time.Second,
	}
}

// DiscoverAll implements driver.Driver.
func (d *Driver) DiscoverAll(ctx context.Context) ([]core.DeviceInfo, error) {
	d.discoverCount.Add(1)
	if d.Config.DiscoverDelay > 0 {
		select {
		case <-time.After(d.Config.DiscoverDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.Config.DiscoverErr != nil {
		return nil, d.Config.DiscoverErr
	}
	out := make([]core.DeviceInfo, len(d.Config.Devices))
	copy(out, d.Config.Devices)
	for i := range out {
		out[i].Platform = d.Config.Platform
		out[i].Kind = d.Config.Kind
		if d.isBooted(out[i].ID) {
			out[i].State = "Booted"
		}
	}
	return out, nil
}

// DiscoverAvailable implements driver.Driver.
func (d *Driver) DiscoverAvailable(ctx context.Context) ([]core.DeviceInfo, error) {
	return d.DiscoverAll(ctx)
}

// DiscoverCount returns how many walks ran.
func (d *Driver) DiscoverCount() int {
	return int(d.discoverCount.Load())
}

// Boot implements driver.Driver.
func (d *Driver) Boot(ctx context.Context, id string) error {
	d.record("boot %s", id)
	if d.Config.BootErr != nil {
		return d.Config.BootErr
	}
	d.mu.Lock()
	d.bootPolls[id] = 0
	d.mu.Unlock()
	return nil
}

// Shutdown implements driver.Driver.
func (d *Driver) Shutdown(ctx context.Context, id string) error {
	d.record("shutdown %s", id)
	d.mu.Lock()
	d.booted[id] = false
	d.mu.Unlock()
	return nil
}

// IsBooted implements driver.Driver.
func (d *Driver) IsBooted(ctx context.Context, id string) (bool, error) {
	if d.Config.BootNeverReady {
		return false, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.booted[id] {
		return true, nil
	}
	d.bootPolls[id]++
	if d.bootPolls[id] > d.Config.BootReadyAfter {
		d.booted[id] = true
		return true, nil
	}
	return false, nil
}

// SetBooted seeds the booted flag directly.
func (d *Driver) SetBooted(id string, booted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.booted[id] = booted
}

func (d *Driver) isBooted(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.booted[id]
}

// Install implements driver.Driver.
func (d *Driver) Install(ctx context.Context, id, path string) error {
	d.record("install %s %s", id, path)
	return nil
}

// Uninstall implements driver.Driver.
func (d *Driver) Uninstall(ctx context.Context, id, bundle string) error {
	d.record("uninstall %s %s", id, bundle)
	return nil
}

// Launch implements driver.Driver.
func (d *Driver) Launch(ctx context.Context, id, bundle string) error {
	d.record("launch %s %s", id, bundle)
	if d.Config.LaunchErrOutput != "" {
		return core.ErrNonZeroExit.WithDetails(map[string]interface{}{
			"stderr": d.Config.LaunchErrOutput,
		})
	}
	return nil
}

// Metrics implements driver.Driver.
func (d *Driver) Metrics(ctx context.Context, id string) (core.ScreenMetrics, string, error) {
	d.record("metrics %s", id)
	return core.ScreenMetrics{Width: 750, Height: 1334, Density: 2}, "MockPhone1,1", nil
}

// Orientation implements driver.Driver.
func (d *Driver) Orientation(ctx context.Context, id string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.orientations[id], nil
}

// Rotate implements driver.Driver.
func (d *Driver) Rotate(ctx context.Context, id string, orientation int) error {
	d.record("rotate %s %d", id, orientation)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orientations[id] = orientation
	return nil
}

// KeyEvent implements driver.Driver.
func (d *Driver) KeyEvent(ctx context.Context, id, key string) error {
	d.record("keyevent %s %s", id, key)
	return nil
}

// LockScreen implements driver.HardwareController.
func (d *Driver) LockScreen(ctx context.Context, id string) error {
	d.record("lockscreen %s", id)
	return nil
}

// PressHomeKey implements driver.HardwareController.
func (d *Driver) PressHomeKey(ctx context.Context, id string) error {
	d.record("home %s", id)
	return nil
}

// ShakeScreen implements driver.HardwareController.
func (d *Driver) ShakeScreen(ctx context.Context, id string) error {
	d.record("shake %s", id)
	return nil
}

// SetHardwareKeyboardConnected implements driver.HardwareController.
func (d *Driver) SetHardwareKeyboardConnected(ctx context.Context, id string, connected bool) error {
	d.record("hwkeyboard %s %v", id, connected)
	return nil
}

// StartInstrument implements driver.Instrumenter.
func (d *Driver) StartInstrument(ctx context.Context, id, name, artifactDir string) (process.Handle, error) {
	d.record("instrument %s %s", id, name)
	h := NewHandle(4242)
	d.mu.Lock()
	d.lastHandle = h
	d.mu.Unlock()
	return h, nil
}

// LastInstrumentHandle returns the most recently spawned fake
// instrument handle.
func (d *Driver) LastInstrumentHandle() *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastHandle
}

// Calls returns the recorded backend invocations in order.
func (d *Driver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	copy(out, d.calls)
	return out
}

func (d *Driver) record(format string, v ...interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, fmt.Sprintf(format, v...))
}

// Handle is a fake process.Handle for instrument tests.
type Handle struct {
	pid    int
	mu     sync.Mutex
	sigs   []os.Signal
	onExit func(int)
}

// NewHandle builds a fake subprocess handle with the given pid.
func NewHandle(pid int) *Handle {
	return &Handle{pid: pid}
}

// PID implements process.Handle.
func (h *Handle) PID() int { return h.pid }

// Kill implements process.Handle.
func (h *Handle) Kill(sig os.Signal) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sigs = append(h.sigs, sig)
	return nil
}

// OnExit implements process.Handle.
func (h *Handle) OnExit(fn func(int)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onExit = fn
}

// Exit simulates the subprocess exiting with code.
func (h *Handle) Exit(code int) {
	h.mu.Lock()
	fn := h.onExit
	h.mu.Unlock()
	if fn != nil {
		fn(code)
	}
}

// Signals returns the signals delivered so far.
func (h *Handle) Signals() []os.Signal {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]os.Signal, len(h.sigs))
	copy(out, h.sigs)
	return out
}
