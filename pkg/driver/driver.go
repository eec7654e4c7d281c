// Package driver defines the capability surface a concrete device
// backend implements, and the registry the control plane loads
// backends from.
package driver

import (
	"context"
	"time"

	"github.com/devicelab-dev/devicectl/pkg/core"
	"github.com/devicelab-dev/devicectl/pkg/process"
)

// Descriptor identifies a driver and its boot-polling parameters.
type Descriptor struct {
	// Name is the registration key, e.g. "ios-simulator".
	Name string
	// Platform and Kind tag every device this driver reports.
	Platform core.Platform
	Kind     core.Kind

	// Boot polling: the orchestrator retries IsBooted BootAttempts
	// times, BootInterval apart, then waits BootSettle before
	// declaring the boot finished.
	BootAttempts int
	BootInterval time.Duration
	BootSettle   time.Duration

	// DiscoveryTTL bounds how stale a cached walk may be before the
	// coordinator issues a new one.
	DiscoveryTTL time.Duration
}

// Driver is the backend contract for one family of devices. The
// lifecycle orchestrator performs all guarding (session, lock, state
// machine); a driver only translates operations into tool invocations.
type Driver interface {
	Descriptor() Descriptor

	// DiscoverAll lists every device this driver knows about.
	DiscoverAll(ctx context.Context) ([]core.DeviceInfo, error)
	// DiscoverAvailable lists devices currently usable for sessions.
	DiscoverAvailable(ctx context.Context) ([]core.DeviceInfo, error)

	// Boot starts the device. It returns once the boot command is
	// issued; readiness is polled via IsBooted.
	Boot(ctx context.Context, id string) error
	// Shutdown stops the device.
	Shutdown(ctx context.Context, id string) error
	// IsBooted reports whether the device is fully booted.
	IsBooted(ctx context.Context, id string) (bool, error)

	// Install puts the app at path onto the device.
	Install(ctx context.Context, id, path string) error
	// Uninstall removes the app identified by bundle.
	Uninstall(ctx context.Context, id, bundle string) error
	// Launch starts the app identified by bundle.
	Launch(ctx context.Context, id, bundle string) error

	// Metrics reads screen geometry and the hardware model.
	Metrics(ctx context.Context, id string) (core.ScreenMetrics, string, error)
	// Orientation reads the current orientation quadrant 0..3.
	Orientation(ctx context.Context, id string) (int, error)
	// Rotate sets the orientation quadrant 0..3.
	Rotate(ctx context.Context, id string, orientation int) error

	// KeyEvent delivers a hardware key press.
	KeyEvent(ctx context.Context, id, key string) error
}

// Restarter is the optional restart capability. Drivers without it
// get a shutdown+boot chain from the orchestrator.
type Restarter interface {
	Restart(ctx context.Context, id string) error
}

// Eraser is the optional factory-reset capability. Only meaningful for
// virtual devices; the orchestrator requires them shut down first.
type Eraser interface {
	Erase(ctx context.Context, id string) error
}

// HardwareController is the optional hardware-surface capability.
type HardwareController interface {
	LockScreen(ctx context.Context, id string) error
	PressHomeKey(ctx context.Context, id string) error
	ShakeScreen(ctx context.Context, id string) error
	SetHardwareKeyboardConnected(ctx context.Context, id string, connected bool) error
}

// Instrumenter is the optional instrumentation capability.
type Instrumenter interface {
	// StartInstrument spawns the named measurement subprocess attached
	// to the device, writing artifacts under artifactDir.
	StartInstrument(ctx context.Context, id, name, artifactDir string) (process.Handle, error)
}

// Validate rejects a driver whose capability surface is incomplete.
// Called at registration time; a failure is fatal to startup.
func Validate(d Driver) error {
	if d == nil {
		return core.ErrDriverInvalid.WithMessage("driver is nil")
	}
	desc := d.Descriptor()
	if desc.Name == "" {
		return core.ErrDriverInvalid.WithMessage("driver descriptor has no name")
	}
	if desc.Platform != core.PlatformIOS && desc.Platform != core.PlatformAndroid {
		return core.ErrDriverInvalid.WithMessage("driver " + desc.Name + " reports unknown platform")
	}
	if desc.Kind != core.KindSimulator && desc.Kind != core.KindPhysical {
		return core.ErrDriverInvalid.WithMessage("driver " + desc.Name + " reports unknown kind")
	}
	if desc.BootAttempts <= 0 || desc.BootInterval <= 0 {
		return core.ErrDriverInvalid.WithMessage("driver " + desc.Name + " has no boot polling parameters")
	}
	if desc.DiscoveryTTL <= 0 {
		return core.ErrDriverInvalid.WithMessage("driver " + desc.Name + " has no discovery ttl")
	}
	return nil
}
