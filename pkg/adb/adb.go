// Package adb wraps the Android Debug Bridge for the Android drivers.
// All invocations go through the injected process runner so tests can
// script adb output.
package adb

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/devicelab-dev/devicectl/pkg/process"
)

// commandTimeout bounds a single adb invocation.
const commandTimeout = 30 * time.Second

// Client runs adb commands against one device serial.
type Client struct {
	runner process.Runner
	path   string
	serial string
}

// NewClient builds a client for serial. An empty serial addresses the
// single connected device. The binary name stays "adb"; the runner's
// exec layer resolves it through PATH.
func NewClient(runner process.Runner, serial string) *Client {
	return &Client{runner: runner, path: "adb", serial: serial}
}

// Serial returns the device serial this client addresses.
func (c *Client) Serial() string {
	return c.serial
}

// Run executes an adb subcommand and returns stdout.
func (c *Client) Run(ctx context.Context, args ...string) (string, error) {
	argv := make([]string, 0, len(args)+3)
	argv = append(argv, c.path)
	if c.serial != "" {
		argv = append(argv, "-s", c.serial)
	}
	argv = append(argv, args...)

	res, err := c.runner.Run(ctx, argv, nil, commandTimeout)
	if err != nil {
		return "", errors.Wrapf(err, "adb %s", strings.Join(args, " "))
	}
	return res.Stdout, nil
}

// Shell executes a shell command on the device.
func (c *Client) Shell(ctx context.Context, cmd ...string) (string, error) {
	return c.Run(ctx, append([]string{"shell"}, cmd...)...)
}

// GetProp reads a system property, trimmed.
func (c *Client) GetProp(ctx context.Context, prop string) (string, error) {
	out, err := c.Shell(ctx, "getprop", prop)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// State returns the adb transport state, e.g. "device" or "offline".
func (c *Client) State(ctx context.Context) (string, error) {
	out, err := c.Run(ctx, "get-state")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// BootCompleted reports whether the framework finished booting.
func (c *Client) BootCompleted(ctx context.Context) bool {
	state, err := c.State(ctx)
	if err != nil || state != "device" {
		return false
	}
	flag, err := c.GetProp(ctx, "sys.boot_completed")
	return err == nil && flag == "1"
}

// Install installs an APK, replacing and granting runtime permissions.
func (c *Client) Install(ctx context.Context, apkPath string) error {
	_, err := c.Run(ctx, "install", "-r", "-g", apkPath)
	return err
}

// Uninstall removes a package.
func (c *Client) Uninstall(ctx context.Context, pkg string) error {
	_, err := c.Run(ctx, "uninstall", pkg)
	return err
}

// Launch starts a package's default activity via monkey, whose output
// carries the "no activities found" marker when the package has none.
func (c *Client) Launch(ctx context.Context, pkg string) (string, error) {
	return c.Shell(ctx, "monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1")
}

// KeyEvent delivers an input key event by name or code.
func (c *Client) KeyEvent(ctx context.Context, key string) error {
	_, err := c.Shell(ctx, "input", "keyevent", key)
	return err
}

// AvdName asks a running emulator for its AVD name. Returns "" when
// the device is not an emulator or does not answer.
func (c *Client) AvdName(ctx context.Context) string {
	out, err := c.Run(ctx, "emu", "avd", "name")
	if err != nil {
		return ""
	}
	// Output is the name on the first line, then "OK".
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && line != "OK" {
			return line
		}
	}
	return ""
}

var (
	sizeRe    = regexp.MustCompile(`(?m)Physical size:\s*(\d+)x(\d+)`)
	densityRe = regexp.MustCompile(`(?m)Physical density:\s*(\d+)`)
	orientRe  = regexp.MustCompile(`SurfaceOrientation:\s*(\d)`)
)

// ScreenSize reads the physical display size via wm.
func (c *Client) ScreenSize(ctx context.Context) (width, height int, err error) {
	out, err := c.Shell(ctx, "wm", "size")
	if err != nil {
		return 0, 0, err
	}
	m := sizeRe.FindStringSubmatch(out)
	if m == nil {
		return 0, 0, errors.Errorf("unparseable wm size output %q", strings.TrimSpace(out))
	}
	width, _ = strconv.Atoi(m[1])
	height, _ = strconv.Atoi(m[2])
	return width, height, nil
}

// ScreenDensity reads the display density via wm.
func (c *Client) ScreenDensity(ctx context.Context) (int, error) {
	out, err := c.Shell(ctx, "wm", "density")
	if err != nil {
		return 0, err
	}
	m := densityRe.FindStringSubmatch(out)
	if m == nil {
		return 0, errors.Errorf("unparseable wm density output %q", strings.TrimSpace(out))
	}
	return strconv.Atoi(m[1])
}

// Orientation reads the current surface orientation quadrant 0..3.
func (c *Client) Orientation(ctx context.Context) (int, error) {
	out, err := c.Shell(ctx, "dumpsys", "input")
	if err != nil {
		return 0, err
	}
	m := orientRe.FindStringSubmatch(out)
	if m == nil {
		return 0, errors.New("no SurfaceOrientation in dumpsys output")
	}
	return strconv.Atoi(m[1])
}

// SetOrientation pins the display to quadrant 0..3 via user_rotation.
func (c *Client) SetOrientation(ctx context.Context, orientation int) error {
	if _, err := c.Shell(ctx, "settings", "put", "system", "accelerometer_rotation", "0"); err != nil {
		return err
	}
	_, err := c.Shell(ctx, "settings", "put", "system", "user_rotation", strconv.Itoa(orientation))
	return err
}

// Row is one entry of `adb devices`.
type Row struct {
	Serial string
	State  string // "device", "offline", "unauthorized"
	Port   int    // console port for emulator-NNNN serials, else 0
}

// IsEmulator reports whether the row is an emulator transport.
func (r Row) IsEmulator() bool {
	return strings.HasPrefix(r.Serial, "emulator-")
}

// ListDevices parses `adb devices` into rows.
func ListDevices(ctx context.Context, runner process.Runner) ([]Row, error) {
	c := NewClient(runner, "")
	out, err := c.Run(ctx, "devices")
	if err != nil {
		return nil, err
	}
	return ParseDevices(out), nil
}

// ParseDevices parses the text of `adb devices`.
func ParseDevices(out string) []Row {
	var rows []Row
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		row := Row{Serial: fields[0], State: fields[1]}
		if row.IsEmulator() {
			if port, err := strconv.Atoi(strings.TrimPrefix(row.Serial, "emulator-")); err == nil {
				row.Port = port
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// EmulatorSerial derives the serial for a console port.
func EmulatorSerial(port int) string {
	return fmt.Sprintf("emulator-%d", port)
}
