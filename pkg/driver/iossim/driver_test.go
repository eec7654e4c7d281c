package iossim

import (
	"context"
	"testing"

	"github.com/devicelab-dev/devicectl/pkg/core"
	"github.com/devicelab-dev/devicectl/pkg/driver"
	"github.com/devicelab-dev/devicectl/pkg/process"
)

const sampleList = `{
  "devices": {
    "com.apple.CoreSimulator.SimRuntime.iOS-17-2": [
      {
        "name": "iPhone SE (3rd generation)",
        "udid": "AAAA-1111",
        "state": "Shutdown",
        "isAvailable": true,
        "deviceTypeIdentifier": "com.apple.CoreSimulator.SimDeviceType.iPhone-SE-3rd-generation"
      },
      {
        "name": "iPhone 15 Pro",
        "udid": "BBBB-2222",
        "state": "Booted",
        "isAvailable": true,
        "deviceTypeIdentifier": "com.apple.CoreSimulator.SimDeviceType.iPhone-15-Pro"
      },
      {
        "name": "Broken Runtime",
        "udid": "CCCC-3333",
        "state": "Shutdown",
        "isAvailable": false
      }
    ],
    "com.apple.CoreSimulator.SimRuntime.watchOS-10-2": [
      {
        "name": "Apple Watch Series 9",
        "udid": "DDDD-4444",
        "state": "Shutdown",
        "isAvailable": true
      }
    ]
  }
}`

func TestParseList(t *testing.T) {
	infos := ParseList(sampleList)
	if len(infos) != 3 {
		t.Fatalf("ParseList() = %d devices, want 3 (unavailable filtered)", len(infos))
	}

	byID := make(map[string]core.DeviceInfo)
	for _, info := range infos {
		byID[info.ID] = info
	}

	se, ok := byID["AAAA-1111"]
	if !ok {
		t.Fatal("AAAA-1111 missing")
	}
	if se.Name != "iPhone SE (3rd generation)" || se.State != "Shutdown" || se.SDK != "17.2" {
		t.Errorf("iPhone SE parsed as %+v", se)
	}
	if se.Platform != core.PlatformIOS || se.Kind != core.KindSimulator {
		t.Errorf("tags = %s/%s", se.Platform, se.Kind)
	}

	if pro := byID["BBBB-2222"]; pro.State != "Booted" {
		t.Errorf("iPhone 15 Pro state = %q", pro.State)
	}
	if watch := byID["DDDD-4444"]; watch.SDK != "10.2" {
		t.Errorf("watch SDK = %q, want 10.2", watch.SDK)
	}
	if _, ok := byID["CCCC-3333"]; ok {
		t.Error("unavailable device not filtered")
	}
}

func TestSdkFromRuntime(t *testing.T) {
	tests := []struct {
		runtime string
		want    string
	}{
		{"com.apple.CoreSimulator.SimRuntime.iOS-17-2", "17.2"},
		{"com.apple.CoreSimulator.SimRuntime.iOS-18-0", "18.0"},
		{"com.apple.CoreSimulator.SimRuntime.tvOS-17-0", "17.0"},
		{"unknown-runtime", ""},
	}
	for _, tt := range tests {
		t.Run(tt.runtime, func(t *testing.T) {
			if got := sdkFromRuntime(tt.runtime); got != tt.want {
				t.Errorf("sdkFromRuntime(%q) = %q, want %q", tt.runtime, got, tt.want)
			}
		})
	}
}

func TestParseIOEnumerate(t *testing.T) {
	out := `Port:
  UUID: 1234
  Class: Display
  Width: 750
  Height: 1334
  Pixel density: 2
Port:
  UUID: 5678
  Class: Display
  Width: 320
  Height: 240
`
	m := ParseIOEnumerate(out)
	if m.Width != 750 || m.Height != 1334 {
		t.Errorf("metrics = %+v, want first display 750x1334", m)
	}
	if m.Density != 2 {
		t.Errorf("density = %v, want 2", m.Density)
	}
}

func TestIsBooted(t *testing.T) {
	fake := process.NewFakeRunner()
	fake.Respond("xcrun simctl list devices", process.Result{Stdout: sampleList}, nil)
	d := New(fake)

	booted, err := d.IsBooted(context.Background(), "BBBB-2222")
	if err != nil {
		t.Fatalf("IsBooted() error: %v", err)
	}
	if !booted {
		t.Error("IsBooted(BBBB-2222) = false, want true")
	}

	booted, err = d.IsBooted(context.Background(), "AAAA-1111")
	if err != nil || booted {
		t.Errorf("IsBooted(AAAA-1111) = %v, %v; want false, nil", booted, err)
	}

	if _, err := d.IsBooted(context.Background(), "ZZZZ"); err == nil {
		t.Error("IsBooted(unknown) succeeded, want error")
	}
}

func TestBoot_AlreadyBootedResolves(t *testing.T) {
	fake := process.NewFakeRunner()
	fake.Respond("xcrun simctl boot", process.Result{
		Stderr:   "Unable to boot device in current state: Booted",
		ExitCode: 149,
	}, core.ErrNonZeroExit)
	d := New(fake)

	if err := d.Boot(context.Background(), "AAAA-1111"); err != nil {
		t.Fatalf("Boot() of already-booted simulator = %v, want nil", err)
	}
}

func TestRotate_TracksOrientation(t *testing.T) {
	fake := process.NewFakeRunner()
	d := New(fake)
	ctx := context.Background()

	if err := d.Rotate(ctx, "AAAA", 3); err != nil {
		t.Fatal(err)
	}
	got, _ := d.Orientation(ctx, "AAAA")
	if got != 3 {
		t.Errorf("Orientation after rotate = %d, want 3", got)
	}
	// 0 -> 3 is one left rotation, not three rights.
	if n := fake.CallCount("osascript"); n != 1 {
		t.Errorf("rotation used %d menu clicks, want 1", n)
	}
}

func TestDescriptor_Valid(t *testing.T) {
	d := New(process.NewFakeRunner())
	if err := driver.Validate(d); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	desc := d.Descriptor()
	if desc.BootAttempts != 10 || desc.BootInterval.Seconds() != 1 {
		t.Errorf("boot polling = %d @ %v", desc.BootAttempts, desc.BootInterval)
	}
	if desc.BootSettle.Seconds() != 3 {
		t.Errorf("settle = %v, want 3s", desc.BootSettle)
	}
}
