package androidphys

import (
	"context"
	"testing"

	"github.com/devicelab-dev/devicectl/pkg/driver"
	"github.com/devicelab-dev/devicectl/pkg/process"
)

func TestDiscoverAll_SkipsEmulators(t *testing.T) {
	fake := process.NewFakeRunner()
	fake.Respond("adb devices", process.Result{
		Stdout: "List of devices attached\n" +
			"emulator-5554\tdevice\n" +
			"R58M123ABC\tdevice\n" +
			"R58M456DEF\tunauthorized\n",
	}, nil)
	fake.Respond("adb -s R58M123ABC shell getprop ro.product.model", process.Result{Stdout: "Pixel 7\n"}, nil)
	fake.Respond("adb -s R58M123ABC shell getprop ro.build.version.sdk", process.Result{Stdout: "33\n"}, nil)
	fake.Respond("adb -s R58M123ABC shell wm size", process.Result{Stdout: "Physical size: 1080x2340\n"}, nil)
	fake.Respond("adb -s R58M123ABC shell wm density", process.Result{Stdout: "Physical density: 420\n"}, nil)

	d := New(fake)
	infos, err := d.DiscoverAll(context.Background())
	if err != nil {
		t.Fatalf("DiscoverAll() error: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("DiscoverAll() = %d devices, want 2 (emulator excluded)", len(infos))
	}

	ready := infos[0]
	if ready.ID != "R58M123ABC" || ready.Name != "Pixel 7" || ready.SDK != "33" {
		t.Errorf("ready device = %+v", ready)
	}
	if ready.Metrics.Width != 1080 || ready.Metrics.Density != 420 {
		t.Errorf("metrics = %+v", ready.Metrics)
	}

	if infos[1].State != "unauthorized" {
		t.Errorf("unauthorized device state = %q", infos[1].State)
	}
}

func TestDiscoverAvailable_FiltersUnready(t *testing.T) {
	fake := process.NewFakeRunner()
	fake.Respond("adb devices", process.Result{
		Stdout: "List of devices attached\n" +
			"R58M123ABC\tdevice\n" +
			"R58M456DEF\toffline\n",
	}, nil)

	d := New(fake)
	infos, err := d.DiscoverAvailable(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 1 || infos[0].ID != "R58M123ABC" {
		t.Errorf("DiscoverAvailable() = %+v, want only the ready device", infos)
	}
}

func TestLaunch_NoActivities(t *testing.T) {
	fake := process.NewFakeRunner()
	fake.Respond("adb -s R58M123ABC shell monkey", process.Result{
		Stdout: "** No activities found to run, monkey aborted.\n",
	}, nil)

	d := New(fake)
	if err := d.Launch(context.Background(), "R58M123ABC", "com.missing"); err == nil {
		t.Fatal("Launch() with no activities succeeded, want error")
	}
}

func TestDescriptor_Valid(t *testing.T) {
	if err := driver.Validate(New(process.NewFakeRunner())); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
}
