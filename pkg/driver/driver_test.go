package driver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devicelab-dev/devicectl/pkg/core"
	"github.com/devicelab-dev/devicectl/pkg/process"
)

// stubDriver satisfies Driver with a configurable descriptor.
type stubDriver struct {
	desc Descriptor
}

func validStubDesc() Descriptor {
	return Descriptor{
		Name:         "stub",
		Platform:     core.PlatformIOS,
		Kind:         core.KindSimulator,
		BootAttempts: 10,
		BootInterval: time.Second,
		DiscoveryTTL: time.Second,
	}
}

func (s *stubDriver) Descriptor() Descriptor { return s.desc }
func (s *stubDriver) DiscoverAll(ctx context.Context) ([]core.DeviceInfo, error) {
	return nil, nil
}
func (s *stubDriver) DiscoverAvailable(ctx context.Context) ([]core.DeviceInfo, error) {
	return nil, nil
}
func (s *stubDriver) Boot(ctx context.Context, id string) error     { return nil }
func (s *stubDriver) Shutdown(ctx context.Context, id string) error { return nil }
func (s *stubDriver) IsBooted(ctx context.Context, id string) (bool, error) {
	return false, nil
}
func (s *stubDriver) Install(ctx context.Context, id, path string) error     { return nil }
func (s *stubDriver) Uninstall(ctx context.Context, id, bundle string) error { return nil }
func (s *stubDriver) Launch(ctx context.Context, id, bundle string) error    { return nil }
func (s *stubDriver) Metrics(ctx context.Context, id string) (core.ScreenMetrics, string, error) {
	return core.ScreenMetrics{}, "", nil
}
func (s *stubDriver) Orientation(ctx context.Context, id string) (int, error) { return 0, nil }
func (s *stubDriver) Rotate(ctx context.Context, id string, orientation int) error {
	return nil
}
func (s *stubDriver) KeyEvent(ctx context.Context, id, key string) error { return nil }

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Descriptor)
		ok     bool
	}{
		{"valid", func(d *Descriptor) {}, true},
		{"no name", func(d *Descriptor) { d.Name = "" }, false},
		{"bad platform", func(d *Descriptor) { d.Platform = "windows" }, false},
		{"bad kind", func(d *Descriptor) { d.Kind = "cloud" }, false},
		{"no boot attempts", func(d *Descriptor) { d.BootAttempts = 0 }, false},
		{"no boot interval", func(d *Descriptor) { d.BootInterval = 0 }, false},
		{"no discovery ttl", func(d *Descriptor) { d.DiscoveryTTL = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := validStubDesc()
			tt.mutate(&desc)
			err := Validate(&stubDriver{desc: desc})
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, core.ErrDriverInvalid) {
				t.Errorf("Validate() = %v, want ErrDriverInvalid", err)
			}
		})
	}
}

func TestValidate_Nil(t *testing.T) {
	if err := Validate(nil); !errors.Is(err, core.ErrDriverInvalid) {
		t.Fatalf("Validate(nil) = %v, want ErrDriverInvalid", err)
	}
}

func TestLoad_UnknownName(t *testing.T) {
	_, err := Load("never-registered", Deps{Runner: process.NewFakeRunner()})
	if !errors.Is(err, core.ErrDriverInvalid) {
		t.Fatalf("Load(unknown) = %v, want ErrDriverInvalid", err)
	}
}

func TestLoad_RegisteredAndValidated(t *testing.T) {
	RegisterFactory("test-stub", func(deps Deps) (Driver, error) {
		return &stubDriver{desc: validStubDesc()}, nil
	})
	d, err := Load("test-stub", Deps{Runner: process.NewFakeRunner()})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if d.Descriptor().Name != "stub" {
		t.Errorf("loaded descriptor = %+v", d.Descriptor())
	}

	// An invalid construction is rejected at load time.
	RegisterFactory("test-broken", func(deps Deps) (Driver, error) {
		desc := validStubDesc()
		desc.BootAttempts = 0
		return &stubDriver{desc: desc}, nil
	})
	if _, err := Load("test-broken", Deps{Runner: process.NewFakeRunner()}); !errors.Is(err, core.ErrDriverInvalid) {
		t.Fatalf("Load(broken) = %v, want ErrDriverInvalid", err)
	}
}
