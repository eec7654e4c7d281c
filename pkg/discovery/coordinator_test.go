package discovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/devicelab-dev/devicectl/pkg/core"
	"github.com/devicelab-dev/devicectl/pkg/device"
	"github.com/devicelab-dev/devicectl/pkg/driver/mock"
	"github.com/pkg/errors"
)

func newCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	return NewCoordinator(NewStore(t.TempDir()))
}

func twoSims() []core.DeviceInfo {
	return []core.DeviceInfo{
		{ID: "UDID-A", Name: "iPhone SE", SDK: "17.2", State: "Shutdown"},
		{ID: "UDID-B", Name: "iPhone 15 Pro", SDK: "17.2", State: "Booted"},
	}
}

func TestWalk_MergesIntoStore(t *testing.T) {
	c := newCoordinator(t)
	drv := mock.New(mock.Config{Devices: twoSims()})

	snap, err := c.Walk(context.Background(), drv, false)
	if err != nil {
		t.Fatalf("Walk() error: %v", err)
	}
	if len(snap) != 2 {
		t.Fatalf("Walk() returned %d devices, want 2", len(snap))
	}

	a := c.Store().ByID("UDID-A")
	if a == nil {
		t.Fatal("UDID-A not in store")
	}
	if a.State() != device.StateShutdown {
		t.Errorf("UDID-A state = %v, want Shutdown", a.State())
	}
	b := c.Store().ByID("UDID-B")
	if b.State() != device.StateBooted {
		t.Errorf("UDID-B state = %v, want Booted", b.State())
	}
}

func TestWalk_SingleFlight(t *testing.T) {
	c := newCoordinator(t)
	drv := mock.New(mock.Config{
		Devices:       twoSims(),
		DiscoverDelay: 50 * time.Millisecond,
	})

	const callers = 8
	var wg sync.WaitGroup
	results := make([][]*device.Device, callers)
	errs := make([]error, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Walk(context.Background(), drv, false)
		}(i)
	}
	wg.Wait()

	if got := drv.DiscoverCount(); got != 1 {
		t.Errorf("concurrent walks ran %d subprocess listings, want 1", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d error: %v", i, errs[i])
		}
		if len(results[i]) != len(results[0]) {
			t.Fatalf("caller %d got %d devices, caller 0 got %d", i, len(results[i]), len(results[0]))
		}
		for j := range results[i] {
			if results[i][j] != results[0][j] {
				t.Errorf("caller %d snapshot differs from caller 0 at %d", i, j)
			}
		}
	}
}

func TestWalk_TTLCacheAvoidsRewalk(t *testing.T) {
	c := newCoordinator(t)
	now := time.Unix(1000, 0)
	c.SetClock(func() time.Time { return now })
	drv := mock.New(mock.Config{Devices: twoSims()})

	for i := 0; i < 5; i++ {
		if _, err := c.Walk(context.Background(), drv, false); err != nil {
			t.Fatal(err)
		}
	}
	if got := drv.DiscoverCount(); got != 1 {
		t.Errorf("walks within TTL ran %d listings, want 1", got)
	}

	// Past the TTL a fresh walk runs.
	now = now.Add(2 * time.Second)
	if _, err := c.Walk(context.Background(), drv, false); err != nil {
		t.Fatal(err)
	}
	if got := drv.DiscoverCount(); got != 2 {
		t.Errorf("walk after TTL expiry ran %d listings total, want 2", got)
	}
}

func TestWalk_FailureSharedByWaiters(t *testing.T) {
	c := newCoordinator(t)
	drv := mock.New(mock.Config{
		DiscoverErr:   errors.New("simctl exploded"),
		DiscoverDelay: 30 * time.Millisecond,
	})

	var wg sync.WaitGroup
	errs := make([]error, 4)
	wg.Add(4)
	for i := 0; i < 4; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Walk(context.Background(), drv, false)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			t.Errorf("caller %d got nil error, want the shared failure", i)
		}
	}
	if got := drv.DiscoverCount(); got != 1 {
		t.Errorf("failed walk ran %d listings, want 1", got)
	}
}

func TestWalk_FailureNotCached(t *testing.T) {
	c := newCoordinator(t)
	drv := mock.New(mock.Config{DiscoverErr: errors.New("boom")})

	if _, err := c.Walk(context.Background(), drv, false); err == nil {
		t.Fatal("first Walk() succeeded, want error")
	}

	// The failure must not serve as a cached snapshot.
	drv.Config.DiscoverErr = nil
	drv.Config.Devices = twoSims()
	snap, err := c.Walk(context.Background(), drv, false)
	if err != nil {
		t.Fatalf("Walk() after clearing failure: %v", err)
	}
	if len(snap) != 2 {
		t.Errorf("Walk() returned %d devices, want 2", len(snap))
	}
}

func TestWalk_RefreshUpdatesExistingRecord(t *testing.T) {
	c := newCoordinator(t)
	now := time.Unix(1000, 0)
	c.SetClock(func() time.Time { return now })

	drv := mock.New(mock.Config{Devices: []core.DeviceInfo{
		{ID: "UDID-A", Name: "iPhone SE", State: "Shutdown"},
	}})
	if _, err := c.Walk(context.Background(), drv, false); err != nil {
		t.Fatal(err)
	}
	first := c.Store().ByID("UDID-A")

	drv.Config.Devices = []core.DeviceInfo{
		{ID: "UDID-A", Name: "iPhone SE (2nd gen)", State: "Booted"},
	}
	now = now.Add(2 * time.Second)
	if _, err := c.Walk(context.Background(), drv, false); err != nil {
		t.Fatal(err)
	}

	second := c.Store().ByID("UDID-A")
	if first != second {
		t.Error("rediscovery replaced the record instead of refreshing in place")
	}
	if second.Name() != "iPhone SE (2nd gen)" {
		t.Errorf("Name = %q after refresh", second.Name())
	}
	if second.State() != device.StateBooted {
		t.Errorf("State = %v after refresh, want Booted", second.State())
	}
}

func TestStore_NameIndexRebuilt(t *testing.T) {
	c := newCoordinator(t)
	now := time.Unix(1000, 0)
	c.SetClock(func() time.Time { return now })

	drv := mock.New(mock.Config{Devices: []core.DeviceInfo{
		{ID: "UDID-A", Name: "iPhone SE"},
	}})
	if _, err := c.Walk(context.Background(), drv, false); err != nil {
		t.Fatal(err)
	}
	if got := c.Store().ByName("iphone se"); len(got) != 1 {
		t.Fatalf("ByName(iphone se) = %d records, want 1", len(got))
	}

	// Renamed on the next walk: the old name entry must be gone.
	drv.Config.Devices = []core.DeviceInfo{
		{ID: "UDID-A", Name: "Test Phone"},
	}
	now = now.Add(2 * time.Second)
	if _, err := c.Walk(context.Background(), drv, false); err != nil {
		t.Fatal(err)
	}
	if got := c.Store().ByName("iPhone SE"); len(got) != 0 {
		t.Errorf("stale name entry survived the rebuild: %d records", len(got))
	}
	if got := c.Store().ByName("Test Phone"); len(got) != 1 {
		t.Errorf("ByName(Test Phone) = %d records, want 1", len(got))
	}
}

func TestStore_ByIDUnknown(t *testing.T) {
	s := NewStore(t.TempDir())
	if d := s.ByID("nope"); d != nil {
		t.Errorf("ByID(unknown) = %v, want nil", d)
	}
}

func TestInvalidate_ForcesRewalk(t *testing.T) {
	c := newCoordinator(t)
	drv := mock.New(mock.Config{Devices: twoSims()})

	if _, err := c.Walk(context.Background(), drv, false); err != nil {
		t.Fatal(err)
	}
	c.Invalidate()
	if _, err := c.Walk(context.Background(), drv, false); err != nil {
		t.Fatal(err)
	}
	if got := drv.DiscoverCount(); got != 2 {
		t.Errorf("walks after Invalidate = %d listings, want 2", got)
	}
}
