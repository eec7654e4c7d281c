package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/devicelab-dev/devicectl/pkg/core"
)

func tempLockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), FileName)
}

func TestRead_CreatesUnlockedWhenAbsent(t *testing.T) {
	path := tempLockPath(t)
	l := New(path)

	st, err := l.Read()
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if st.Locked {
		t.Error("freshly created lock file should be unlocked")
	}
	if st.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", st.PID, os.Getpid())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("lock file was not created: %v", err)
	}
	want := "0." + strconv.Itoa(os.Getpid())
	if string(data) != want {
		t.Errorf("content = %q, want %q", data, want)
	}
}

func TestAcquireRelease_Cycle(t *testing.T) {
	path := tempLockPath(t)
	l := New(path)

	if err := l.Acquire(); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	held, err := l.HeldByUs()
	if err != nil || !held {
		t.Fatalf("HeldByUs() = %v, %v; want true, nil", held, err)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	held, _ = l.HeldByUs()
	if held {
		t.Error("lock still held after Release()")
	}
}

func TestAcquire_SamePidNested(t *testing.T) {
	path := tempLockPath(t)
	l := New(path)

	if err := l.Acquire(); err != nil {
		t.Fatalf("first Acquire() error: %v", err)
	}
	// Same-pid re-acquire short-circuits
	if err := l.Acquire(); err != nil {
		t.Fatalf("nested Acquire() error: %v", err)
	}
}

func TestAcquire_ForeignLiveHolder(t *testing.T) {
	path := tempLockPath(t)

	holder := NewWithLiveness(path, 11111, func(int) bool { return true })
	if err := holder.Acquire(); err != nil {
		t.Fatalf("holder Acquire() error: %v", err)
	}

	contender := NewWithLiveness(path, 22222, func(int) bool { return true })
	err := contender.Acquire()
	if !errors.Is(err, core.ErrDeviceLocked) {
		t.Fatalf("Acquire() with live foreign holder = %v, want ErrDeviceLocked", err)
	}
}

func TestAcquire_StaleLockReclaimed(t *testing.T) {
	path := tempLockPath(t)

	holder := NewWithLiveness(path, 11111, func(int) bool { return true })
	if err := holder.Acquire(); err != nil {
		t.Fatalf("holder Acquire() error: %v", err)
	}

	// Holder dies: liveness says no pid is alive.
	contender := NewWithLiveness(path, 22222, func(int) bool { return false })
	if err := contender.Acquire(); err != nil {
		t.Fatalf("Acquire() after holder death = %v, want success", err)
	}

	st, err := contender.Read()
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if !st.Locked || st.PID != 22222 {
		t.Errorf("lock state = %+v, want locked by 22222", st)
	}
}

func TestRelease_ForeignLiveHolderFails(t *testing.T) {
	path := tempLockPath(t)

	holder := NewWithLiveness(path, 11111, func(int) bool { return true })
	if err := holder.Acquire(); err != nil {
		t.Fatalf("holder Acquire() error: %v", err)
	}

	other := NewWithLiveness(path, 22222, func(int) bool { return true })
	err := other.Release()
	if !errors.Is(err, core.ErrDeviceLocked) {
		t.Fatalf("Release() by non-holder = %v, want ErrDeviceLocked", err)
	}
}

func TestAcquireReleaseAcquire_ContentMatchesSingleAcquire(t *testing.T) {
	single := tempLockPath(t)
	l1 := New(single)
	if err := l1.Acquire(); err != nil {
		t.Fatal(err)
	}
	want, err := os.ReadFile(single)
	if err != nil {
		t.Fatal(err)
	}

	cycled := tempLockPath(t)
	l2 := New(cycled)
	if err := l2.Acquire(); err != nil {
		t.Fatal(err)
	}
	if err := l2.Release(); err != nil {
		t.Fatal(err)
	}
	if err := l2.Acquire(); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(cycled)
	if err != nil {
		t.Fatal(err)
	}

	if string(got) != string(want) {
		t.Errorf("acquire/release/acquire content = %q, single acquire = %q", got, want)
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []string{"", "garbage", "2.123", "1.", "1.notapid", "."}
	for _, content := range tests {
		t.Run(content, func(t *testing.T) {
			if _, err := parse(content); err == nil {
				t.Errorf("parse(%q) succeeded, want error", content)
			}
		})
	}
}

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		content string
		locked  bool
		pid     int
	}{
		{"1.123", true, 123},
		{"0.9", false, 9},
		{"1.123\n", true, 123},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			st, err := parse(tt.content)
			if err != nil {
				t.Fatalf("parse(%q) error: %v", tt.content, err)
			}
			if st.Locked != tt.locked || st.PID != tt.pid {
				t.Errorf("parse(%q) = %+v, want locked=%v pid=%d", tt.content, st, tt.locked, tt.pid)
			}
		})
	}
}
