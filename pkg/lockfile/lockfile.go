// Package lockfile implements the per-device on-disk advisory lock.
//
// A lock file lives at <deviceStorage>/.lock and holds "<0|1>.<pid>":
// "1.<pid>" means pid holds the lock, "0.<pid>" means pid released it.
// A lock whose holder pid is no longer alive is reclaimed by the next
// acquirer, which is how stale locks from crashed processes heal.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/devicelab-dev/devicectl/pkg/core"
	"github.com/devicelab-dev/devicectl/pkg/logger"
	"github.com/devicelab-dev/devicectl/pkg/process"
)

// FileName is the lock file's name inside a device storage directory.
const FileName = ".lock"

// State is the parsed content of a lock file.
type State struct {
	Locked bool
	PID    int
}

// Lock manages one device's lock file.
type Lock struct {
	path string
	pid  int
	// alive reports whether a pid denotes a live process. Injected so
	// tests can simulate dead holders.
	alive func(int) bool
}

// New returns a Lock for the file at path, owned by the current process.
func New(path string) *Lock {
	return &Lock{
		path:  path,
		pid:   os.Getpid(),
		alive: process.PIDAlive,
	}
}

// NewWithLiveness returns a Lock with a custom liveness check and pid,
// for tests that simulate foreign or dead holders.
func NewWithLiveness(path string, pid int, alive func(int) bool) *Lock {
	return &Lock{path: path, pid: pid, alive: alive}
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// Read parses the lock file. If the file is absent it is created in the
// unlocked state owned by this process.
func (l *Lock) Read() (State, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		st := State{Locked: false, PID: l.pid}
		if werr := l.write(st); werr != nil {
			return State{}, werr
		}
		return st, nil
	}
	if err != nil {
		return State{}, core.ErrIOFailed.WithCause(err)
	}
	return parse(string(data))
}

// Acquire takes the lock for this process.
//   - already held by this process: no-op
//   - held by another live process: core.ErrDeviceLocked
//   - held by a dead process: reclaimed
func (l *Lock) Acquire() error {
	st, err := l.Read()
	if err != nil {
		return err
	}
	if st.Locked {
		if st.PID == l.pid {
			return nil
		}
		if l.alive(st.PID) {
			return core.ErrDeviceLocked.WithDetails(map[string]interface{}{
				"holderPid": st.PID,
			})
		}
		logger.Warn("reclaiming stale lock %s held by dead pid %d", l.path, st.PID)
	}
	return l.write(State{Locked: true, PID: l.pid})
}

// Release marks the lock unlocked. Fails when a different live process
// currently holds it.
func (l *Lock) Release() error {
	st, err := l.Read()
	if err != nil {
		return err
	}
	if st.Locked && st.PID != l.pid && l.alive(st.PID) {
		return core.ErrDeviceLocked.WithDetails(map[string]interface{}{
			"holderPid": st.PID,
		})
	}
	return l.write(State{Locked: false, PID: l.pid})
}

// HeldByUs reports whether this process currently holds the lock.
func (l *Lock) HeldByUs() (bool, error) {
	st, err := l.Read()
	if err != nil {
		return false, err
	}
	return st.Locked && st.PID == l.pid, nil
}

// HeldByOther reports whether another live process holds the lock.
func (l *Lock) HeldByOther() (bool, error) {
	st, err := l.Read()
	if err != nil {
		return false, err
	}
	return st.Locked && st.PID != l.pid && l.alive(st.PID), nil
}

func (l *Lock) write(st State) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return core.ErrIOFailed.WithCause(err)
	}
	flag := "0"
	if st.Locked {
		flag = "1"
	}
	content := fmt.Sprintf("%s.%d", flag, st.PID)
	if err := os.WriteFile(l.path, []byte(content), 0644); err != nil {
		return core.ErrIOFailed.WithCause(err)
	}
	return nil
}

func parse(content string) (State, error) {
	parts := strings.SplitN(strings.TrimSpace(content), ".", 2)
	if len(parts) != 2 {
		return State{}, core.ErrIOFailed.WithMessage(fmt.Sprintf("malformed lock file content %q", content))
	}
	if parts[0] != "0" && parts[0] != "1" {
		return State{}, core.ErrIOFailed.WithMessage(fmt.Sprintf("malformed lock flag %q", parts[0]))
	}
	pid, err := strconv.Atoi(parts[1])
	if err != nil {
		return State{}, core.ErrIOFailed.WithMessage(fmt.Sprintf("malformed lock pid %q", parts[1]))
	}
	return State{Locked: parts[0] == "1", PID: pid}, nil
}
