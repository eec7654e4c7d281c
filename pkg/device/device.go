// Package device holds the canonical per-device record and its state
// machine. Records are created on first discovery and live for the
// process lifetime; rediscovery refreshes them in place.
package device

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"github.com/devicelab-dev/devicectl/pkg/core"
	"github.com/devicelab-dev/devicectl/pkg/lockfile"
	"github.com/devicelab-dev/devicectl/pkg/process"
)

// Device is the canonical record for one physical or virtual device.
// All mutation goes through methods; readers never observe a torn
// record.
type Device struct {
	mu sync.Mutex

	info        core.DeviceInfo
	state       State
	orientation Orientation

	// currentSession holds the live session token value, or "".
	// Sessions themselves are owned by the session registry.
	currentSession string

	localStoragePath string
	tempStoragePath  string
	lock             *lockfile.Lock

	// instruments maps instrument id to its subprocess handle.
	instruments map[string]process.Handle
}

// NewRecord constructs a device record under storageRoot, creating the
// device's local and temp storage directories.
func NewRecord(info core.DeviceInfo, storageRoot string) (*Device, error) {
	if info.ID == "" {
		return nil, core.ErrArgument.WithMessage("device info must carry an id")
	}

	local := filepath.Join(storageRoot, hashID(info.ID))
	temp := filepath.Join(local, "temp")
	if err := os.MkdirAll(temp, 0755); err != nil {
		return nil, core.ErrIOFailed.WithCause(err)
	}

	d := &Device{
		info:             info,
		state:            StateFromBackend(info.State),
		orientation:      Orientation(info.Orientation).Normalize(),
		localStoragePath: local,
		tempStoragePath:  temp,
		lock:             lockfile.New(filepath.Join(local, lockfile.FileName)),
		instruments:      make(map[string]process.Handle),
	}
	if d.state == StateUnknown && info.State == "" {
		// Filesystem walks report no state; an undiscovered-but-known
		// device is treated as shut down.
		d.state = StateShutdown
	}
	return d, nil
}

// hashID derives the storage directory name for a device id.
func hashID(id string) string {
	sum := md5.Sum([]byte(id))
	return hex.EncodeToString(sum[:])
}

// ID returns the immutable device identifier.
func (d *Device) ID() string {
	return d.info.ID
}

// Info returns a copy of the device's discovery fields.
func (d *Device) Info() core.DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

// Name returns the display name.
func (d *Device) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info.Name
}

// Platform returns the OS family tag.
func (d *Device) Platform() core.Platform {
	return d.info.Platform
}

// Kind returns the simulator/physical tag.
func (d *Device) Kind() core.Kind {
	return d.info.Kind
}

// State returns the current lifecycle state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Transition applies ev to the state machine, or returns
// core.ErrIllegalTransition without changing state.
func (d *Device) Transition(ev Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	next, err := Next(d.state, ev)
	if err != nil {
		return err
	}
	d.state = next
	return nil
}

// ForceState overwrites the state without consulting the machine.
// Reserved for discovery refresh, which may correct any state.
func (d *Device) ForceState(s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = s
}

// Merge refreshes the mutable discovery fields in place and, when the
// walk reported a state, corrects the machine to it. The id never
// changes.
func (d *Device) Merge(info core.DeviceInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if info.Name != "" {
		d.info.Name = info.Name
	}
	if info.SDK != "" {
		d.info.SDK = info.SDK
	}
	if info.Model != "" {
		d.info.Model = info.Model
	}
	if info.Metrics.Width > 0 {
		d.info.Metrics = info.Metrics
	}
	if info.Serial != "" {
		d.info.Serial = info.Serial
	}
	if info.ConsolePort > 0 {
		d.info.ConsolePort = info.ConsolePort
	}
	if info.PID > 0 {
		d.info.PID = info.PID
	}
	if info.State != "" {
		if s := StateFromBackend(info.State); s != StateUnknown {
			d.state = s
			d.orientation = Orientation(info.Orientation).Normalize()
		}
	}
}

// SetMetrics stores the screen geometry read after a successful boot.
func (d *Device) SetMetrics(m core.ScreenMetrics, model string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.info.Metrics = m
	if model != "" {
		d.info.Model = model
	}
}

// Orientation returns the current orientation.
func (d *Device) Orientation() Orientation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.orientation
}

// SetOrientation stores o, normalized into 0..3.
func (d *Device) SetOrientation(o Orientation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orientation = o.Normalize()
}

// Session returns the live session token value, or "".
func (d *Device) Session() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentSession
}

// SetSession stores the session token value ("" clears it).
func (d *Device) SetSession(token string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.currentSession = token
}

// Lock returns the device's on-disk lock.
func (d *Device) Lock() *lockfile.Lock {
	return d.lock
}

// SetLock replaces the lock, for tests simulating foreign holders.
func (d *Device) SetLock(l *lockfile.Lock) {
	d.lock = l
}

// LocalStoragePath returns the device's storage directory.
func (d *Device) LocalStoragePath() string {
	return d.localStoragePath
}

// TempStoragePath returns the device's scratch directory.
func (d *Device) TempStoragePath() string {
	return d.tempStoragePath
}

// AddInstrument tracks a running instrument subprocess.
func (d *Device) AddInstrument(id string, h process.Handle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.instruments[id] = h
}

// TakeInstrument removes and returns the handle for id.
func (d *Device) TakeInstrument(id string) (process.Handle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.instruments[id]
	if ok {
		delete(d.instruments, id)
	}
	return h, ok
}

// HasInstrument reports whether id is still tracked.
func (d *Device) HasInstrument(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.instruments[id]
	return ok
}

// TakeAllInstruments removes and returns every tracked instrument.
func (d *Device) TakeAllInstruments() map[string]process.Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	all := d.instruments
	d.instruments = make(map[string]process.Handle)
	return all
}
