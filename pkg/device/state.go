package device

import (
	"github.com/devicelab-dev/devicectl/pkg/core"
)

// State is a device's runtime lifecycle state.
type State int

// Device states
const (
	StateUnknown State = iota
	StateShutdown
	StateBooting
	StateBooted
	StateShuttingDown
	StateErrored
)

// String returns the state name as reported by backends.
func (s State) String() string {
	switch s {
	case StateShutdown:
		return "Shutdown"
	case StateBooting:
		return "Booting"
	case StateBooted:
		return "Booted"
	case StateShuttingDown:
		return "ShuttingDown"
	case StateErrored:
		return "Errored"
	default:
		return "Unknown"
	}
}

// Event names a requested state-machine transition.
type Event string

// Transition events
const (
	EventDiscover        Event = "discover"
	EventBoot            Event = "boot"
	EventBootOk          Event = "bootOk"
	EventBootFail        Event = "bootFail"
	EventShutdown        Event = "shutdown"
	EventShutdownOk      Event = "shutdownOk"
	EventRestart         Event = "restart"
	EventRecover         Event = "recover"
	EventDiscoverRefresh Event = "discoverRefresh"
)

// transitions maps (state, event) to the next state. Absent entries
// are illegal. EventDiscover and EventDiscoverRefresh are handled
// separately because their target depends on the discovered state.
var transitions = map[State]map[Event]State{
	StateShutdown: {
		EventBoot: StateBooting,
	},
	StateBooting: {
		EventBootOk:   StateBooted,
		EventBootFail: StateErrored,
	},
	StateBooted: {
		EventShutdown: StateShuttingDown,
		EventRestart:  StateBooting,
	},
	StateShuttingDown: {
		EventShutdownOk: StateShutdown,
	},
	StateErrored: {
		EventRecover: StateShutdown,
	},
}

// Next computes the state that ev leads to from s, or
// core.ErrIllegalTransition when the machine forbids it.
func Next(s State, ev Event) (State, error) {
	if m, ok := transitions[s]; ok {
		if next, ok := m[ev]; ok {
			return next, nil
		}
	}
	return s, core.ErrIllegalTransition.WithDetails(map[string]interface{}{
		"state": s.String(),
		"event": string(ev),
	})
}

// StateFromBackend maps a backend-reported state string onto the
// machine. Unknown strings map to StateUnknown.
func StateFromBackend(raw string) State {
	switch raw {
	case "Booted", "device", "online":
		return StateBooted
	case "Shutdown", "offline":
		return StateShutdown
	case "Booting":
		return StateBooting
	case "Shutting Down", "ShuttingDown":
		return StateShuttingDown
	default:
		return StateUnknown
	}
}
