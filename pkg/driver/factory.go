package driver

import (
	"sort"
	"sync"

	"github.com/devicelab-dev/devicectl/pkg/core"
	"github.com/devicelab-dev/devicectl/pkg/process"
)

// Deps carries the collaborators a driver factory may use.
type Deps struct {
	Runner process.Runner
}

// Factory builds a driver instance.
type Factory func(deps Deps) (Driver, error)

var (
	factoriesMu sync.Mutex
	factories   = make(map[string]Factory)
)

// RegisterFactory makes a driver constructible by name. Drivers call
// this from an init function; configuration then selects names.
func RegisterFactory(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Load builds and validates the driver registered under name.
func Load(name string, deps Deps) (Driver, error) {
	factoriesMu.Lock()
	f, ok := factories[name]
	factoriesMu.Unlock()
	if !ok {
		return nil, core.ErrDriverInvalid.WithMessage("no driver registered under " + name)
	}
	d, err := f(deps)
	if err != nil {
		return nil, core.ErrDriverInvalid.WithCause(err)
	}
	if err := Validate(d); err != nil {
		return nil, err
	}
	return d, nil
}

// RegisteredNames lists every registered factory, sorted.
func RegisteredNames() []string {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
