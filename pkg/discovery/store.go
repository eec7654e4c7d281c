package discovery

import (
	"sort"
	"strings"
	"sync"

	"github.com/devicelab-dev/devicectl/pkg/core"
	"github.com/devicelab-dev/devicectl/pkg/device"
	"github.com/devicelab-dev/devicectl/pkg/driver"
)

// Store is the canonical device registry walks merge into. Records are
// keyed by id and live for the process lifetime; a walk refreshes an
// existing record in place and instantiates records for new ids.
type Store struct {
	storageRoot string

	mu      sync.RWMutex
	devices map[string]*device.Device
	// byName maps lowercased display name to device ids, rebuilt in
	// full on each successful walk for the walked kind.
	byName map[string][]string
	// kindOf remembers which driver kind each id belongs to, so a
	// walk only rebuilds its own slice of the name index.
	kindOf map[string]string
}

// NewStore builds a store rooted at storageRoot (the .DeviceStorage
// directory device records create their folders under).
func NewStore(storageRoot string) *Store {
	return &Store{
		storageRoot: storageRoot,
		devices:     make(map[string]*device.Device),
		byName:      make(map[string][]string),
		kindOf:      make(map[string]string),
	}
}

// StorageRoot returns the directory device storage lives under.
func (s *Store) StorageRoot() string {
	return s.storageRoot
}

// MergeWalk folds one walk's results into the store and returns the
// walked kind's records, sorted by id for a stable snapshot.
func (s *Store) MergeWalk(desc driver.Descriptor, infos []core.DeviceInfo) ([]*device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kind := desc.Name
	snap := make([]*device.Device, 0, len(infos))
	for _, info := range infos {
		if info.ID == "" {
			continue
		}
		d, ok := s.devices[info.ID]
		if ok {
			d.Merge(info)
		} else {
			var err error
			d, err = device.NewRecord(info, s.storageRoot)
			if err != nil {
				return nil, err
			}
			s.devices[info.ID] = d
		}
		s.kindOf[info.ID] = kind
		snap = append(snap, d)
	}
	sort.Slice(snap, func(i, j int) bool { return snap[i].ID() < snap[j].ID() })

	s.rebuildNameIndexLocked(kind, snap)
	return snap, nil
}

// rebuildNameIndexLocked drops every name entry owned by kind and
// reindexes from the new snapshot.
func (s *Store) rebuildNameIndexLocked(kind string, snap []*device.Device) {
	for name, ids := range s.byName {
		kept := ids[:0]
		for _, id := range ids {
			if s.kindOf[id] != kind {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			delete(s.byName, name)
		} else {
			s.byName[name] = kept
		}
	}
	for _, d := range snap {
		key := strings.ToLower(d.Name())
		s.byName[key] = append(s.byName[key], d.ID())
	}
}

// ByID returns the record for id, or nil.
func (s *Store) ByID(id string) *device.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devices[id]
}

// ByName returns every record whose display name matches name,
// case-insensitively.
func (s *Store) ByName(name string) []*device.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byName[strings.ToLower(name)]
	out := make([]*device.Device, 0, len(ids))
	for _, id := range ids {
		if d := s.devices[id]; d != nil {
			out = append(out, d)
		}
	}
	return out
}

// All returns every known record, sorted by id.
func (s *Store) All() []*device.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*device.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of known records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}
