package medcache

import (
	"errors"
	"sort"
	"sync"
)

// Instance is the type-independent surface of a Cache, used to manage
// caches of different payload types together.
type Instance interface {
	Name() string
	ClearPatientData(patientID string) int
	Clear()
	Stats() Stats
	Close() error
}

var _ Instance = (*Cache[any])(nil)

// Group holds the per-data-class caches of one process.
type Group struct {
	mu        sync.RWMutex
	instances map[string]Instance
}

func NewGroup(instances ...Instance) *Group {
	g := &Group{instances: make(map[string]Instance, len(instances))}
	for _, in := range instances {
		g.Add(in)
	}
	return g
}

// Add registers in under its name, replacing any cache with the same name.
func (g *Group) Add(in Instance) {
	g.mu.Lock()
	g.instances[in.Name()] = in
	g.mu.Unlock()
}

// Names returns the registered cache names, sorted.
func (g *Group) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.instances))
	for n := range g.instances {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ClearPatientData purges patientID from every cache and returns the total
// number of entries removed.
func (g *Group) ClearPatientData(patientID string) int {
	total := 0
	for _, in := range g.snapshot() {
		total += in.ClearPatientData(patientID)
	}
	return total
}

// ClearAll empties every cache.
func (g *Group) ClearAll() {
	for _, in := range g.snapshot() {
		in.Clear()
	}
}

// Stats returns a snapshot per cache name.
func (g *Group) Stats() map[string]Stats {
	out := make(map[string]Stats)
	for _, in := range g.snapshot() {
		out[in.Name()] = in.Stats()
	}
	return out
}

// Close closes every cache, returning the joined errors.
func (g *Group) Close() error {
	var errs []error
	for _, in := range g.snapshot() {
		if err := in.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (g *Group) snapshot() []Instance {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.instances))
	for n := range g.instances {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]Instance, 0, len(names))
	for _, n := range names {
		out = append(out, g.instances[n])
	}
	return out
}
