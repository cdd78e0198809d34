// MonitorRegistry mirrors Registry but for monitor types, which additionally
// carry a per-state Temperature map that has no equivalent on an ordinary
// machine's MachineDescriptor.
package core

import (
	"fmt"
	"sync"

	"github.com/asyncmach/asyncmach/internal/primitives"
)

// MonitorBuilder produces a fresh MachineDescriptor and its per-state
// temperature map for a monitor type. Called at most once per type.
type MonitorBuilder func() (*primitives.MachineDescriptor, map[primitives.StateName]Temperature)

type monitorRegistryEntry struct {
	once       sync.Once
	build      MonitorBuilder
	descriptor *primitives.MachineDescriptor
	temps      map[primitives.StateName]Temperature
	err        error
}

// MonitorRegistry caches built monitor descriptors by type name.
type MonitorRegistry struct {
	mu      sync.RWMutex
	entries map[string]*monitorRegistryEntry
}

// NewMonitorRegistry creates an empty monitor registry.
func NewMonitorRegistry() *MonitorRegistry {
	return &MonitorRegistry{entries: make(map[string]*monitorRegistryEntry)}
}

// RegisterType records build for typeName. Re-registering the same type
// name is accepted and keeps the first builder bound: register_monitor is
// idempotent per type.
func (r *MonitorRegistry) RegisterType(typeName string, build MonitorBuilder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[typeName]; ok {
		return
	}
	r.entries[typeName] = &monitorRegistryEntry{build: build}
}

// IsRegistered reports whether typeName has a builder bound.
func (r *MonitorRegistry) IsRegistered(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[typeName]
	return ok
}

// TypeNames returns every registered monitor type name, for runtimes that
// need to iterate all monitors (e.g. a deadlock check over hot states).
func (r *MonitorRegistry) TypeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	return out
}

// Descriptor returns the cached, validated MachineDescriptor and temperature
// map for typeName, building it on first access.
func (r *MonitorRegistry) Descriptor(typeName string) (*primitives.MachineDescriptor, map[primitives.StateName]Temperature, error) {
	r.mu.RLock()
	entry, ok := r.entries[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("monitor registry: type %q is not registered", typeName)
	}

	entry.once.Do(func() {
		desc, temps := entry.build()
		if err := desc.Validate(); err != nil {
			entry.err = err
			return
		}
		entry.descriptor = desc
		entry.temps = temps
	})
	if entry.err != nil {
		return nil, nil, entry.err
	}
	return entry.descriptor, entry.temps, nil
}
