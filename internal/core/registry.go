// Registry is the state descriptor registry: a per-machine-type
// cache of the immutable StateDescriptor/MachineDescriptor table produced by
// a builder. The build step runs at most once per type; runtime lookups are
// then a constant-time map access with no further synchronization beyond
// the sync.Once that guards the build.
package core

import (
	"fmt"
	"sync"

	"github.com/asyncmach/asyncmach/internal/primitives"
)

// Builder produces a fresh MachineDescriptor for a type. It is called at
// most once per type per Registry, regardless of how many machines of that
// type are created.
type Builder func() *primitives.MachineDescriptor

type registryEntry struct {
	once       sync.Once
	build      Builder
	descriptor *primitives.MachineDescriptor
	err        error
}

// Registry caches built MachineDescriptors by type name.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// RegisterType records the builder for typeName. Re-registering the same
// type name is accepted and keeps the first builder bound, so that
// idempotent registration calls (e.g. from RegisterMonitor) never race a
// second builder against the first.
func (r *Registry) RegisterType(typeName string, build Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[typeName]; ok {
		return
	}
	r.entries[typeName] = &registryEntry{build: build}
}

// Descriptor returns the cached, validated MachineDescriptor for typeName,
// building it on first access.
func (r *Registry) Descriptor(typeName string) (*primitives.MachineDescriptor, error) {
	r.mu.RLock()
	entry, ok := r.entries[typeName]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: machine type %q is not registered", typeName)
	}

	entry.once.Do(func() {
		desc := entry.build()
		if err := desc.Validate(); err != nil {
			entry.err = err
			return
		}
		entry.descriptor = desc
	})
	if entry.err != nil {
		return nil, entry.err
	}
	return entry.descriptor, nil
}

// IsRegistered reports whether typeName has a builder bound, without
// forcing the build.
func (r *Registry) IsRegistered(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[typeName]
	return ok
}
