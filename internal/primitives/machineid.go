package primitives

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// MachineId is a stable, equality-comparable identity. It is bound exactly
// once to a runtime and is never rebound or reused after the owning machine
// halts: the (Value, Generation) pair is globally unique for the lifetime of
// a runtime instance.
type MachineId struct {
	Value      uint64
	Generation uint64
	TypeName   string
	Name       string // friendly name; IdGenerator.Next defaults it to TypeName-<8 hex chars of a UUID>
	Endpoint   string // optional remote-endpoint label; unused in-process
}

// IsZero reports whether this is the unbound zero value.
func (id MachineId) IsZero() bool {
	return id.Value == 0 && id.Generation == 0 && id.TypeName == ""
}

// String renders a human-readable identity: "Server(3)" when Name is empty
// or equal to TypeName, otherwise "Server.printer(3)". Ids minted without a
// friendly name carry a generated one, so they render in the second form.
func (id MachineId) String() string {
	if id.Name != "" && id.Name != id.TypeName {
		return fmt.Sprintf("%s.%s(%d)", id.TypeName, id.Name, id.Value)
	}
	return fmt.Sprintf("%s(%d)", id.TypeName, id.Value)
}

// IdGenerator mints globally unique MachineIds for a single runtime
// instance. The generation counter is bumped whenever the generator is
// reset via NewGeneration, so ids minted before the reset can never alias
// ids minted after it. (The controlled backend does not reset; it builds a
// fresh generator for every iteration.)
type IdGenerator struct {
	counter    atomic.Uint64
	generation atomic.Uint64
}

// NewIdGenerator creates a generator starting at generation 1.
func NewIdGenerator() *IdGenerator {
	g := &IdGenerator{}
	g.generation.Store(1)
	return g
}

// Next mints a fresh, bound MachineId for the given type and optional
// friendly name. If name is empty, a short collision-resistant suffix
// derived from uuid is used so logs stay readable without colliding across
// concurrently created anonymous machines of the same type.
func (g *IdGenerator) Next(typeName, name string) MachineId {
	v := g.counter.Add(1)
	if name == "" {
		name = typeName + "-" + uuid.New().String()[:8]
	}
	return MachineId{
		Value:      v,
		Generation: g.generation.Load(),
		TypeName:   typeName,
		Name:       name,
	}
}

// NewGeneration advances the generation counter, invalidating equality
// against every id minted before the call even if counters are reused.
func (g *IdGenerator) NewGeneration() {
	g.generation.Add(1)
	g.counter.Store(0)
}
