// Package primitives provides the foundational data structures shared by the
// machine, monitor, and scheduler cores: Event, MachineId, and the
// per-(machine-type, state) descriptor tables built from a declarative
// builder.
//
// Core invariants:
//   - Event is immutable once constructed.
//   - MachineId is bound exactly once and never reused after halt.
//   - StateDescriptor/MachineDescriptor lookups are constant-time map access;
//     no reflection on hot paths (built once via the registry in internal/core).
package primitives
