// Package controlled implements the controlled (testing) scheduler
// backend: a single-runner cooperative scheduler that serializes every
// externally observable step behind a pluggable Strategy, so the same
// machine/monitor core used by the production backend can be driven
// through systematic interleaving exploration, liveness checking, and
// deterministic replay.
//
// The baton-passing handoff below is modeled on the cooperative
// semaphore-chain description of the P#/Coyote-style testing scheduler,
// and reuses this module's own internal/production.Runtime for the
// Host/RuntimeHandle wiring shape.
package controlled

import "github.com/asyncmach/asyncmach/internal/primitives"

// OperationKind classifies one schedulable unit of work for the strategy.
type OperationKind int

const (
	// OpCreate represents a machine about to run its first on_entry
	// action. Monitors start when they are registered and are never
	// scheduled.
	OpCreate OperationKind = iota
	// OpRun represents a live schedulable with a dequeueable inbox event
	// (or a pending synthesized default) ready to dispatch.
	OpRun
	// OpReceive represents a schedulable currently blocked in receive for
	// which a matching event has already arrived and is available.
	OpReceive
	// OpStop represents a schedulable whose inbox has drained to
	// quiescence or halted. It is reported to the scheduler as the
	// completed operation and is never offered as a choice, so it does not
	// appear in the trace.
	OpStop
)

func (k OperationKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpRun:
		return "run"
	case OpReceive:
		return "receive"
	case OpStop:
		return "stop"
	default:
		return "unknown"
	}
}

// TargetKind classifies what an Operation's TargetID names.
type TargetKind int

const (
	// TargetSchedulable means TargetID names a machine or monitor.
	TargetSchedulable TargetKind = iota
	// TargetInbox means TargetID names the machine whose inbox is the
	// subject of the step (e.g. a receive waiting on it).
	TargetInbox
)

// Operation is one candidate (or chosen) unit of schedulable work.
type Operation struct {
	Kind       OperationKind
	TargetKind TargetKind
	ActorID    primitives.MachineId
	TargetID   primitives.MachineId
	StepIndex  uint64
}
