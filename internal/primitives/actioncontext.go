package primitives

// SendOptions configures a single send: which operation-group id should ride
// on the event (falling back to the sender's current group, then empty) and
// whether the receiver is obliged to handle it before halting.
type SendOptions struct {
	OperationGroupID string
	MustHandle       bool
}

// ActionContext is the capability surface exposed to entry/exit/do-actions
// and goto transition actions. It is implemented by the machine core
// (internal/core.Machine) and the monitor core (internal/core.Monitor); this
// package only needs the interface shape so Action values can be declared
// here without an import cycle back to internal/core.
type ActionContext interface {
	// Id returns the identity of the machine or monitor running this action.
	Id() MachineId
	// Event returns the event currently being handled.
	Event() Event
	// Locals returns the extended-state store for this machine.
	Locals() *Locals

	// Goto records a pending goto transition, optionally carrying ev as the
	// entry event for the target state. At most one of Goto/Push/Pop/Raise
	// may be called per action.
	Goto(target StateName, carrier *Event) error
	// Push records a pending state-stack push.
	Push(target StateName) error
	// Pop records a pending state-stack pop.
	Pop() error
	// Raise injects ev to be processed before the next inbox dequeue.
	Raise(ev Event) error
	// Send forwards ev to target via the owning runtime. Monitors do not
	// implement Send and return an error if called.
	Send(target MachineId, ev Event, opts SendOptions) error
	// Receive suspends the calling handler run until an event matching one
	// of kinds is available, and returns it. Monitors do not implement
	// Receive and return an error if called.
	Receive(kinds ...EventKind) (Event, error)

	// Runtime returns the owning runtime's create/assert/choice surface, so
	// action code can create machines or make non-deterministic choices
	// without the machine core itself depending on the runtime package.
	Runtime() RuntimeHandle
}

// RuntimeHandle is the subset of the runtime façade that action
// code may call directly: creating machines, asserting, and drawing
// non-deterministic choices. Implemented by internal/production.Runtime and
// internal/controlled.Runtime.
type RuntimeHandle interface {
	CreateMachine(typeName string, init *Event, opGroupID string) (MachineId, error)
	CreateMachineAndExecute(typeName string, init *Event, opGroupID string) (MachineId, error)
	InvokeMonitor(typeName string, ev Event)
	Assert(cond bool, msg string, args ...any)
	RandomBoolean(max int) bool
	RandomInteger(max int) int
}

// Action is a handler body: entry/exit actions, do-actions, and goto
// transition actions all share this shape.
type Action func(ActionContext) error
