// Event provides the immutable event primitive exchanged between machines.
//
// Events are value types. Once created, Events should not be mutated; derive
// a modified copy with the WithX helpers instead.
package primitives

// EventKind is the opaque tag identifying an event's meaning. Kinds are
// compared by value and must be equivalent across sender and receiver for a
// handler lookup to succeed.
type EventKind string

// Reserved kinds recognized by the machine core itself.
const (
	// Default is synthesized by the inbox when it is otherwise empty and the
	// current state stack declares a default-event handler.
	Default EventKind = "$default"
	// Halt requests the machine pop its start state and terminate.
	Halt EventKind = "$halt"
)

// Event carries a typed payload plus the metadata needed for
// operation-group propagation, fairness accounting, and must-handle
// bookkeeping.
type Event struct {
	Kind    EventKind
	Payload any

	// SenderID is the id of the machine that enqueued this event, or the
	// zero MachineId if it originated outside the machine system.
	SenderID MachineId
	// SenderState is the name of the sender's state at the moment of send,
	// recorded for diagnostics and replay.
	SenderState string

	// OperationGroupID propagates across causally related sends. Empty
	// string means no group was assigned.
	OperationGroupID string

	// SendStep is the monotonically increasing index assigned at enqueue
	// time by the inbox that received this event.
	SendStep uint64

	// MustHandle forbids this event from being silently dropped or left
	// in an inbox when the owning machine halts.
	MustHandle bool
}

// NewEvent creates and returns a new immutable Event with the given kind and
// payload; metadata fields default to their zero values and are filled in by
// Inbox.Enqueue.
func NewEvent(kind EventKind, payload any) Event {
	return Event{Kind: kind, Payload: payload}
}

// WithMustHandle returns a copy of the event with MustHandle set.
func (e Event) WithMustHandle(must bool) Event {
	e.MustHandle = must
	return e
}

// WithOperationGroup returns a copy of the event with OperationGroupID set.
func (e Event) WithOperationGroup(id string) Event {
	e.OperationGroupID = id
	return e
}

// IsDefault reports whether this event is the synthesized default event.
func (e Event) IsDefault() bool { return e.Kind == Default }
