// StateDescriptor defines a per (machine-type, state) record: entry/exit
// actions, the event-to-handler table, and the deferred/ignored event sets.
// Lookup during the handler-run loop is a constant-time map access; the
// table itself is built once per machine type (by the root package's
// Builder, by internal/config, or by hand) and cached in internal/core's
// Registry.
package primitives

import "fmt"

// StateName identifies a declared state within a machine type.
type StateName string

// HandlerKind classifies the single handler a state may declare for a given
// event kind, mirroring the dispatch cases in the handler-run loop.
type HandlerKind int

const (
	// HandlerDo runs an action and stays in the current state.
	HandlerDo HandlerKind = iota
	// HandlerGoto transitions to Target with no transition action.
	HandlerGoto
	// HandlerGotoWithAction runs Action, then transitions to Target.
	HandlerGotoWithAction
	// HandlerPush pushes Target onto the state stack without exiting the
	// current state.
	HandlerPush
	// HandlerPop pops the current state off the stack.
	HandlerPop
)

func (k HandlerKind) String() string {
	switch k {
	case HandlerDo:
		return "do"
	case HandlerGoto:
		return "goto"
	case HandlerGotoWithAction:
		return "goto-with-action"
	case HandlerPush:
		return "push"
	case HandlerPop:
		return "pop"
	default:
		return fmt.Sprintf("handler#%d", int(k))
	}
}

// Handler is the resolved dispatch for one (state, event) pair.
type Handler struct {
	Kind   HandlerKind
	Action Action    // set for HandlerDo and HandlerGotoWithAction
	Target StateName // set for HandlerGoto, HandlerGotoWithAction, HandlerPush
}

// StateDescriptor is the per-state record cached by the registry.
type StateDescriptor struct {
	Name StateName

	OnEntry Action
	OnExit  Action

	// Handlers maps an event kind to exactly one dispatch. A kind present
	// here must not also be present in Deferred or Ignored.
	Handlers map[EventKind]Handler

	// Deferred kinds are left in the inbox and re-examined on every state
	// change; must-handle events override defer (see Inbox.TryDequeue).
	Deferred map[EventKind]bool
	// Ignored kinds are dropped silently at dequeue time.
	Ignored map[EventKind]bool

	// DefaultHandler, if set, is the handler run when the inbox is
	// otherwise empty and a synthesized Default event is delivered.
	DefaultHandler *Handler

	// IsStart marks the machine type's initial state; exactly one state
	// per MachineDescriptor must set this.
	IsStart bool
}

// NewStateDescriptor creates an empty descriptor for name.
func NewStateDescriptor(name StateName) *StateDescriptor {
	return &StateDescriptor{
		Name:     name,
		Handlers: make(map[EventKind]Handler),
		Deferred: make(map[EventKind]bool),
		Ignored:  make(map[EventKind]bool),
	}
}

// Validate checks internal consistency: no event kind may appear in more
// than one of {Handlers, Deferred, Ignored}.
func (s *StateDescriptor) Validate() error {
	for kind := range s.Handlers {
		if s.Deferred[kind] {
			return fmt.Errorf("state %q: event %q is both handled and deferred", s.Name, kind)
		}
		if s.Ignored[kind] {
			return fmt.Errorf("state %q: event %q is both handled and ignored", s.Name, kind)
		}
	}
	for kind := range s.Deferred {
		if s.Ignored[kind] {
			return fmt.Errorf("state %q: event %q is both deferred and ignored", s.Name, kind)
		}
	}
	if h := s.DefaultHandler; h != nil {
		if h.Kind == HandlerGotoWithAction || h.Kind == HandlerDo {
			if h.Action == nil {
				return fmt.Errorf("state %q: default handler of kind %s requires an action", s.Name, h.Kind)
			}
		}
	}
	return nil
}
