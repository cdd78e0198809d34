package asyncmach

import (
	"fmt"

	"github.com/asyncmach/asyncmach/internal/primitives"
)

// Builder provides a fluent API for constructing a MachineDescriptor using
// string-based state names, in the same spirit as comalice-statechartx's
// own MachineBuilder but without a parent/child hierarchy: every State
// call here declares one flat state directly on the machine's state stack.
type Builder struct {
	desc  *MachineDescriptor
	temps map[StateName]Temperature
	errs  []error
}

// NewBuilder starts building a machine type named typeName.
func NewBuilder(typeName string) *Builder {
	return &Builder{desc: primitives.NewMachineDescriptor(typeName)}
}

// State begins declaring (or resumes declaring) the state named name.
func (b *Builder) State(name StateName) *StateBuilder {
	sd, ok := b.desc.States[name]
	if !ok {
		sd = primitives.NewStateDescriptor(name)
		b.desc.States[name] = sd
	}
	return &StateBuilder{b: b, sd: sd}
}

// Start marks name as the machine's initial state and returns its
// StateBuilder, so the start state's handlers can follow in the same chain.
func (b *Builder) Start(name StateName) *StateBuilder {
	b.desc.Start = name
	sb := b.State(name)
	sb.sd.IsStart = true
	return sb
}

// OnFailure installs the action run by the production backend when an
// uncaught action error halts a machine of this type.
func (b *Builder) OnFailure(action Action) *Builder {
	b.desc.OnFailure = action
	return b
}

// fail records a deferred construction error, surfaced by Build.
func (b *Builder) fail(err error) {
	b.errs = append(b.errs, err)
}

// Build validates the accumulated descriptor and returns it, or the first
// error recorded during construction or validation.
func (b *Builder) Build() (*MachineDescriptor, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	if err := b.desc.Validate(); err != nil {
		return nil, err
	}
	return b.desc, nil
}

// BuildMonitor validates the accumulated descriptor as a monitor type and
// returns it alongside the per-state temperature map recorded via
// StateBuilder.Hot/Cold.
func (b *Builder) BuildMonitor() (*MachineDescriptor, map[StateName]Temperature, error) {
	desc, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	return desc, b.temps, nil
}

// StateBuilder provides fluent methods for configuring one declared state.
type StateBuilder struct {
	b  *Builder
	sd *StateDescriptor
}

// State switches back to the builder to declare another state, so calls
// can be chained: builder.Start("A").Goto(...).State("B").Goto(...).Build().
func (sb *StateBuilder) State(name StateName) *StateBuilder { return sb.b.State(name) }

// Build ends a chain by calling Builder.Build.
func (sb *StateBuilder) Build() (*MachineDescriptor, error) { return sb.b.Build() }

// BuildMonitor ends a chain by calling Builder.BuildMonitor.
func (sb *StateBuilder) BuildMonitor() (*MachineDescriptor, map[StateName]Temperature, error) {
	return sb.b.BuildMonitor()
}

// Entry sets the state's on_entry action.
func (sb *StateBuilder) Entry(action Action) *StateBuilder {
	sb.sd.OnEntry = action
	return sb
}

// Exit sets the state's on_exit action.
func (sb *StateBuilder) Exit(action Action) *StateBuilder {
	sb.sd.OnExit = action
	return sb
}

// Do declares a handler that runs action and stays in this state.
func (sb *StateBuilder) Do(kind EventKind, action Action) *StateBuilder {
	return sb.handle(kind, Handler{Kind: primitives.HandlerDo, Action: action})
}

// Goto declares a handler that transitions to target with no transition
// action.
func (sb *StateBuilder) Goto(kind EventKind, target StateName) *StateBuilder {
	return sb.handle(kind, Handler{Kind: primitives.HandlerGoto, Target: target})
}

// GotoWithAction declares a handler that runs action, then transitions to
// target.
func (sb *StateBuilder) GotoWithAction(kind EventKind, target StateName, action Action) *StateBuilder {
	return sb.handle(kind, Handler{Kind: primitives.HandlerGotoWithAction, Target: target, Action: action})
}

// Push declares a handler that pushes target onto the state stack without
// exiting this state.
func (sb *StateBuilder) Push(kind EventKind, target StateName) *StateBuilder {
	return sb.handle(kind, Handler{Kind: primitives.HandlerPush, Target: target})
}

// Pop declares a handler that pops this state off the stack.
func (sb *StateBuilder) Pop(kind EventKind) *StateBuilder {
	return sb.handle(kind, Handler{Kind: primitives.HandlerPop})
}

// Default declares the handler run when the inbox is otherwise empty.
func (sb *StateBuilder) Default(h Handler) *StateBuilder {
	sb.sd.DefaultHandler = &h
	return sb
}

// Defer marks kinds as deferred in this state: left in the inbox and
// re-examined on every state change.
func (sb *StateBuilder) Defer(kinds ...EventKind) *StateBuilder {
	for _, k := range kinds {
		sb.sd.Deferred[k] = true
	}
	return sb
}

// Ignore marks kinds as ignored in this state: dropped silently at
// dequeue time.
func (sb *StateBuilder) Ignore(kinds ...EventKind) *StateBuilder {
	for _, k := range kinds {
		sb.sd.Ignored[k] = true
	}
	return sb
}

// Hot marks this state as a liveness obligation: a monitor reaching it
// must eventually leave, or a detected cycle / deadlock while it remains
// current is a LivenessViolation. Only meaningful for BuildMonitor.
func (sb *StateBuilder) Hot() *StateBuilder { return sb.temperature(Hot) }

// Cold marks this state as discharging any outstanding liveness
// obligation. Only meaningful for BuildMonitor.
func (sb *StateBuilder) Cold() *StateBuilder { return sb.temperature(Cold) }

func (sb *StateBuilder) temperature(t Temperature) *StateBuilder {
	if sb.b.temps == nil {
		sb.b.temps = make(map[StateName]Temperature)
	}
	sb.b.temps[sb.sd.Name] = t
	return sb
}

func (sb *StateBuilder) handle(kind EventKind, h Handler) *StateBuilder {
	if _, exists := sb.sd.Handlers[kind]; exists {
		sb.b.fail(fmt.Errorf("state %q: event %q already has a handler declared", sb.sd.Name, kind))
		return sb
	}
	sb.sd.Handlers[kind] = h
	return sb
}
