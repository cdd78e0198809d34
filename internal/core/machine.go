// Machine is the state-stack execution engine: it owns a
// machine's private state stack and inbox, runs the handler-run loop, and
// implements the transition primitives (goto/push/pop/raise) plus blocking
// receive. Machine is backend-agnostic: it talks to its owning backend only
// through the Host interface (Send/AwaitReceive) and the
// primitives.RuntimeHandle surface exposed to action code, never by holding
// a concrete reference to the production or controlled runtime.
package core

import (
	"errors"
	"sync"

	"github.com/asyncmach/asyncmach/internal/primitives"
)

// Host is the backend capability a Machine needs to carry out the two
// operations whose behavior differs between the production and controlled
// schedulers: forwarding a send, and blocking until a matching event is
// available for receive. Both internal/production.Runtime and
// internal/controlled.Runtime implement Host.
type Host interface {
	Send(from, target primitives.MachineId, ev primitives.Event, opts primitives.SendOptions) error
	AwaitReceive(mid primitives.MachineId, kinds []primitives.EventKind) (primitives.Event, error)
}

// ActionRunner executes a single action, optionally decorating the call
// (e.g. LoggingActionRunner in internal/extensibility). The default runner
// simply invokes the action.
type ActionRunner interface {
	Run(ctx primitives.ActionContext, action primitives.Action) error
}

// DefaultActionRunner calls the action directly with no decoration.
type DefaultActionRunner struct{}

func (DefaultActionRunner) Run(ctx primitives.ActionContext, action primitives.Action) error {
	if action == nil {
		return nil
	}
	return action(ctx)
}

// CoverageSink receives activity-coverage observations as a machine runs.
// Implemented by internal/coverage.Recorder; nil means no coverage tracking.
type CoverageSink interface {
	RecordStateEntered(typeName string, state primitives.StateName)
	RecordHandlerFired(typeName string, state primitives.StateName, kind primitives.EventKind, handlerKind primitives.HandlerKind)
}

// pending transition bookkeeping. At most one of these may be recorded per
// action (at most one transition statement per action).
type pendingGoto struct {
	target  primitives.StateName
	carrier *primitives.Event
}
type pendingPush struct{ target primitives.StateName }
type pendingPop struct{}
type pendingRaise struct{ ev primitives.Event }

// Machine is the per-instance execution engine. Exactly one goroutine
// operates on the mutable fields (stack, pending, flags) at a time: either
// the handler-run loop, or this type's own constructor/Start before the
// loop is ever entered. The mutex only protects the handful of fields
// legitimately read from outside the loop (coverage recorders, tests,
// the controlled scheduler's enabled-set computation).
type Machine struct {
	id      primitives.MachineId
	desc    *primitives.MachineDescriptor
	inbox   *Inbox
	locals  *primitives.Locals
	host    Host
	runtime primitives.RuntimeHandle
	runner  ActionRunner
	onHalt  func(primitives.MachineId)
	cov     CoverageSink

	mu               sync.RWMutex
	stack            []primitives.StateName
	opGroupID        string
	pc               uint64
	halted           bool
	waitingToReceive bool
	insideOnExit     bool
	transitionUsed   bool
	pending          any
	lastFailure      error
}

// NewMachine constructs a Machine bound to id and desc. The returned machine
// has not yet entered its start state; call Start to do so.
func NewMachine(id primitives.MachineId, desc *primitives.MachineDescriptor, host Host, rt primitives.RuntimeHandle, runner ActionRunner, onHalt func(primitives.MachineId), cov CoverageSink) *Machine {
	if runner == nil {
		runner = DefaultActionRunner{}
	}
	return &Machine{
		id:      id,
		desc:    desc,
		inbox:   NewInbox(),
		locals:  primitives.NewLocals(),
		host:    host,
		runtime: rt,
		runner:  runner,
		onHalt:  onHalt,
		cov:     cov,
	}
}

// ID returns the machine's identity.
func (m *Machine) ID() primitives.MachineId { return m.id }

// Inbox returns the machine's inbox, for use by the owning backend's
// dispatch and scheduling logic.
func (m *Machine) Inbox() *Inbox { return m.inbox }

// Locals returns the machine's extended-state store.
func (m *Machine) Locals() *primitives.Locals { return m.locals }

// TypeName returns the machine's declared type.
func (m *Machine) TypeName() string { return m.desc.TypeName }

// IsHalted reports whether the machine has halted.
func (m *Machine) IsHalted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.halted
}

// IsWaitingToReceive reports whether the machine is currently blocked in
// receive, used by the controlled scheduler's enabled-set computation.
func (m *Machine) IsWaitingToReceive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.waitingToReceive
}

// TopState returns the current top-of-stack state name.
func (m *Machine) TopState() primitives.StateName {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.topStateLocked()
}

func (m *Machine) topStateLocked() primitives.StateName {
	if len(m.stack) == 0 {
		return ""
	}
	return m.stack[len(m.stack)-1]
}

// StackSnapshot returns a copy of the current state stack, bottom first.
func (m *Machine) StackSnapshot() []primitives.StateName {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]primitives.StateName, len(m.stack))
	copy(out, m.stack)
	return out
}

// ProgramCounter returns the number of events this machine has dequeued so
// far, used by fairness-sensitive strategies (e.g. iterative context
// bounding) as a per-machine progress measure.
func (m *Machine) ProgramCounter() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pc
}

// OperationGroupID returns the machine's current operation-group id.
func (m *Machine) OperationGroupID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opGroupID
}

// StateHash returns a deterministic content hash of the machine's cached
// state (type, stack, extended state), used to build the controlled
// scheduler's program-state fingerprint.
func (m *Machine) StateHash() string {
	m.mu.RLock()
	stack := append([]primitives.StateName(nil), m.stack...)
	halted := m.halted
	m.mu.RUnlock()
	return primitives.StableHash(struct {
		Type   string
		Stack  []primitives.StateName
		Locals map[string]any
		Halted bool
	}{m.desc.TypeName, stack, m.locals.Snapshot(), halted})
}

// stateFilter adapts the current top state to the Inbox's StateFilter
// contract. It reads the top state through TopState, which takes the read
// lock itself, so it must not be called with m.mu held.
func (m *Machine) stateFilter() StateFilter {
	return stackFilter{desc: m.desc, top: m.TopState()}
}

// Descriptor returns the machine's MachineDescriptor.
func (m *Machine) Descriptor() *primitives.MachineDescriptor { return m.desc }

// Start pushes the declared start state and runs its on_entry action,
// optionally carrying init as the entry event: the first transition always
// goes to the declared start state.
func (m *Machine) Start(init *primitives.Event) {
	m.mu.Lock()
	m.stack = []primitives.StateName{m.desc.Start}
	m.mu.Unlock()

	ev := primitives.Event{Kind: primitives.Default}
	if init != nil {
		ev = *init
	}
	m.runEntry(m.desc.Start, ev)
	m.recordEntered(m.desc.Start)
}

func (m *Machine) recordEntered(state primitives.StateName) {
	if m.cov != nil {
		m.cov.RecordStateEntered(m.desc.TypeName, state)
	}
}

func (m *Machine) recordFired(state primitives.StateName, kind primitives.EventKind, hk primitives.HandlerKind) {
	if m.cov != nil {
		m.cov.RecordHandlerFired(m.desc.TypeName, state, kind, hk)
	}
}

// actionCtx is the primitives.ActionContext implementation bound to one
// action invocation. A fresh actionCtx is created per Run call so Event()
// reflects exactly the event that invocation is handling, even when the
// machine later raises another event into the same dispatch loop.
type actionCtx struct {
	m  *Machine
	ev primitives.Event
}

func (c *actionCtx) Id() primitives.MachineId   { return c.m.id }
func (c *actionCtx) Event() primitives.Event    { return c.ev }
func (c *actionCtx) Locals() *primitives.Locals { return c.m.locals }

func (c *actionCtx) Goto(target primitives.StateName, carrier *primitives.Event) error {
	return c.m.recordTransition(pendingGoto{target: target, carrier: carrier})
}

func (c *actionCtx) Push(target primitives.StateName) error {
	return c.m.recordTransition(pendingPush{target: target})
}

func (c *actionCtx) Pop() error {
	c.m.mu.RLock()
	depth := len(c.m.stack)
	c.m.mu.RUnlock()
	if depth <= 1 {
		return NewError(KindTransitionMisuse, c.m.id, "pop: state stack would become empty")
	}
	return c.m.recordTransition(pendingPop{})
}

func (c *actionCtx) Raise(ev primitives.Event) error {
	return c.m.recordTransition(pendingRaise{ev: ev})
}

func (c *actionCtx) Send(target primitives.MachineId, ev primitives.Event, opts primitives.SendOptions) error {
	return c.m.host.Send(c.m.id, target, ev, opts)
}

func (c *actionCtx) Receive(kinds ...primitives.EventKind) (primitives.Event, error) {
	return c.m.receive(kinds...)
}

func (c *actionCtx) Runtime() primitives.RuntimeHandle { return c.m.runtime }

// recordTransition enforces "at most one of goto/push/pop/raise per action"
// and "no transition statement inside on_exit".
func (m *Machine) recordTransition(p any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insideOnExit {
		return NewError(KindTransitionMisuse, m.id, "transition statement inside on_exit")
	}
	if m.transitionUsed {
		return NewError(KindTransitionMisuse, m.id, "more than one transition statement in a single action")
	}
	m.transitionUsed = true
	m.pending = p
	return nil
}

// receive implements the blocking-receive side of ActionContext, delegating
// the backend-specific wait behavior to Host.AwaitReceive.
func (m *Machine) receive(kinds ...primitives.EventKind) (primitives.Event, error) {
	m.mu.Lock()
	m.waitingToReceive = true
	m.mu.Unlock()

	ev, err := m.host.AwaitReceive(m.id, kinds)

	m.mu.Lock()
	m.waitingToReceive = false
	m.mu.Unlock()
	return ev, err
}

// runAction invokes action through the configured ActionRunner, seeding and
// clearing the per-call transition bookkeeping around the call.
func (m *Machine) runAction(action primitives.Action, ev primitives.Event, preConsumeTransition bool) error {
	m.mu.Lock()
	m.transitionUsed = preConsumeTransition
	m.pending = nil
	m.mu.Unlock()

	ctx := &actionCtx{m: m, ev: ev}
	return m.runner.Run(ctx, action)
}

func (m *Machine) runEntry(state primitives.StateName, ev primitives.Event) {
	sd := m.desc.States[state]
	if sd == nil || sd.OnEntry == nil {
		return
	}
	if err := m.runAction(sd.OnEntry, ev, false); err != nil {
		m.fail(WrapError(KindAssertionFailure, m.id, err, "on_entry(%s) failed", state))
		return
	}
	m.applyPendingAfterEntryExit(ev)
}

func (m *Machine) runExit(state primitives.StateName, ev primitives.Event) {
	sd := m.desc.States[state]
	if sd == nil || sd.OnExit == nil {
		return
	}
	m.mu.Lock()
	m.insideOnExit = true
	m.mu.Unlock()

	err := m.runAction(sd.OnExit, ev, false)

	m.mu.Lock()
	m.insideOnExit = false
	m.mu.Unlock()

	if err != nil {
		m.fail(WrapError(KindAssertionFailure, m.id, err, "on_exit(%s) failed", state))
	}
}

// applyPendingAfterEntryExit applies the transition, if any, recorded by an
// on_entry action once that action has returned: a goto, push or pop takes
// effect right away, and a raised event is dispatched before the next
// inbox dequeue. Exit actions can never record a pending transition
// (recordTransition rejects it).
func (m *Machine) applyPendingAfterEntryExit(ev primitives.Event) {
	m.mu.Lock()
	p := m.pending
	m.pending = nil
	m.mu.Unlock()
	if raised := m.applyPendingTransition(p, ev); raised != nil {
		m.dispatch(*raised)
	}
}

// gotoState runs current on_exit, replaces
// the top frame with target, run target's on_entry.
func (m *Machine) gotoState(target primitives.StateName, carrier *primitives.Event, ev primitives.Event) {
	m.mu.RLock()
	from := m.topStateLocked()
	m.mu.RUnlock()

	m.runExit(from, ev)

	m.mu.Lock()
	if len(m.stack) == 0 {
		m.stack = []primitives.StateName{target}
	} else {
		m.stack[len(m.stack)-1] = target
	}
	m.mu.Unlock()

	entryEv := ev
	if carrier != nil {
		entryEv = *carrier
	}
	m.runEntry(target, entryEv)
	m.recordEntered(target)
}

// pushState pushes target onto the stack without running an exit action.
func (m *Machine) pushState(target primitives.StateName, ev primitives.Event) {
	m.mu.Lock()
	m.stack = append(m.stack, target)
	m.mu.Unlock()
	m.runEntry(target, ev)
	m.recordEntered(target)
}

// popState runs current on_exit, then pops the stack.
func (m *Machine) popState(ev primitives.Event) {
	m.mu.RLock()
	top := m.topStateLocked()
	m.mu.RUnlock()
	m.runExit(top, ev)
	m.mu.Lock()
	if len(m.stack) > 0 {
		m.stack = m.stack[:len(m.stack)-1]
	}
	m.mu.Unlock()
}

// fail records a fatal error for this run and, if it is not a cancellation,
// halts the machine. ExecutionCanceled is re-thrown by callers, never
// stored here as a halting condition.
func (m *Machine) fail(err error) {
	m.mu.Lock()
	m.lastFailure = err
	var asErr *Error
	if !errors.As(err, &asErr) || asErr.Kind != KindExecutionCanceled {
		m.halted = true
	}
	m.mu.Unlock()
}

// LastFailure returns the most recently recorded fatal error, if any.
func (m *Machine) LastFailure() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastFailure
}

// dispatch resolves and runs the handler for ev against the current top
// state, popping down the stack (running on_exit along the way) when the
// top state has no handler. If the entire stack is exhausted without a
// match, it records an *Error of KindUnhandledEvent through fail, which
// halts the machine; it returns nothing.
func (m *Machine) dispatch(ev primitives.Event) {
	for {
		m.mu.RLock()
		top := m.topStateLocked()
		depth := len(m.stack)
		halted := m.halted
		m.mu.RUnlock()
		if halted {
			return
		}

		h, ok := m.desc.Lookup(top, ev.Kind)
		if !ok {
			if depth <= 1 {
				m.fail(NewError(KindUnhandledEvent, m.id, "no handler for event %q in state %q (stack exhausted)", ev.Kind, top))
				return
			}
			m.popState(ev)
			continue
		}

		m.recordFired(top, ev.Kind, h.Kind)
		raised := m.runHandler(top, h, ev)
		if raised != nil {
			ev = *raised
			continue
		}
		return
	}
}

// runHandler runs the resolved handler's dispatch and returns a raised
// event to continue the loop_raise loop without an inbox dequeue, or nil.
func (m *Machine) runHandler(state primitives.StateName, h primitives.Handler, ev primitives.Event) *primitives.Event {
	switch h.Kind {
	case primitives.HandlerDo:
		if err := m.runAction(h.Action, ev, false); err != nil {
			m.fail(WrapError(KindAssertionFailure, m.id, err, "action in state %q failed", state))
			return nil
		}
		m.mu.Lock()
		p := m.pending
		m.pending = nil
		m.mu.Unlock()
		return m.applyPendingTransition(p, ev)

	case primitives.HandlerGoto:
		m.gotoState(h.Target, nil, ev)
		return nil

	case primitives.HandlerGotoWithAction:
		// The declared goto already reserves the one transition slot for
		// this action; preConsumeTransition=true makes a second call to
		// Goto/Push/Pop/Raise from inside it fail as TooManyTransitions.
		if err := m.runAction(h.Action, ev, true); err != nil {
			m.fail(WrapError(KindAssertionFailure, m.id, err, "transition action in state %q failed", state))
			return nil
		}
		m.gotoState(h.Target, nil, ev)
		return nil

	case primitives.HandlerPush:
		m.pushState(h.Target, ev)
		return nil

	case primitives.HandlerPop:
		m.mu.RLock()
		depth := len(m.stack)
		m.mu.RUnlock()
		if depth <= 1 {
			m.fail(NewError(KindTransitionMisuse, m.id, "pop: state stack would become empty"))
			return nil
		}
		m.popState(ev)
		return nil

	default:
		m.fail(NewError(KindAssertionFailure, m.id, "unknown handler kind %v", h.Kind))
		return nil
	}
}

func (m *Machine) applyPendingTransition(p any, ev primitives.Event) *primitives.Event {
	switch t := p.(type) {
	case nil:
		return nil
	case pendingGoto:
		m.gotoState(t.target, t.carrier, ev)
		return nil
	case pendingPush:
		m.pushState(t.target, ev)
		return nil
	case pendingPop:
		m.mu.RLock()
		depth := len(m.stack)
		m.mu.RUnlock()
		if depth <= 1 {
			m.fail(NewError(KindTransitionMisuse, m.id, "pop: state stack would become empty"))
			return nil
		}
		m.popState(ev)
		return nil
	case pendingRaise:
		raised := t.ev
		return &raised
	default:
		return nil
	}
}

// halt drains the state stack (running on_exit for every frame from
// the top down), asserts no must-handle event remains queued, marks the
// machine halted, and notifies the owning backend.
func (m *Machine) halt(ev primitives.Event) {
	m.mu.RLock()
	stack := append([]primitives.StateName(nil), m.stack...)
	m.mu.RUnlock()

	for i := len(stack) - 1; i >= 0; i-- {
		m.runExit(stack[i], ev)
	}

	m.mu.Lock()
	m.stack = nil
	m.halted = true
	m.mu.Unlock()

	if kind, found := m.inbox.HasMustHandle(); found {
		m.fail(NewError(KindMustHandleViolation, m.id, "halted with must-handle event %q still enqueued", kind))
	}
	if m.onHalt != nil {
		m.onHalt(m.id)
	}
}

// RunOnce processes exactly one logical unit of work: it dequeues (or
// synthesizes) a single event and runs it through dispatch, including any
// chain of raised events within the same action. It returns false when the
// inbox is empty and the handler-run loop should go idle (Inbox.MarkIdle
// already applied), or when the machine has halted.
func (m *Machine) RunOnce() bool {
	if m.IsHalted() {
		return false
	}

	outcome := m.inbox.TryDequeue(m.stateFilter(), false)
	var ev primitives.Event
	switch outcome.Kind {
	case DequeueEmpty:
		return !m.inbox.MarkIdle() // if a racing enqueue beat us, keep running
	case DequeueDefaultCandidate:
		ev = primitives.Event{Kind: primitives.Default}
	case DequeueEvent:
		ev = outcome.Event
	default:
		return false
	}

	m.mu.Lock()
	m.opGroupID = ev.OperationGroupID
	m.pc++
	m.mu.Unlock()

	if ev.Kind == primitives.Halt {
		m.halt(ev)
		return false
	}

	m.dispatch(ev)
	return !m.IsHalted()
}

// RunLoop drains the inbox to quiescence: halted, idle (MarkIdle succeeded),
// or blocked in receive. It is the "spawns host tasks for handler runs"
// behavior — the caller decides whether to run this
// synchronously (AndExecute variants, or the entire controlled backend) or
// on a fresh goroutine (production fire-and-forget).
func (m *Machine) RunLoop() {
	for m.RunOnce() {
		if m.IsWaitingToReceive() {
			return
		}
	}
}
