// Monitor is the specification-monitor core: a passive observer
// stepped synchronously by MonitorEvent, with no inbox of its own. It
// reuses the same StateDescriptor/MachineDescriptor machinery and dispatch
// shape as Machine, but restricts the action surface to goto/raise/do (no
// push, pop, receive, or send) and adds a hot/cold temperature read on the
// current state.
package core

import (
	"sync"

	"github.com/asyncmach/asyncmach/internal/primitives"
)

// Temperature classifies a monitor's current state for liveness checking.
type Temperature int

const (
	// Neutral states carry no liveness obligation.
	Neutral Temperature = iota
	// Hot states represent an open liveness obligation.
	Hot
	// Cold states represent a discharged obligation.
	Cold
)

func (t Temperature) String() string {
	switch t {
	case Hot:
		return "hot"
	case Cold:
		return "cold"
	default:
		return "neutral"
	}
}

// Monitor is the per-monitor-type execution engine.
type Monitor struct {
	id     primitives.MachineId
	desc   *primitives.MachineDescriptor
	locals *primitives.Locals
	runner ActionRunner
	cov    CoverageSink
	temps  map[primitives.StateName]Temperature

	mu             sync.RWMutex
	state          primitives.StateName
	transitionUsed bool
	pending        any
	lastFailure    error
}

// NewMonitor constructs a Monitor bound to id and desc. temps maps state
// names to their declared temperature; states absent from temps are
// Neutral.
func NewMonitor(id primitives.MachineId, desc *primitives.MachineDescriptor, temps map[primitives.StateName]Temperature, runner ActionRunner, cov CoverageSink) *Monitor {
	if runner == nil {
		runner = DefaultActionRunner{}
	}
	if temps == nil {
		temps = map[primitives.StateName]Temperature{}
	}
	return &Monitor{id: id, desc: desc, locals: primitives.NewLocals(), temps: temps, runner: runner, cov: cov}
}

// ID returns the monitor's identity.
func (mon *Monitor) ID() primitives.MachineId { return mon.id }

// TypeName returns the monitor's declared type.
func (mon *Monitor) TypeName() string { return mon.desc.TypeName }

// State returns the monitor's current state.
func (mon *Monitor) State() primitives.StateName {
	mon.mu.RLock()
	defer mon.mu.RUnlock()
	return mon.state
}

// Temperature returns the temperature of the monitor's current state.
func (mon *Monitor) Temperature() Temperature {
	mon.mu.RLock()
	state := mon.state
	mon.mu.RUnlock()
	return mon.temps[state]
}

// IsHot reports whether the monitor currently has an open liveness
// obligation.
func (mon *Monitor) IsHot() bool { return mon.Temperature() == Hot }

// StateHash returns a deterministic content hash of the monitor's current
// observable state, folded into the controlled scheduler's program-state
// Fingerprint alongside each machine's StateHash.
func (mon *Monitor) StateHash() string {
	mon.mu.RLock()
	state := mon.state
	mon.mu.RUnlock()
	return primitives.StableHash(struct {
		Type   string
		State  primitives.StateName
		Locals map[string]any
	}{mon.desc.TypeName, state, mon.locals.Snapshot()})
}

// Start enters the monitor's declared start state, running its on_entry.
func (mon *Monitor) Start() {
	mon.mu.Lock()
	mon.state = mon.desc.Start
	mon.mu.Unlock()
	mon.runEntry(mon.desc.Start, primitives.Event{Kind: primitives.Default})
	if mon.cov != nil {
		mon.cov.RecordStateEntered(mon.desc.TypeName, mon.desc.Start)
	}
}

// monitorActionCtx is the restricted primitives.ActionContext exposed to
// monitor actions: Push, Pop, Send, and Receive are all unimplemented and
// return errors. A monitor may only goto and raise.
type monitorActionCtx struct {
	mon *Monitor
	ev  primitives.Event
}

func (c *monitorActionCtx) Id() primitives.MachineId   { return c.mon.id }
func (c *monitorActionCtx) Event() primitives.Event    { return c.ev }
func (c *monitorActionCtx) Locals() *primitives.Locals { return c.mon.locals }

func (c *monitorActionCtx) Goto(target primitives.StateName, carrier *primitives.Event) error {
	return c.mon.recordTransition(pendingGoto{target: target, carrier: carrier})
}

func (c *monitorActionCtx) Push(primitives.StateName) error {
	return NewError(KindAssertionFailure, c.mon.id, "monitors do not support push")
}

func (c *monitorActionCtx) Pop() error {
	return NewError(KindAssertionFailure, c.mon.id, "monitors do not support pop")
}

func (c *monitorActionCtx) Raise(ev primitives.Event) error {
	return c.mon.recordTransition(pendingRaise{ev: ev})
}

func (c *monitorActionCtx) Send(primitives.MachineId, primitives.Event, primitives.SendOptions) error {
	return NewError(KindAssertionFailure, c.mon.id, "monitors do not support send")
}

func (c *monitorActionCtx) Receive(...primitives.EventKind) (primitives.Event, error) {
	return primitives.Event{}, NewError(KindAssertionFailure, c.mon.id, "monitors do not support receive")
}

func (c *monitorActionCtx) Runtime() primitives.RuntimeHandle { return nil }

func (mon *Monitor) recordTransition(p any) error {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	if mon.transitionUsed {
		return NewError(KindTransitionMisuse, mon.id, "more than one transition statement in a single monitor action")
	}
	mon.transitionUsed = true
	mon.pending = p
	return nil
}

func (mon *Monitor) runAction(action primitives.Action, ev primitives.Event) error {
	mon.mu.Lock()
	mon.transitionUsed = false
	mon.pending = nil
	mon.mu.Unlock()
	ctx := &monitorActionCtx{mon: mon, ev: ev}
	return mon.runner.Run(ctx, action)
}

func (mon *Monitor) runEntry(state primitives.StateName, ev primitives.Event) {
	sd := mon.desc.States[state]
	if sd == nil || sd.OnEntry == nil {
		return
	}
	if err := mon.runAction(sd.OnEntry, ev); err != nil {
		mon.fail(err)
		return
	}
	mon.drainPendingRaise(ev)
}

func (mon *Monitor) runExit(state primitives.StateName, ev primitives.Event) {
	sd := mon.desc.States[state]
	if sd == nil || sd.OnExit == nil {
		return
	}
	if err := mon.runAction(sd.OnExit, ev); err != nil {
		mon.fail(err)
	}
}

func (mon *Monitor) drainPendingRaise(ev primitives.Event) {
	mon.mu.Lock()
	p := mon.pending
	mon.pending = nil
	mon.mu.Unlock()
	if raise, ok := p.(pendingRaise); ok {
		mon.MonitorEvent(raise.ev)
	}
}

func (mon *Monitor) fail(err error) {
	mon.mu.Lock()
	mon.lastFailure = err
	mon.mu.Unlock()
}

// LastFailure returns the most recently recorded fatal error, if any.
func (mon *Monitor) LastFailure() error {
	mon.mu.RLock()
	defer mon.mu.RUnlock()
	return mon.lastFailure
}

// MonitorEvent steps the monitor synchronously for ev. Unlike
// Machine.dispatch, an unhandled event at a monitor is simply ignored
// rather than fatal: a monitor only cares about the event kinds its current
// state declares handlers for, rather than exhausting a full state stack.
func (mon *Monitor) MonitorEvent(ev primitives.Event) {
	state := mon.State()
	h, ok := mon.desc.Lookup(state, ev.Kind)
	if !ok {
		return
	}
	if mon.cov != nil {
		mon.cov.RecordHandlerFired(mon.desc.TypeName, state, ev.Kind, h.Kind)
	}

	switch h.Kind {
	case primitives.HandlerDo:
		if err := mon.runAction(h.Action, ev); err != nil {
			mon.fail(err)
			return
		}
		mon.mu.Lock()
		p := mon.pending
		mon.pending = nil
		mon.mu.Unlock()
		if g, ok := p.(pendingGoto); ok {
			mon.gotoState(g.target, ev)
		} else if r, ok := p.(pendingRaise); ok {
			mon.MonitorEvent(r.ev)
		}
	case primitives.HandlerGoto:
		mon.gotoState(h.Target, ev)
	case primitives.HandlerGotoWithAction:
		if err := mon.runAction(h.Action, ev); err != nil {
			mon.fail(err)
			return
		}
		mon.gotoState(h.Target, ev)
	default:
		mon.fail(NewError(KindAssertionFailure, mon.id, "monitor handler kind %v unsupported", h.Kind))
	}
}

func (mon *Monitor) gotoState(target primitives.StateName, ev primitives.Event) {
	from := mon.State()
	mon.runExit(from, ev)
	mon.mu.Lock()
	mon.state = target
	mon.mu.Unlock()
	mon.runEntry(target, ev)
	if mon.cov != nil {
		mon.cov.RecordStateEntered(mon.desc.TypeName, target)
	}
}
