package extensibility

import (
	"time"

	"github.com/asyncmach/asyncmach/internal/primitives"
)

// TimerElapsed is the event kind a timer machine sends to its client.
const TimerElapsed primitives.EventKind = "$timer_elapsed"

// TimerStop requests a running timer machine halt its ticking loop.
const TimerStop primitives.EventKind = "$timer_stop"

const timerTickingState primitives.StateName = "Ticking"
const timerStoppedState primitives.StateName = "Stopped"

// TimerStart is the init event payload a caller passes to
// runtime.CreateMachine when creating a timer machine type built by
// NewTimerDescriptor.
type TimerStart struct {
	Client   primitives.MachineId
	Interval time.Duration // consulted only by the real-time Driver
	Payload  any
}

// Driver decides how a timer machine paces its ticks. Production wires a
// RealTimeDriver backed by an actual time.Timer; the controlled backend
// wires a NondeterministicDriver that fires based on
// ctx.Runtime().RandomBoolean, so the timer's send is just another
// scheduler-visible operation the strategy can interleave against every
// other enabled machine, instead of a wall-clock delay the scheduler
// cannot see or reorder.
type Driver interface {
	// Tick blocks (or decides) until the timer should either fire (true)
	// or stop (false). It must never touch user action code directly —
	// it is only ever invoked from inside the timer machine's own action,
	// so a fired Tick always results in a Send through the owning
	// machine's ActionContext, never a callback running concurrently
	// with that machine's own handler-run loop.
	Tick(ctx primitives.ActionContext) bool
}

// RealTimeDriver paces ticks with an actual time.Timer at the interval
// carried on the init TimerStart payload.
type RealTimeDriver struct{}

func (RealTimeDriver) Tick(ctx primitives.ActionContext) bool {
	interval, _ := ctx.Locals().Get("interval")
	d, _ := interval.(time.Duration)
	if d <= 0 {
		d = time.Millisecond
	}
	<-time.After(d)
	return true
}

// NondeterministicDriver fires based on a runtime-scoped random choice,
// letting the controlled scheduler's strategy decide whether a tick lands
// before or after concurrently enabled operations.
type NondeterministicDriver struct{}

func (NondeterministicDriver) Tick(ctx primitives.ActionContext) bool {
	rt := ctx.Runtime()
	if rt == nil {
		return true
	}
	return rt.RandomBoolean(2)
}

// NewTimerDescriptor builds the MachineDescriptor for a timer machine type
// driven by driver. The descriptor is registered under typeName with a
// core.Registry the same way any other machine type is.
func NewTimerDescriptor(typeName string, driver Driver) *primitives.MachineDescriptor {
	if driver == nil {
		driver = RealTimeDriver{}
	}
	desc := primitives.NewMachineDescriptor(typeName)

	ticking := primitives.NewStateDescriptor(timerTickingState)
	ticking.IsStart = true
	ticking.OnEntry = func(ctx primitives.ActionContext) error {
		if start, ok := ctx.Event().Payload.(TimerStart); ok {
			ctx.Locals().Set("client", start.Client)
			ctx.Locals().Set("interval", start.Interval)
			ctx.Locals().Set("payload", start.Payload)
		}
		return nil
	}
	ticking.DefaultHandler = &primitives.Handler{Kind: primitives.HandlerDo, Action: func(ctx primitives.ActionContext) error {
		if !driver.Tick(ctx) {
			return ctx.Goto(timerStoppedState, nil)
		}
		client, _ := ctx.Locals().Get("client")
		payload, _ := ctx.Locals().Get("payload")
		cid, _ := client.(primitives.MachineId)
		return ctx.Send(cid, primitives.NewEvent(TimerElapsed, payload), primitives.SendOptions{})
	}}
	ticking.Handlers[TimerStop] = primitives.Handler{Kind: primitives.HandlerGoto, Target: timerStoppedState}

	stopped := primitives.NewStateDescriptor(timerStoppedState)

	desc.States[timerTickingState] = ticking
	desc.States[timerStoppedState] = stopped
	desc.Start = timerTickingState
	return desc
}
