package controlled

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asyncmach/asyncmach/internal/core"
	"github.com/asyncmach/asyncmach/internal/primitives"
)

func pingPongDescriptor() *primitives.MachineDescriptor {
	desc := primitives.NewMachineDescriptor("ping-pong")
	a := primitives.NewStateDescriptor("A")
	a.IsStart = true
	a.Handlers["ping"] = primitives.Handler{Kind: primitives.HandlerGoto, Target: "B"}
	b := primitives.NewStateDescriptor("B")
	b.Handlers["pong"] = primitives.Handler{Kind: primitives.HandlerGoto, Target: "A"}
	desc.States["A"] = a
	desc.States["B"] = b
	desc.Start = "A"
	return desc
}

func selfDrivingDescriptor() *primitives.MachineDescriptor {
	desc := primitives.NewMachineDescriptor("ponger")
	a := primitives.NewStateDescriptor("A")
	a.IsStart = true
	a.Handlers["ping"] = primitives.Handler{Kind: primitives.HandlerDo, Action: func(ctx primitives.ActionContext) error {
		return ctx.Send(ctx.Id(), primitives.NewEvent("pong", nil), primitives.SendOptions{})
	}}
	a.Handlers["pong"] = primitives.Handler{Kind: primitives.HandlerGoto, Target: "B"}
	b := primitives.NewStateDescriptor("B")
	desc.States["A"] = a
	desc.States["B"] = b
	desc.Start = "A"
	return desc
}

func assertingDescriptor() *primitives.MachineDescriptor {
	desc := primitives.NewMachineDescriptor("asserter")
	a := primitives.NewStateDescriptor("A")
	a.IsStart = true
	a.Handlers["go"] = primitives.Handler{Kind: primitives.HandlerDo, Action: func(ctx primitives.ActionContext) error {
		ctx.Runtime().Assert(false, "invariant violated")
		return nil
	}}
	desc.States["A"] = a
	desc.Start = "A"
	return desc
}

func mustHandleHaltDescriptor() *primitives.MachineDescriptor {
	desc := primitives.NewMachineDescriptor("halter")
	a := primitives.NewStateDescriptor("A")
	a.IsStart = true
	desc.States["A"] = a
	desc.Start = "A"
	return desc
}

func eventPtr(kind primitives.EventKind, payload any) *primitives.Event {
	ev := primitives.NewEvent(kind, payload)
	return &ev
}

func registryWith(descs ...*primitives.MachineDescriptor) *core.Registry {
	reg := core.NewRegistry()
	for _, d := range descs {
		d := d
		reg.RegisterType(d.TypeName, func() *primitives.MachineDescriptor { return d })
	}
	return reg
}

func TestExplore_SelfDrivingMachineRunsWithoutBug(t *testing.T) {
	reg := registryWith(selfDrivingDescriptor())
	cfg := Config{Iterations: 1, MaxSteps: 1000, Strategy: NewRandomStrategy(1)}

	var mid primitives.MachineId
	scenario := func(rt *Runtime) error {
		var err error
		mid, err = rt.CreateMachine("ponger", eventPtr("ping", nil), "")
		return err
	}

	report, err := Explore(reg, core.NewMonitorRegistry(), nil, cfg, scenario)
	require.NoError(t, err)
	require.Nil(t, report.AnyBug())
	require.Len(t, report.Iterations, 1)
	assert.NotEmpty(t, mid.TypeName)
}

func TestExplore_FailingAssertionReportsBug(t *testing.T) {
	reg := registryWith(assertingDescriptor())
	cfg := Config{Iterations: 1, MaxSteps: 100, Strategy: NewRandomStrategy(1)}

	scenario := func(rt *Runtime) error {
		mid, err := rt.CreateMachine("asserter", nil, "")
		if err != nil {
			return err
		}
		return rt.SendEvent(mid, primitives.NewEvent("go", nil), primitives.SendOptions{})
	}

	report, err := Explore(reg, core.NewMonitorRegistry(), nil, cfg, scenario)
	require.NoError(t, err)
	bug := report.AnyBug()
	require.NotNil(t, bug)
	assert.Equal(t, BugAssertion, bug.Kind)
}

func TestExplore_MustHandleHaltReportsBug(t *testing.T) {
	reg := registryWith(mustHandleHaltDescriptor())
	cfg := Config{Iterations: 1, MaxSteps: 100, Strategy: NewRandomStrategy(1)}

	scenario := func(rt *Runtime) error {
		mid, err := rt.CreateMachine("halter", nil, "")
		if err != nil {
			return err
		}
		// Halt sits at the front of the queue, so it is processed before
		// the must-handle "ping" behind it ever gets a chance to dequeue.
		if err := rt.SendEvent(mid, primitives.Event{Kind: primitives.Halt}, primitives.SendOptions{}); err != nil {
			return err
		}
		return rt.SendEvent(mid, primitives.NewEvent("ping", nil).WithMustHandle(true), primitives.SendOptions{MustHandle: true})
	}

	report, err := Explore(reg, core.NewMonitorRegistry(), nil, cfg, scenario)
	require.NoError(t, err)
	bug := report.AnyBug()
	require.NotNil(t, bug)
	assert.Equal(t, BugAssertion, bug.Kind)
}

func TestExplore_DeferredEventEventuallyHandled(t *testing.T) {
	desc := primitives.NewMachineDescriptor("defer")
	a := primitives.NewStateDescriptor("A")
	a.IsStart = true
	a.Deferred["later"] = true
	a.Handlers["go"] = primitives.Handler{Kind: primitives.HandlerGoto, Target: "B"}
	b := primitives.NewStateDescriptor("B")
	b.Handlers["later"] = primitives.Handler{Kind: primitives.HandlerGoto, Target: "A"}
	desc.States["A"] = a
	desc.States["B"] = b
	desc.Start = "A"

	reg := registryWith(desc)
	cfg := Config{Iterations: 1, MaxSteps: 1000, Strategy: NewDFSStrategy(1)}

	scenario := func(rt *Runtime) error {
		mid, err := rt.CreateMachine("defer", nil, "")
		if err != nil {
			return err
		}
		if err := rt.SendEvent(mid, primitives.NewEvent("later", nil), primitives.SendOptions{}); err != nil {
			return err
		}
		return rt.SendEvent(mid, primitives.NewEvent("go", nil), primitives.SendOptions{})
	}

	report, err := Explore(reg, core.NewMonitorRegistry(), nil, cfg, scenario)
	require.NoError(t, err)
	assert.Nil(t, report.AnyBug())
}

func TestExplore_ReplayStrategyReproducesRecordedTrace(t *testing.T) {
	reg := registryWith(selfDrivingDescriptor())
	scenario := func(rt *Runtime) error {
		_, err := rt.CreateMachine("ponger", eventPtr("ping", nil), "")
		return err
	}

	first := Config{Iterations: 1, MaxSteps: 1000, Strategy: NewRandomStrategy(42)}
	firstReport, err := Explore(reg, core.NewMonitorRegistry(), nil, first, scenario)
	require.NoError(t, err)
	require.Len(t, firstReport.Iterations, 1)
	recordedTrace := firstReport.Iterations[0].Trace
	require.NotEmpty(t, recordedTrace)

	replay := Config{Iterations: 1, MaxSteps: 1000, Strategy: NewReplayStrategy(recordedTrace)}
	replayReport, err := Explore(registryWith(selfDrivingDescriptor()), core.NewMonitorRegistry(), nil, replay, scenario)
	require.NoError(t, err)
	require.Nil(t, replayReport.AnyBug())
	assert.Equal(t, len(recordedTrace), len(replayReport.Iterations[0].Trace))
}

func TestExplore_PingPongBounded(t *testing.T) {
	reg := registryWith(pingPongDescriptor())
	cfg := Config{Iterations: 3, MaxSteps: 50, Strategy: NewRandomStrategy(3)}

	scenario := func(rt *Runtime) error {
		mid, err := rt.CreateMachine("ping-pong", nil, "")
		if err != nil {
			return err
		}
		return rt.SendEvent(mid, primitives.NewEvent("ping", nil), primitives.SendOptions{})
	}

	report, err := Explore(reg, core.NewMonitorRegistry(), nil, cfg, scenario)
	require.NoError(t, err)
	assert.Nil(t, report.AnyBug())
}

func TestExplore_StrategiesAllProduceCleanRuns(t *testing.T) {
	strategies := map[string]Strategy{
		"random":        NewRandomStrategy(9),
		"dfs":           NewDFSStrategy(1),
		"iddfs":         NewIDDFSStrategy(1, 1, 1, 5),
		"probabilistic": NewProbabilisticStrategy(9, 2),
		"pct":           NewPCTStrategy(9, 2),
		"fairpct":       NewFairPCTStrategy(9, 2, 3),
		"portfolio":     NewPortfolioStrategy(NewRandomStrategy(1), NewDFSStrategy(1)),
	}
	for name, strat := range strategies {
		strat := strat
		t.Run(name, func(t *testing.T) {
			reg := registryWith(selfDrivingDescriptor())
			cfg := Config{Iterations: 1, MaxSteps: 500, Strategy: strat}
			scenario := func(rt *Runtime) error {
				_, err := rt.CreateMachine("ponger", eventPtr("ping", nil), "")
				return err
			}
			report, err := Explore(reg, core.NewMonitorRegistry(), nil, cfg, scenario)
			require.NoError(t, err)
			assert.Nil(t, report.AnyBug())
		})
	}
}
