package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asyncmach/asyncmach/internal/primitives"
)

// fakeHost is a minimal Host that records sends and never blocks a
// receive (tests that need blocking receive drive it explicitly).
type fakeHost struct {
	sent []primitives.Event
}

func (h *fakeHost) Send(from, target primitives.MachineId, ev primitives.Event, opts primitives.SendOptions) error {
	h.sent = append(h.sent, ev)
	return nil
}

func (h *fakeHost) AwaitReceive(mid primitives.MachineId, kinds []primitives.EventKind) (primitives.Event, error) {
	return primitives.Event{}, nil
}

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

func newTestMachine(desc *primitives.MachineDescriptor) (*Machine, *fakeHost) {
	host := &fakeHost{}
	id := primitives.MachineId{}
	m := NewMachine(id, desc, host, nil, nil, nil, nil)
	return m, host
}

func TestMachine_GotoTransitionsBetweenStates(t *testing.T) {
	m, _ := newTestMachine(pingPongDescriptor())
	m.Start(nil)
	assert.Equal(t, primitives.StateName("A"), m.TopState())

	m.Inbox().Enqueue(primitives.NewEvent("ping", nil))
	m.RunLoop()
	assert.Equal(t, primitives.StateName("B"), m.TopState())

	m.Inbox().Enqueue(primitives.NewEvent("pong", nil))
	m.RunLoop()
	assert.Equal(t, primitives.StateName("A"), m.TopState())
}

func TestMachine_UnhandledEventFailsAndHalts(t *testing.T) {
	m, _ := newTestMachine(pingPongDescriptor())
	m.Start(nil)

	m.Inbox().Enqueue(primitives.NewEvent("nonsense", nil))
	m.RunLoop()

	require.Error(t, m.LastFailure())
	assert.True(t, m.IsHalted())
}

func TestMachine_PushPop(t *testing.T) {
	desc := primitives.NewMachineDescriptor("push-pop")
	a := primitives.NewStateDescriptor("A")
	a.IsStart = true
	a.Handlers["push"] = primitives.Handler{Kind: primitives.HandlerPush, Target: "B"}
	b := primitives.NewStateDescriptor("B")
	b.Handlers["pop"] = primitives.Handler{Kind: primitives.HandlerPop}
	desc.States["A"] = a
	desc.States["B"] = b
	desc.Start = "A"

	m, _ := newTestMachine(desc)
	m.Start(nil)

	m.Inbox().Enqueue(primitives.NewEvent("push", nil))
	m.RunLoop()
	assert.Equal(t, []primitives.StateName{"A", "B"}, m.StackSnapshot())

	m.Inbox().Enqueue(primitives.NewEvent("pop", nil))
	m.RunLoop()
	assert.Equal(t, []primitives.StateName{"A"}, m.StackSnapshot())
}

func TestMachine_HaltWithMustHandleEventRecordsViolation(t *testing.T) {
	m, _ := newTestMachine(pingPongDescriptor())
	m.Start(nil)

	// Halt sits at the front of the queue, so it is processed before the
	// must-handle "ping" behind it ever gets a chance to dequeue.
	m.Inbox().Enqueue(primitives.Event{Kind: primitives.Halt})
	m.Inbox().Enqueue(primitives.NewEvent("ping", nil).WithMustHandle(true))
	m.RunLoop()

	assert.True(t, m.IsHalted())
	require.Error(t, m.LastFailure())
	var asErr *Error
	require.ErrorAs(t, m.LastFailure(), &asErr)
	assert.Equal(t, KindMustHandleViolation, asErr.Kind)
}

func TestMachine_DeferredEventWaitsForReachableState(t *testing.T) {
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

	m, _ := newTestMachine(desc)
	m.Start(nil)

	m.Inbox().Enqueue(primitives.NewEvent("later", nil))
	m.Inbox().Enqueue(primitives.NewEvent("go", nil))
	m.RunLoop()

	// "later" was deferred in A, then handled once state B was reached.
	assert.Equal(t, primitives.StateName("A"), m.TopState())
	assert.NoError(t, m.LastFailure())
}

func TestMachine_IgnoredEventIsDroppedSilently(t *testing.T) {
	desc := primitives.NewMachineDescriptor("ignore")
	a := primitives.NewStateDescriptor("A")
	a.IsStart = true
	a.Ignored["noise"] = true
	desc.States["A"] = a
	desc.Start = "A"

	m, _ := newTestMachine(desc)
	m.Start(nil)

	m.Inbox().Enqueue(primitives.NewEvent("noise", nil))
	m.RunLoop()

	assert.NoError(t, m.LastFailure())
	assert.Equal(t, 0, m.Inbox().Len())
}

func TestMachine_SendForwardsThroughHost(t *testing.T) {
	desc := primitives.NewMachineDescriptor("sender")
	a := primitives.NewStateDescriptor("A")
	a.IsStart = true
	target := primitives.MachineId{}
	a.Handlers["go"] = primitives.Handler{Kind: primitives.HandlerDo, Action: func(ctx primitives.ActionContext) error {
		return ctx.Send(target, primitives.NewEvent("hello", nil), primitives.SendOptions{})
	}}
	desc.States["A"] = a
	desc.Start = "A"

	m, host := newTestMachine(desc)
	m.Start(nil)
	m.Inbox().Enqueue(primitives.NewEvent("go", nil))
	m.RunLoop()

	require.Len(t, host.sent, 1)
	assert.Equal(t, primitives.EventKind("hello"), host.sent[0].Kind)
}
