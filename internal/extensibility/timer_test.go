package extensibility

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asyncmach/asyncmach/internal/primitives"
)

func TestNewTimerDescriptor_BuildsValidatingDescriptor(t *testing.T) {
	desc := NewTimerDescriptor("timer", NondeterministicDriver{})
	require.NoError(t, desc.Validate())
	assert.Equal(t, timerTickingState, desc.Start)
	assert.Contains(t, desc.States, timerTickingState)
	assert.Contains(t, desc.States, timerStoppedState)
}

func TestNewTimerDescriptor_NilDriverDefaultsToRealTime(t *testing.T) {
	desc := NewTimerDescriptor("timer", nil)
	require.NoError(t, desc.Validate())
}

func TestRealTimeDriver_TickWaitsAtLeastTheInterval(t *testing.T) {
	ctx := newFakeActionContext("tick")
	ctx.locals.Set("interval", 5*time.Millisecond)

	start := time.Now()
	fired := RealTimeDriver{}.Tick(ctx)
	elapsed := time.Since(start)

	assert.True(t, fired)
	assert.GreaterOrEqual(t, elapsed, 5*time.Millisecond)
}

func TestRealTimeDriver_TickDefaultsIntervalWhenUnset(t *testing.T) {
	ctx := newFakeActionContext("tick")
	fired := RealTimeDriver{}.Tick(ctx)
	assert.True(t, fired)
}

func TestNondeterministicDriver_TickDelegatesToRuntimeChoice(t *testing.T) {
	ctx := newFakeActionContext("tick")
	ctx.rt = &fakeRuntimeHandle{randomBool: true}
	assert.True(t, NondeterministicDriver{}.Tick(ctx))

	ctx.rt = &fakeRuntimeHandle{randomBool: false}
	assert.False(t, NondeterministicDriver{}.Tick(ctx))
}

func TestNondeterministicDriver_NilRuntimeDefaultsToFire(t *testing.T) {
	ctx := newFakeActionContext("tick")
	ctx.rt = nil
	assert.True(t, NondeterministicDriver{}.Tick(ctx))
}

func TestTimerDescriptor_OnEntrySeedsLocalsFromTimerStart(t *testing.T) {
	desc := NewTimerDescriptor("timer", NondeterministicDriver{})
	ctx := newFakeActionContext(TimerElapsed)
	client := primitives.MachineId{TypeName: "listener", Value: 1}
	ctx.ev = primitives.NewEvent("start", TimerStart{Client: client, Interval: time.Second, Payload: "hi"})

	require.NoError(t, desc.States[timerTickingState].OnEntry(ctx))

	got, ok := ctx.Locals().Get("client")
	require.True(t, ok)
	assert.Equal(t, client, got)

	payload, ok := ctx.Locals().Get("payload")
	require.True(t, ok)
	assert.Equal(t, "hi", payload)
}
