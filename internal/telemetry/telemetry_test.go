package telemetry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asyncmach/asyncmach/internal/primitives"
)

type fakeActionContext struct {
	id primitives.MachineId
	ev primitives.Event
}

func (c *fakeActionContext) Id() primitives.MachineId                           { return c.id }
func (c *fakeActionContext) Event() primitives.Event                            { return c.ev }
func (c *fakeActionContext) Locals() *primitives.Locals                         { return primitives.NewLocals() }
func (c *fakeActionContext) Goto(primitives.StateName, *primitives.Event) error { return nil }
func (c *fakeActionContext) Push(primitives.StateName) error                    { return nil }
func (c *fakeActionContext) Pop() error                                         { return nil }
func (c *fakeActionContext) Raise(primitives.Event) error                       { return nil }
func (c *fakeActionContext) Send(primitives.MachineId, primitives.Event, primitives.SendOptions) error {
	return nil
}
func (c *fakeActionContext) Receive(...primitives.EventKind) (primitives.Event, error) {
	return primitives.Event{}, nil
}
func (c *fakeActionContext) Runtime() primitives.RuntimeHandle { return nil }

func TestActionRunner_DelegatesToInnerOnSuccess(t *testing.T) {
	var ran bool
	r := NewActionRunner(nil, nil)
	ctx := &fakeActionContext{id: primitives.MachineId{TypeName: "m", Value: 1}, ev: primitives.NewEvent("go", nil)}

	err := r.Run(ctx, func(primitives.ActionContext) error { ran = true; return nil })
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestActionRunner_PropagatesInnerError(t *testing.T) {
	boom := errors.New("boom")
	r := NewActionRunner(nil, nil)
	ctx := &fakeActionContext{id: primitives.MachineId{TypeName: "m", Value: 1}, ev: primitives.NewEvent("go", nil)}

	err := r.Run(ctx, func(primitives.ActionContext) error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestNewTracer_ReturnsNonNilTracer(t *testing.T) {
	assert.NotNil(t, NewTracer())
}
