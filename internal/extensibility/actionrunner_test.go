package extensibility

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asyncmach/asyncmach/internal/primitives"
)

// fakeActionContext is a minimal ActionContext sufficient to drive the
// decorators in this package without spinning up a real machine.
type fakeActionContext struct {
	id     primitives.MachineId
	ev     primitives.Event
	locals *primitives.Locals
	rt     primitives.RuntimeHandle
	sent   []primitives.Event
}

func newFakeActionContext(kind primitives.EventKind) *fakeActionContext {
	return &fakeActionContext{
		id:     primitives.MachineId{TypeName: "fake", Value: 1},
		ev:     primitives.NewEvent(kind, nil),
		locals: primitives.NewLocals(),
	}
}

func (c *fakeActionContext) Id() primitives.MachineId                           { return c.id }
func (c *fakeActionContext) Event() primitives.Event                            { return c.ev }
func (c *fakeActionContext) Locals() *primitives.Locals                         { return c.locals }
func (c *fakeActionContext) Goto(primitives.StateName, *primitives.Event) error { return nil }
func (c *fakeActionContext) Push(primitives.StateName) error                    { return nil }
func (c *fakeActionContext) Pop() error                                         { return nil }
func (c *fakeActionContext) Raise(primitives.Event) error                       { return nil }
func (c *fakeActionContext) Send(target primitives.MachineId, ev primitives.Event, opts primitives.SendOptions) error {
	c.sent = append(c.sent, ev)
	return nil
}
func (c *fakeActionContext) Receive(...primitives.EventKind) (primitives.Event, error) {
	return primitives.Event{}, nil
}
func (c *fakeActionContext) Runtime() primitives.RuntimeHandle { return c.rt }

type fakeRuntimeHandle struct {
	randomBool bool
}

func (f *fakeRuntimeHandle) CreateMachine(string, *primitives.Event, string) (primitives.MachineId, error) {
	return primitives.MachineId{}, nil
}
func (f *fakeRuntimeHandle) CreateMachineAndExecute(string, *primitives.Event, string) (primitives.MachineId, error) {
	return primitives.MachineId{}, nil
}
func (f *fakeRuntimeHandle) InvokeMonitor(string, primitives.Event) {}
func (f *fakeRuntimeHandle) Assert(bool, string, ...any)            {}
func (f *fakeRuntimeHandle) RandomBoolean(int) bool                 { return f.randomBool }
func (f *fakeRuntimeHandle) RandomInteger(int) int                  { return 0 }

func TestLoggingActionRunner_DelegatesAndLogsSuccess(t *testing.T) {
	var buf bytes.Buffer
	// Success is logged at Debug, so the handler must let Debug through.
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var ran bool
	action := func(primitives.ActionContext) error { ran = true; return nil }

	r := NewLoggingActionRunner(nil, logger)
	err := r.Run(newFakeActionContext("go"), action)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Contains(t, buf.String(), "action completed")
}

func TestLoggingActionRunner_LogsFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	boom := errors.New("boom")
	action := func(primitives.ActionContext) error { return boom }

	r := NewLoggingActionRunner(nil, logger)
	err := r.Run(newFakeActionContext("go"), action)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, buf.String(), "action failed")
}

func TestLoggingActionRunner_NilInnerDefaultsToPlainRun(t *testing.T) {
	r := NewLoggingActionRunner(nil, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	called := false
	err := r.Run(newFakeActionContext("go"), func(primitives.ActionContext) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}
