package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asyncmach/asyncmach/internal/primitives"
	"github.com/asyncmach/asyncmach/pkg/set"
)

type fakeFilter struct {
	deferred, ignored map[primitives.EventKind]bool
	hasDefault        bool
}

func (f fakeFilter) IsDeferred(kind primitives.EventKind) bool { return f.deferred[kind] }
func (f fakeFilter) IsIgnored(kind primitives.EventKind) bool  { return f.ignored[kind] }
func (f fakeFilter) HasDefaultHandler() bool                   { return f.hasDefault }

func TestInbox_EnqueueFlipsRunStateOnce(t *testing.T) {
	ib := NewInbox()
	assert.Equal(t, PollNotRunning, ib.Enqueue(primitives.NewEvent("a", nil)))
	assert.Equal(t, PollRunning, ib.Enqueue(primitives.NewEvent("b", nil)))
	assert.Equal(t, 2, ib.Len())
}

func TestInbox_MarkIdleRefusesWithPendingEvents(t *testing.T) {
	ib := NewInbox()
	ib.Enqueue(primitives.NewEvent("a", nil))
	assert.False(t, ib.MarkIdle(), "an event arrived, idle must be refused")

	ib2 := NewInbox()
	assert.True(t, ib2.MarkIdle())
}

func TestInbox_TryDequeue_DefersAndIgnores(t *testing.T) {
	ib := NewInbox()
	ib.Enqueue(primitives.NewEvent("ignored", nil))
	ib.Enqueue(primitives.NewEvent("deferred", nil))
	ib.Enqueue(primitives.NewEvent("handled", nil))

	filter := fakeFilter{
		ignored:  map[primitives.EventKind]bool{"ignored": true},
		deferred: map[primitives.EventKind]bool{"deferred": true},
	}

	out := ib.TryDequeue(filter, false)
	require.Equal(t, DequeueEvent, out.Kind)
	assert.Equal(t, primitives.EventKind("handled"), out.Event.Kind)

	// "ignored" was dropped outright, "deferred" remains queued.
	assert.Equal(t, 1, ib.Len())
	remaining := ib.TryDequeue(fakeFilter{}, true)
	assert.Equal(t, primitives.EventKind("deferred"), remaining.Event.Kind)
}

func TestInbox_TryDequeue_MustHandleOverridesDefer(t *testing.T) {
	ib := NewInbox()
	ib.Enqueue(primitives.NewEvent("deferred", nil).WithMustHandle(true))

	filter := fakeFilter{deferred: map[primitives.EventKind]bool{"deferred": true}}
	out := ib.TryDequeue(filter, false)
	require.Equal(t, DequeueEvent, out.Kind)
	assert.True(t, out.Event.MustHandle)
}

func TestInbox_TryDequeue_EmptyReportsDefaultCandidate(t *testing.T) {
	ib := NewInbox()
	out := ib.TryDequeue(fakeFilter{hasDefault: true}, false)
	assert.Equal(t, DequeueDefaultCandidate, out.Kind)

	out2 := ib.TryDequeue(fakeFilter{}, false)
	assert.Equal(t, DequeueEmpty, out2.Kind)
}

func TestInbox_ReceiveScanAndDeliver(t *testing.T) {
	ib := NewInbox()
	ib.Enqueue(primitives.NewEvent("other", nil))
	ib.Enqueue(primitives.NewEvent("pong", nil))

	ib.MarkWaitingFor("pong")
	ev, ok := ib.ScanForWaiting()
	require.True(t, ok)
	assert.Equal(t, primitives.EventKind("pong"), ev.Kind)
	assert.False(t, ib.IsWaiting())

	ib2 := NewInbox()
	ib2.MarkWaitingFor("pong")
	assert.True(t, ib2.DeliverIfMatching(primitives.NewEvent("pong", nil)))
	assert.False(t, ib2.DeliverIfMatching(primitives.NewEvent("ping", nil)))
}

func TestInbox_HasMustHandle(t *testing.T) {
	ib := NewInbox()
	_, ok := ib.HasMustHandle()
	assert.False(t, ok)

	ib.Enqueue(primitives.NewEvent("must", nil).WithMustHandle(true))
	kind, ok := ib.HasMustHandle()
	assert.True(t, ok)
	assert.Equal(t, primitives.EventKind("must"), kind)
}

func TestInbox_HasMatchingForWait(t *testing.T) {
	ib := NewInbox()
	ib.Enqueue(primitives.NewEvent("pong", nil))
	assert.True(t, ib.HasMatchingForWait(set.New(primitives.EventKind("pong"))))
	assert.False(t, ib.HasMatchingForWait(set.New(primitives.EventKind("ping"))))
}
