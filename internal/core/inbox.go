// Inbox is the per-machine FIFO queue with deferred/ignored filtering,
// must-handle tracking, and the predicate-matching needed to implement
// blocking receive. Exactly one thread of control operates on an inbox's
// queue at a time; concurrent callers only ever contend on the mutex for the
// duration of an enqueue or a dequeue scan, never for the duration of a
// handler run.
package core

import (
	"sync"

	"github.com/asyncmach/asyncmach/internal/primitives"
	"github.com/asyncmach/asyncmach/pkg/set"
)

// RunState tracks whether a handler run is currently in flight for the
// owning machine. Flipping it from NotRunning to Running is atomic with the
// enqueue that caused it; whichever caller performs that flip is obliged to
// schedule a handler run.
type RunState int32

const (
	EventHandlerNotRunning RunState = iota
	EventHandlerRunning
)

// EnqueuePoll reports whether Enqueue made the machine newly eligible to
// run.
type EnqueuePoll int

const (
	// PollNotRunning means the caller flipped the flag and must schedule a
	// handler run.
	PollNotRunning EnqueuePoll = iota
	// PollRunning means a handler run was already in flight; the enqueued
	// event will be picked up by that run's own dequeue loop.
	PollRunning
)

// DequeueKind classifies the result of TryDequeue.
type DequeueKind int

const (
	DequeueEvent DequeueKind = iota
	DequeueEmpty
	DequeueDefaultCandidate
)

// DequeueOutcome is the result of a single TryDequeue call.
type DequeueOutcome struct {
	Kind  DequeueKind
	Event primitives.Event
}

// StateFilter answers the deferred/ignored/default questions against
// whatever state a machine currently considers "top of stack". Machine
// implements this by delegating to its cached StateDescriptor.
type StateFilter interface {
	IsDeferred(kind primitives.EventKind) bool
	IsIgnored(kind primitives.EventKind) bool
	HasDefaultHandler() bool
}

// Inbox is a FIFO of Event with deferred-skip and ignored-drop semantics
// applied at dequeue time, plus a receive side-channel for blocking
// receive().
type Inbox struct {
	mu       sync.Mutex
	events   []primitives.Event
	sendStep uint64
	runState RunState

	waiting     bool
	waitOnKinds set.Set[primitives.EventKind]
}

// NewInbox creates an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{}
}

// Enqueue appends ev (stamping its SendStep) and reports whether the
// machine is now eligible to run. The handler-running flag toggle happens
// under the same critical section as the append, so the report is accurate
// even under concurrent senders (production backend).
func (ib *Inbox) Enqueue(ev primitives.Event) EnqueuePoll {
	ib.mu.Lock()
	defer ib.mu.Unlock()

	ib.sendStep++
	ev.SendStep = ib.sendStep
	ib.events = append(ib.events, ev)

	if ib.runState == EventHandlerNotRunning {
		ib.runState = EventHandlerRunning
		return PollNotRunning
	}
	return PollRunning
}

// MarkIdle flips the running flag back to NotRunning. Called by
// Machine.RunOnce when TryDequeue reports Empty (no dequeueable event and
// no default handler). Returns false if another event
// arrived between the last dequeue and this call, signalling the caller
// must keep running instead of flipping idle (closes the
// enqueue/idle race without a second lock acquisition from the caller).
func (ib *Inbox) MarkIdle() bool {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	if len(ib.events) > 0 {
		return false
	}
	ib.runState = EventHandlerNotRunning
	return true
}

// TryDequeue scans from the head, skipping kinds the current top state
// defers (unless must-handle) and dropping kinds it ignores. If peekOnly is
// true, a matched event is returned but not removed. must-handle events are
// never deferred or ignored regardless of the filter's answer.
func (ib *Inbox) TryDequeue(filter StateFilter, peekOnly bool) DequeueOutcome {
	ib.mu.Lock()
	defer ib.mu.Unlock()

	kept := make([]primitives.Event, 0, len(ib.events))
	var found *primitives.Event
	var foundIdx int

	for i, ev := range ib.events {
		if found != nil {
			kept = append(kept, ev)
			continue
		}
		if !ev.MustHandle && filter.IsIgnored(ev.Kind) {
			// Dropped: never kept.
			continue
		}
		if !ev.MustHandle && filter.IsDeferred(ev.Kind) {
			kept = append(kept, ev)
			continue
		}
		e := ev
		found = &e
		foundIdx = i
		kept = append(kept, ev) // placeholder, removed below if not peek
	}
	_ = foundIdx

	if found == nil {
		ib.events = kept
		if filter.HasDefaultHandler() {
			return DequeueOutcome{Kind: DequeueDefaultCandidate}
		}
		return DequeueOutcome{Kind: DequeueEmpty}
	}

	if peekOnly {
		ib.events = kept
		return DequeueOutcome{Kind: DequeueEvent, Event: *found}
	}

	// Remove the found event from kept (it was appended as a placeholder).
	final := make([]primitives.Event, 0, len(kept)-1)
	removed := false
	for _, ev := range kept {
		if !removed && ev.SendStep == found.SendStep && ev.Kind == found.Kind {
			removed = true
			continue
		}
		final = append(final, ev)
	}
	ib.events = final
	return DequeueOutcome{Kind: DequeueEvent, Event: *found}
}

// MarkWaitingFor switches the inbox into receive-blocking mode: a
// subsequent DeliverIfMatching call will hand a matching event straight to
// the waiter instead of it sitting in the queue for ordinary dispatch.
func (ib *Inbox) MarkWaitingFor(kinds ...primitives.EventKind) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	ib.waiting = true
	ib.waitOnKinds = set.New(kinds...)
}

// ScanForWaiting removes and returns the first already-queued event
// matching the current wait predicates, if any. Used when entering receive
// to check the backlog before suspending.
func (ib *Inbox) ScanForWaiting() (primitives.Event, bool) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	if !ib.waiting {
		return primitives.Event{}, false
	}
	for i, ev := range ib.events {
		if ib.waitOnKinds.Contains(ev.Kind) {
			ib.events = append(ib.events[:i], ib.events[i+1:]...)
			ib.waiting = false
			ib.waitOnKinds = nil
			return ev, true
		}
	}
	return primitives.Event{}, false
}

// DeliverIfMatching is called by a sender: if the target inbox is currently
// waiting on a predicate matching ev, it is removed from queueing and
// handed back directly (true), and the caller is responsible for signalling
// the waiter's resumption. Otherwise ev is left for ordinary Enqueue
// handling (false) — the caller must still Enqueue it.
func (ib *Inbox) DeliverIfMatching(ev primitives.Event) bool {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	if ib.waiting && ib.waitOnKinds.Contains(ev.Kind) {
		ib.waiting = false
		ib.waitOnKinds = nil
		return true
	}
	return false
}

// StopWaiting clears waiting mode without consuming an event (used when a
// machine is canceled while blocked in receive).
func (ib *Inbox) StopWaiting() {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	ib.waiting = false
	ib.waitOnKinds = nil
}

// IsWaiting reports whether the inbox is currently blocked in receive.
func (ib *Inbox) IsWaiting() bool {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return ib.waiting
}

// HasMustHandle reports whether any must-handle event remains queued; used
// by the halt path to raise MustHandleViolation.
func (ib *Inbox) HasMustHandle() (primitives.EventKind, bool) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	for _, ev := range ib.events {
		if ev.MustHandle {
			return ev.Kind, true
		}
	}
	return "", false
}

// Len returns the current queue depth, for diagnostics and tests.
func (ib *Inbox) Len() int {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return len(ib.events)
}

// HasEnabledEvent reports whether any queued event is currently
// handleable (not deferred, not ignored, must-handle or otherwise) under
// filter — used by the controlled scheduler to decide enabledness without
// mutating the queue.
func (ib *Inbox) HasEnabledEvent(filter StateFilter) bool {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	for _, ev := range ib.events {
		if !ev.MustHandle && filter.IsIgnored(ev.Kind) {
			continue
		}
		if !ev.MustHandle && filter.IsDeferred(ev.Kind) {
			continue
		}
		return true
	}
	return false
}

// HasMatchingForWait reports whether a queued event matches the given
// receive predicates, without consuming it. The controlled scheduler does
// not use it: it treats a waiting machine as enabled once a matching event
// has been handed to its receive channel.
func (ib *Inbox) HasMatchingForWait(kinds set.Set[primitives.EventKind]) bool {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	for _, ev := range ib.events {
		if kinds.Contains(ev.Kind) {
			return true
		}
	}
	return false
}
