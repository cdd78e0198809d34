// Package core implements the machine execution engine, the inbox and
// dispatch discipline, the state descriptor registry, and the monitor core
// shared by both the production and controlled scheduler backends.
package core

import (
	"errors"
	"fmt"

	"github.com/asyncmach/asyncmach/internal/primitives"
)

// Kind is the closed taxonomy of error kinds a handler run or scheduling
// step can produce.
type Kind int

const (
	// KindAssertionFailure covers a user assertion or internal invariant
	// violation.
	KindAssertionFailure Kind = iota
	// KindTransitionMisuse covers multiple transition statements in one
	// action, a transition inside on-exit, or popping an empty stack.
	KindTransitionMisuse
	// KindDuplicateMachineId covers binding an id already bound, or
	// reusing one whose machine has halted.
	KindDuplicateMachineId
	// KindEventTypeMismatch covers binding an id created for type X to a
	// machine of type Y.
	KindEventTypeMismatch
	// KindUnhandledEvent covers exhausting the state stack without a
	// handler for a dequeued event.
	KindUnhandledEvent
	// KindMustHandleViolation covers halting with an undequeued
	// must-handle event.
	KindMustHandleViolation
	// KindLivenessViolation covers a hot monitor state persisting across a
	// detected cycle, or a deadlock with a hot monitor.
	KindLivenessViolation
	// KindExecutionCanceled covers cooperative termination of a schedule;
	// never surfaced as a bug.
	KindExecutionCanceled
)

func (k Kind) String() string {
	switch k {
	case KindAssertionFailure:
		return "AssertionFailure"
	case KindTransitionMisuse:
		return "TransitionMisuse"
	case KindDuplicateMachineId:
		return "DuplicateMachineId"
	case KindEventTypeMismatch:
		return "EventTypeMismatch"
	case KindUnhandledEvent:
		return "UnhandledEvent"
	case KindMustHandleViolation:
		return "MustHandleViolation"
	case KindLivenessViolation:
		return "LivenessViolation"
	case KindExecutionCanceled:
		return "ExecutionCanceled"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the error type surfaced by the machine core and both scheduler
// backends. It carries the offending machine id (if any) so bug reports can
// name the responsible party.
type Error struct {
	Kind      Kind
	MachineId primitives.MachineId
	Msg       string
	Err       error
}

func (e *Error) Error() string {
	if e.MachineId.IsZero() {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Kind, e.MachineId, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Kind, e.MachineId, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is (or wraps) an *Error of the same Kind, so
// errors.Is(err, &core.Error{Kind: core.KindX}) matches any error of that
// kind regardless of message or machine id.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// NewError constructs an Error of kind with a formatted message.
func NewError(kind Kind, mid primitives.MachineId, format string, args ...any) *Error {
	return &Error{Kind: kind, MachineId: mid, Msg: fmt.Sprintf(format, args...)}
}

// WrapError constructs an Error of kind wrapping an underlying cause.
func WrapError(kind Kind, mid primitives.MachineId, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, MachineId: mid, Msg: fmt.Sprintf(format, args...), Err: err}
}

// ErrExecutionCanceled is the distinguished sentinel re-thrown rather than
// caught by the handler-run wrapper: cooperative termination of a
// schedule, never surfaced as a bug.
var ErrExecutionCanceled = &Error{Kind: KindExecutionCanceled, Msg: "execution canceled"}
