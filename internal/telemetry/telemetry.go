// Package telemetry wraps the machine core's pluggable collaborators with
// OpenTelemetry spans, in the same decorator shape as
// internal/extensibility.LoggingActionRunner but emitting trace.Span
// records instead of (or alongside) log lines. It follows the
// Tracer/Span naming stateforward-go-hsm's pkg/telemetry uses, but calls
// through to a real go.opentelemetry.io/otel TracerProvider rather than
// stateforward-go-hsm's no-op stub.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/asyncmach/asyncmach/internal/core"
	"github.com/asyncmach/asyncmach/internal/primitives"
)

const instrumentationName = "github.com/asyncmach/asyncmach"

// Tracer is the subset of trace.Tracer this package drives. Held as a
// field rather than called through the global otel.Tracer on every span
// so tests can substitute a recording implementation.
type Tracer = trace.Tracer

// NewTracer returns the Tracer registered with the global
// TracerProvider under this module's instrumentation name. Callers that
// install their own TracerProvider (via otel.SetTracerProvider) before
// constructing a Runtime get that provider's spans for free.
func NewTracer() Tracer {
	return otel.Tracer(instrumentationName)
}

// ActionRunner wraps an inner core.ActionRunner and starts one span per
// action run, attributed with the acting machine id and event kind, and
// records the run's outcome. Because actions run on whatever goroutine
// the owning backend assigns them (a fresh goroutine per handler run under
// production, the machine's own goroutine while it holds the scheduler's
// baton under controlled, or the caller's goroutine for monitors and the
// *AndExecute variants), the span is started and
// ended within the same Run call rather than threaded through a
// longer-lived context.
type ActionRunner struct {
	inner  core.ActionRunner
	tracer Tracer
}

// NewActionRunner wraps inner (or core.DefaultActionRunner{} if nil) with
// span recording using tracer (or NewTracer() if nil).
func NewActionRunner(inner core.ActionRunner, tracer Tracer) *ActionRunner {
	if inner == nil {
		inner = core.DefaultActionRunner{}
	}
	if tracer == nil {
		tracer = NewTracer()
	}
	return &ActionRunner{inner: inner, tracer: tracer}
}

// Run starts a span named "asyncmach.action", delegates to the inner
// runner, and records the resulting error (if any) on the span before
// ending it.
func (r *ActionRunner) Run(ctx primitives.ActionContext, action primitives.Action) error {
	ev := ctx.Event()
	_, span := r.tracer.Start(context.Background(), "asyncmach.action",
		trace.WithAttributes(
			attribute.String("asyncmach.machine_id", ctx.Id().String()),
			attribute.String("asyncmach.event_kind", string(ev.Kind)),
		),
	)
	defer span.End()

	err := r.inner.Run(ctx, action)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}
