// Package extensibility holds optional decorators around the machine
// core's pluggable collaborators: action execution and timer-driven event
// sources. Nothing here is required by internal/core; backends opt in by
// passing a decorated ActionRunner into core.NewMachine (wired through
// production.WithActionRunner, or the actionRunner argument of
// controlled.NewRuntime / controlled.Explore, at the runtime level).
package extensibility

import (
	"log/slog"
	"time"

	"github.com/asyncmach/asyncmach/internal/core"
	"github.com/asyncmach/asyncmach/internal/primitives"
)

// LoggingActionRunner wraps an ActionRunner and emits a structured log
// record before and after each action, in the same decorator shape as
// comalice-statechartx's own LoggingActionRunner but standardized on
// log/slog (the structured logger roach88-nysm's CLI already wires up)
// instead of an unleveled "log" package call.
type LoggingActionRunner struct {
	inner  core.ActionRunner
	logger *slog.Logger
}

// NewLoggingActionRunner creates a LoggingActionRunner wrapping inner. If
// logger is nil, slog.Default() is used.
func NewLoggingActionRunner(inner core.ActionRunner, logger *slog.Logger) *LoggingActionRunner {
	if inner == nil {
		inner = core.DefaultActionRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingActionRunner{inner: inner, logger: logger}
}

// Run logs the event kind and machine id being handled, delegates to the
// inner runner, and logs the outcome and duration.
func (r *LoggingActionRunner) Run(ctx primitives.ActionContext, action primitives.Action) error {
	ev := ctx.Event()
	start := time.Now()
	r.logger.Debug("action starting", "machine", ctx.Id().String(), "event", string(ev.Kind))
	err := r.inner.Run(ctx, action)
	if err != nil {
		r.logger.Error("action failed", "machine", ctx.Id().String(), "event", string(ev.Kind), "elapsed", time.Since(start), "error", err)
	} else {
		r.logger.Debug("action completed", "machine", ctx.Id().String(), "event", string(ev.Kind), "elapsed", time.Since(start))
	}
	return err
}
