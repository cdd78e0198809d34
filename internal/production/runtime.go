// Package production implements the production scheduler backend: handler
// runs are dispatched onto the ambient goroutine pool (fire-and-forget),
// per-machine serialization comes from the inbox's running flag, and the
// *AndExecute variants synchronously drain the target machine's inbox to
// quiescence in the caller's own goroutine.
//
// Grounded on comalice-statechartx's Machine.Start goroutine-per-run idiom
// (statechart.go), but reshaped to spawn a fresh goroutine per handler run
// rather than one goroutine for a machine's entire lifetime.
package production

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/asyncmach/asyncmach/internal/core"
	"github.com/asyncmach/asyncmach/internal/coverage"
	"github.com/asyncmach/asyncmach/internal/primitives"
)

// FailureHandler is invoked once when any machine's handler run records a
// fatal error, after that machine's own OnFailure action (if declared) has
// run. The production Runtime then refuses further Create/Send calls.
type FailureHandler func(mid primitives.MachineId, err error)

// Runtime is the production backend: it owns the live machine and monitor
// maps, the shared PRNG for non-deterministic choices — a single
// runtime-scoped PRNG, never reseeded per call — and the activity-coverage
// recorder.
type Runtime struct {
	registry        *core.Registry
	monitorRegistry *core.MonitorRegistry
	idGen           *primitives.IdGenerator
	actionRunner    core.ActionRunner
	coverage        *coverage.Recorder
	onFailure       FailureHandler

	mu       sync.RWMutex
	machines map[primitives.MachineId]*core.Machine
	monitors []*core.Monitor

	recvMu   sync.Mutex
	recvChan map[primitives.MachineId]chan primitives.Event

	randMu sync.Mutex
	rng    *rand.Rand

	failed  atomic.Bool
	failMu  sync.Mutex
	failure error
}

// Option configures a Runtime at construction.
type Option func(*Runtime)

// WithActionRunner overrides the default action runner used by every
// machine and monitor this runtime creates.
func WithActionRunner(r core.ActionRunner) Option {
	return func(rt *Runtime) { rt.actionRunner = r }
}

// WithCoverageRecorder installs a shared activity-coverage recorder.
func WithCoverageRecorder(rec *coverage.Recorder) Option {
	return func(rt *Runtime) { rt.coverage = rec }
}

// WithFailureHandler installs the on_failure callback.
func WithFailureHandler(h FailureHandler) Option {
	return func(rt *Runtime) { rt.onFailure = h }
}

// WithSeed seeds the runtime-scoped PRNG deterministically.
func WithSeed(seed int64) Option {
	return func(rt *Runtime) { rt.rng = rand.New(rand.NewSource(seed)) }
}

// NewRuntime creates a production Runtime using registry for machine types
// and monitorRegistry for monitor types.
func NewRuntime(registry *core.Registry, monitorRegistry *core.MonitorRegistry, opts ...Option) *Runtime {
	rt := &Runtime{
		registry:        registry,
		monitorRegistry: monitorRegistry,
		idGen:           primitives.NewIdGenerator(),
		actionRunner:    core.DefaultActionRunner{},
		machines:        make(map[primitives.MachineId]*core.Machine),
		recvChan:        make(map[primitives.MachineId]chan primitives.Event),
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.rng == nil {
		rt.rng = rand.New(rand.NewSource(1))
	}
	return rt
}

// Failed reports whether the runtime has halted due to an uncaught action
// failure.
func (rt *Runtime) Failed() (bool, error) {
	rt.failMu.Lock()
	defer rt.failMu.Unlock()
	return rt.failed.Load(), rt.failure
}

func (rt *Runtime) recordFailure(mid primitives.MachineId, err error) {
	rt.failMu.Lock()
	already := rt.failed.Load()
	if !already {
		rt.failed.Store(true)
		rt.failure = err
	}
	rt.failMu.Unlock()
	if !already && rt.onFailure != nil {
		rt.onFailure(mid, err)
	}
}

// ---- core.Host ----

// Send implements core.Host: it enqueues ev on target's inbox (or delivers
// it directly to a blocked receiver), stamping operation-group propagation
// following the precedence send_options.operation_group_id > sender's
// current id > empty, and schedules a handler run when the enqueue makes target newly
// eligible.
func (rt *Runtime) Send(from, target primitives.MachineId, ev primitives.Event, opts primitives.SendOptions) error {
	if failed, err := rt.Failed(); failed {
		return fmt.Errorf("production runtime halted after failure: %w", err)
	}

	rt.mu.RLock()
	m, ok := rt.machines[target]
	rt.mu.RUnlock()

	groupID := opts.OperationGroupID
	if groupID == "" && !from.IsZero() {
		if sender, ok := rt.machineByID(from); ok {
			groupID = sender.OperationGroupID()
		}
	}
	ev.SenderID = from
	ev.OperationGroupID = groupID
	ev.MustHandle = opts.MustHandle

	if !ok {
		if opts.MustHandle {
			return core.NewError(core.KindMustHandleViolation, target, "send: target_halted=true, must-handle event %q undeliverable", ev.Kind)
		}
		return nil // target_halted=true, default variant drops silently
	}

	rt.fanOutToMonitors(ev)

	if delivered := m.Inbox().DeliverIfMatching(ev); delivered {
		rt.recvMu.Lock()
		ch := rt.recvChan[target]
		rt.recvMu.Unlock()
		if ch != nil {
			ch <- ev
		}
		return nil
	}

	poll := m.Inbox().Enqueue(ev)
	if poll == core.PollNotRunning {
		rt.spawnHandlerRun(m)
	}
	return nil
}

// AwaitReceive implements core.Host: it blocks the calling handler-run
// goroutine until a matching event is delivered by a sender.
func (rt *Runtime) AwaitReceive(mid primitives.MachineId, kinds []primitives.EventKind) (primitives.Event, error) {
	rt.mu.RLock()
	m, ok := rt.machines[mid]
	rt.mu.RUnlock()
	if !ok {
		return primitives.Event{}, core.NewError(core.KindAssertionFailure, mid, "receive: machine not registered")
	}

	if ev, found := m.Inbox().ScanForWaiting(); found {
		// ScanForWaiting only matches once the inbox is in waiting mode,
		// so for a fresh receive this finds nothing; the wait is marked
		// below and the backlog scanned again.
		return ev, nil
	}
	m.Inbox().MarkWaitingFor(kinds...)
	if ev, found := m.Inbox().ScanForWaiting(); found {
		return ev, nil
	}

	ch := make(chan primitives.Event, 1)
	rt.recvMu.Lock()
	rt.recvChan[mid] = ch
	rt.recvMu.Unlock()

	ev := <-ch

	rt.recvMu.Lock()
	delete(rt.recvChan, mid)
	rt.recvMu.Unlock()
	return ev, nil
}

func (rt *Runtime) spawnHandlerRun(m *core.Machine) {
	go func() {
		m.RunLoop()
		rt.checkFailure(m)
	}()
}

func (rt *Runtime) checkFailure(m *core.Machine) {
	if err := m.LastFailure(); err != nil {
		rt.runOnFailureAction(m, err)
		rt.recordFailure(m.ID(), err)
	}
}

func (rt *Runtime) runOnFailureAction(m *core.Machine, err error) {
	desc := m.Descriptor()
	if desc == nil || desc.OnFailure == nil {
		return
	}
	_ = desc.OnFailure(&failureCtx{rt: rt, m: m, err: err})
}

// failureCtx is a minimal ActionContext offered to a machine's declared
// OnFailure action: it can inspect the failing event/id but cannot start
// new transitions (the machine is already terminal).
type failureCtx struct {
	rt  *Runtime
	m   *core.Machine
	err error
}

func (c *failureCtx) Id() primitives.MachineId { return c.m.ID() }
func (c *failureCtx) Event() primitives.Event {
	return primitives.NewEvent(primitives.EventKind("$failure"), c.err)
}
func (c *failureCtx) Locals() *primitives.Locals { return c.m.Locals() }
func (c *failureCtx) Goto(primitives.StateName, *primitives.Event) error {
	return core.NewError(core.KindAssertionFailure, c.m.ID(), "on_failure cannot transition")
}
func (c *failureCtx) Push(primitives.StateName) error {
	return core.NewError(core.KindAssertionFailure, c.m.ID(), "on_failure cannot transition")
}
func (c *failureCtx) Pop() error {
	return core.NewError(core.KindAssertionFailure, c.m.ID(), "on_failure cannot transition")
}
func (c *failureCtx) Raise(primitives.Event) error {
	return core.NewError(core.KindAssertionFailure, c.m.ID(), "on_failure cannot transition")
}
func (c *failureCtx) Send(target primitives.MachineId, ev primitives.Event, opts primitives.SendOptions) error {
	return c.rt.Send(c.m.ID(), target, ev, opts)
}
func (c *failureCtx) Receive(...primitives.EventKind) (primitives.Event, error) {
	return primitives.Event{}, core.NewError(core.KindAssertionFailure, c.m.ID(), "on_failure cannot receive")
}
func (c *failureCtx) Runtime() primitives.RuntimeHandle { return c.rt }

func (rt *Runtime) machineByID(mid primitives.MachineId) (*core.Machine, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	m, ok := rt.machines[mid]
	return m, ok
}

// ---- primitives.RuntimeHandle ----

// CreateMachine implements primitives.RuntimeHandle: it asynchronously
// creates a new machine instance, binds it a fresh id, and returns
// immediately once the start state's on_entry has run.
func (rt *Runtime) CreateMachine(typeName string, init *primitives.Event, opGroupID string) (primitives.MachineId, error) {
	return rt.createMachine(typeName, init, opGroupID, false)
}

// CreateMachineAndExecute creates a machine and synchronously drains its
// inbox to quiescence before returning.
func (rt *Runtime) CreateMachineAndExecute(typeName string, init *primitives.Event, opGroupID string) (primitives.MachineId, error) {
	return rt.createMachine(typeName, init, opGroupID, true)
}

func (rt *Runtime) createMachine(typeName string, init *primitives.Event, opGroupID string, execute bool) (primitives.MachineId, error) {
	if failed, err := rt.Failed(); failed {
		return primitives.MachineId{}, fmt.Errorf("production runtime halted after failure: %w", err)
	}

	desc, err := rt.registry.Descriptor(typeName)
	if err != nil {
		return primitives.MachineId{}, err
	}

	mid := rt.idGen.Next(typeName, "")
	m := core.NewMachine(mid, desc, rt, rt, rt.actionRunner, rt.unregister, rt.coverageSink())

	rt.mu.Lock()
	rt.machines[mid] = m
	rt.mu.Unlock()

	seeded := init
	if seeded != nil {
		ev := *seeded
		ev.OperationGroupID = opGroupID
		seeded = &ev
	}
	m.Start(seeded)

	if execute {
		m.RunLoop()
		rt.checkFailure(m)
	} else {
		rt.spawnHandlerRun(m)
	}
	return mid, nil
}

func (rt *Runtime) coverageSink() core.CoverageSink {
	if rt.coverage == nil {
		return nil
	}
	return rt.coverage
}

func (rt *Runtime) unregister(mid primitives.MachineId) {
	rt.mu.Lock()
	delete(rt.machines, mid)
	rt.mu.Unlock()
}

// CreateMachineID mints a fresh unbound id for later Bind.
func (rt *Runtime) CreateMachineID(typeName, friendly string) primitives.MachineId {
	return rt.idGen.Next(typeName, friendly)
}

// Bind attaches a previously unbound id to a new machine of typeName.
func (rt *Runtime) Bind(mid primitives.MachineId, typeName string, init *primitives.Event) error {
	if mid.TypeName != typeName {
		return core.NewError(core.KindEventTypeMismatch, mid, "bind: id was minted for type %q, not %q", mid.TypeName, typeName)
	}
	rt.mu.RLock()
	_, exists := rt.machines[mid]
	rt.mu.RUnlock()
	if exists {
		return core.NewError(core.KindDuplicateMachineId, mid, "bind: id already bound")
	}
	desc, err := rt.registry.Descriptor(typeName)
	if err != nil {
		return err
	}
	m := core.NewMachine(mid, desc, rt, rt, rt.actionRunner, rt.unregister, rt.coverageSink())
	rt.mu.Lock()
	rt.machines[mid] = m
	rt.mu.Unlock()
	m.Start(init)
	rt.spawnHandlerRun(m)
	return nil
}

// RegisterMonitor constructs and starts a monitor instance of typeName,
// idempotently: a second registration of the same type is a no-op.
func (rt *Runtime) RegisterMonitor(typeName string) error {
	desc, temps, err := rt.monitorRegistry.Descriptor(typeName)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	for _, existing := range rt.monitors {
		if existing.TypeName() == typeName {
			rt.mu.Unlock()
			return nil
		}
	}
	mid := rt.idGen.Next(typeName, typeName)
	mon := core.NewMonitor(mid, desc, temps, rt.actionRunner, rt.coverageSink())
	rt.monitors = append(rt.monitors, mon)
	rt.mu.Unlock()
	mon.Start()
	return nil
}

// InvokeMonitor implements primitives.RuntimeHandle: it synchronously steps
// every registered instance of typeName with ev.
func (rt *Runtime) InvokeMonitor(typeName string, ev primitives.Event) {
	rt.mu.RLock()
	var targets []*core.Monitor
	for _, mon := range rt.monitors {
		if mon.TypeName() == typeName {
			targets = append(targets, mon)
		}
	}
	rt.mu.RUnlock()
	for _, mon := range targets {
		mon.MonitorEvent(ev)
	}
}

// fanOutToMonitors steps every registered monitor with ev, letting each
// monitor's own state decide whether it cares: every sent event is forwarded
// to every registered monitor, which self-filters by its current state's
// declared handlers.
func (rt *Runtime) fanOutToMonitors(ev primitives.Event) {
	rt.mu.RLock()
	targets := append([]*core.Monitor(nil), rt.monitors...)
	rt.mu.RUnlock()
	for _, mon := range targets {
		mon.MonitorEvent(ev)
	}
}

// Monitors returns every registered monitor instance, for liveness
// inspection by a caller (e.g. the controlled backend reuses this shape,
// but the production backend itself has no deadlock notion to check).
func (rt *Runtime) Monitors() []*core.Monitor {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return append([]*core.Monitor(nil), rt.monitors...)
}

// Assert implements primitives.RuntimeHandle: a failing assertion bubbles
// up via on_failure in production.
func (rt *Runtime) Assert(cond bool, msg string, args ...any) {
	if cond {
		return
	}
	err := core.NewError(core.KindAssertionFailure, primitives.MachineId{}, msg, args...)
	rt.recordFailure(primitives.MachineId{}, err)
}

// RandomBoolean returns a pseudo-random boolean from the runtime-scoped
// PRNG: a single runtime-scoped PRNG, not reseeded per call.
func (rt *Runtime) RandomBoolean(max int) bool {
	if max <= 1 {
		return false
	}
	rt.randMu.Lock()
	defer rt.randMu.Unlock()
	return rt.rng.Intn(max) == 0
}

// RandomInteger returns a pseudo-random integer in [0, max).
func (rt *Runtime) RandomInteger(max int) int {
	if max <= 0 {
		return 0
	}
	rt.randMu.Lock()
	defer rt.randMu.Unlock()
	return rt.rng.Intn(max)
}

// GetCurrentOperationGroupID returns mid's current operation-group id.
func (rt *Runtime) GetCurrentOperationGroupID(mid primitives.MachineId) (string, error) {
	m, ok := rt.machineByID(mid)
	if !ok {
		return "", core.NewError(core.KindAssertionFailure, mid, "get_current_operation_group_id: machine not registered")
	}
	return m.OperationGroupID(), nil
}

// SendEvent is the façade-level send used by external callers (not action
// code, which uses ActionContext.Send instead).
func (rt *Runtime) SendEvent(target primitives.MachineId, ev primitives.Event, opts primitives.SendOptions) error {
	return rt.Send(primitives.MachineId{}, target, ev, opts)
}

// SendEventAndExecute enqueues ev and, if that made the target newly
// eligible to run, synchronously drains it to quiescence in the caller's
// goroutine, returning true iff the event was handled synchronously here
// (false means some other in-flight run will pick it up).
func (rt *Runtime) SendEventAndExecute(target primitives.MachineId, ev primitives.Event, opts primitives.SendOptions) (bool, error) {
	rt.mu.RLock()
	m, ok := rt.machines[target]
	rt.mu.RUnlock()
	if !ok {
		return false, rt.Send(primitives.MachineId{}, target, ev, opts)
	}

	groupID := opts.OperationGroupID
	ev.OperationGroupID = groupID
	ev.MustHandle = opts.MustHandle
	rt.fanOutToMonitors(ev)

	if delivered := m.Inbox().DeliverIfMatching(ev); delivered {
		rt.recvMu.Lock()
		ch := rt.recvChan[target]
		rt.recvMu.Unlock()
		if ch != nil {
			ch <- ev
		}
		return true, nil
	}

	poll := m.Inbox().Enqueue(ev)
	if poll != core.PollNotRunning {
		return false, nil
	}
	m.RunLoop()
	rt.checkFailure(m)
	return true, nil
}
