package controlled

import (
	"fmt"
	"sort"
	"sync"

	"github.com/asyncmach/asyncmach/internal/core"
	"github.com/asyncmach/asyncmach/internal/coverage"
	"github.com/asyncmach/asyncmach/internal/primitives"
)

// Config configures one Explore run of the controlled backend.
type Config struct {
	Iterations             int
	MaxSteps               int
	Strategy               Strategy
	CacheProgramState      bool
	LivenessChecking       bool
	CycleDetection         bool
	ReportActivityCoverage bool
}

// Scenario sets up the initial machines and monitors for one iteration. It
// runs before scheduling begins: every CreateMachine/RegisterMonitor call
// made from inside it registers a seed participant without yielding the
// baton, since nothing else is running yet to race against.
type Scenario func(rt *Runtime) error

// IterationReport summarizes one explored schedule.
type IterationReport struct {
	Bug   *Bug
	Steps uint64
	Trace []TraceEntry
}

// Report summarizes an entire Explore call across every iteration run.
type Report struct {
	Iterations []IterationReport
	Coverage   *coverage.Recorder
}

// AnyBug returns the first reported bug across all iterations, if any.
func (r *Report) AnyBug() *Bug {
	for _, it := range r.Iterations {
		if it.Bug != nil {
			return it.Bug
		}
	}
	return nil
}

// Runtime is the controlled-backend execution context for a single
// iteration: one scheduler, one set of live machines and monitors, torn
// down and rebuilt fresh for every iteration Explore runs.
type Runtime struct {
	registry        *core.Registry
	monitorRegistry *core.MonitorRegistry
	idGen           *primitives.IdGenerator
	actionRunner    core.ActionRunner
	coverage        *coverage.Recorder

	sched *scheduler

	mu       sync.Mutex
	machines map[primitives.MachineId]*core.Machine
	started  map[primitives.MachineId]bool
	monitors []*core.Monitor
	ready    map[primitives.MachineId]chan primitives.Event

	settingUp bool

	randMu sync.Mutex

	bugsMu sync.Mutex
	bug    *Bug
}

// NewRuntime creates a controlled Runtime against registry/monitorRegistry,
// driven by cfg's strategy and options.
func NewRuntime(registry *core.Registry, monitorRegistry *core.MonitorRegistry, actionRunner core.ActionRunner, cov *coverage.Recorder, cfg Config) *Runtime {
	if actionRunner == nil {
		actionRunner = core.DefaultActionRunner{}
	}
	rt := &Runtime{
		registry:        registry,
		monitorRegistry: monitorRegistry,
		idGen:           primitives.NewIdGenerator(),
		actionRunner:    actionRunner,
		coverage:        cov,
		machines:        make(map[primitives.MachineId]*core.Machine),
		started:         make(map[primitives.MachineId]bool),
		ready:           make(map[primitives.MachineId]chan primitives.Event),
	}
	rt.sched = newScheduler(cfg.Strategy, cfg.CacheProgramState, cfg.LivenessChecking, cfg.CycleDetection, cfg.MaxSteps)
	rt.sched.enabledFn = rt.computeEnabled
	rt.sched.hashesFn = rt.computeHashes
	return rt
}

// Explore runs cfg.Iterations independent schedules of scenario, rebuilding
// a fresh Runtime each time, and stops early if any iteration reports a bug.
func Explore(registry *core.Registry, monitorRegistry *core.MonitorRegistry, actionRunner core.ActionRunner, cfg Config, scenario Scenario) (*Report, error) {
	report := &Report{}
	if cfg.ReportActivityCoverage {
		report.Coverage = coverage.NewRecorder()
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = 1
	}
	for i := 0; i < iterations; i++ {
		rt := NewRuntime(registry, monitorRegistry, actionRunner, report.Coverage, cfg)
		rt.settingUp = true
		if err := scenario(rt); err != nil {
			return report, fmt.Errorf("iteration %d: scenario setup failed: %w", i, err)
		}
		rt.settingUp = false

		bug := rt.sched.kickoff()
		report.Iterations = append(report.Iterations, IterationReport{
			Bug:   bug,
			Steps: rt.sched.Steps(),
			Trace: rt.sched.Trace(),
		})
		if bug != nil {
			return report, nil
		}
		if !cfg.Strategy.PrepareForNextIteration() {
			break
		}
	}
	return report, nil
}

func (rt *Runtime) unregister(mid primitives.MachineId) {
	rt.mu.Lock()
	delete(rt.machines, mid)
	rt.mu.Unlock()
}

func (rt *Runtime) coverageSink() core.CoverageSink {
	if rt.coverage == nil {
		return nil
	}
	return rt.coverage
}

// CreateMachine implements primitives.RuntimeHandle.
func (rt *Runtime) CreateMachine(typeName string, init *primitives.Event, opGroupID string) (primitives.MachineId, error) {
	return rt.createMachine(primitives.MachineId{}, typeName, init, opGroupID)
}

// CreateMachineAndExecute is identical to CreateMachine under the
// controlled backend: a machine only runs when the scheduler hands it the
// baton, so there is no separate "and execute" mode to offer.
func (rt *Runtime) CreateMachineAndExecute(typeName string, init *primitives.Event, opGroupID string) (primitives.MachineId, error) {
	return rt.createMachine(primitives.MachineId{}, typeName, init, opGroupID)
}

func (rt *Runtime) createMachine(caller primitives.MachineId, typeName string, init *primitives.Event, opGroupID string) (primitives.MachineId, error) {
	desc, err := rt.registry.Descriptor(typeName)
	if err != nil {
		return primitives.MachineId{}, err
	}
	mid := rt.idGen.Next(typeName, "")
	m := core.NewMachine(mid, desc, rt, rt, rt.actionRunner, rt.unregister, rt.coverageSink())

	rt.mu.Lock()
	rt.machines[mid] = m
	rt.started[mid] = false
	rt.mu.Unlock()

	seeded := init
	if seeded != nil {
		ev := *seeded
		ev.OperationGroupID = opGroupID
		seeded = &ev
	}

	go rt.driveMachine(m, seeded)

	if rt.settingUp {
		return mid, nil
	}
	_, bug := rt.sched.yield(caller, Operation{Kind: OpCreate, ActorID: caller, TargetID: mid}, true)
	if bug != nil {
		rt.recordBug(bug)
	}
	return mid, nil
}

// driveMachine is the body of one machine's dedicated goroutine: wait for
// the first turn, run Start, then repeatedly run one unit of work and
// yield the result until the machine halts or drains idle with no more
// reachable work.
func (rt *Runtime) driveMachine(m *core.Machine, init *primitives.Event) {
	ch := rt.sched.WakeChan(m.ID())
	<-ch

	rt.mu.Lock()
	rt.started[m.ID()] = true
	rt.mu.Unlock()

	m.Start(init)
	rt.runLoopUntilIdle(m)
}

// runLoopUntilIdle repeatedly runs one unit of work and yields the result
// until the machine halts or its inbox drains to idle. Called both from a
// machine's first goroutine (after Start) and from resumeMachine, which
// re-spawns a goroutine for a machine whose inbox went idle and then
// received a fresh event.
func (rt *Runtime) runLoopUntilIdle(m *core.Machine) {
	for {
		alive := m.RunOnce()
		if err := m.LastFailure(); err != nil {
			rt.recordBug(&Bug{Kind: BugAssertion, MachineID: m.ID(), Message: err.Error()})
		}
		kind := OpRun
		if !alive {
			kind = OpStop
		}
		proceed, bug := rt.sched.yield(m.ID(), Operation{Kind: kind, ActorID: m.ID()}, alive)
		if bug != nil {
			rt.recordBug(bug)
		}
		if !proceed || !alive {
			return
		}
	}
}

// resumeMachine re-spawns a goroutine for m after its inbox went idle and
// then received a fresh enqueue (Inbox.Enqueue reported PollNotRunning),
// mirroring the production backend's spawnHandlerRun but waiting its turn
// through the scheduler instead of running freely.
func (rt *Runtime) resumeMachine(m *core.Machine) {
	go func() {
		ch := rt.sched.WakeChan(m.ID())
		<-ch
		rt.runLoopUntilIdle(m)
	}()
}

// Send implements core.Host.
func (rt *Runtime) Send(from, target primitives.MachineId, ev primitives.Event, opts primitives.SendOptions) error {
	rt.mu.Lock()
	m, ok := rt.machines[target]
	rt.mu.Unlock()

	groupID := opts.OperationGroupID
	if groupID == "" && !from.IsZero() {
		if sender, ok2 := rt.machineByID(from); ok2 {
			groupID = sender.OperationGroupID()
		}
	}
	ev.SenderID = from
	ev.OperationGroupID = groupID
	ev.MustHandle = opts.MustHandle

	if !ok {
		if opts.MustHandle {
			return core.NewError(core.KindMustHandleViolation, target, "send: target not live, must-handle event %q undeliverable", ev.Kind)
		}
		return nil
	}

	rt.fanOutToMonitors(ev)

	if delivered := m.Inbox().DeliverIfMatching(ev); delivered {
		rt.mu.Lock()
		ch, hasWaiter := rt.ready[target]
		rt.mu.Unlock()
		if hasWaiter {
			ch <- ev
		}
		return nil
	}
	if poll := m.Inbox().Enqueue(ev); poll == core.PollNotRunning {
		// A machine that has not started yet drains its inbox from
		// driveMachine once the scheduler picks its OpCreate.
		rt.mu.Lock()
		started := rt.started[target]
		rt.mu.Unlock()
		if started {
			rt.resumeMachine(m)
		}
	}
	return nil
}

// AwaitReceive implements core.Host: it releases the baton until a
// matching event is delivered, then reacquires it before returning.
func (rt *Runtime) AwaitReceive(mid primitives.MachineId, kinds []primitives.EventKind) (primitives.Event, error) {
	rt.mu.Lock()
	m, ok := rt.machines[mid]
	if !ok {
		rt.mu.Unlock()
		return primitives.Event{}, core.NewError(core.KindAssertionFailure, mid, "receive: machine not registered")
	}
	ch := make(chan primitives.Event, 1)
	rt.ready[mid] = ch
	rt.mu.Unlock()

	m.Inbox().MarkWaitingFor(kinds...)
	if ev, found := m.Inbox().ScanForWaiting(); found {
		rt.mu.Lock()
		delete(rt.ready, mid)
		rt.mu.Unlock()
		return ev, nil
	}

	proceed, bug := rt.sched.yield(mid, Operation{Kind: OpReceive, ActorID: mid}, true)
	if bug != nil {
		rt.recordBug(bug)
	}
	if !proceed {
		return primitives.Event{}, core.ErrExecutionCanceled
	}

	rt.mu.Lock()
	delete(rt.ready, mid)
	rt.mu.Unlock()
	return <-ch, nil
}

// CreateMachineID mints a fresh unbound id for a later Bind call.
func (rt *Runtime) CreateMachineID(typeName, friendly string) primitives.MachineId {
	return rt.idGen.Next(typeName, friendly)
}

// Bind attaches a previously unbound id to a new machine of typeName. The
// controlled backend only supports binding during scenario setup: once
// scheduling has begun, every schedulable participant must be known to the
// scheduler, and an id minted but not yet bound has no place in the
// enabled-set computation.
func (rt *Runtime) Bind(mid primitives.MachineId, typeName string, init *primitives.Event) error {
	if !rt.settingUp {
		return core.NewError(core.KindAssertionFailure, mid, "bind: controlled backend only supports bind during scenario setup")
	}
	if mid.TypeName != typeName {
		return core.NewError(core.KindEventTypeMismatch, mid, "bind: id was minted for type %q, not %q", mid.TypeName, typeName)
	}
	desc, err := rt.registry.Descriptor(typeName)
	if err != nil {
		return err
	}
	rt.mu.Lock()
	if _, exists := rt.machines[mid]; exists {
		rt.mu.Unlock()
		return core.NewError(core.KindDuplicateMachineId, mid, "bind: id already bound")
	}
	m := core.NewMachine(mid, desc, rt, rt, rt.actionRunner, rt.unregister, rt.coverageSink())
	rt.machines[mid] = m
	rt.started[mid] = false
	rt.mu.Unlock()

	go rt.driveMachine(m, init)
	return nil
}

// SendEvent is the façade-level send used by external callers (not action
// code, which uses ActionContext.Send instead).
func (rt *Runtime) SendEvent(target primitives.MachineId, ev primitives.Event, opts primitives.SendOptions) error {
	return rt.Send(primitives.MachineId{}, target, ev, opts)
}

// SendEventAndExecute is identical to SendEvent under the controlled
// backend and always reports false: the scheduler's own yield loop is the
// only place a machine is ever driven to quiescence, so there is no
// separate synchronous-drain path for an external caller to trigger
// without bypassing the single-runner invariant.
func (rt *Runtime) SendEventAndExecute(target primitives.MachineId, ev primitives.Event, opts primitives.SendOptions) (bool, error) {
	return false, rt.Send(primitives.MachineId{}, target, ev, opts)
}

// GetCurrentOperationGroupID returns mid's current operation-group id.
func (rt *Runtime) GetCurrentOperationGroupID(mid primitives.MachineId) (string, error) {
	m, ok := rt.machineByID(mid)
	if !ok {
		return "", core.NewError(core.KindAssertionFailure, mid, "get_current_operation_group_id: machine not registered")
	}
	return m.OperationGroupID(), nil
}

// Monitors returns every registered monitor instance.
func (rt *Runtime) Monitors() []*core.Monitor {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]*core.Monitor(nil), rt.monitors...)
}

func (rt *Runtime) machineByID(mid primitives.MachineId) (*core.Machine, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	m, ok := rt.machines[mid]
	return m, ok
}

// RegisterMonitor constructs and starts a monitor instance of typeName.
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

// InvokeMonitor implements primitives.RuntimeHandle.
func (rt *Runtime) InvokeMonitor(typeName string, ev primitives.Event) {
	rt.mu.Lock()
	var targets []*core.Monitor
	for _, mon := range rt.monitors {
		if mon.TypeName() == typeName {
			targets = append(targets, mon)
		}
	}
	rt.mu.Unlock()
	for _, mon := range targets {
		mon.MonitorEvent(ev)
		rt.checkMonitorFailure(mon)
	}
}

func (rt *Runtime) fanOutToMonitors(ev primitives.Event) {
	rt.mu.Lock()
	targets := append([]*core.Monitor(nil), rt.monitors...)
	rt.mu.Unlock()
	for _, mon := range targets {
		mon.MonitorEvent(ev)
		rt.checkMonitorFailure(mon)
	}
}

// checkMonitorFailure surfaces a fatal error recorded by a monitor's last
// step as a bug, the same way runLoopUntilIdle does for machines: a
// monitor action can fail (unknown handler kind, more than one transition
// statement) just like a machine action can.
func (rt *Runtime) checkMonitorFailure(mon *core.Monitor) {
	if err := mon.LastFailure(); err != nil {
		rt.recordBug(&Bug{Kind: BugAssertion, MachineID: mon.ID(), Message: err.Error()})
	}
}

// Assert implements primitives.RuntimeHandle: a failing assertion becomes
// the iteration's bug report.
func (rt *Runtime) Assert(cond bool, msg string, args ...any) {
	if cond {
		return
	}
	rt.recordBug(&Bug{Kind: BugAssertion, Message: fmt.Sprintf(msg, args...)})
}

// recordBug latches the iteration's first reported bug and ends the
// iteration right away, regardless of where in the schedule it was
// discovered. Later calls (e.g. the scheduler's own yield-time bug, once
// it notices the same halted machine) are no-ops: concludeLocked only
// ever accepts the first bug.
func (rt *Runtime) recordBug(bug *Bug) {
	rt.bugsMu.Lock()
	first := rt.bug == nil
	if first {
		rt.bug = bug
	}
	rt.bugsMu.Unlock()
	if first {
		rt.sched.forceConclude(bug)
	}
}

// RandomBoolean implements primitives.RuntimeHandle via the scheduler's
// strategy, so every non-deterministic choice is replayable.
func (rt *Runtime) RandomBoolean(max int) bool {
	rt.randMu.Lock()
	defer rt.randMu.Unlock()
	return rt.sched.strategy.NextBoolean(max)
}

// RandomInteger implements primitives.RuntimeHandle via the scheduler's
// strategy.
func (rt *Runtime) RandomInteger(max int) int {
	rt.randMu.Lock()
	defer rt.randMu.Unlock()
	return rt.sched.strategy.NextInteger(max)
}

// computeEnabled builds the enabled-operation set and hot-monitor flag
// consulted by the scheduler at every yield point.
func (rt *Runtime) computeEnabled() ([]Operation, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	var ops []Operation
	for mid, m := range rt.machines {
		if !rt.started[mid] {
			ops = append(ops, Operation{Kind: OpCreate, ActorID: mid, TargetKind: TargetSchedulable, TargetID: mid})
			continue
		}
		if m.IsHalted() {
			continue
		}
		if m.IsWaitingToReceive() {
			if ch, hasWaiter := rt.ready[mid]; hasWaiter && len(ch) > 0 {
				ops = append(ops, Operation{Kind: OpReceive, ActorID: mid, TargetKind: TargetInbox, TargetID: mid})
			}
			continue
		}
		if m.Inbox().HasEnabledEvent(stateFilterOf(m)) || hasDefaultHandler(m) {
			ops = append(ops, Operation{Kind: OpRun, ActorID: mid, TargetKind: TargetSchedulable, TargetID: mid})
		}
	}

	anyHot := false
	for _, mon := range rt.monitors {
		if mon.IsHot() {
			anyHot = true
			break
		}
	}

	sort.Slice(ops, func(i, j int) bool {
		if ops[i].ActorID.TypeName != ops[j].ActorID.TypeName {
			return ops[i].ActorID.TypeName < ops[j].ActorID.TypeName
		}
		return ops[i].ActorID.Value < ops[j].ActorID.Value
	})
	return ops, anyHot
}

func (rt *Runtime) computeHashes() ([]string, []string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	type idHash struct {
		id   primitives.MachineId
		hash string
	}
	var mh []idHash
	for mid, m := range rt.machines {
		if rt.started[mid] {
			mh = append(mh, idHash{mid, m.StateHash()})
		}
	}
	sort.Slice(mh, func(i, j int) bool { return mh[i].id.Value < mh[j].id.Value })
	machineHashes := make([]string, len(mh))
	for i, e := range mh {
		machineHashes[i] = e.hash
	}

	monitorHashes := make([]string, len(rt.monitors))
	for i, mon := range rt.monitors {
		monitorHashes[i] = mon.StateHash()
	}
	return machineHashes, monitorHashes
}

// stateFilterOf adapts a machine's current top state to the Inbox's
// StateFilter contract for the enabled-set computation. Machine already
// does this internally; this helper exists because computeEnabled needs
// the same answer from outside the core package without exporting
// Machine's private stateFilter method.
func stateFilterOf(m *core.Machine) core.StateFilter {
	return enabledFilter{m: m}
}

type enabledFilter struct{ m *core.Machine }

func (f enabledFilter) IsDeferred(kind primitives.EventKind) bool {
	desc := f.m.Descriptor()
	sd := desc.States[f.m.TopState()]
	return sd != nil && sd.Deferred[kind]
}

func (f enabledFilter) IsIgnored(kind primitives.EventKind) bool {
	desc := f.m.Descriptor()
	sd := desc.States[f.m.TopState()]
	return sd != nil && sd.Ignored[kind]
}

func (f enabledFilter) HasDefaultHandler() bool {
	return hasDefaultHandler(f.m)
}

func hasDefaultHandler(m *core.Machine) bool {
	desc := m.Descriptor()
	sd := desc.States[m.TopState()]
	return sd != nil && sd.DefaultHandler != nil
}
