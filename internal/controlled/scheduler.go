package controlled

import (
	"sync"

	"github.com/asyncmach/asyncmach/internal/primitives"
)

// BugKind classifies a reported bug.
type BugKind int

const (
	BugAssertion BugKind = iota
	BugLivenessDeadlock
	BugLivenessCycle
	BugReplayDivergence
)

func (k BugKind) String() string {
	switch k {
	case BugAssertion:
		return "assertion"
	case BugLivenessDeadlock:
		return "liveness_deadlock"
	case BugLivenessCycle:
		return "liveness_cycle"
	case BugReplayDivergence:
		return "replay_divergence"
	default:
		return "unknown"
	}
}

// Bug is a user-visible report produced by one controlled-backend iteration.
type Bug struct {
	Kind      BugKind
	Message   string
	MachineID primitives.MachineId
	StepIndex uint64
	Trace     []TraceEntry
}

// EnabledSetFunc computes every currently enabled operation and whether any
// registered monitor currently holds an open (hot) liveness obligation.
// Supplied by the owning Runtime, which alone knows every live machine and
// monitor.
type EnabledSetFunc func() (enabled []Operation, anyHot bool)

// HashesFunc returns the deterministic state hash of every live machine and
// monitor, ordered stably, for fingerprint computation.
type HashesFunc func() (machineHashes, monitorHashes []string)

// scheduler is the single-runner cooperative coordinator. At most one
// goroutine is ever "running" at a time; every other participant is parked
// on its own wake channel. Whichever goroutine currently holds the baton
// performs the scheduling decision itself via yield, handing the baton
// directly to the next chosen participant rather than routing through a
// separate coordinator goroutine.
type scheduler struct {
	mu       sync.Mutex
	strategy Strategy
	trace    *ScheduleTrace

	enabledFn EnabledSetFunc
	hashesFn  HashesFunc

	cacheProgramState bool
	livenessChecking  bool
	cycleDetection    bool
	maxSteps          int

	steps  uint64
	wake   map[primitives.MachineId]chan struct{}
	cycles *cycleCache

	result    chan *Bug
	concluded bool
}

func newScheduler(strategy Strategy, cacheProgramState, livenessChecking, cycleDetection bool, maxSteps int) *scheduler {
	return &scheduler{
		strategy:          strategy,
		trace:             NewScheduleTrace(),
		cacheProgramState: cacheProgramState,
		livenessChecking:  livenessChecking,
		cycleDetection:    cycleDetection,
		maxSteps:          maxSteps,
		wake:              make(map[primitives.MachineId]chan struct{}),
		cycles:            newCycleCache(256),
		result:            make(chan *Bug, 1),
	}
}

func (s *scheduler) wakeChan(id primitives.MachineId) chan struct{} {
	ch, ok := s.wake[id]
	if !ok {
		ch = make(chan struct{})
		s.wake[id] = ch
	}
	return ch
}

// WakeChan exposes a participant's wake channel for a freshly spawned
// machine goroutine to block on before its first turn.
func (s *scheduler) WakeChan(id primitives.MachineId) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wakeChan(id)
}

// kickoff performs the very first scheduling decision once initial setup
// has registered every seed machine, handing the baton to whichever one
// the strategy picks first.
func (s *scheduler) kickoff() *Bug {
	s.mu.Lock()
	enabled, anyHot := s.enabledFn()
	if len(enabled) == 0 {
		var bug *Bug
		if anyHot && s.livenessChecking {
			bug = &Bug{Kind: BugLivenessDeadlock, Message: "no enabled operation at start, with a hot monitor outstanding"}
		}
		s.concludeLocked(bug)
		s.mu.Unlock()
		return bug
	}
	chosen, ok := s.strategy.NextOperation(enabled, nil)
	if !ok {
		s.concludeLocked(nil)
		s.mu.Unlock()
		return nil
	}
	s.trace.Append(chosen)
	target := s.wakeChan(chosen.ActorID)
	s.mu.Unlock()
	target <- struct{}{}
	return <-s.result
}

// yield is called by whichever goroutine currently holds the baton right
// after completing justDid. alive reports whether the caller has more work
// it could still do (false for a machine that just halted or drained to
// quiescence with nothing pending — its goroutine is about to exit).
//
// When the strategy keeps the baton with self, yield returns (true, nil)
// immediately. When it hands off to a different participant, yield blocks
// until self is re-picked (alive=true) or returns immediately without
// waiting (alive=false, since self's goroutine is exiting and must never
// be scheduled again). proceed=false means the caller must stop: either it
// handed off and is not coming back, or the whole iteration concluded.
func (s *scheduler) yield(self primitives.MachineId, justDid Operation, alive bool) (proceed bool, bug *Bug) {
	s.mu.Lock()
	if s.concluded {
		s.mu.Unlock()
		return false, nil
	}
	s.steps++
	if s.maxSteps > 0 && int(s.steps) > s.maxSteps {
		bug := &Bug{Kind: BugAssertion, Message: "max_steps exceeded", StepIndex: s.steps}
		s.concludeLocked(bug)
		s.mu.Unlock()
		return false, bug
	}

	enabled, anyHot := s.enabledFn()
	if len(enabled) == 0 {
		var bug *Bug
		if anyHot && s.livenessChecking {
			bug = &Bug{Kind: BugLivenessDeadlock, Message: "no enabled operation remains, with a hot monitor outstanding", StepIndex: s.steps}
		}
		s.concludeLocked(bug)
		s.mu.Unlock()
		return false, bug
	}

	if s.cacheProgramState && s.cycleDetection {
		machineHashes, monitorHashes := s.hashesFn()
		fp := computeFingerprint(machineHashes, monitorHashes, justDid.Kind)
		if s.cycles.observe(fp, len(enabled), anyHot) && s.livenessChecking && anyHot {
			bug := &Bug{Kind: BugLivenessCycle, Message: "program-state cycle detected with a monitor remaining hot", StepIndex: s.steps}
			s.concludeLocked(bug)
			s.mu.Unlock()
			return false, bug
		}
	}

	chosen, ok := s.strategy.NextOperation(enabled, &justDid)
	if !ok {
		var bug *Bug
		if rs, isReplay := s.strategy.(*ReplayStrategy); isReplay && rs.Mismatch != nil {
			bug = &Bug{Kind: BugReplayDivergence, Message: rs.Mismatch.Error(), StepIndex: s.steps}
		}
		s.concludeLocked(bug)
		s.mu.Unlock()
		return false, bug
	}
	s.trace.Append(chosen)

	if chosen.ActorID == self && alive {
		s.mu.Unlock()
		return true, nil
	}

	target := s.wakeChan(chosen.ActorID)
	mine := s.wakeChan(self)
	s.mu.Unlock()

	target <- struct{}{}
	if !alive {
		return false, nil
	}
	<-mine
	return true, nil
}

// forceConclude ends the iteration immediately with bug, independent of
// the next scheduling decision. Used when a bug is discovered outside the
// normal yield decision point: an explicit Runtime.Assert call, or a
// machine/monitor run that recorded a fatal error. Idempotent with every
// other conclusion path — whichever fires first wins.
func (s *scheduler) forceConclude(bug *Bug) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.concludeLocked(bug)
}

func (s *scheduler) concludeLocked(bug *Bug) {
	if s.concluded {
		return
	}
	s.concluded = true
	if bug != nil {
		bug.Trace = s.trace.Entries()
	}
	s.result <- bug
}

// Steps reports the number of yield points reached so far. The first
// decision, made by kickoff, is not counted, so Steps can differ from the
// length of the trace.
func (s *scheduler) Steps() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}

// Trace returns the recorded schedule trace.
func (s *scheduler) Trace() []TraceEntry {
	return s.trace.Entries()
}
