package controlled

import (
	"math/rand"
	"sort"
)

// Strategy supplies every scheduling and non-deterministic choice the
// controlled runtime needs. A Strategy is not safe for concurrent use; the
// scheduler only ever calls it from whichever goroutine currently holds
// the baton.
type Strategy interface {
	// NextOperation picks one entry of enabled to run next. current is the
	// operation that was just completed (nil on the very first call of an
	// iteration). Returning ok=false means the strategy has nothing left
	// to offer and the iteration should end early.
	NextOperation(enabled []Operation, current *Operation) (chosen Operation, ok bool)
	// NextBoolean returns a choice in a boolean of cardinality max (max==2
	// for a plain coin flip; larger max biases toward false).
	NextBoolean(max int) bool
	// NextInteger returns a choice in [0, max).
	NextInteger(max int) int
	// PrepareForNextIteration resets per-iteration state and reports
	// whether another iteration should run (false means exhausted: no new
	// schedule would be produced, e.g. a bounded DFS has covered its tree).
	PrepareForNextIteration() bool
}

func sortedEnabled(enabled []Operation) []Operation {
	out := append([]Operation(nil), enabled...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].ActorID.TypeName != out[j].ActorID.TypeName {
			return out[i].ActorID.TypeName < out[j].ActorID.TypeName
		}
		return out[i].ActorID.Value < out[j].ActorID.Value
	})
	return out
}

// RandomStrategy picks uniformly among enabled operations and among
// boolean/integer choices, seeded once at construction.
type RandomStrategy struct {
	rng *rand.Rand
}

// NewRandomStrategy creates a RandomStrategy seeded deterministically.
func NewRandomStrategy(seed int64) *RandomStrategy {
	return &RandomStrategy{rng: rand.New(rand.NewSource(seed))}
}

func (s *RandomStrategy) NextOperation(enabled []Operation, _ *Operation) (Operation, bool) {
	ordered := sortedEnabled(enabled)
	if len(ordered) == 0 {
		return Operation{}, false
	}
	return ordered[s.rng.Intn(len(ordered))], true
}

func (s *RandomStrategy) NextBoolean(max int) bool {
	if max <= 1 {
		return false
	}
	return s.rng.Intn(max) == 0
}

func (s *RandomStrategy) NextInteger(max int) int {
	if max <= 0 {
		return 0
	}
	return s.rng.Intn(max)
}

func (s *RandomStrategy) PrepareForNextIteration() bool { return true }

// DFSStrategy explores schedules in a simplified depth-first order: the
// first iteration always takes the lowest-ordered enabled operation, and
// each later iteration replays the previous iteration's choices with only
// the last one bumped by one, taking the lowest-ordered operation past the
// end of that replayed prefix. It does not remember which alternatives were
// already tried at earlier choice points, and it bounds exploration by the
// caller's iteration count rather than detecting tree exhaustion.
type DFSStrategy struct {
	path    []int // chosen index at each step of the current iteration
	replay  []int // indices to force-replay from the previous backtrack point
	cursor  int
	maxIter int
	iter    int
}

// NewDFSStrategy creates a DFS strategy bounded to maxIterations schedules.
func NewDFSStrategy(maxIterations int) *DFSStrategy {
	return &DFSStrategy{maxIter: maxIterations}
}

func (s *DFSStrategy) NextOperation(enabled []Operation, _ *Operation) (Operation, bool) {
	ordered := sortedEnabled(enabled)
	if len(ordered) == 0 {
		return Operation{}, false
	}
	idx := 0
	if s.cursor < len(s.replay) {
		idx = s.replay[s.cursor]
		if idx >= len(ordered) {
			idx = len(ordered) - 1
		}
	}
	s.path = append(s.path, idx)
	s.cursor++
	return ordered[idx], true
}

func (s *DFSStrategy) NextBoolean(max int) bool { return false }
func (s *DFSStrategy) NextInteger(max int) int  { return 0 }

func (s *DFSStrategy) PrepareForNextIteration() bool {
	s.iter++
	if s.maxIter > 0 && s.iter >= s.maxIter {
		return false
	}
	// Backtrack: bump the last choice by one; if that overflows we can't
	// tell statically (enabled-set size varies by step), so the next
	// iteration's NextOperation clamps out-of-range indices, which
	// degrades to "pick the last alternative" rather than erroring.
	next := append([]int(nil), s.path...)
	for len(next) > 0 {
		next[len(next)-1]++
		break
	}
	s.replay = next
	s.path = nil
	s.cursor = 0
	return len(next) > 0
}

// IDDFSStrategy runs DFSStrategy in rounds: when the inner DFS has used up
// its iterations, a fresh DFS starts and depth grows by depthStep, until
// depth passes maxDepth (when maxDepth is positive). depth only counts the
// rounds; it does not bound how many steps a schedule may take, which is
// left to the runtime's MaxSteps.
type IDDFSStrategy struct {
	inner      *DFSStrategy
	depth      int
	depthStep  int
	maxDepth   int
	roundIters int
	doneIters  int
}

// NewIDDFSStrategy creates an iterative-deepening DFS strategy.
func NewIDDFSStrategy(maxIterations, startDepth, depthStep, maxDepth int) *IDDFSStrategy {
	return &IDDFSStrategy{
		inner:      NewDFSStrategy(maxIterations),
		depth:      startDepth,
		depthStep:  depthStep,
		maxDepth:   maxDepth,
		roundIters: maxIterations,
	}
}

func (s *IDDFSStrategy) NextOperation(enabled []Operation, current *Operation) (Operation, bool) {
	return s.inner.NextOperation(enabled, current)
}
func (s *IDDFSStrategy) NextBoolean(max int) bool { return s.inner.NextBoolean(max) }
func (s *IDDFSStrategy) NextInteger(max int) int  { return s.inner.NextInteger(max) }

func (s *IDDFSStrategy) PrepareForNextIteration() bool {
	if s.inner.PrepareForNextIteration() {
		return true
	}
	s.depth += s.depthStep
	if s.maxDepth > 0 && s.depth > s.maxDepth {
		return false
	}
	s.inner = NewDFSStrategy(s.roundIters)
	return true
}

// ProbabilisticStrategy flips a weighted coin at every scheduling point:
// with probability 1-1/contextSwitchBound it keeps the lowest-ordered
// enabled operation belonging to the same actor as current (biasing toward
// long uninterrupted runs, the way a real scheduler's quantum does).
// Otherwise, or when current is nil or its actor has no enabled operation,
// it picks uniformly among all enabled operations, current's actor
// included.
type ProbabilisticStrategy struct {
	rng                *rand.Rand
	contextSwitchBound int
}

// NewProbabilisticStrategy creates a ProbabilisticStrategy; a bound of N
// means a context switch is considered roughly every N scheduling points.
func NewProbabilisticStrategy(seed int64, contextSwitchBound int) *ProbabilisticStrategy {
	if contextSwitchBound <= 0 {
		contextSwitchBound = 10
	}
	return &ProbabilisticStrategy{rng: rand.New(rand.NewSource(seed)), contextSwitchBound: contextSwitchBound}
}

func (s *ProbabilisticStrategy) NextOperation(enabled []Operation, current *Operation) (Operation, bool) {
	ordered := sortedEnabled(enabled)
	if len(ordered) == 0 {
		return Operation{}, false
	}
	if current != nil && s.rng.Intn(s.contextSwitchBound) != 0 {
		for _, op := range ordered {
			if op.ActorID == current.ActorID {
				return op, true
			}
		}
	}
	return ordered[s.rng.Intn(len(ordered))], true
}

func (s *ProbabilisticStrategy) NextBoolean(max int) bool {
	if max <= 1 {
		return false
	}
	return s.rng.Intn(max) == 0
}
func (s *ProbabilisticStrategy) NextInteger(max int) int {
	if max <= 0 {
		return 0
	}
	return s.rng.Intn(max)
}
func (s *ProbabilisticStrategy) PrepareForNextIteration() bool { return true }

// PCTStrategy implements priority-based concurrency testing: each
// schedulable is given a priority the first time the strategy sees it in
// an iteration (earlier-seen schedulables rank higher), and a small number
// of randomly placed "priority-change points" demote the currently
// highest-priority enabled schedulable to the lowest rank partway through
// the run. The scheduler always runs the highest-priority enabled
// schedulable.
type PCTStrategy struct {
	rng          *rand.Rand
	bugDepth     int
	priority     map[string]int // keyed by ActorID.String()
	changePoints map[uint64]bool
	step         uint64
	nextPrioRank int
}

// NewPCTStrategy creates a PCT strategy that plants bugDepth priority-change
// points per iteration.
func NewPCTStrategy(seed int64, bugDepth int) *PCTStrategy {
	s := &PCTStrategy{rng: rand.New(rand.NewSource(seed)), bugDepth: bugDepth}
	s.PrepareForNextIteration()
	return s
}

func (s *PCTStrategy) priorityOf(actor string) int {
	p, ok := s.priority[actor]
	if !ok {
		p = s.nextPrioRank
		s.nextPrioRank++
		s.priority[actor] = p
	}
	return p
}

func (s *PCTStrategy) NextOperation(enabled []Operation, _ *Operation) (Operation, bool) {
	ordered := sortedEnabled(enabled)
	if len(ordered) == 0 {
		return Operation{}, false
	}
	s.step++
	if s.changePoints[s.step] {
		best := ordered[0]
		for _, op := range ordered {
			if s.priorityOf(op.ActorID.String()) < s.priorityOf(best.ActorID.String()) {
				best = op
			}
		}
		s.priority[best.ActorID.String()] = s.nextPrioRank
		s.nextPrioRank++
	}
	best := ordered[0]
	for _, op := range ordered {
		if s.priorityOf(op.ActorID.String()) < s.priorityOf(best.ActorID.String()) {
			best = op
		}
	}
	return best, true
}

func (s *PCTStrategy) NextBoolean(max int) bool {
	if max <= 1 {
		return false
	}
	return s.rng.Intn(max) == 0
}
func (s *PCTStrategy) NextInteger(max int) int {
	if max <= 0 {
		return 0
	}
	return s.rng.Intn(max)
}

func (s *PCTStrategy) PrepareForNextIteration() bool {
	s.priority = map[string]int{}
	s.nextPrioRank = 0
	s.step = 0
	s.changePoints = make(map[uint64]bool, s.bugDepth)
	for i := 0; i < s.bugDepth; i++ {
		s.changePoints[uint64(s.rng.Intn(1000)+1)] = true
	}
	return true
}

// FairPCTStrategy is PCTStrategy with an added fairness pass: any
// schedulable that has not run in fairnessWindow consecutive steps is
// temporarily promoted to the highest priority, preventing starvation that
// plain priority-based selection can otherwise produce.
type FairPCTStrategy struct {
	*PCTStrategy
	fairnessWindow int
	lastRanAt      map[string]uint64
}

// NewFairPCTStrategy creates a fairness-augmented PCT strategy.
func NewFairPCTStrategy(seed int64, bugDepth, fairnessWindow int) *FairPCTStrategy {
	return &FairPCTStrategy{
		PCTStrategy:    NewPCTStrategy(seed, bugDepth),
		fairnessWindow: fairnessWindow,
		lastRanAt:      map[string]uint64{},
	}
}

func (s *FairPCTStrategy) NextOperation(enabled []Operation, current *Operation) (Operation, bool) {
	ordered := sortedEnabled(enabled)
	if len(ordered) == 0 {
		return Operation{}, false
	}
	for _, op := range ordered {
		key := op.ActorID.String()
		if s.PCTStrategy.step-s.lastRanAt[key] > uint64(s.fairnessWindow) {
			s.lastRanAt[key] = s.PCTStrategy.step
			return op, true
		}
	}
	chosen, ok := s.PCTStrategy.NextOperation(enabled, current)
	if ok {
		s.lastRanAt[chosen.ActorID.String()] = s.PCTStrategy.step
	}
	return chosen, ok
}

func (s *FairPCTStrategy) PrepareForNextIteration() bool {
	s.lastRanAt = map[string]uint64{}
	return s.PCTStrategy.PrepareForNextIteration()
}

// PortfolioStrategy rotates through a fixed list of strategies, one per
// iteration, combining their coverage without requiring the caller to run
// them as separate Explore calls.
type PortfolioStrategy struct {
	members []Strategy
	idx     int
}

// NewPortfolioStrategy creates a strategy that cycles through members.
func NewPortfolioStrategy(members ...Strategy) *PortfolioStrategy {
	return &PortfolioStrategy{members: members}
}

func (s *PortfolioStrategy) current() Strategy { return s.members[s.idx%len(s.members)] }

func (s *PortfolioStrategy) NextOperation(enabled []Operation, current *Operation) (Operation, bool) {
	return s.current().NextOperation(enabled, current)
}
func (s *PortfolioStrategy) NextBoolean(max int) bool { return s.current().NextBoolean(max) }
func (s *PortfolioStrategy) NextInteger(max int) int  { return s.current().NextInteger(max) }

func (s *PortfolioStrategy) PrepareForNextIteration() bool {
	s.idx++
	return s.current().PrepareForNextIteration()
}

// ReplayStrategy drives the scheduler from a previously recorded
// ScheduleTrace, asserting that every offered enabled set actually
// contains the recorded choice; a mismatch means the system under test
// diverged from the recording (a non-deterministic test harness bug).
type ReplayStrategy struct {
	trace    []TraceEntry
	pos      int
	Mismatch error
}

// NewReplayStrategy creates a strategy that replays trace exactly once.
func NewReplayStrategy(trace []TraceEntry) *ReplayStrategy {
	return &ReplayStrategy{trace: trace}
}

func (s *ReplayStrategy) NextOperation(enabled []Operation, _ *Operation) (Operation, bool) {
	if s.pos >= len(s.trace) {
		return Operation{}, false
	}
	want := s.trace[s.pos].Decision
	s.pos++
	// Ids are matched on type, value and generation only: a replay runs in
	// a fresh runtime, whose generated friendly names differ.
	for _, op := range enabled {
		if op.Kind == want.Kind && op.ActorID.TypeName == want.ActorID.TypeName &&
			op.ActorID.Value == want.ActorID.Value && op.ActorID.Generation == want.ActorID.Generation {
			return op, true
		}
	}
	s.Mismatch = &replayDivergedError{want: want}
	return Operation{}, false
}

func (s *ReplayStrategy) NextBoolean(max int) bool { return false }
func (s *ReplayStrategy) NextInteger(max int) int  { return 0 }

func (s *ReplayStrategy) PrepareForNextIteration() bool { return false }

type replayDivergedError struct{ want Operation }

func (e *replayDivergedError) Error() string {
	return "replay diverged: recorded operation " + e.want.Kind.String() + " on " + e.want.ActorID.String() + " is no longer enabled"
}
