// Package config loads scheduling configuration and machine-type
// declarations from a YAML file, in the same os.ReadFile-plus-yaml.Unmarshal
// shape comalice-statechartx's own YAMLPersister uses for machine
// snapshots, but reading a run configuration instead.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/asyncmach/asyncmach/internal/controlled"
	"github.com/asyncmach/asyncmach/internal/core"
	"github.com/asyncmach/asyncmach/internal/primitives"
)

// StrategyName selects one of the controlled backend's scheduling
// strategies by name in a config file.
type StrategyName string

const (
	StrategyRandom        StrategyName = "random"
	StrategyDFS           StrategyName = "dfs"
	StrategyIDDFS         StrategyName = "iddfs"
	StrategyProbabilistic StrategyName = "probabilistic"
	StrategyPCT           StrategyName = "pct"
	StrategyFairPCT       StrategyName = "fair_pct"
	StrategyPortfolio     StrategyName = "portfolio"
)

// Scheduling is the YAML-facing mirror of controlled.Config, plus the
// strategy-selection and strategy-parameter fields a Config value alone
// can't express (Config.Strategy is already a built controlled.Strategy).
type Scheduling struct {
	Iterations             int          `yaml:"iterations"`
	MaxSteps               int          `yaml:"max_steps"`
	Strategy               StrategyName `yaml:"strategy"`
	Seed                   int64        `yaml:"seed"`
	CacheProgramState      bool         `yaml:"cache_program_state"`
	LivenessChecking       bool         `yaml:"liveness_checking"`
	CycleDetection         bool         `yaml:"cycle_detection"`
	MustHandleByDefault    bool         `yaml:"must_handle_by_default"`
	ReportActivityCoverage bool         `yaml:"report_activity_coverage"`

	// ContextSwitchBound parameterizes the probabilistic strategy.
	ContextSwitchBound int `yaml:"context_switch_bound"`
	// BugDepth parameterizes the pct and fair_pct strategies.
	BugDepth int `yaml:"bug_depth"`
	// FairnessWindow parameterizes the fair_pct strategy.
	FairnessWindow int `yaml:"fairness_window"`
	// StartDepth, DepthStep, and MaxDepth parameterize the iddfs strategy.
	StartDepth int `yaml:"start_depth"`
	DepthStep  int `yaml:"depth_step"`
	MaxDepth   int `yaml:"max_depth"`
	// Portfolio lists the strategy names the portfolio strategy rotates
	// through, each built with this Scheduling's other parameters.
	Portfolio []StrategyName `yaml:"portfolio"`
}

// MachineDeclaration names a machine type the scenario under test should
// seed, and the event kind used to kick it off.
type MachineDeclaration struct {
	TypeName     string `yaml:"type"`
	InitialEvent string `yaml:"initial_event"`
}

// File is the top-level shape of one YAML configuration file.
type File struct {
	Scheduling   Scheduling           `yaml:"scheduling"`
	MachineTypes []MachineTypeDef     `yaml:"machine_types"`
	Machines     []MachineDeclaration `yaml:"machines"`
	Monitors     []string             `yaml:"monitors"`
}

// BuildRegistry constructs a core.Registry seeded with every machine type
// f declares inline, so CreateMachine(typeName, ...) against it resolves
// without any compiled-in asyncmach.RegisterMachineType call.
func (f *File) BuildRegistry() (*core.Registry, error) {
	reg := core.NewRegistry()
	for _, def := range f.MachineTypes {
		def := def
		built, err := def.Build()
		if err != nil {
			return nil, fmt.Errorf("machine type %q: %w", def.TypeName, err)
		}
		reg.RegisterType(def.TypeName, func() *primitives.MachineDescriptor { return built })
	}
	return reg, nil
}

// ApplyDefaults fills in the zero-value fields a freshly decoded File is
// likely to leave unset, matching the conservative defaults Explore would
// apply on its own (one iteration, unbounded steps, a random strategy
// seeded from the wall clock is deliberately NOT a default: Seed's zero
// value means "seed 0", kept deterministic unless the caller opts in
// otherwise). Exported so callers overriding fields after Load (e.g. from
// CLI flags) can re-apply it.
func (f *File) ApplyDefaults() {
	if f.Scheduling.Iterations <= 0 {
		f.Scheduling.Iterations = 1
	}
	if f.Scheduling.Strategy == "" {
		f.Scheduling.Strategy = StrategyRandom
	}
}

// Load reads and parses a YAML configuration file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	f.ApplyDefaults()
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &f, nil
}

// Validate reports whether f describes a schedulable configuration.
func (f *File) Validate() error {
	switch f.Scheduling.Strategy {
	case StrategyRandom, StrategyDFS, StrategyIDDFS, StrategyProbabilistic, StrategyPCT, StrategyFairPCT, StrategyPortfolio:
	default:
		return fmt.Errorf("unknown strategy %q", f.Scheduling.Strategy)
	}
	if f.Scheduling.Strategy == StrategyPortfolio && len(f.Scheduling.Portfolio) == 0 {
		return fmt.Errorf("portfolio strategy requires a non-empty portfolio list")
	}
	for _, m := range f.Machines {
		if m.TypeName == "" {
			return fmt.Errorf("machine declaration missing type name")
		}
	}
	return nil
}

// buildStrategy constructs the controlled.Strategy named by name using s's
// parameters.
func (s Scheduling) buildStrategy(name StrategyName) (controlled.Strategy, error) {
	switch name {
	case StrategyRandom:
		return controlled.NewRandomStrategy(s.Seed), nil
	case StrategyDFS:
		return controlled.NewDFSStrategy(s.Iterations), nil
	case StrategyIDDFS:
		return controlled.NewIDDFSStrategy(s.Iterations, orDefault(s.StartDepth, 8), orDefault(s.DepthStep, 8), orDefault(s.MaxDepth, 512)), nil
	case StrategyProbabilistic:
		return controlled.NewProbabilisticStrategy(s.Seed, orDefault(s.ContextSwitchBound, 3)), nil
	case StrategyPCT:
		return controlled.NewPCTStrategy(s.Seed, orDefault(s.BugDepth, 3)), nil
	case StrategyFairPCT:
		return controlled.NewFairPCTStrategy(s.Seed, orDefault(s.BugDepth, 3), orDefault(s.FairnessWindow, 64)), nil
	case StrategyPortfolio:
		members := make([]controlled.Strategy, 0, len(s.Portfolio))
		for _, m := range s.Portfolio {
			built, err := s.buildStrategy(m)
			if err != nil {
				return nil, err
			}
			members = append(members, built)
		}
		return controlled.NewPortfolioStrategy(members...), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// BuildControlledConfig builds a controlled.Config from f's scheduling
// section, constructing the named strategy.
func (f *File) BuildControlledConfig() (controlled.Config, error) {
	strat, err := f.Scheduling.buildStrategy(f.Scheduling.Strategy)
	if err != nil {
		return controlled.Config{}, err
	}
	return controlled.Config{
		Iterations:             f.Scheduling.Iterations,
		MaxSteps:               f.Scheduling.MaxSteps,
		Strategy:               strat,
		CacheProgramState:      f.Scheduling.CacheProgramState,
		LivenessChecking:       f.Scheduling.LivenessChecking,
		CycleDetection:         f.Scheduling.CycleDetection,
		ReportActivityCoverage: f.Scheduling.ReportActivityCoverage,
	}, nil
}
