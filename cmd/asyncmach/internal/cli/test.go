package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/asyncmach/asyncmach/internal/config"
	"github.com/asyncmach/asyncmach/internal/controlled"
	"github.com/asyncmach/asyncmach/internal/core"
	"github.com/asyncmach/asyncmach/internal/primitives"
)

// TestFlags mirrors the scheduling-configuration table: every flag
// overrides the config file's scheduling section when explicitly set.
type TestFlags struct {
	Iterations             int
	MaxSteps               int
	Strategy               string
	Seed                   int64
	CacheProgramState      bool
	LivenessChecking       bool
	CycleDetection         bool
	ReportActivityCoverage bool
}

// NewTestCommand builds the "test" subcommand: explore a YAML-declared
// machine set's interleavings under the controlled runtime.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &TestFlags{}

	cmd := &cobra.Command{
		Use:   "test <machine-config.yaml>",
		Short: "Explore a machine declaration's interleavings under the controlled runtime",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runControlled(rootOpts, flags, cmd, args[0])
		},
	}

	cmd.Flags().IntVar(&flags.Iterations, "iterations", 0, "number of schedules to explore (0: use config file value)")
	cmd.Flags().IntVar(&flags.MaxSteps, "max-steps", 0, "abort one schedule after this many scheduling steps (0: unbounded)")
	cmd.Flags().StringVar(&flags.Strategy, "strategy", "", "scheduling strategy (random|dfs|iddfs|probabilistic|pct|fair_pct|portfolio)")
	cmd.Flags().Int64Var(&flags.Seed, "seed", 0, "PRNG seed for randomized strategies")
	cmd.Flags().BoolVar(&flags.CacheProgramState, "cache-program-state", false, "compute a program-state fingerprint at every step (used by --cycle-detection)")
	cmd.Flags().BoolVar(&flags.LivenessChecking, "liveness-checking", false, "fail on a monitor left permanently hot")
	cmd.Flags().BoolVar(&flags.CycleDetection, "cycle-detection", false, "fail on a repeated program-state fingerprint while a monitor is hot (needs --cache-program-state and --liveness-checking)")
	cmd.Flags().BoolVar(&flags.ReportActivityCoverage, "report-activity-coverage", false, "record and print activity coverage")

	return cmd
}

func runControlled(rootOpts *RootOptions, flags *TestFlags, cmd *cobra.Command, configPath string) error {
	if rootOpts.Verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	f, err := config.Load(configPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	applyFlagOverrides(f, cmd, flags)

	cfg, err := f.BuildControlledConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build scheduling config", err)
	}

	registry, err := f.BuildRegistry()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build machine registry", err)
	}
	monitorRegistry := core.NewMonitorRegistry()

	scenario := func(rt *controlled.Runtime) error {
		for _, name := range f.Monitors {
			if err := rt.RegisterMonitor(name); err != nil {
				return fmt.Errorf("register monitor %q: %w", name, err)
			}
		}
		for _, m := range f.Machines {
			var init *primitives.Event
			if m.InitialEvent != "" {
				ev := primitives.NewEvent(primitives.EventKind(m.InitialEvent), nil)
				init = &ev
			}
			if _, err := rt.CreateMachine(m.TypeName, init, ""); err != nil {
				return fmt.Errorf("create machine %q: %w", m.TypeName, err)
			}
		}
		return nil
	}

	report, err := controlled.Explore(registry, monitorRegistry, nil, cfg, scenario)
	if err != nil {
		return WrapExitError(ExitCommandError, "exploration failed to start", err)
	}

	w := cmd.OutOrStdout()
	if bug := report.AnyBug(); bug != nil {
		fmt.Fprintf(w, "BUG FOUND: %s: %s\n", bug.Kind, bug.Message)
		if !bug.MachineID.IsZero() {
			fmt.Fprintf(w, "  machine: %s\n", bug.MachineID)
		}
		fmt.Fprintf(w, "  step: %d\n", bug.StepIndex)
		fmt.Fprintf(w, "  trace length: %d\n", len(bug.Trace))
		return NewExitError(ExitFailure, fmt.Sprintf("%v", bug.Kind))
	}

	fmt.Fprintf(w, "explored %d iteration(s), no bug found\n", len(report.Iterations))
	if report.Coverage != nil {
		data, err := report.Coverage.ExportJSON()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to render activity coverage", err)
		}
		fmt.Fprintf(w, "activity coverage:\n%s\n", data)
	}
	return nil
}

func applyFlagOverrides(f *config.File, cmd *cobra.Command, flags *TestFlags) {
	if cmd.Flags().Changed("iterations") {
		f.Scheduling.Iterations = flags.Iterations
	}
	if cmd.Flags().Changed("max-steps") {
		f.Scheduling.MaxSteps = flags.MaxSteps
	}
	if cmd.Flags().Changed("strategy") {
		f.Scheduling.Strategy = config.StrategyName(flags.Strategy)
	}
	if cmd.Flags().Changed("seed") {
		f.Scheduling.Seed = flags.Seed
	}
	if cmd.Flags().Changed("cache-program-state") {
		f.Scheduling.CacheProgramState = flags.CacheProgramState
	}
	if cmd.Flags().Changed("liveness-checking") {
		f.Scheduling.LivenessChecking = flags.LivenessChecking
	}
	if cmd.Flags().Changed("cycle-detection") {
		f.Scheduling.CycleDetection = flags.CycleDetection
	}
	if cmd.Flags().Changed("report-activity-coverage") {
		f.Scheduling.ReportActivityCoverage = flags.ReportActivityCoverage
	}
	f.ApplyDefaults()
}
