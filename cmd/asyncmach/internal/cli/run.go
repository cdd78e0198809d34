package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/asyncmach/asyncmach/internal/config"
	"github.com/asyncmach/asyncmach/internal/core"
	"github.com/asyncmach/asyncmach/internal/primitives"
	"github.com/asyncmach/asyncmach/internal/production"
)

// NewRunCommand builds the "run" subcommand: drive a YAML-declared machine
// set under the production runtime until SIGINT/SIGTERM, following
// comalice-statechartx's cmd/demo/main.go signal-handling idiom.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <machine-config.yaml>",
		Short: "Drive a machine declaration under the production runtime",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProduction(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runProduction(rootOpts *RootOptions, configPath string, cmd *cobra.Command) error {
	if rootOpts.Verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	f, err := config.Load(configPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	registry, err := f.BuildRegistry()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build machine registry", err)
	}
	monitorRegistry := core.NewMonitorRegistry()

	rt := production.NewRuntime(registry, monitorRegistry)

	for _, name := range f.Monitors {
		if err := rt.RegisterMonitor(name); err != nil {
			slog.Warn("monitor not runnable from a YAML-only config, skipping",
				"monitor", name, "error", err)
		}
	}

	for _, m := range f.Machines {
		var init *primitives.Event
		if m.InitialEvent != "" {
			ev := primitives.NewEvent(primitives.EventKind(m.InitialEvent), nil)
			init = &ev
		}
		mid, err := rt.CreateMachine(m.TypeName, init, "")
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to create machine %q", m.TypeName), err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", mid, m.TypeName)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if failed, err := rt.Failed(); failed {
				return WrapExitError(ExitFailure, "a machine halted on an uncaught error", err)
			}
		case <-sig:
			fmt.Fprintln(cmd.OutOrStdout(), "shutting down")
			return nil
		}
	}
}
