package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds flags shared by every subcommand.
type RootOptions struct {
	Verbose bool
}

// NewRootCommand builds the asyncmach command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "asyncmach",
		Short: "asyncmach drives and systematically tests asynchronous communicating state machines",
		Long: `asyncmach loads a machine declaration from a YAML configuration file and
either drives it live (run) or explores its interleavings for bugs
(test).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}
