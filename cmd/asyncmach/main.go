// Command asyncmach is a thin Cobra CLI around the asyncmach façade
// package: it loads a machine declaration from YAML and either drives it
// live (run) or explores its interleavings for bugs (test). Everything
// beyond flag parsing and process exit codes is delegated to
// internal/production and internal/controlled.
package main

import (
	"fmt"
	"os"

	"github.com/asyncmach/asyncmach/cmd/asyncmach/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}
