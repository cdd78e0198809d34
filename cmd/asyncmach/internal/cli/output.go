// Package cli implements the asyncmach command-line tool's Cobra command
// tree, grounded on roach88-nysm's internal/cli package shape (root
// command plus one file per subcommand, exit codes carried on a typed
// error).
package cli

import (
	"errors"
	"fmt"
)

// Exit codes, mirroring roach88-nysm's internal/cli/output.go.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // a bug was found, or a run/test scenario failed
	ExitCommandError = 2 // bad flags, missing files, config parse errors
)

// ExitError carries the process exit code a command failure should
// produce, so main can report the right code without every command
// calling os.Exit directly.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError creates an ExitError with no wrapped cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError creates an ExitError wrapping err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode extracts the process exit code that should follow err, or
// ExitFailure if err is not an ExitError.
func ExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}
