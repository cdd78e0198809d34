package cli

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode_ExtractsFromExitError(t *testing.T) {
	err := NewExitError(ExitCommandError, "bad flags")
	assert.Equal(t, ExitCommandError, ExitCode(err))
}

func TestExitCode_DefaultsToFailureForPlainError(t *testing.T) {
	assert.Equal(t, ExitFailure, ExitCode(errors.New("boom")))
}

func TestWrapExitError_UnwrapsToCause(t *testing.T) {
	cause := errors.New("root cause")
	wrapped := WrapExitError(ExitFailure, "context", cause)
	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "context")
	assert.Contains(t, wrapped.Error(), "root cause")
}
