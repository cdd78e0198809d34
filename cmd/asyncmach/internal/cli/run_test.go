package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pingerMachineYAML = `
machine_types:
  - type_name: Pinger
    states:
      A:
        start: true
        handlers:
          ping:
            kind: goto
            target: B
      B: {}
machines:
  - type: Pinger
    initial_event: ping
`

func TestRunCommand_MissingConfigFileIsCommandError(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"run", filepath.Join(t.TempDir(), "missing.yaml")})

	err := root.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, ExitCode(err))
}

func TestRunCommand_UnknownMachineTypeIsCommandError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
machines:
  - type: DoesNotExist
`), 0o644))

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"run", path})

	err := root.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, ExitCode(err))
}

func TestRunCommand_CreatesMachinesAndShutsDownOnSignal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(pingerMachineYAML), 0o644))

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"run", path})

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = syscall.Kill(os.Getpid(), syscall.SIGINT)
	}()

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "created")
	assert.Contains(t, out.String(), "shutting down")
}
