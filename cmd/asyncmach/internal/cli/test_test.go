package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

const pingPongMachineYAML = `
scheduling:
  iterations: 2
  max_steps: 200
  strategy: random
machine_types:
  - type_name: Pinger
    states:
      A:
        start: true
        handlers:
          ping:
            kind: goto
            target: B
      B:
        handlers:
          pong:
            kind: goto
            target: A
machines:
  - type: Pinger
    initial_event: ping
`

func TestTestCommand_ExploresCleanScenario(t *testing.T) {
	path := writeConfig(t, pingPongMachineYAML)

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"test", path})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "no bug found")
}

func TestTestCommand_FlagsOverrideConfig(t *testing.T) {
	path := writeConfig(t, pingPongMachineYAML)

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"test", "--iterations", "1", "--strategy", "dfs", path})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "no bug found")
}

func TestTestCommand_MissingConfigFileIsCommandError(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"test", filepath.Join(t.TempDir(), "missing.yaml")})

	err := root.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, ExitCode(err))
}

func TestTestCommand_UnknownMachineTypeIsCommandError(t *testing.T) {
	path := writeConfig(t, `
machines:
  - type: DoesNotExist
`)
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"test", path})

	err := root.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, ExitCode(err))
}

func TestTestCommand_ActivityCoverageIsReported(t *testing.T) {
	path := writeConfig(t, pingPongMachineYAML)

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"test", "--report-activity-coverage", path})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "activity coverage")
}
