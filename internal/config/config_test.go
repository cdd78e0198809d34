package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeTemp(t, `
machines:
  - type: Pinger
    initial_event: Start
`)
	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Scheduling.Iterations)
	assert.Equal(t, StrategyRandom, f.Scheduling.Strategy)
	assert.Len(t, f.Machines, 1)
	assert.Equal(t, "Pinger", f.Machines[0].TypeName)
}

func TestLoad_FullScheduling(t *testing.T) {
	path := writeTemp(t, `
scheduling:
  iterations: 50
  max_steps: 1000
  strategy: pct
  seed: 7
  cache_program_state: true
  liveness_checking: true
  cycle_detection: true
  bug_depth: 5
machines:
  - type: Pinger
    initial_event: Start
  - type: Ponger
monitors:
  - Liveness
`)
	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, f.Scheduling.Iterations)
	assert.Equal(t, StrategyPCT, f.Scheduling.Strategy)
	assert.True(t, f.Scheduling.LivenessChecking)
	assert.Equal(t, []string{"Liveness"}, f.Monitors)

	cfg, err := f.BuildControlledConfig()
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Iterations)
	assert.Equal(t, 1000, cfg.MaxSteps)
	assert.NotNil(t, cfg.Strategy)
}

func TestLoad_UnknownStrategy(t *testing.T) {
	path := writeTemp(t, `
scheduling:
  strategy: quantum
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_PortfolioRequiresMembers(t *testing.T) {
	path := writeTemp(t, `
scheduling:
  strategy: portfolio
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_PortfolioBuilds(t *testing.T) {
	path := writeTemp(t, `
scheduling:
  strategy: portfolio
  portfolio: [random, dfs, pct]
`)
	f, err := Load(path)
	require.NoError(t, err)
	cfg, err := f.BuildControlledConfig()
	require.NoError(t, err)
	assert.NotNil(t, cfg.Strategy)
}

func TestLoad_MachineMissingType(t *testing.T) {
	path := writeTemp(t, `
machines:
  - initial_event: Start
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
