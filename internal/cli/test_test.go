package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "../harness/testdata/scenarios"

func runTestCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()

	cmd := NewTestCommand(&RootOptions{Format: format, LogFormat: "text"})
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

// copyScenario copies one scenario from the harness testdata into dir.
func copyScenario(t *testing.T, dir, name string) {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(scenariosDir, name+".yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), data, 0o644))
}

func TestTestCommand_AllPass(t *testing.T) {
	out, err := runTestCmd(t, "text", scenariosDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ job_order")
	assert.Contains(t, out, "✓ prune_cascade")
	assert.Contains(t, out, "0 failed")
	assert.Contains(t, out, "All scenarios passed")
}

func TestTestCommand_FilterJSON(t *testing.T) {
	out, err := runTestCmd(t, "json", scenariosDir, "--filter", "re*")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.Total)

	var names []string
	for _, s := range resp.Data.Scenarios {
		names = append(names, s.Name)
	}
	assert.ElementsMatch(t, []string{"reload", "reparent"}, names)
}

func TestTestCommand_GoldenUpdateAndMismatch(t *testing.T) {
	dir := t.TempDir()
	copyScenario(t, dir, "job_order")

	_, err := runTestCmd(t, "text", dir, "--update")
	require.NoError(t, err)

	golden := filepath.Join(dir, "golden", "job_order.golden")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), "#02 running")

	_, err = runTestCmd(t, "text", dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(golden, []byte("w1 stopped\n"), 0o644))
	out, err := runTestCmd(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ job_order")
	assert.Contains(t, out, "does not match golden file")
}

func TestTestCommand_FailingAssertion(t *testing.T) {
	dir := t.TempDir()
	scenario := `name: wrong_state
steps:
  - added:
      workflow: { id: w1, status: running }
      taskProxies:
        - { id: "w1//1/t1", name: t1, state: waiting }
assertions:
  - type: field
    node: "w1//1/t1"
    field: state
    expect: running
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong_state.yaml"), []byte(scenario), 0o644))

	out, err := runTestCmd(t, "json", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.NotEmpty(t, resp.Data.Scenarios[0].Errors)
}

func TestTestCommand_Errors(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		_, err := runTestCmd(t, "text", filepath.Join(t.TempDir(), "missing"))
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})

	t.Run("bad filter", func(t *testing.T) {
		_, err := runTestCmd(t, "text", scenariosDir, "--filter", "[")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})

	t.Run("unloadable scenario", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("steps: 3\n"), 0o644))

		out, err := runTestCmd(t, "text", dir)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Contains(t, out, "✗ broken.yaml")
	})

	t.Run("empty directory", func(t *testing.T) {
		out, err := runTestCmd(t, "text", t.TempDir())
		require.NoError(t, err)
		assert.Contains(t, out, "No scenarios found")
	})
}
