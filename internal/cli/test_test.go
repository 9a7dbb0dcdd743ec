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

const harnessScenarios = "../harness/testdata/scenarios"

func TestTestCommandMissingArgs(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"/nonexistent/scenarios"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{t.TempDir()})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "No scenarios found")
}

func TestTestCommandRunsHarnessScenarios(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{harnessScenarios, "--filter", "*_queue*"})

	require.NoError(t, cmd.Execute())

	var result TestResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &result))
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Passed)
	for _, s := range result.Scenarios {
		assert.True(t, s.Pass, "%s: %v", s.Name, s.Errors)
	}
}

func TestTestCommandGoldenMismatchAndUpdate(t *testing.T) {
	src, err := os.ReadFile(filepath.Join(harnessScenarios, "geofence_rejects_far_capture.yaml"))
	require.NoError(t, err)

	root := t.TempDir()
	scenarios := filepath.Join(root, "scenarios")
	golden := filepath.Join(root, "golden")
	require.NoError(t, os.MkdirAll(scenarios, 0755))
	require.NoError(t, os.MkdirAll(golden, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(scenarios, "geofence.yaml"), src, 0644))
	goldenPath := filepath.Join(golden, "geofence_rejects_far_capture.golden")
	require.NoError(t, os.WriteFile(goldenPath, []byte("{}\n"), 0644))

	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{scenarios})
	err = cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "trace does not match golden file")

	buf.Reset()
	cmd = NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{scenarios, "--update"})
	require.NoError(t, cmd.Execute())

	updated, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	want, err := os.ReadFile("../harness/testdata/golden/geofence_rejects_far_capture.golden")
	require.NoError(t, err)
	assert.Equal(t, string(want), string(updated))
}
