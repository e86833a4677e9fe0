package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: insert_commit
description: "one insert commits"
setup:
  - CREATE TABLE t(x)
steps:
  - sql: INSERT INTO t VALUES (1)
assertions:
  - type: event_order
    events: [row_change, commit]
`

const failingScenario = `name: wrong_count
description: "expects a rollback that never happens"
setup:
  - CREATE TABLE t(x)
steps:
  - sql: INSERT INTO t VALUES (1)
assertions:
  - type: event_count
    event: rollback
    count: 1
`

func writeScenario(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestScenario_PassAndUpdateGolden(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "insert_commit.yaml", passingScenario)

	stdout, _, err := execute(t, "scenario", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, stdout, "✓ insert_commit")

	golden, err := os.ReadFile(filepath.Join(dir, "golden", "insert_commit.golden"))
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name":"insert_commit"`)
	assert.Contains(t, string(golden), `"type":"commit"`)

	_, _, err = execute(t, "scenario", dir)
	require.NoError(t, err)
}

func TestScenario_GoldenMismatchFails(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "insert_commit.yaml", passingScenario)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "insert_commit.golden"), []byte(`{}`), 0o644))

	stdout, _, err := execute(t, "scenario", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "golden file")
}

func TestScenario_FailureJSON(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "a.yaml", passingScenario)
	writeScenario(t, dir, "b.yaml", failingScenario)

	stdout, _, err := execute(t, "--format", "json", "scenario", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string          `json:"status"`
		Data   ScenarioSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 1, resp.Data.Failed)
}

func TestScenario_Filter(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "insert_commit.yaml", passingScenario)
	writeScenario(t, dir, "wrong_count.yaml", failingScenario)

	stdout, _, err := execute(t, "scenario", dir, "--filter", "insert_*")
	require.NoError(t, err)
	assert.Contains(t, stdout, "1 passed, 0 failed, 1 total")
}

func TestScenario_SingleFileAndLoadError(t *testing.T) {
	dir := t.TempDir()
	bad := writeScenario(t, dir, "bad.yaml", "name: bad\n")

	stdout, _, err := execute(t, "scenario", bad)
	require.Error(t, err)
	assert.Contains(t, stdout, "✗ bad.yaml")

	_, _, err = execute(t, "scenario", filepath.Join(dir, "missing"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
